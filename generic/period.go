package generic

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FREQUENCY - How often a recurring action is expected
// =============================================================================

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// ParseFrequency validates a frequency string. Use it at the action boundary;
// the streak functions below silently treat unknown frequencies as no-ops.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(s)
	if !f.Valid() {
		return "", &ValidationError{Field: "frequency", Value: s, Reason: "must be daily, weekly or monthly"}
	}
	return f, nil
}

// =============================================================================
// PERIOD - One bucket of a frequency (a day, an ISO week, a calendar month)
// =============================================================================

// Period is a closed date range [Start, End] for one frequency bucket.
type Period struct {
	Start     TimePoint
	End       TimePoint
	Frequency Frequency
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Next returns the period following this one.
func (p Period) Next() Period { return p.Shift(1) }

// Previous returns the period before this one.
func (p Period) Previous() Period { return p.Shift(-1) }

// Shift moves the period by n buckets of its frequency.
func (p Period) Shift(n int) Period {
	switch p.Frequency {
	case FrequencyDaily:
		return p.Frequency.PeriodFor(p.Start.AddDays(n))
	case FrequencyWeekly:
		return p.Frequency.PeriodFor(p.Start.AddDays(7 * n))
	case FrequencyMonthly:
		return p.Frequency.PeriodFor(p.Start.AddMonths(n))
	default:
		return p
	}
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// PeriodFor returns the bucket that contains the given date.
// Unknown frequencies collapse to a single-day period.
func (f Frequency) PeriodFor(date TimePoint) Period {
	switch f {
	case FrequencyWeekly:
		start := StartOfISOWeek(date)
		return Period{Start: start, End: start.AddDays(6), Frequency: f}
	case FrequencyMonthly:
		return Period{
			Start:     StartOfMonth(date.Year(), date.Month()),
			End:       EndOfMonth(date.Year(), date.Month()),
			Frequency: f,
		}
	default:
		return Period{Start: date, End: date, Frequency: f}
	}
}

// PeriodsBetween counts whole buckets from the bucket of `from` to the bucket
// of `to`. Adjacent buckets are 1 apart.
func (f Frequency) PeriodsBetween(from, to TimePoint) int {
	a, b := f.PeriodFor(from).Start, f.PeriodFor(to).Start
	switch f {
	case FrequencyDaily:
		return DaysBetween(a, b)
	case FrequencyWeekly:
		return DaysBetween(a, b) / 7
	case FrequencyMonthly:
		return MonthsBetween(a, b)
	default:
		return 0
	}
}

// =============================================================================
// HISTORY - Sorted set of distinct completion dates
// =============================================================================

// History is a completion history: distinct dates, ascending.
// Always build it through NewHistory or Add to keep the invariant.
type History []TimePoint

func NewHistory(dates ...TimePoint) History {
	h := make(History, 0, len(dates))
	for _, d := range dates {
		h = h.Add(d)
	}
	return h
}

// Add inserts a date, keeping the slice sorted. Adding an existing date is a no-op.
func (h History) Add(d TimePoint) History {
	i := sort.Search(len(h), func(i int) bool { return !h[i].Before(d) })
	if i < len(h) && h[i].Equal(d) {
		return h
	}
	out := make(History, 0, len(h)+1)
	out = append(out, h[:i]...)
	out = append(out, d)
	return append(out, h[i:]...)
}

func (h History) Contains(d TimePoint) bool {
	i := sort.Search(len(h), func(i int) bool { return !h[i].Before(d) })
	return i < len(h) && h[i].Equal(d)
}

// Latest returns the most recent completion date.
func (h History) Latest() (TimePoint, bool) {
	if len(h) == 0 {
		return TimePoint{}, false
	}
	return h[len(h)-1], true
}

// Strings renders the history as YYYY-MM-DD strings for storage.
func (h History) Strings() []string {
	out := make([]string, len(h))
	for i, d := range h {
		out[i] = d.String()
	}
	return out
}

// ParseHistory is the inverse of Strings.
func ParseHistory(values []string) (History, error) {
	dates := make([]TimePoint, 0, len(values))
	for _, v := range values {
		d, err := ParseDate(v)
		if err != nil {
			return nil, fmt.Errorf("completion history: %w", err)
		}
		dates = append(dates, d)
	}
	return NewHistory(dates...), nil
}

// buckets returns the distinct period starts of the history, ascending.
func (h History) buckets(f Frequency) []TimePoint {
	var out []TimePoint
	for _, d := range h {
		start := f.PeriodFor(d).Start
		if n := len(out); n > 0 && out[n-1].Equal(start) {
			continue
		}
		out = append(out, start)
	}
	return out
}

// =============================================================================
// STREAK ENGINE
// =============================================================================

// StreakStats are the derived attributes of a recurring action.
// They are never stored; recompute them from the history on read.
type StreakStats struct {
	CurrentStreak  int             `json:"current_streak"`
	LongestStreak  int             `json:"longest_streak"`
	CompletionRate decimal.Decimal `json:"completion_rate"`
	Overdue        bool            `json:"overdue"`
	NextDue        TimePoint       `json:"next_due_date"`
}

func ComputeStreakStats(h History, f Frequency, createdOn, today TimePoint) StreakStats {
	return StreakStats{
		CurrentStreak:  CurrentStreak(h, f, today),
		LongestStreak:  LongestStreak(h, f),
		CompletionRate: CompletionRate(h, f, createdOn, today),
		Overdue:        IsOverdue(h, f, today),
		NextDue:        NextDueDate(h, f, today),
	}
}

// CurrentStreak counts consecutive periods with a completion, ending at the
// current period. A streak whose last completion is in the previous period is
// still alive: the current period has not ended yet.
func CurrentStreak(h History, f Frequency, today TimePoint) int {
	start, end, ok := currentRun(h, f, today)
	if !ok {
		return 0
	}
	return f.PeriodsBetween(start, end) + 1
}

// RunStart returns the first period start of the current streak.
func RunStart(h History, f Frequency, today TimePoint) (TimePoint, bool) {
	start, _, ok := currentRun(h, f, today)
	return start, ok
}

func currentRun(h History, f Frequency, today TimePoint) (start, end TimePoint, ok bool) {
	if !f.Valid() || len(h) == 0 {
		return TimePoint{}, TimePoint{}, false
	}
	buckets := h.buckets(f)
	current := f.PeriodFor(today)

	i := len(buckets) - 1
	for i >= 0 && buckets[i].After(current.Start) {
		i-- // completions dated in the future do not count
	}
	if i < 0 {
		return TimePoint{}, TimePoint{}, false
	}
	if !buckets[i].Equal(current.Start) && !buckets[i].Equal(current.Previous().Start) {
		return TimePoint{}, TimePoint{}, false
	}
	end = buckets[i]
	for i > 0 && f.PeriodsBetween(buckets[i-1], buckets[i]) == 1 {
		i--
	}
	return buckets[i], end, true
}

// LongestStreak is the longest run of adjacent periods anywhere in the history.
func LongestStreak(h History, f Frequency) int {
	if !f.Valid() || len(h) == 0 {
		return 0
	}
	buckets := h.buckets(f)
	longest, run := 1, 1
	for i := 1; i < len(buckets); i++ {
		if f.PeriodsBetween(buckets[i-1], buckets[i]) == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// ExpectedPeriods is the number of periods elapsed from creation through
// today inclusive.
func ExpectedPeriods(f Frequency, createdOn, today TimePoint) int {
	if today.Before(createdOn) {
		return 0
	}
	days := DaysBetween(createdOn, today) + 1
	switch f {
	case FrequencyDaily:
		return days
	case FrequencyWeekly:
		return (days + 6) / 7
	case FrequencyMonthly:
		return MonthsBetween(createdOn, today) + 1
	default:
		return 0
	}
}

var hundred = decimal.NewFromInt(100)

// CompletionRate is completed periods over expected periods as a percentage,
// capped at 100 and rounded to one decimal place. Completions count as
// distinct periods: several completions in the same week or month count once.
func CompletionRate(h History, f Frequency, createdOn, today TimePoint) decimal.Decimal {
	if !f.Valid() {
		return decimal.Zero
	}
	expected := ExpectedPeriods(f, createdOn, today)
	if expected == 0 {
		return hundred
	}
	actual := 0
	for _, b := range h.buckets(f) {
		if b.After(today) {
			break
		}
		actual++
	}
	rate := Percentage(actual, expected, 1)
	if rate.GreaterThan(hundred) {
		return hundred
	}
	return rate
}

// IsOverdue reports whether the latest completion is older than the previous period.
func IsOverdue(h History, f Frequency, today TimePoint) bool {
	latest, ok := h.Latest()
	if !ok || !f.Valid() {
		return false
	}
	return f.PeriodFor(latest).Start.Before(f.PeriodFor(today).Previous().Start)
}

// NextDueDate is the start of the period after the latest completion.
func NextDueDate(h History, f Frequency, today TimePoint) TimePoint {
	latest, ok := h.Latest()
	if !ok || !f.Valid() {
		return today
	}
	return f.PeriodFor(latest).Next().Start
}

// MissedBeforeLatest counts the empty periods between the latest completion
// and the one before it. Zero when there are fewer than two completed periods.
func MissedBeforeLatest(h History, f Frequency) int {
	if !f.Valid() {
		return 0
	}
	buckets := h.buckets(f)
	if len(buckets) < 2 {
		return 0
	}
	n := len(buckets)
	return f.PeriodsBetween(buckets[n-2], buckets[n-1]) - 1
}
