package rewards

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
	"github.com/warp/achievement-engine/logger"
)

// =============================================================================
// MATCH - Whether a reward is satisfied, and by what
// =============================================================================

// Scope is the part of the hierarchy that satisfied a reward. It becomes the
// grant's context identity, so the same satisfaction reached through a
// different trigger lands on the same grant row. An empty scope is user-wide.
type Scope struct {
	ObjectiveID  generic.ObjectiveID
	CheckpointID generic.CheckpointID
	ActionID     generic.ActionID
	Occurrence   string
	StreakCount  int
	// RunStart is the first period of the streak run that satisfied a streak
	// reward. Zero for every other match.
	RunStart generic.TimePoint
}

type Match struct {
	Satisfied bool
	Scope     Scope
	Snapshot  map[string]string
}

var noMatch = Match{}

const (
	firstOccurrence     = "first"
	earlyBirdBeforeHour = 8
	nightOwlFromHour    = 22
	comebackMinMissed   = 3
	perfectWeekDays     = 7
)

var consistentRate = decimal.NewFromInt(80)

// =============================================================================
// EVALUATOR
// =============================================================================

// Evaluator checks rewards against a user's hierarchy. It is read-only and
// never fails: anything it cannot evaluate is reported as not satisfied and
// logged.
type Evaluator struct {
	log *logger.Logger
}

func NewEvaluator(log *logger.Logger) *Evaluator {
	if log == nil {
		log = logger.Nop()
	}
	return &Evaluator{log: log}
}

// Evaluate reports whether the reward is satisfied.
func (e *Evaluator) Evaluate(r Reward, h goals.Hierarchy, t Trigger, today generic.TimePoint) bool {
	return e.Match(r, h, t, today).Satisfied
}

// Match evaluates the reward and resolves the scope of the satisfaction.
// The trigger's item is folded into the hierarchy first, so callers may pass
// a hierarchy loaded before the triggering mutation was saved.
func (e *Evaluator) Match(r Reward, h goals.Hierarchy, t Trigger, today generic.TimePoint) Match {
	if !r.Active {
		return noMatch
	}
	if t == nil {
		t = NoTrigger{}
	}
	h = overlay(h, t)

	var m Match
	switch c := r.Criteria.(type) {
	case StreakCriteria:
		m = matchStreak(c, h, t, today)
	case ProgressCriteria:
		m = matchProgress(c, h, t)
	case CompletionCriteria:
		m = matchCompletion(c, h, t, today)
	case SpecialCriteria:
		var known bool
		m, known = matchSpecial(c, h, t, today)
		if !known {
			e.log.Warn("unknown special type", "reward", r.Name, "special_type", string(c.Type))
			return noMatch
		}
	case InvalidCriteria:
		e.log.Warn("reward criteria not evaluable", "reward", r.Name, "reason", c.Reason)
		return noMatch
	default:
		e.log.Warn("reward has no criteria", "reward", r.Name, "category", string(r.Category))
		return noMatch
	}
	if !m.Satisfied {
		return noMatch
	}

	if m.Scope.ActionID != "" {
		if a, ok := h.Action(m.Scope.ActionID); ok && m.Scope.StreakCount == 0 {
			m.Scope.StreakCount = generic.CurrentStreak(a.Completions, a.Frequency, today)
		}
	}
	if !r.IsRepeatable() {
		m.Scope.Occurrence = ""
	} else if m.Scope.Occurrence == "" {
		m.Scope.Occurrence = occurrenceDate(t, today)
	}
	return m
}

func overlay(h goals.Hierarchy, t Trigger) goals.Hierarchy {
	switch tt := t.(type) {
	case ActionTrigger:
		return h.WithAction(tt.Action)
	case CheckpointTrigger:
		return h.WithCheckpoint(tt.Checkpoint)
	case ObjectiveTrigger:
		return h.WithObjective(tt.Objective)
	}
	return h
}

func occurrenceDate(t Trigger, today generic.TimePoint) string {
	if at, ok := completedAt(t); ok {
		return generic.DateOf(at).String()
	}
	return today.String()
}

// =============================================================================
// SCOPES
// =============================================================================

func actionScope(h goals.Hierarchy, a goals.Action) Scope {
	s := Scope{CheckpointID: a.CheckpointID, ActionID: a.ID}
	if cp, ok := h.Checkpoint(a.CheckpointID); ok {
		s.ObjectiveID = cp.ObjectiveID
	}
	return s
}

func checkpointScope(c goals.Checkpoint) Scope {
	return Scope{ObjectiveID: c.ObjectiveID, CheckpointID: c.ID}
}

func objectiveScope(o goals.Objective) Scope {
	return Scope{ObjectiveID: o.ID}
}

func satisfied(s Scope, snapshot ...string) Match {
	m := Match{Satisfied: true, Scope: s, Snapshot: map[string]string{}}
	for i := 0; i+1 < len(snapshot); i += 2 {
		m.Snapshot[snapshot[i]] = snapshot[i+1]
	}
	return m
}

// triggeredAction returns the action of an action trigger as it sits in the
// (already overlaid) hierarchy.
func triggeredAction(h goals.Hierarchy, t Trigger) (goals.Action, bool) {
	at, ok := t.(ActionTrigger)
	if !ok {
		return goals.Action{}, false
	}
	if a, found := h.Action(at.Action.ID); found {
		return a, true
	}
	return at.Action, true
}

// =============================================================================
// STREAK
// =============================================================================

func matchStreak(c StreakCriteria, h goals.Hierarchy, t Trigger, today generic.TimePoint) Match {
	required := c.Days
	if required <= 0 {
		required = DefaultStreakDays
	}

	check := func(a goals.Action) (Match, bool) {
		if required == 1 {
			// First ever completion, whatever the day.
			if len(a.Completions) == 0 {
				return noMatch, false
			}
			s := actionScope(h, a)
			s.Occurrence = firstOccurrence
			return satisfied(s, "completions", strconv.Itoa(len(a.Completions))), true
		}
		current := generic.CurrentStreak(a.Completions, a.Frequency, today)
		if current < required {
			return noMatch, false
		}
		s := actionScope(h, a)
		s.StreakCount = current
		if start, ok := generic.RunStart(a.Completions, a.Frequency, today); ok {
			s.Occurrence = start.String()
			s.RunStart = start
		}
		return satisfied(s, "streak", strconv.Itoa(current), "frequency", string(a.Frequency)), true
	}

	if a, ok := triggeredAction(h, t); ok {
		m, _ := check(a)
		return m
	}
	for _, a := range h.Actions() {
		if m, ok := check(a); ok {
			return m
		}
	}
	return noMatch
}

// =============================================================================
// CHECKPOINT PROGRESS
// =============================================================================

func matchProgress(c ProgressCriteria, h goals.Hierarchy, t Trigger) Match {
	required := c.Percentage

	check := func(cp goals.Checkpoint) (Match, bool) {
		pct := goals.CheckpointProgress(cp)
		if pct.LessThan(required) {
			return noMatch, false
		}
		return satisfied(checkpointScope(cp), "progress", pct.String()), true
	}

	switch tt := t.(type) {
	case CheckpointTrigger:
		cp, ok := h.Checkpoint(tt.Checkpoint.ID)
		if !ok {
			cp = tt.Checkpoint
		}
		m, _ := check(cp)
		return m
	case ObjectiveTrigger:
		obj, ok := h.Objective(tt.Objective.ID)
		if !ok {
			obj = tt.Objective
		}
		for _, cp := range obj.Checkpoints {
			if m, ok := check(cp); ok {
				return m
			}
		}
		return noMatch
	}
	for _, cp := range h.Checkpoints() {
		if m, ok := check(cp); ok {
			return m
		}
	}
	return noMatch
}

// =============================================================================
// OBJECTIVE COMPLETION
// =============================================================================

func completionHolds(ct CompletionType, o goals.Objective, today generic.TimePoint) bool {
	if o.Status != goals.StatusCompleted {
		return false
	}
	switch ct {
	case CompletionEarly:
		return o.TargetDate.After(today)
	case CompletionOnTime:
		return o.TargetDate.AfterOrEqual(today)
	case CompletionFull, CompletionAny:
		return true
	}
	return false
}

func matchCompletion(c CompletionCriteria, h goals.Hierarchy, t Trigger, today generic.TimePoint) Match {
	required := c.RequiredCount
	if required <= 0 {
		required = DefaultRequiredCount
	}
	ot, hasObjective := t.(ObjectiveTrigger)

	if c.Type == CompletionCreation {
		// One-time, user-wide: creating more objectives never re-earns it.
		if hasObjective {
			if !ot.Created || len(h.Objectives) < required {
				return noMatch
			}
			return satisfied(Scope{}, "objectives", strconv.Itoa(len(h.Objectives)))
		}
		// Without a creation event only completed objectives count.
		done := 0
		for _, o := range h.Objectives {
			if o.Status == goals.StatusCompleted {
				done++
			}
		}
		if done < required {
			return noMatch
		}
		return satisfied(Scope{}, "completed_objectives", strconv.Itoa(done))
	}

	qualifying := 0
	var first goals.Objective
	for _, o := range h.Objectives {
		if completionHolds(c.Type, o, today) {
			if qualifying == 0 {
				first = o
			}
			qualifying++
		}
	}

	if required > 1 {
		// Counting rewards are user-wide regardless of the trigger.
		if qualifying < required {
			return noMatch
		}
		return satisfied(Scope{}, "completed_objectives", strconv.Itoa(qualifying))
	}

	if hasObjective {
		o, ok := h.Objective(ot.Objective.ID)
		if !ok {
			o = ot.Objective
		}
		if !completionHolds(c.Type, o, today) {
			return noMatch
		}
		return satisfied(objectiveScope(o), "status", string(o.Status), "target_date", o.TargetDate.String())
	}
	if qualifying == 0 {
		return noMatch
	}
	return satisfied(objectiveScope(first), "status", string(first.Status), "target_date", first.TargetDate.String())
}

// =============================================================================
// SPECIAL
// =============================================================================

// matchSpecial reports false for known=false when the special type is unknown.
func matchSpecial(c SpecialCriteria, h goals.Hierarchy, t Trigger, today generic.TimePoint) (m Match, known bool) {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = c.Type.DefaultThreshold()
	}

	switch c.Type {
	case SpecialEarlyBird:
		return matchCompletionTime(h, t, func(at time.Time) bool { return at.Hour() < earlyBirdBeforeHour }), true
	case SpecialNightOwl:
		return matchCompletionTime(h, t, func(at time.Time) bool { return at.Hour() >= nightOwlFromHour }), true
	case SpecialWeekendWarrior:
		return matchCompletionTime(h, t, func(at time.Time) bool {
			wd := at.Weekday()
			return wd == time.Saturday || wd == time.Sunday
		}), true
	case SpecialPerfectionist:
		return matchPerfectionist(h, t), true
	case SpecialComebackKid:
		a, ok := triggeredAction(h, t)
		if !ok {
			return noMatch, true
		}
		missed := generic.MissedBeforeLatest(a.Completions, a.Frequency)
		if missed < comebackMinMissed {
			return noMatch, true
		}
		s := actionScope(h, a)
		if latest, ok := a.Completions.Latest(); ok {
			s.Occurrence = latest.String()
		}
		return satisfied(s, "missed_periods", strconv.Itoa(missed)), true

	case SpecialHabitMaster:
		total := 0
		for _, a := range h.Actions() {
			total += generic.LongestStreak(a.Completions, a.Frequency)
		}
		return atLeast(total, threshold, "longest_streak_sum"), true
	case SpecialConsistencyChampion:
		n := 0
		for _, a := range h.Actions() {
			if a.Stats(today).CompletionRate.GreaterThanOrEqual(consistentRate) {
				n++
			}
		}
		return atLeast(n, threshold, "consistent_actions"), true
	case SpecialStreakLegend:
		best := 0
		for _, a := range h.Actions() {
			if s := generic.CurrentStreak(a.Completions, a.Frequency, today); s > best {
				best = s
			}
		}
		return atLeast(best, threshold, "best_current_streak"), true
	case SpecialMilestoneAchiever:
		cps, _ := h.CountCompleted()
		return atLeast(cps, threshold, "completed_checkpoints"), true
	case SpecialBlueprintArchitect:
		_, objs := h.CountCompleted()
		return atLeast(objs, threshold, "completed_objectives"), true
	case SpecialPerfectWeek:
		daily := 0
		for _, a := range h.Actions() {
			if a.Frequency != generic.FrequencyDaily {
				continue
			}
			daily++
			if generic.CurrentStreak(a.Completions, a.Frequency, today) < perfectWeekDays {
				return noMatch, true
			}
		}
		if daily == 0 {
			return noMatch, true
		}
		return satisfied(Scope{}, "daily_actions", strconv.Itoa(daily)), true
	}
	return noMatch, false
}

func matchCompletionTime(h goals.Hierarchy, t Trigger, pred func(time.Time) bool) Match {
	at, ok := completedAt(t)
	if !ok || !pred(at) {
		return noMatch
	}
	a, _ := triggeredAction(h, t)
	s := actionScope(h, a)
	s.Occurrence = generic.DateOf(at).String()
	return satisfied(s, "completed_at", at.Format(time.RFC3339))
}

func matchPerfectionist(h goals.Hierarchy, t Trigger) Match {
	var cpID generic.CheckpointID
	switch tt := t.(type) {
	case CheckpointTrigger:
		cpID = tt.Checkpoint.ID
	case ActionTrigger:
		cpID = tt.Action.CheckpointID
	default:
		return noMatch
	}
	cp, ok := h.Checkpoint(cpID)
	if !ok || len(cp.Actions) == 0 {
		return noMatch
	}
	for _, a := range cp.Actions {
		if a.Status != goals.StatusCompleted {
			return noMatch
		}
	}
	return satisfied(checkpointScope(cp), "actions", strconv.Itoa(len(cp.Actions)))
}

func atLeast(value, threshold int, key string) Match {
	if threshold <= 0 || value < threshold {
		return noMatch
	}
	return satisfied(Scope{}, key, strconv.Itoa(value))
}
