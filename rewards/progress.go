package rewards

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
)

// RewardProgress is how far a user is from an unearned reward.
type RewardProgress struct {
	Percent     decimal.Decimal `json:"percentage"`
	Description string          `json:"description"`
}

var hundred = decimal.NewFromInt(100)

// Progress measures the user's best current value against the reward's
// threshold, capped at 100%. Event-driven specials (early bird, weekend
// warrior, ...) have no measurable progress and report 0.
func Progress(r Reward, h goals.Hierarchy, today generic.TimePoint) RewardProgress {
	switch c := r.Criteria.(type) {
	case StreakCriteria:
		required := c.Days
		if required <= 0 {
			required = DefaultStreakDays
		}
		best := 0
		for _, a := range h.Actions() {
			v := generic.CurrentStreak(a.Completions, a.Frequency, today)
			if required == 1 && len(a.Completions) > 0 {
				v = 1
			}
			if v > best {
				best = v
			}
		}
		return ratio(best, required, fmt.Sprintf("Best current streak %d of %d", best, required))

	case ProgressCriteria:
		best := decimal.Zero
		for _, cp := range h.Checkpoints() {
			if p := goals.CheckpointProgress(cp); p.GreaterThan(best) {
				best = p
			}
		}
		pct := hundred
		if c.Percentage.IsPositive() {
			pct = capped(best.Mul(hundred).Div(c.Percentage))
		}
		return RewardProgress{
			Percent:     pct.Round(1),
			Description: fmt.Sprintf("Best checkpoint at %s%% of %s%%", best.StringFixed(0), c.Percentage.StringFixed(0)),
		}

	case CompletionCriteria:
		required := c.RequiredCount
		if required <= 0 {
			required = DefaultRequiredCount
		}
		if c.Type == CompletionCreation {
			return ratio(len(h.Objectives), required, fmt.Sprintf("%d of %d objectives created", len(h.Objectives), required))
		}
		n := 0
		for _, o := range h.Objectives {
			if completionHolds(c.Type, o, today) {
				n++
			}
		}
		return ratio(n, required, fmt.Sprintf("%d of %d objectives completed", n, required))

	case SpecialCriteria:
		return specialProgress(c, h, today)
	}
	return RewardProgress{Percent: decimal.Zero, Description: "Not measurable"}
}

func specialProgress(c SpecialCriteria, h goals.Hierarchy, today generic.TimePoint) RewardProgress {
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = c.Type.DefaultThreshold()
	}
	switch c.Type {
	case SpecialHabitMaster:
		total := 0
		for _, a := range h.Actions() {
			total += generic.LongestStreak(a.Completions, a.Frequency)
		}
		return ratio(total, threshold, fmt.Sprintf("%d of %d streak days across actions", total, threshold))
	case SpecialConsistencyChampion:
		n := 0
		for _, a := range h.Actions() {
			if a.Stats(today).CompletionRate.GreaterThanOrEqual(consistentRate) {
				n++
			}
		}
		return ratio(n, threshold, fmt.Sprintf("%d of %d actions at 80%% or better", n, threshold))
	case SpecialStreakLegend:
		best := 0
		for _, a := range h.Actions() {
			if s := generic.CurrentStreak(a.Completions, a.Frequency, today); s > best {
				best = s
			}
		}
		return ratio(best, threshold, fmt.Sprintf("Best current streak %d of %d", best, threshold))
	case SpecialMilestoneAchiever:
		cps, _ := h.CountCompleted()
		return ratio(cps, threshold, fmt.Sprintf("%d of %d checkpoints completed", cps, threshold))
	case SpecialBlueprintArchitect:
		_, objs := h.CountCompleted()
		return ratio(objs, threshold, fmt.Sprintf("%d of %d objectives completed", objs, threshold))
	case SpecialPerfectWeek:
		lowest, daily := -1, 0
		for _, a := range h.Actions() {
			if a.Frequency != generic.FrequencyDaily {
				continue
			}
			daily++
			s := generic.CurrentStreak(a.Completions, a.Frequency, today)
			if lowest < 0 || s < lowest {
				lowest = s
			}
		}
		if daily == 0 {
			return RewardProgress{Percent: decimal.Zero, Description: "No daily actions"}
		}
		return ratio(lowest, perfectWeekDays, fmt.Sprintf("Weakest daily streak %d of %d", lowest, perfectWeekDays))
	}
	return RewardProgress{Percent: decimal.Zero, Description: "Earned by a single completion"}
}

func ratio(value, required int, desc string) RewardProgress {
	return RewardProgress{Percent: capped(generic.Percentage(value, required, 1)), Description: desc}
}

func capped(d decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(hundred) {
		return hundred
	}
	return d
}
