package goals

import (
	"github.com/shopspring/decimal"

	"github.com/warp/achievement-engine/generic"
)

// =============================================================================
// PROGRESS AGGREGATORS
// =============================================================================
// All of these are total: a parent without children has 0% progress, never
// an error, so criteria checks downstream don't need a partial case.

// CheckpointProgress is completed actions / total actions x 100, two decimals.
func CheckpointProgress(c Checkpoint) decimal.Decimal {
	done := 0
	for _, a := range c.Actions {
		if a.Status == StatusCompleted {
			done++
		}
	}
	return generic.Percentage(done, len(c.Actions), 2)
}

// ObjectiveProgress is completed checkpoints / total checkpoints x 100, two decimals.
func ObjectiveProgress(o Objective) decimal.Decimal {
	return generic.Percentage(o.StatusCounts()[StatusCompleted], len(o.Checkpoints), 2)
}

// StatusCounts tallies the objective's checkpoints by status.
func (o Objective) StatusCounts() map[Status]int {
	counts := make(map[Status]int, len(itemStatuses))
	for _, c := range o.Checkpoints {
		counts[c.Status]++
	}
	return counts
}

// IsOverdue is true when the target date has passed and the item isn't completed.
func IsOverdue(target generic.TimePoint, status Status, today generic.TimePoint) bool {
	if target.IsZero() {
		return false
	}
	return target.Before(today) && status != StatusCompleted
}

// DaysRemaining counts days until the target date, 0 once it has passed.
func DaysRemaining(target, today generic.TimePoint) int {
	if target.IsZero() || target.Before(today) {
		return 0
	}
	return generic.DaysBetween(today, target)
}

func (c Checkpoint) IsOverdue(today generic.TimePoint) bool {
	return IsOverdue(c.TargetDate, c.Status, today)
}

func (o Objective) IsOverdue(today generic.TimePoint) bool {
	return IsOverdue(o.TargetDate, o.Status, today)
}
