package rewards

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// CRITERIA - Closed set of typed payloads, one per category
// =============================================================================
// Criteria are decoded once when the catalog loads (see factory). The
// evaluator switches on the concrete type; it never inspects raw maps.

type Criteria interface {
	isCriteria()
}

const (
	DefaultStreakDays    = 7
	DefaultRequiredCount = 1
)

// DefaultProgressPercentage applies when progress_percentage is unset.
var DefaultProgressPercentage = decimal.NewFromInt(50)

// StreakCriteria requires Days consecutive periods. Days == 1 is the
// "first ever completion" rule rather than a real one-period streak.
type StreakCriteria struct {
	Days int
}

type ProgressCriteria struct {
	Percentage decimal.Decimal
}

type CompletionType string

const (
	CompletionCreation CompletionType = "creation"
	CompletionFull     CompletionType = "full_completion"
	CompletionEarly    CompletionType = "early_completion"
	CompletionOnTime   CompletionType = "on_time_completion"
	CompletionAny      CompletionType = "" // unset: status completed
)

type CompletionCriteria struct {
	Type          CompletionType
	RequiredCount int
}

type SpecialType string

const (
	SpecialEarlyBird           SpecialType = "early_bird"
	SpecialNightOwl            SpecialType = "night_owl"
	SpecialPerfectionist       SpecialType = "perfectionist"
	SpecialComebackKid         SpecialType = "comeback_kid"
	SpecialWeekendWarrior      SpecialType = "weekend_warrior"
	SpecialHabitMaster         SpecialType = "habit_master"
	SpecialConsistencyChampion SpecialType = "consistency_champion"
	SpecialStreakLegend        SpecialType = "streak_legend"
	SpecialMilestoneAchiever   SpecialType = "milestone_achiever"
	SpecialBlueprintArchitect  SpecialType = "blueprint_architect"
	SpecialPerfectWeek         SpecialType = "perfect_week"
)

// DefaultThreshold is the threshold of the user-wide specials when the
// payload doesn't set one. Zero for specials that take no threshold.
func (s SpecialType) DefaultThreshold() int {
	switch s {
	case SpecialHabitMaster:
		return 100
	case SpecialConsistencyChampion:
		return 3
	case SpecialStreakLegend:
		return 30
	case SpecialMilestoneAchiever:
		return 5
	case SpecialBlueprintArchitect:
		return 3
	}
	return 0
}

type SpecialCriteria struct {
	Type      SpecialType
	Threshold int
}

// InvalidCriteria stands in for a payload that could not be decoded.
// It never matches.
type InvalidCriteria struct {
	Reason string
}

func (StreakCriteria) isCriteria()     {}
func (ProgressCriteria) isCriteria()   {}
func (CompletionCriteria) isCriteria() {}
func (SpecialCriteria) isCriteria()    {}
func (InvalidCriteria) isCriteria()    {}
