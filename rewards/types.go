/*
Package rewards implements the achievement rules engine on top of the goal
hierarchy.

PURPOSE:
  Rewards are declarative badges. Each one carries a category, a rarity and
  a typed criteria payload. When a user completes an action, moves a
  checkpoint forward or finishes an objective, the engine walks the catalog,
  asks the evaluator which rewards are satisfied, and hands each match to
  the award ledger.

CATEGORIES:
  streak:               Consecutive periods of an action (streak_days)
  checkpoint_progress:  A checkpoint reaching a percentage
  objective_completion: Creating or finishing an objective (on time, early)
  special:              Time-of-day, weekend, comeback and user-wide feats

RARITY:
  common (10 pts, bronze), rare (25, silver), epic (50, gold),
  legendary (100, lavender). A reward may override its points.

REPEATABLE:
  Streak rewards are always repeatable, others opt in with the
  "repeatable" criteria flag. A repeatable reward can be earned again on a
  fresh occurrence (a new streak run, a new early-bird day).

EXAMPLE FLOW:
  1. User completes "Run 5k" at 07:10, third day in a row
  2. Engine loads the hierarchy and overlays the completed action
  3. Evaluator matches "Getting Started" (3-day streak) and "Early Bird"
  4. Ledger inserts both grants and bumps each times_earned once

SEE ALSO:
  - criteria.go: Typed criteria variants
  - evaluator.go: Category dispatch
  - engine.go: EvaluateAndGrant
  - stats.go: Per-user stats and leaderboards
*/
package rewards

import (
	"github.com/warp/achievement-engine/generic"
)

// =============================================================================
// CATEGORY
// =============================================================================

type Category string

const (
	CategoryStreak              Category = "streak"
	CategoryCheckpointProgress  Category = "checkpoint_progress"
	CategoryObjectiveCompletion Category = "objective_completion"
	CategorySpecial             Category = "special"
)

var categoryAliases = map[string]Category{
	"habit_streak":         CategoryStreak,
	"milestone_progress":   CategoryCheckpointProgress,
	"blueprint_completion": CategoryObjectiveCompletion,
}

// ParseCategory accepts the canonical names and the legacy badge type names.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryStreak, CategoryCheckpointProgress, CategoryObjectiveCompletion, CategorySpecial:
		return c, nil
	}
	if c, ok := categoryAliases[s]; ok {
		return c, nil
	}
	return "", &generic.ValidationError{Field: "category", Value: s, Reason: "unknown reward category"}
}

// Label is the human-readable category name.
func (c Category) Label() string {
	switch c {
	case CategoryStreak:
		return "Habit Streak"
	case CategoryCheckpointProgress:
		return "Milestone Progress"
	case CategoryObjectiveCompletion:
		return "Goal Completion"
	case CategorySpecial:
		return "Special Achievement"
	}
	return string(c)
}

// =============================================================================
// RARITY
// =============================================================================

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

type rarityConfig struct {
	points     int
	color      string
	difficulty int
}

var rarities = map[Rarity]rarityConfig{
	RarityCommon:    {points: 10, color: "#CD7F32", difficulty: 1},
	RarityRare:      {points: 25, color: "#C0C0C0", difficulty: 2},
	RarityEpic:      {points: 50, color: "#FFD700", difficulty: 3},
	RarityLegendary: {points: 100, color: "#E6E6FA", difficulty: 4},
}

func ParseRarity(s string) (Rarity, error) {
	r := Rarity(s)
	if _, ok := rarities[r]; !ok {
		return "", &generic.ValidationError{Field: "rarity", Value: s, Reason: "must be common, rare, epic or legendary"}
	}
	return r, nil
}

func (r Rarity) config() rarityConfig {
	if c, ok := rarities[r]; ok {
		return c
	}
	return rarities[RarityCommon]
}

// Points is the canonical point value of the rarity.
func (r Rarity) Points() int { return r.config().points }

// Color is the badge display color.
func (r Rarity) Color() string { return r.config().color }

// Difficulty ranks rarities 1 (common) through 4 (legendary).
func (r Rarity) Difficulty() int { return r.config().difficulty }

// =============================================================================
// REWARD
// =============================================================================

// Reward is an immutable catalog entry with decoded criteria.
type Reward struct {
	ID          generic.RewardID
	Name        string
	Description string
	Icon        string
	Category    Category
	Rarity      Rarity
	Points      int
	Color       string
	Active      bool
	Repeatable  bool
	Criteria    Criteria
	TimesEarned int
}

// IsRepeatable is true for every streak reward and for rewards flagged repeatable.
func (r Reward) IsRepeatable() bool {
	return r.Category == CategoryStreak || r.Repeatable
}

// DisplayColor falls back to the rarity color.
func (r Reward) DisplayColor() string {
	if r.Color != "" {
		return r.Color
	}
	return r.Rarity.Color()
}

func (r Reward) Difficulty() int { return r.Rarity.Difficulty() }
