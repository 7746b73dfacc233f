/*
Package generic provides the core of the achievement engine.

PURPOSE:
  This package contains the domain-agnostic pieces every reward domain
  shares: calendar dates and frequency buckets, the streak engine, the
  grant record, the storage contracts and the award ledger. It knows
  nothing about goals or criteria; those live in the goals and rewards
  packages.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: Type-safe IDs for users, rewards, grants and goal items
  - Grant: One user holding one reward in one context
  - RewardRecord: The persisted shape of a catalog entry
  - Standing: A user's summed points, used for ranking

DESIGN PRINCIPLES:
  1. Precision: Percentages use decimal.Decimal, never float64
  2. Type Safety: Distinct ID types so a checkpoint ID can't be passed as an action ID
  3. Storage is the source of truth: counters and uniqueness live in the store

USAGE:
  g := generic.Grant{
      UserID:   "user-1",
      RewardID: "reward-7",
      ActionID: "action-3",
  }
  key := g.ContextKey() // "||action-3|"

SEE ALSO:
  - period.go: Frequency buckets and the streak engine
  - ledger.go: The find-or-insert grant protocol
  - store.go: Persistence interfaces
*/
package generic

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type RewardID string
type GrantID string
type ObjectiveID string
type CheckpointID string
type ActionID string

// =============================================================================
// PERCENTAGES
// =============================================================================

// Percentage returns part/total*100 rounded to the given number of decimal
// places. A zero or negative total yields zero.
func Percentage(part, total int, places int32) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(total))).
		Round(places)
}

// =============================================================================
// GRANT - A user holding a reward in a context
// =============================================================================

// Grant links one user to one reward, optionally scoped to the objective,
// checkpoint or action that triggered it.
//
// Occurrence separates distinct occurrences of a repeatable reward (for
// example the day an early-bird completion happened). It is empty for
// rewards that can only be held once per context.
type Grant struct {
	ID           GrantID
	UserID       UserID
	RewardID     RewardID
	ObjectiveID  ObjectiveID
	CheckpointID CheckpointID
	ActionID     ActionID
	Occurrence   string
	StreakCount  int
	Context      map[string]string
	EarnedAt     time.Time
	Notified     bool
}

// ContextKey is the identity a grant is unique on, together with user and reward.
func (g Grant) ContextKey() string {
	return strings.Join([]string{
		string(g.ObjectiveID),
		string(g.CheckpointID),
		string(g.ActionID),
		g.Occurrence,
	}, "|")
}

// SameContext reports whether two grants carry the same snapshot and streak.
func (g Grant) SameContext(other Grant) bool {
	if g.StreakCount != other.StreakCount || len(g.Context) != len(other.Context) {
		return false
	}
	for k, v := range g.Context {
		if ov, ok := other.Context[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// GrantFilter narrows ListGrants. Zero values mean "no constraint".
type GrantFilter struct {
	UserID     UserID
	RewardID   RewardID
	Unnotified bool
	Limit      int
}

// =============================================================================
// REWARD RECORD - Persisted catalog entry
// =============================================================================

// RewardRecord is the storage shape of a reward. The criteria payload stays a
// raw map here; the factory package decodes it into typed criteria.
type RewardRecord struct {
	ID          RewardID
	Name        string
	Description string
	Icon        string
	Category    string
	Rarity      string
	Points      int
	Color       string
	Active      bool
	Criteria    map[string]any
	TimesEarned int
	CreatedAt   time.Time
}

// =============================================================================
// STANDING - Summed points for one user
// =============================================================================

type Standing struct {
	UserID         UserID
	Points         int
	Grants         int
	LatestReward   string
	LatestEarnedAt time.Time
}
