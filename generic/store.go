/*
store.go - Persistence interfaces for grants, rewards and standings

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  GrantStore:     Grant lookup, insert and in-place context refresh
  RewardStore:    Catalog persistence (find-or-create by name)
  StandingsStore: Per-user point totals for ranking and leaderboards
  Store:          All of the above

UNIQUENESS CONTRACT:
  Grants are unique on (user_id, reward_id, context_key). InsertGrant must
  reject a second row with ErrDuplicateGrant, even under concurrent calls.
  The store, not the caller, is the source of truth for uniqueness.

ATOMIC COUNTER:
  InsertGrant writes the grant row and bumps the reward's times_earned
  by exactly one in the same storage transaction:

    UPDATE rewards SET times_earned = times_earned + 1 WHERE id = ?

  A rejected insert never touches the counter.

NOT FOUND:
  Lookups return (nil, nil) when nothing matches. Errors are reserved for
  storage failures.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via sqlx
  - store/postgres/postgres.go: PostgreSQL via pgx
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - ledger.go: Higher-level grant protocol using GrantStore
*/
package generic

import "context"

// =============================================================================
// GRANT STORE
// =============================================================================

type GrantStore interface {
	// FindGrant returns the grant for (user, reward, context key), or nil.
	FindGrant(ctx context.Context, userID UserID, rewardID RewardID, contextKey string) (*Grant, error)

	// InsertGrant persists a new grant and increments the reward counter atomically.
	// Returns ErrDuplicateGrant if the context is already held.
	InsertGrant(ctx context.Context, g Grant) error

	// UpdateGrantContext replaces the snapshot and streak count of an existing grant.
	// The reward counter is left alone.
	UpdateGrantContext(ctx context.Context, id GrantID, context map[string]string, streakCount int) error

	// ListGrants returns grants ordered by EarnedAt, newest first.
	ListGrants(ctx context.Context, filter GrantFilter) ([]Grant, error)

	// MarkNotified flags grants as delivered to the notification subsystem.
	MarkNotified(ctx context.Context, ids ...GrantID) error
}

// =============================================================================
// REWARD STORE
// =============================================================================

type RewardStore interface {
	// SaveReward finds a reward by name or creates it. The stored record is returned.
	SaveReward(ctx context.Context, r RewardRecord) (RewardRecord, error)

	// GetReward returns a reward by ID, or nil.
	GetReward(ctx context.Context, id RewardID) (*RewardRecord, error)

	// ListRewards returns every reward ordered by points then name.
	ListRewards(ctx context.Context) ([]RewardRecord, error)
}

// =============================================================================
// STANDINGS STORE
// =============================================================================

type StandingsStore interface {
	// Standings returns users ordered by points descending, then user ID.
	// limit <= 0 means no limit.
	Standings(ctx context.Context, limit int) ([]Standing, error)

	// UserStanding returns one user's totals, or nil if they hold no grants.
	UserStanding(ctx context.Context, userID UserID) (*Standing, error)

	// CountUsersAbove counts users whose summed points exceed points.
	CountUsersAbove(ctx context.Context, points int) (int, error)
}

// Store is the full persistence surface of the engine.
type Store interface {
	GrantStore
	RewardStore
	StandingsStore
}
