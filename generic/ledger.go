/*
ledger.go - Award ledger: exactly-once grants unless repeatable

PURPOSE:
  The Ledger is the only way a grant gets written. It turns "this reward is
  satisfied in this context" into at most one grant row per context, and
  keeps the reward's global times_earned counter in step with new rows.

CRITICAL INVARIANTS:
  1. ONE ROW PER CONTEXT: (user, reward, context key) is unique in storage
  2. ONE INCREMENT PER ROW: times_earned moves only when a row is inserted
  3. RACES ARE BENIGN: a concurrent duplicate insert resolves to AlreadyHeld
  4. RETRY-SAFE: calling Grant twice with the same input changes nothing

PROTOCOL:
  1. FindGrant(user, reward, context key)
       found, not repeatable  -> AlreadyHeld
       found, repeatable      -> refresh snapshot in place if changed -> Refreshed
                                 (or AlreadyHeld when nothing changed)
  2. InsertGrant (row + counter increment, one storage transaction) -> Created
  3. ErrDuplicateGrant from step 2 -> re-fetch -> AlreadyHeld

  Fresh occurrences of a repeatable reward carry a different Occurrence,
  hence a different context key, and go through step 2 again.

SEE ALSO:
  - store.go: GrantStore contract
  - rewards/engine.go: Builds grants from evaluator matches
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// GRANT RESULT
// =============================================================================

type GrantOutcome string

const (
	OutcomeCreated     GrantOutcome = "created"
	OutcomeAlreadyHeld GrantOutcome = "already_held"
	OutcomeRefreshed   GrantOutcome = "refreshed"
)

type GrantResult struct {
	Grant   Grant
	Outcome GrantOutcome
}

// Created reports whether the call wrote a new grant row.
func (r GrantResult) Created() bool { return r.Outcome == OutcomeCreated }

// =============================================================================
// LEDGER
// =============================================================================

type Ledger interface {
	// Grant records g unless its context is already held.
	Grant(ctx context.Context, g Grant, repeatable bool) (GrantResult, error)
}

// DefaultLedger implements the protocol above on top of a GrantStore.
type DefaultLedger struct {
	Store GrantStore
	Now   func() time.Time
}

func NewLedger(store GrantStore) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: time.Now}
}

func (l *DefaultLedger) Grant(ctx context.Context, g Grant, repeatable bool) (GrantResult, error) {
	if g.UserID == "" {
		return GrantResult{}, &ValidationError{Field: "user_id", Reason: "required"}
	}
	if g.RewardID == "" {
		return GrantResult{}, &ValidationError{Field: "reward_id", Reason: "required"}
	}

	key := g.ContextKey()
	existing, err := l.Store.FindGrant(ctx, g.UserID, g.RewardID, key)
	if err != nil {
		return GrantResult{}, fmt.Errorf("find grant: %w", err)
	}
	if existing != nil {
		return l.resolveExisting(ctx, *existing, g, repeatable)
	}

	if g.ID == "" {
		g.ID = GrantID(uuid.NewString())
	}
	if g.EarnedAt.IsZero() {
		g.EarnedAt = l.Now()
	}

	err = l.Store.InsertGrant(ctx, g)
	if errors.Is(err, ErrDuplicateGrant) {
		// Lost the race against a concurrent grant for the same context.
		existing, err = l.Store.FindGrant(ctx, g.UserID, g.RewardID, key)
		if err != nil {
			return GrantResult{}, fmt.Errorf("find grant after conflict: %w", err)
		}
		if existing == nil {
			return GrantResult{}, fmt.Errorf("grant %s conflicted but is missing: %w", key, ErrDuplicateGrant)
		}
		return GrantResult{Grant: *existing, Outcome: OutcomeAlreadyHeld}, nil
	}
	if err != nil {
		return GrantResult{}, fmt.Errorf("insert grant: %w", err)
	}
	return GrantResult{Grant: g, Outcome: OutcomeCreated}, nil
}

func (l *DefaultLedger) resolveExisting(ctx context.Context, existing, incoming Grant, repeatable bool) (GrantResult, error) {
	if !repeatable || existing.SameContext(incoming) {
		return GrantResult{Grant: existing, Outcome: OutcomeAlreadyHeld}, nil
	}
	if err := l.Store.UpdateGrantContext(ctx, existing.ID, incoming.Context, incoming.StreakCount); err != nil {
		return GrantResult{}, fmt.Errorf("refresh grant: %w", err)
	}
	existing.Context = incoming.Context
	existing.StreakCount = incoming.StreakCount
	return GrantResult{Grant: existing, Outcome: OutcomeRefreshed}, nil
}
