package generic_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) (*store.Memory, generic.RewardRecord) {
	t.Helper()
	mem := store.NewMemory()
	r, err := mem.SaveReward(context.Background(), generic.RewardRecord{
		Name: "Early Bird", Category: "special", Rarity: "rare", Points: 25, Active: true,
	})
	require.NoError(t, err)
	return mem, r
}

func timesEarned(t *testing.T, s generic.RewardStore, id generic.RewardID) int {
	t.Helper()
	r, err := s.GetReward(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r.TimesEarned
}

// racyStore hides the first FindGrant hit, as if a concurrent request
// inserted the row between our lookup and our insert.
type racyStore struct {
	*store.Memory
	hidden bool
}

func (r *racyStore) FindGrant(ctx context.Context, u generic.UserID, rw generic.RewardID, key string) (*generic.Grant, error) {
	if !r.hidden {
		r.hidden = true
		return nil, nil
	}
	return r.Memory.FindGrant(ctx, u, rw, key)
}

// =============================================================================
// EXACTLY-ONCE
// =============================================================================

func TestLedger_NonRepeatableGrantedOnce(t *testing.T) {
	// GIVEN: A non-repeatable reward
	// WHEN: Granted twice to the same user with the same context
	// THEN: One grant row, times_earned incremented exactly once

	mem, reward := newTestStore(t)
	ledger := generic.NewLedger(mem)
	ctx := context.Background()
	g := generic.Grant{UserID: "user-1", RewardID: reward.ID, ActionID: "action-1"}

	first, err := ledger.Grant(ctx, g, false)
	require.NoError(t, err)
	assert.Equal(t, generic.OutcomeCreated, first.Outcome)
	assert.NotEmpty(t, first.Grant.ID)
	assert.False(t, first.Grant.EarnedAt.IsZero())

	second, err := ledger.Grant(ctx, g, false)
	require.NoError(t, err)
	assert.Equal(t, generic.OutcomeAlreadyHeld, second.Outcome)
	assert.Equal(t, first.Grant.ID, second.Grant.ID)

	grants, err := mem.ListGrants(ctx, generic.GrantFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, grants, 1)
	assert.Equal(t, 1, timesEarned(t, mem, reward.ID))
}

func TestLedger_NonRepeatableIgnoresNewSnapshot(t *testing.T) {
	mem, reward := newTestStore(t)
	ledger := generic.NewLedger(mem)
	ctx := context.Background()

	g := generic.Grant{UserID: "user-1", RewardID: reward.ID, Context: map[string]string{"streak": "7"}}
	_, err := ledger.Grant(ctx, g, false)
	require.NoError(t, err)

	g.Context = map[string]string{"streak": "8"}
	res, err := ledger.Grant(ctx, g, false)
	require.NoError(t, err)
	assert.Equal(t, generic.OutcomeAlreadyHeld, res.Outcome)
	assert.Equal(t, "7", res.Grant.Context["streak"])
}

// =============================================================================
// REPEATABLE
// =============================================================================

func TestLedger_RepeatableSameOccurrenceRefreshesInPlace(t *testing.T) {
	// GIVEN: A repeatable reward already granted for occurrence 2025-03-10
	// WHEN: The same occurrence is granted again with a newer snapshot
	// THEN: The row is updated, no new row, counter unchanged

	mem, reward := newTestStore(t)
	ledger := generic.NewLedger(mem)
	ctx := context.Background()

	g := generic.Grant{UserID: "user-1", RewardID: reward.ID, ActionID: "action-1",
		Occurrence: "2025-03-10", StreakCount: 3}
	_, err := ledger.Grant(ctx, g, true)
	require.NoError(t, err)

	g.StreakCount = 4
	res, err := ledger.Grant(ctx, g, true)
	require.NoError(t, err)
	assert.Equal(t, generic.OutcomeRefreshed, res.Outcome)
	assert.Equal(t, 4, res.Grant.StreakCount)

	stored, err := mem.FindGrant(ctx, "user-1", reward.ID, g.ContextKey())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 4, stored.StreakCount)
	assert.Equal(t, 1, timesEarned(t, mem, reward.ID))

	// Unchanged snapshot is a plain no-op.
	res, err = ledger.Grant(ctx, g, true)
	require.NoError(t, err)
	assert.Equal(t, generic.OutcomeAlreadyHeld, res.Outcome)
}

func TestLedger_RepeatableNewOccurrenceCountsAgain(t *testing.T) {
	mem, reward := newTestStore(t)
	ledger := generic.NewLedger(mem)
	ctx := context.Background()

	for _, day := range []string{"2025-03-10", "2025-03-11"} {
		res, err := ledger.Grant(ctx, generic.Grant{
			UserID: "user-1", RewardID: reward.ID, ActionID: "action-1", Occurrence: day,
		}, true)
		require.NoError(t, err)
		assert.True(t, res.Created())
	}

	assert.Equal(t, 2, timesEarned(t, mem, reward.ID))
}

// =============================================================================
// RACES
// =============================================================================

func TestLedger_ConflictOnInsertResolvesToAlreadyHeld(t *testing.T) {
	// GIVEN: Another request inserted the grant after our lookup
	// WHEN: Our insert hits the unique index
	// THEN: No error, AlreadyHeld, counter still 1

	mem, reward := newTestStore(t)
	ctx := context.Background()
	g := generic.Grant{ID: "winner", UserID: "user-1", RewardID: reward.ID}
	require.NoError(t, mem.InsertGrant(ctx, g))

	ledger := generic.NewLedger(&racyStore{Memory: mem})
	g.ID = ""
	res, err := ledger.Grant(ctx, g, false)
	require.NoError(t, err)
	assert.Equal(t, generic.OutcomeAlreadyHeld, res.Outcome)
	assert.Equal(t, generic.GrantID("winner"), res.Grant.ID)
	assert.Equal(t, 1, timesEarned(t, mem, reward.ID))
}

func TestLedger_ConcurrentGrantsCreateOneRow(t *testing.T) {
	mem, reward := newTestStore(t)
	ledger := generic.NewLedger(mem)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Grant(ctx, generic.Grant{UserID: "user-1", RewardID: reward.ID}, false)
			assert.NoError(t, err)
			if res.Created() {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, timesEarned(t, mem, reward.ID))
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestLedger_RejectsMissingUser(t *testing.T) {
	mem, reward := newTestStore(t)
	_, err := generic.NewLedger(mem).Grant(context.Background(), generic.Grant{RewardID: reward.ID}, false)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestLedger_UnknownRewardIsNotFound(t *testing.T) {
	mem, _ := newTestStore(t)
	_, err := generic.NewLedger(mem).Grant(context.Background(), generic.Grant{UserID: "u", RewardID: "nope"}, false)
	assert.True(t, generic.IsNotFound(err))
}

func TestGrant_ContextKey(t *testing.T) {
	g := generic.Grant{ObjectiveID: "o", CheckpointID: "c", ActionID: "a", Occurrence: "2025-03-10"}
	assert.Equal(t, "o|c|a|2025-03-10", g.ContextKey())
	assert.Equal(t, "|||", generic.Grant{}.ContextKey())
}
