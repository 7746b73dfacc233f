// Package storetest is the behavioral contract every storage backend must
// pass. Backends call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
)

// Backend is a store that holds both the ledger and the goal hierarchy.
type Backend interface {
	generic.Store
	goals.Store
	Reset(ctx context.Context) error
}

// Run executes the contract. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) Backend) {
	t.Run("SaveRewardIsFindOrCreate", func(t *testing.T) { testSaveReward(t, newStore(t)) })
	t.Run("InsertGrantCountsAndRejectsDuplicates", func(t *testing.T) { testInsertGrant(t, newStore(t)) })
	t.Run("UpdateGrantContext", func(t *testing.T) { testUpdateGrantContext(t, newStore(t)) })
	t.Run("ListGrantsAndNotified", func(t *testing.T) { testListGrants(t, newStore(t)) })
	t.Run("Standings", func(t *testing.T) { testStandings(t, newStore(t)) })
	t.Run("HierarchyRoundTrip", func(t *testing.T) { testHierarchy(t, newStore(t)) })
	t.Run("ConcurrentLedgerGrantsOnce", func(t *testing.T) { testConcurrentLedger(t, newStore(t)) })
	t.Run("ResetClearsEverything", func(t *testing.T) { testReset(t, newStore(t)) })
}

func reward(t *testing.T, s Backend, name string, points int) generic.RewardRecord {
	t.Helper()
	rec, err := s.SaveReward(context.Background(), generic.RewardRecord{
		Name: name, Category: "special", Rarity: "rare", Points: points, Active: true,
		Criteria: map[string]any{"special_type": "early_bird", "repeatable": true},
	})
	require.NoError(t, err)
	return rec
}

func grant(user generic.UserID, r generic.RewardRecord, occurrence string, earned time.Time) generic.Grant {
	return generic.Grant{
		ID:         generic.GrantID(string(user) + "-" + string(r.ID) + "-" + occurrence),
		UserID:     user,
		RewardID:   r.ID,
		ActionID:   "act-1",
		Occurrence: occurrence,
		Context:    map[string]string{"trigger": "action"},
		EarnedAt:   earned,
	}
}

var base = time.Date(2025, time.March, 10, 7, 0, 0, 0, time.UTC)

func testSaveReward(t *testing.T, s Backend) {
	ctx := context.Background()
	first := reward(t, s, "Early Bird", 15)
	again := reward(t, s, "Early Bird", 999)
	reward(t, s, "Alpha", 15)
	reward(t, s, "Cheap", 5)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 15, again.Points, "existing row wins")

	got, err := s.GetReward(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "early_bird", got.Criteria["special_type"])
	assert.Equal(t, true, got.Criteria["repeatable"])

	missing, err := s.GetReward(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	list, err := s.ListRewards(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"Cheap", "Alpha", "Early Bird"}, []string{list[0].Name, list[1].Name, list[2].Name})
}

func testInsertGrant(t *testing.T, s Backend) {
	ctx := context.Background()
	r := reward(t, s, "Early Bird", 15)
	g := grant("user-1", r, "2025-03-10", base)

	require.NoError(t, s.InsertGrant(ctx, g))
	err := s.InsertGrant(ctx, generic.Grant{ID: "other-id", UserID: g.UserID, RewardID: r.ID,
		ActionID: g.ActionID, Occurrence: g.Occurrence, EarnedAt: base})
	assert.ErrorIs(t, err, generic.ErrDuplicateGrant)

	err = s.InsertGrant(ctx, generic.Grant{ID: "ghost", UserID: "user-1", RewardID: "missing", EarnedAt: base})
	assert.True(t, generic.IsNotFound(err), "unknown reward: %v", err)

	rec, err := s.GetReward(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TimesEarned, "failed inserts leave the counter alone")

	found, err := s.FindGrant(ctx, "user-1", r.ID, g.ContextKey())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, g.ID, found.ID)
	assert.Equal(t, "action", found.Context["trigger"])
	assert.True(t, found.EarnedAt.Equal(base))

	absent, err := s.FindGrant(ctx, "user-1", r.ID, "|||2025-03-11")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func testUpdateGrantContext(t *testing.T, s Backend) {
	ctx := context.Background()
	r := reward(t, s, "Getting Started", 25)
	g := grant("user-1", r, "2025-03-01", base)
	require.NoError(t, s.InsertGrant(ctx, g))

	require.NoError(t, s.UpdateGrantContext(ctx, g.ID, map[string]string{"streak": "4"}, 4))
	found, err := s.FindGrant(ctx, "user-1", r.ID, g.ContextKey())
	require.NoError(t, err)
	assert.Equal(t, 4, found.StreakCount)
	assert.Equal(t, map[string]string{"streak": "4"}, found.Context)

	rec, err := s.GetReward(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TimesEarned, "refresh does not count")

	err = s.UpdateGrantContext(ctx, "missing", nil, 0)
	assert.True(t, generic.IsNotFound(err))
}

func testListGrants(t *testing.T, s Backend) {
	ctx := context.Background()
	r := reward(t, s, "Early Bird", 15)
	older := grant("user-1", r, "2025-03-10", base)
	newer := grant("user-1", r, "2025-03-11", base.Add(24*time.Hour))
	other := grant("user-2", r, "2025-03-10", base.Add(time.Hour))
	for _, g := range []generic.Grant{older, newer, other} {
		require.NoError(t, s.InsertGrant(ctx, g))
	}

	mine, err := s.ListGrants(ctx, generic.GrantFilter{UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, newer.ID, mine[0].ID, "newest first")

	all, err := s.ListGrants(ctx, generic.GrantFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.MarkNotified(ctx, older.ID, newer.ID))
	pending, err := s.ListGrants(ctx, generic.GrantFilter{Unnotified: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, other.ID, pending[0].ID)
	require.NoError(t, s.MarkNotified(ctx))
}

func testStandings(t *testing.T, s Backend) {
	ctx := context.Background()
	big := reward(t, s, "Goal Crusher", 100)
	small := reward(t, s, "Early Bird", 15)

	require.NoError(t, s.InsertGrant(ctx, grant("carol", small, "a", base)))
	require.NoError(t, s.InsertGrant(ctx, grant("alice", big, "a", base)))
	require.NoError(t, s.InsertGrant(ctx, grant("alice", small, "a", base.Add(time.Hour))))
	require.NoError(t, s.InsertGrant(ctx, grant("bob", small, "a", base)))

	all, err := s.Standings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, generic.UserID("alice"), all[0].UserID)
	assert.Equal(t, 115, all[0].Points)
	assert.Equal(t, 2, all[0].Grants)
	assert.Equal(t, "Early Bird", all[0].LatestReward)
	assert.Equal(t, generic.UserID("bob"), all[1].UserID, "ties by user id")
	assert.Equal(t, generic.UserID("carol"), all[2].UserID)

	top, err := s.Standings(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	st, err := s.UserStanding(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 15, st.Points)

	none, err := s.UserStanding(ctx, "dave")
	require.NoError(t, err)
	assert.Nil(t, none)

	above, err := s.CountUsersAbove(ctx, 15)
	require.NoError(t, err)
	assert.Equal(t, 1, above)
	above, err = s.CountUsersAbove(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, above)
}

func testHierarchy(t *testing.T, s Backend) {
	ctx := context.Background()
	created := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	act := goals.Action{ID: "act-1", UserID: "user-1", CheckpointID: "cp-1", Title: "Run",
		Frequency: generic.FrequencyDaily, Status: goals.StatusPending, CreatedAt: created}
	act.MarkCompleted(base)
	act.MarkCompleted(base.Add(24 * time.Hour))

	h := goals.Hierarchy{UserID: "user-1", Objectives: []goals.Objective{{
		ID: "obj-1", UserID: "user-1", Title: "Marathon", Status: goals.StatusInProgress,
		TargetDate: generic.NewTimePoint(2025, time.June, 1), CreatedAt: created,
		Checkpoints: []goals.Checkpoint{{
			ID: "cp-1", UserID: "user-1", ObjectiveID: "obj-1", Title: "10k", Status: goals.StatusInProgress,
			Actions: []goals.Action{act},
		}},
	}}}
	require.NoError(t, goals.SaveHierarchy(ctx, s, h))

	loaded, err := s.LoadHierarchy(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, loaded.Objectives, 1)
	obj := loaded.Objectives[0]
	assert.Equal(t, "2025-06-01", obj.TargetDate.String())
	assert.True(t, obj.CreatedAt.Equal(created))
	require.Len(t, obj.Checkpoints, 1)
	require.Len(t, obj.Checkpoints[0].Actions, 1)
	got := obj.Checkpoints[0].Actions[0]
	assert.Equal(t, []string{"2025-03-10", "2025-03-11"}, got.Completions.Strings())
	assert.True(t, got.LastCompletedAt.Equal(base.Add(24*time.Hour)))
	assert.Equal(t, goals.StatusCompleted, got.Status)

	// upsert
	obj.Complete(base)
	require.NoError(t, s.SaveObjective(ctx, obj))
	loaded, err = s.LoadHierarchy(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, goals.StatusCompleted, loaded.Objectives[0].Status)
	assert.Len(t, loaded.Objectives[0].Checkpoints, 1, "children survive a parent save")

	err = s.SaveCheckpoint(ctx, goals.Checkpoint{ID: "cp-x", UserID: "user-1", ObjectiveID: "missing", Status: goals.StatusPending})
	assert.True(t, generic.IsNotFound(err), "%v", err)

	empty, err := s.LoadHierarchy(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty.Objectives)
}

func testConcurrentLedger(t *testing.T, s Backend) {
	ctx := context.Background()
	r := reward(t, s, "Perfectionist", 75)
	ledger := generic.NewLedger(s)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.Grant(ctx, generic.Grant{UserID: "user-1", RewardID: r.ID, CheckpointID: "cp-1"}, false)
			if !assert.NoError(t, err) {
				return
			}
			if res.Created() {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	rec, err := s.GetReward(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TimesEarned)
}

func testReset(t *testing.T, s Backend) {
	ctx := context.Background()
	rec := reward(t, s, "Early Bird", 15)
	require.NoError(t, s.InsertGrant(ctx, generic.Grant{ID: "g-1", UserID: "user-1", RewardID: rec.ID, EarnedAt: base}))
	require.NoError(t, s.SaveObjective(ctx, goals.Objective{ID: "obj-1", UserID: "user-1", Status: goals.StatusNotStarted}))

	require.NoError(t, s.Reset(ctx))

	rewards, err := s.ListRewards(ctx)
	require.NoError(t, err)
	assert.Empty(t, rewards)
	grants, err := s.ListGrants(ctx, generic.GrantFilter{})
	require.NoError(t, err)
	assert.Empty(t, grants)
	h, err := s.LoadHierarchy(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, h.Objectives)

	// usable again
	again := reward(t, s, "Early Bird", 15)
	assert.Zero(t, again.TimesEarned)
}
