package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/rewards"
)

func earnedNames(t *testing.T, h *Handler, userID generic.UserID) []string {
	t.Helper()
	ctx := context.Background()
	grants, err := h.Store.ListGrants(ctx, generic.GrantFilter{UserID: userID})
	require.NoError(t, err)
	displays, err := h.displays(ctx, userID, grants)
	require.NoError(t, err)
	names := make([]string, len(displays))
	for i, d := range displays {
		names[i] = d.Reward.Name
	}
	return names
}

func TestLoadScenario_NewHabit(t *testing.T) {
	h := setupTestHandler(t)

	require.NoError(t, h.Load(context.Background(), "new-habit"))

	names := earnedNames(t, h, "alice")
	assert.Contains(t, names, "First Blueprint")
	assert.Contains(t, names, "First Steps")
	assert.Contains(t, names, "Early Bird")
}

func TestLoadScenario_WeekStreak(t *testing.T) {
	h := setupTestHandler(t)

	require.NoError(t, h.Load(context.Background(), "week-streak"))

	names := earnedNames(t, h, "bob")
	assert.Contains(t, names, "Getting Started")
	assert.Contains(t, names, "Week Warrior")
	assert.Contains(t, names, "Perfect Week")
	assert.NotContains(t, names, "Habit Master")

	tree, err := h.Store.LoadHierarchy(context.Background(), "bob")
	require.NoError(t, err)
	act, ok := tree.Action("bob-act-meditate")
	require.True(t, ok)
	assert.Equal(t, 7, act.Stats(h.today()).CurrentStreak)
}

func TestLoadScenario_GoalCrusher(t *testing.T) {
	h := setupTestHandler(t)

	require.NoError(t, h.Load(context.Background(), "goal-crusher"))

	names := earnedNames(t, h, "carol")
	assert.Contains(t, names, "Goal Crusher")
	assert.Contains(t, names, "Speed Demon")
	assert.Contains(t, names, "On Schedule")
	assert.NotContains(t, names, "Blueprint Architect", "one completed objective only")
}

func TestLoadScenario_CommunityLeaderboard(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "community"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do("GET", "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[LeaderboardResponse](t, rec)
	require.Len(t, board.Entries, 3)
	for i := 1; i < len(board.Entries); i++ {
		assert.GreaterOrEqual(t, board.Entries[i-1].TotalPoints, board.Entries[i].TotalPoints)
	}

	rec = s.do("GET", "/api/scenarios/current", nil)
	assert.Equal(t, "community", decode[ScenarioDTO](t, rec).ID)
}

func TestLoadScenario_ReloadResets(t *testing.T) {
	// GIVEN: a loaded scenario
	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.Load(ctx, "new-habit"))
	first := earnedNames(t, h, "alice")

	// WHEN: it is loaded again
	require.NoError(t, h.Load(ctx, "new-habit"))

	// THEN: grants are not doubled and the catalog is seeded once
	assert.ElementsMatch(t, first, earnedNames(t, h, "alice"))
	catalog, err := h.Catalog.Rewards(ctx)
	require.NoError(t, err)
	assert.Len(t, catalog, len(rewards.DefaultCatalog()))
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScenarioEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ScenarioDTO](t, rec)
	assert.Len(t, list, len(scenarioLoaders))

	rec = s.do("GET", "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())

	s.do("POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "new-habit"})
	rec = s.do("POST", "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do("GET", "/api/rewards", nil)
	assert.Empty(t, decode[[]rewards.RewardSummary](t, rec))
	rec = s.do("GET", "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}
