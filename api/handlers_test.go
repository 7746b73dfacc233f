/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Hierarchy mutations and the rewards they unlock
- Manual checks
- Error to status mapping
- Leaderboard, catalog and notifications endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/achievement-engine/factory"
	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/notify"
	"github.com/warp/achievement-engine/rewards"
	"github.com/warp/achievement-engine/store/sqlite"
)

// Saturday, mid-morning.
var testNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

type testServer struct {
	t      *testing.T
	h      *Handler
	router http.Handler
}

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := NewHandler(store, nil)
	h.SetClock(func() time.Time { return testNow })
	_, err = factory.Seed(context.Background(), store, rewards.DefaultCatalog())
	require.NoError(t, err)
	return h
}

func newTestServer(t *testing.T) *testServer {
	h := setupTestHandler(t)
	return &testServer{t: t, h: h, router: NewRouter(h, nil)}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type mutationBody struct {
	Item    json.RawMessage `json:"item"`
	Granted []struct {
		Reward struct {
			Name   string `json:"name"`
			Points int    `json:"points"`
		} `json:"reward"`
		Celebration string `json:"celebration_message"`
	} `json:"new_achievements"`
}

func (m mutationBody) names() []string {
	out := make([]string, len(m.Granted))
	for i, g := range m.Granted {
		out[i] = g.Reward.Name
	}
	return out
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// plantRun creates obj-1 / cp-1 / act-1 (a daily run) for alice.
func (s *testServer) plantRun() {
	s.t.Helper()
	rec := s.do("POST", "/api/users/alice/objectives", ObjectiveDTO{ID: "obj-1", Title: "Run a 10k", TargetDate: "2025-06-01"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do("POST", "/api/users/alice/objectives/obj-1/checkpoints", CheckpointDTO{ID: "cp-1", Title: "5k"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do("POST", "/api/users/alice/checkpoints/cp-1/actions", ActionDTO{ID: "act-1", Title: "Morning run", Frequency: "daily"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateObjective_FirstBlueprintOnlyOnce(t *testing.T) {
	// GIVEN: a user without objectives
	s := newTestServer(t)

	// WHEN: creating the first objective
	rec := s.do("POST", "/api/users/alice/objectives", ObjectiveDTO{ID: "obj-1", Title: "Run a 10k"})

	// THEN: First Blueprint is granted
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, decode[mutationBody](t, rec).names(), "First Blueprint")

	// WHEN: creating a second objective
	rec = s.do("POST", "/api/users/alice/objectives", ObjectiveDTO{ID: "obj-2", Title: "Learn Go"})

	// THEN: nothing new
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, decode[mutationBody](t, rec).names(), "First Blueprint")
}

func TestCreateObjective_Invalid(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/users/alice/objectives", ObjectiveDTO{Title: "no id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", "/api/users/alice/objectives", ObjectiveDTO{ID: "obj-1", TargetDate: "June"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", "/api/users/alice/objectives", ObjectiveDTO{ID: "obj-1", Status: "done-ish"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteAction_GrantsOnceAndReturnsStreak(t *testing.T) {
	// GIVEN: alice with one daily action
	s := newTestServer(t)
	s.plantRun()
	early := time.Date(2025, time.March, 15, 7, 0, 0, 0, time.UTC)

	// WHEN: completing it at 07:00 on a Saturday
	rec := s.do("POST", "/api/users/alice/actions/act-1/complete", CompleteActionRequest{CompletedAt: &early})

	// THEN: first completion, early bird and weekend rewards are granted
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[mutationBody](t, rec)
	assert.Contains(t, body.names(), "First Steps")
	assert.Contains(t, body.names(), "Early Bird")
	assert.Contains(t, body.names(), "Weekend Warrior")

	var act ActionDTO
	require.NoError(t, json.Unmarshal(body.Item, &act))
	assert.Equal(t, "completed", act.Status)
	assert.Equal(t, []string{"2025-03-15"}, act.CompletionHistory)
	require.NotNil(t, act.Stats)
	assert.Equal(t, 1, act.Stats.CurrentStreak)

	// WHEN: completing again the same day
	rec = s.do("POST", "/api/users/alice/actions/act-1/complete", CompleteActionRequest{CompletedAt: &early})

	// THEN: nothing is granted twice
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[mutationBody](t, rec).Granted)

	// AND: the reward counter moved exactly once
	catalog, err := s.h.Catalog.Rewards(context.Background())
	require.NoError(t, err)
	for _, r := range catalog {
		if r.Name == "First Steps" {
			assert.Equal(t, 1, r.TimesEarned)
		}
	}
}

func TestCompleteAction_EmptyBodyUsesClock(t *testing.T) {
	s := newTestServer(t)
	s.plantRun()

	req := httptest.NewRequest("POST", "/api/users/alice/actions/act-1/complete", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[mutationBody](t, rec)
	assert.NotContains(t, body.names(), "Early Bird", "10:00 is not early")
	assert.Contains(t, body.names(), "First Steps")
}

func TestCompleteAction_UnknownAction(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/users/alice/actions/nope/complete", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Failed to complete action", decode[ErrorResponse](t, rec).Error)
}

func TestCreateItems_Validation(t *testing.T) {
	s := newTestServer(t)
	s.plantRun()

	rec := s.do("POST", "/api/users/alice/checkpoints/cp-1/actions", ActionDTO{ID: "act-2", Frequency: "hourly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("POST", "/api/users/alice/checkpoints/missing/actions", ActionDTO{ID: "act-2", Frequency: "daily"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do("POST", "/api/users/alice/objectives/missing/checkpoints", CheckpointDTO{ID: "cp-2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do("POST", "/api/users/alice/objectives", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateObjectiveStatus_GoalCrusher(t *testing.T) {
	// GIVEN: an objective with a future target date
	s := newTestServer(t)
	s.plantRun()

	// WHEN: it is completed
	rec := s.do("PUT", "/api/users/alice/objectives/obj-1/status", UpdateStatusRequest{Status: "completed"})

	// THEN: completion rewards are granted and CompletedAt is stamped
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[mutationBody](t, rec)
	assert.Contains(t, body.names(), "Goal Crusher")
	assert.Contains(t, body.names(), "Speed Demon")

	var obj ObjectiveDTO
	require.NoError(t, json.Unmarshal(body.Item, &obj))
	require.NotNil(t, obj.CompletedAt)
	assert.True(t, obj.CompletedAt.Equal(testNow))

	// unknown status
	rec = s.do("PUT", "/api/users/alice/objectives/obj-1/status", UpdateStatusRequest{Status: "whatever"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateCheckpointStatus(t *testing.T) {
	s := newTestServer(t)
	s.plantRun()

	rec := s.do("PUT", "/api/users/alice/checkpoints/cp-1/status", UpdateStatusRequest{Status: "completed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do("PUT", "/api/users/alice/checkpoints/cp-9/status", UpdateStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do("PUT", "/api/users/alice/checkpoints/cp-1/status", UpdateStatusRequest{Status: "not_started"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "not_started is an objective status only")
}

func TestGetHierarchy_ShowsProgress(t *testing.T) {
	s := newTestServer(t)
	s.plantRun()
	s.do("POST", "/api/users/alice/actions/act-1/complete", nil)

	rec := s.do("GET", "/api/users/alice/hierarchy", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	tree := decode[HierarchyDTO](t, rec)
	require.Len(t, tree.Objectives, 1)
	require.Len(t, tree.Objectives[0].Checkpoints, 1)
	cp := tree.Objectives[0].Checkpoints[0]
	assert.Equal(t, "100", cp.Progress.String())
	require.Len(t, cp.Actions, 1)
	assert.Equal(t, 1, cp.Actions[0].Stats.CurrentStreak)
}

func TestGetActionStreak(t *testing.T) {
	s := newTestServer(t)
	s.plantRun()
	for _, day := range []int{13, 14, 15} {
		at := time.Date(2025, time.March, day, 18, 0, 0, 0, time.UTC)
		s.do("POST", "/api/users/alice/actions/act-1/complete", CompleteActionRequest{CompletedAt: &at})
	}

	rec := s.do("GET", "/api/users/alice/actions/act-1/streak", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[generic.StreakStats](t, rec)
	assert.Equal(t, 3, stats.CurrentStreak)
	assert.Equal(t, 3, stats.LongestStreak)
	assert.False(t, stats.Overdue)

	rec = s.do("GET", "/api/users/alice/actions/nope/streak", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheck(t *testing.T) {
	s := newTestServer(t)
	s.plantRun()

	tests := []struct {
		name string
		path string
		body any
		code int
	}{
		{"unknown kind", "/api/users/alice/check/habit", nil, http.StatusBadRequest},
		{"missing id", "/api/users/alice/check/action", nil, http.StatusBadRequest},
		{"unknown item", "/api/users/alice/check/checkpoint", CheckRequest{ID: "cp-9"}, http.StatusNotFound},
		{"none", "/api/users/alice/check/none", nil, http.StatusOK},
		{"objective", "/api/users/alice/check/objective", CheckRequest{ID: "obj-1"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do("POST", tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestCheck_ActionAtGivenInstant(t *testing.T) {
	// GIVEN: an action completed at 10:00 (no early bird)
	s := newTestServer(t)
	s.plantRun()
	s.do("POST", "/api/users/alice/actions/act-1/complete", nil)

	// WHEN: checking it with an explicit late-night instant
	late := time.Date(2025, time.March, 15, 23, 0, 0, 0, time.UTC)
	rec := s.do("POST", "/api/users/alice/check/action", CheckRequest{ID: "act-1", CompletedAt: &late})

	// THEN: the late special is new, the first-completion reward is not
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	names := decode[mutationBody](t, rec).names()
	assert.Contains(t, names, "Night Owl")
	assert.NotContains(t, names, "First Steps")
	assert.NotContains(t, names, "Early Bird")
}

func TestAchievementsStatsAndPosition(t *testing.T) {
	s := newTestServer(t)
	s.plantRun()
	s.do("POST", "/api/users/alice/actions/act-1/complete", nil)

	rec := s.do("GET", "/api/users/alice/achievements", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	displays := decode[[]rewards.GrantDisplay](t, rec)
	require.NotEmpty(t, displays)
	for _, d := range displays {
		assert.NotEmpty(t, d.Celebration)
		assert.Equal(t, fmt.Sprintf("You earned %d points! 🏆", d.Reward.Points), d.PointsMessage)
	}

	rec = s.do("GET", "/api/users/alice/achievements?limit=1", nil)
	assert.Len(t, decode[[]rewards.GrantDisplay](t, rec), 1)

	rec = s.do("GET", "/api/users/alice/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[rewards.UserStats](t, rec)
	assert.Equal(t, len(displays), stats.TotalGrants)
	assert.Equal(t, 1, stats.Rank)

	rec = s.do("GET", "/api/users/alice/position", nil)
	pos := decode[rewards.Position](t, rec)
	require.NotNil(t, pos.Rank)
	assert.Equal(t, 1, *pos.Rank)

	rec = s.do("GET", "/api/users/nobody/position", nil)
	assert.Nil(t, decode[rewards.Position](t, rec).Rank)
}

func TestLeaderboardAndRecent(t *testing.T) {
	s := newTestServer(t)
	s.plantRun()
	s.do("POST", "/api/users/alice/actions/act-1/complete", nil)
	s.do("POST", "/api/users/bo/objectives", ObjectiveDTO{ID: "obj-b", Title: "Bo's goal"})

	rec := s.do("GET", "/api/leaderboard?user=bo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[LeaderboardResponse](t, rec)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, generic.UserID("alice"), board.Entries[0].UserID)
	require.NotNil(t, board.Me)
	require.NotNil(t, board.Me.Rank)
	assert.Equal(t, 2, *board.Me.Rank)

	rec = s.do("GET", "/api/leaderboard?limit=1", nil)
	assert.Len(t, decode[LeaderboardResponse](t, rec).Entries, 1)

	rec = s.do("GET", "/api/rewards/recent?limit=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recent := decode[[]rewards.RecentGrant](t, rec)
	require.NotEmpty(t, recent)
	for _, r := range recent {
		assert.Contains(t, []string{"al***", "***"}, r.UserLabel)
	}
}

func TestRewardsEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/api/rewards", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]rewards.RewardSummary](t, rec)
	assert.Len(t, all, len(rewards.DefaultCatalog()))

	// seeding again is a no-op
	rec = s.do("POST", "/api/rewards/seed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, len(rewards.DefaultCatalog()), decode[SeedResponse](t, rec).Seeded)
	rec = s.do("GET", "/api/rewards", nil)
	assert.Len(t, decode[[]rewards.RewardSummary](t, rec), len(rewards.DefaultCatalog()))

	rec = s.do("POST", "/api/rewards", map[string]any{
		"name": "Fortnight", "category": "streak", "rarity": "epic",
		"criteria": map[string]any{"streak_days": 14},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[rewards.RewardSummary](t, rec)
	assert.Equal(t, 50, created.Points)
	assert.Equal(t, "#FFD700", created.Color)

	rec = s.do("POST", "/api/rewards", map[string]any{
		"name": "Fortnight", "category": "streak",
		"criteria": map[string]any{"streak_days": 15},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do("POST", "/api/rewards", map[string]any{"name": "Odd", "category": "karma"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do("GET", "/api/users/alice/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]rewards.CatalogEntry](t, rec)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.False(t, e.Earned)
	}
}

func TestFlushNotifications(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("POST", "/api/users/alice/notifications/flush", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	outbox := &notify.MemoryOutbox{}
	s.h.Notifier = notify.NewNotifier(s.h.Store, s.h.Catalog, outbox, "achievements@example.com", nil)
	s.plantRun()

	rec = s.do("POST", "/api/users/alice/notifications/flush", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[map[string]int](t, rec)["notified"], "First Blueprint")
	assert.Len(t, outbox.Deliveries(), 1)

	rec = s.do("POST", "/api/users/alice/notifications/flush", nil)
	assert.Equal(t, 0, decode[map[string]int](t, rec)["notified"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&generic.ValidationError{Field: "x", Reason: "y"}, http.StatusBadRequest},
		{generic.NewNotFound("action", "a"), http.StatusNotFound},
		{generic.NewNotFound("reward", "r"), http.StatusNotFound},
		{fmt.Errorf("save: %w", generic.ErrDuplicateReward), http.StatusConflict},
		{fmt.Errorf("load: %w", generic.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	rec := s.do("GET", "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}
