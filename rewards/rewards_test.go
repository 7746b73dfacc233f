package rewards_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/achievement-engine/factory"
	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/generic/store"
	"github.com/warp/achievement-engine/goals"
	"github.com/warp/achievement-engine/rewards"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const user = generic.UserID("user-1")

func date(year int, month time.Month, day int) generic.TimePoint {
	return generic.NewTimePoint(year, month, day)
}

func at(month time.Month, day, hour, minute int) time.Time {
	return time.Date(2025, month, day, hour, minute, 0, 0, time.UTC)
}

// harness is an engine over an in-memory store seeded with a chosen catalog.
type harness struct {
	t      *testing.T
	mem    *store.Memory
	engine *rewards.Engine
	stats  *rewards.Stats
	byName map[string]rewards.Reward
	byID   map[generic.RewardID]rewards.Reward
}

func newHarness(t *testing.T, names ...string) *harness {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()

	var pick []rewards.Reward
	for _, r := range rewards.DefaultCatalog() {
		if len(names) == 0 || contains(names, r.Name) {
			pick = append(pick, r)
		}
	}
	seeded, err := factory.Seed(ctx, mem, pick)
	require.NoError(t, err)

	h := &harness{
		t:      t,
		mem:    mem,
		byName: map[string]rewards.Reward{},
		byID:   map[generic.RewardID]rewards.Reward{},
	}
	for _, r := range seeded {
		h.byName[r.Name] = r
		h.byID[r.ID] = r
	}
	catalog := factory.StoreCatalog{Store: mem}
	h.engine = rewards.NewEngine(catalog, mem, generic.NewLedger(mem), nil)
	h.stats = rewards.NewStats(mem, catalog, mem)

	require.NoError(t, goals.SaveHierarchy(ctx, mem, hierarchy()))
	return h
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func hierarchy() goals.Hierarchy {
	return goals.Hierarchy{
		UserID: user,
		Objectives: []goals.Objective{{
			ID: "obj-1", UserID: user, Title: "Run a marathon", Status: goals.StatusInProgress,
			TargetDate: date(2025, time.June, 1),
			Checkpoints: []goals.Checkpoint{{
				ID: "cp-1", UserID: user, ObjectiveID: "obj-1", Title: "Run 10k", Status: goals.StatusInProgress,
				Actions: []goals.Action{
					{ID: "act-1", UserID: user, CheckpointID: "cp-1", Title: "Morning run", Frequency: generic.FrequencyDaily, Status: goals.StatusPending},
					{ID: "act-2", UserID: user, CheckpointID: "cp-1", Title: "Stretch", Frequency: generic.FrequencyDaily, Status: goals.StatusPending},
				},
			}},
		}},
	}
}

// complete marks the action done at the given instant, saves it and runs the
// engine with the engine clock set to the same instant.
func (h *harness) complete(id generic.ActionID, when time.Time) []string {
	h.t.Helper()
	ctx := context.Background()
	tree, err := h.mem.LoadHierarchy(ctx, user)
	require.NoError(h.t, err)
	a, ok := tree.Action(id)
	require.True(h.t, ok)

	a.MarkCompleted(when)
	require.NoError(h.t, h.mem.SaveAction(ctx, a))
	return h.check(when, rewards.ActionTrigger{Action: a, CompletedAt: when})
}

func (h *harness) check(now time.Time, t rewards.Trigger) []string {
	h.t.Helper()
	h.engine.Now = func() time.Time { return now }
	grants, err := h.engine.EvaluateAndGrant(context.Background(), user, t)
	require.NoError(h.t, err)
	return h.names(grants)
}

func (h *harness) names(grants []generic.Grant) []string {
	out := make([]string, 0, len(grants))
	for _, g := range grants {
		out = append(out, h.byID[g.RewardID].Name)
	}
	return out
}

func (h *harness) reward(name string) generic.RewardRecord {
	h.t.Helper()
	rec, err := h.mem.GetReward(context.Background(), h.byName[name].ID)
	require.NoError(h.t, err)
	require.NotNil(h.t, rec)
	return *rec
}

func dailyRun(from generic.TimePoint, days int) generic.History {
	var hist generic.History
	for i := 0; i < days; i++ {
		hist = hist.Add(from.AddDays(i))
	}
	return hist
}

// =============================================================================
// ENGINE SCENARIOS
// =============================================================================

func TestEarlyBird_GrantedOncePerDay(t *testing.T) {
	// GIVEN: Early Bird, repeatable, and a daily action
	// WHEN: the action is completed at 07:00 on two days, plus a second
	//       completion on day one
	// THEN: exactly two grants exist and the reward counter says 2
	h := newHarness(t, "Early Bird")

	assert.Equal(t, []string{"Early Bird"}, h.complete("act-1", at(time.March, 10, 7, 0)))
	assert.Empty(t, h.complete("act-1", at(time.March, 10, 7, 30)), "same day re-check is a no-op")
	assert.Equal(t, []string{"Early Bird"}, h.complete("act-1", at(time.March, 11, 6, 45)))

	assert.Equal(t, 2, h.reward("Early Bird").TimesEarned)

	stats, err := h.stats.UserStats(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalGrants)
	assert.Equal(t, 2, stats.SpecialGrants)
	assert.Equal(t, 30, stats.TotalPoints)
	assert.Equal(t, 1, stats.Rank)
}

func TestTimeOfDaySpecials(t *testing.T) {
	cases := []struct {
		name string
		when time.Time
		want []string
	}{
		{"early morning", at(time.March, 10, 7, 59), []string{"Early Bird"}},
		{"nine o'clock", at(time.March, 10, 9, 0), nil},
		{"late night", at(time.March, 10, 22, 30), []string{"Night Owl"}},
		{"saturday noon", at(time.March, 15, 12, 0), []string{"Weekend Warrior"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, "Early Bird", "Night Owl", "Weekend Warrior")
			got := h.complete("act-1", tc.when)
			assert.ElementsMatch(t, tc.want, got)
		})
	}
}

func TestFirstSteps_OncePerAction(t *testing.T) {
	// GIVEN: the one-period streak reward
	// WHEN: the same action is completed on consecutive days, then another one
	// THEN: one grant per action, never more
	h := newHarness(t, "First Steps")

	assert.Equal(t, []string{"First Steps"}, h.complete("act-1", at(time.March, 10, 12, 0)))
	assert.Empty(t, h.complete("act-1", at(time.March, 11, 12, 0)))
	assert.Equal(t, []string{"First Steps"}, h.complete("act-2", at(time.March, 11, 13, 0)))

	grants, err := h.mem.ListGrants(context.Background(), generic.GrantFilter{UserID: user})
	require.NoError(t, err)
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.Equal(t, "first", g.Occurrence)
		assert.NotEmpty(t, g.ActionID)
		assert.Equal(t, generic.ObjectiveID("obj-1"), g.ObjectiveID)
	}
}

func TestStreak_RefreshesWithoutRegranting(t *testing.T) {
	// GIVEN: a three day streak grant
	// WHEN: the streak grows to four days
	// THEN: no new grant; the existing one carries the new streak count
	h := newHarness(t, "Getting Started")

	h.complete("act-1", at(time.March, 10, 12, 0))
	h.complete("act-1", at(time.March, 11, 12, 0))
	assert.Equal(t, []string{"Getting Started"}, h.complete("act-1", at(time.March, 12, 12, 0)))
	assert.Empty(t, h.complete("act-1", at(time.March, 13, 12, 0)))

	grants, err := h.mem.ListGrants(context.Background(), generic.GrantFilter{UserID: user})
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, 4, grants[0].StreakCount)
	assert.Equal(t, "4", grants[0].Context["streak"])
	assert.Equal(t, 1, h.reward("Getting Started").TimesEarned)
}

func TestStreak_NewRunIsNewOccurrence(t *testing.T) {
	h := newHarness(t, "Getting Started")

	for d := 1; d <= 3; d++ {
		h.complete("act-1", at(time.March, d, 12, 0))
	}
	for d := 10; d <= 12; d++ {
		h.complete("act-1", at(time.March, d, 12, 0))
	}
	assert.Equal(t, 2, h.reward("Getting Started").TimesEarned)
}

func TestStreak_BackfillKeepsOneGrant(t *testing.T) {
	// GIVEN: a completion on Mar 1 and a three day run Mar 4-6 that earned
	//        Getting Started
	// WHEN: Mar 2 and Mar 3 are backfilled on Mar 6, joining both into one
	//       run that now starts on Mar 1
	// THEN: the existing grant is refreshed; no second grant, counter stays 1
	h := newHarness(t, "Getting Started")
	ctx := context.Background()

	h.complete("act-1", at(time.March, 1, 12, 0))
	h.complete("act-1", at(time.March, 4, 12, 0))
	h.complete("act-1", at(time.March, 5, 12, 0))
	assert.Equal(t, []string{"Getting Started"}, h.complete("act-1", at(time.March, 6, 12, 0)))

	now := at(time.March, 6, 18, 0)
	for _, d := range []int{2, 3} {
		tree, err := h.mem.LoadHierarchy(ctx, user)
		require.NoError(t, err)
		a, ok := tree.Action("act-1")
		require.True(t, ok)
		when := at(time.March, d, 12, 0)
		a.MarkCompleted(when)
		require.NoError(t, h.mem.SaveAction(ctx, a))
		assert.Empty(t, h.check(now, rewards.ActionTrigger{Action: a, CompletedAt: when}), "backfill Mar %d", d)
	}

	grants, err := h.mem.ListGrants(ctx, generic.GrantFilter{UserID: user})
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "2025-03-04", grants[0].Occurrence)
	assert.Equal(t, 6, grants[0].StreakCount)
	assert.Equal(t, 1, h.reward("Getting Started").TimesEarned)

	// A break followed by a fresh run is still a new occurrence.
	for d := 10; d <= 12; d++ {
		h.complete("act-1", at(time.March, d, 12, 0))
	}
	assert.Equal(t, 2, h.reward("Getting Started").TimesEarned)
}

func TestStreak_Weekly(t *testing.T) {
	// GIVEN: completions in three consecutive ISO weeks
	// THEN: a 3-period streak reward matches with streak count 3
	ev := rewards.NewEvaluator(nil)
	r := rewards.Reward{Name: "Getting Started", Category: rewards.CategoryStreak, Active: true,
		Criteria: rewards.StreakCriteria{Days: 3}}

	a := goals.Action{ID: "act-w", UserID: user, CheckpointID: "cp-1", Frequency: generic.FrequencyWeekly,
		Status: goals.StatusCompleted,
		Completions: generic.NewHistory(date(2025, time.March, 3), date(2025, time.March, 12), date(2025, time.March, 17))}
	trig := rewards.ActionTrigger{Action: a, CompletedAt: at(time.March, 17, 10, 0)}

	m := ev.Match(r, hierarchy(), trig, date(2025, time.March, 17))
	require.True(t, m.Satisfied)
	assert.Equal(t, 3, m.Scope.StreakCount)
	assert.Equal(t, "2025-03-03", m.Scope.Occurrence)

	a.Completions = generic.NewHistory(date(2025, time.March, 3), date(2025, time.March, 17))
	assert.False(t, ev.Evaluate(r, hierarchy(), rewards.ActionTrigger{Action: a}, date(2025, time.March, 17)))
}

func TestGoalCrusher_ExactlyOncePerObjective(t *testing.T) {
	h := newHarness(t, "Goal Crusher")
	ctx := context.Background()

	tree, err := h.mem.LoadHierarchy(ctx, user)
	require.NoError(t, err)
	obj, _ := tree.Objective("obj-1")
	obj.Complete(at(time.March, 20, 9, 0))
	require.NoError(t, h.mem.SaveObjective(ctx, obj))

	now := at(time.March, 20, 9, 0)
	assert.Equal(t, []string{"Goal Crusher"}, h.check(now, rewards.ObjectiveTrigger{Objective: obj}))
	assert.Empty(t, h.check(now, rewards.ObjectiveTrigger{Objective: obj}))
	assert.Empty(t, h.check(now.Add(48*time.Hour), rewards.NoTrigger{}), "sweep resolves to the same grant")

	other := goals.Objective{ID: "obj-2", UserID: user, Title: "Learn Go", Status: goals.StatusCompleted}
	require.NoError(t, h.mem.SaveObjective(ctx, other))
	assert.Equal(t, []string{"Goal Crusher"}, h.check(now, rewards.ObjectiveTrigger{Objective: other}))
}

func TestFirstBlueprint_OnlyOnCreation(t *testing.T) {
	h := newHarness(t, "First Blueprint")
	obj := goals.Objective{ID: "obj-1", UserID: user, Title: "Run a marathon", Status: goals.StatusInProgress}

	now := at(time.March, 1, 9, 0)
	assert.Empty(t, h.check(now, rewards.ObjectiveTrigger{Objective: obj}), "status change is not creation")
	assert.Equal(t, []string{"First Blueprint"}, h.check(now, rewards.ObjectiveTrigger{Objective: obj, Created: true}))

	second := goals.Objective{ID: "obj-9", UserID: user, Title: "Read", Status: goals.StatusNotStarted}
	assert.Empty(t, h.check(now, rewards.ObjectiveTrigger{Objective: second, Created: true}), "one-time reward")
}

func TestFirstBlueprint_SweepCountsCompletedObjectives(t *testing.T) {
	// GIVEN: First Blueprint and an objective that is still in progress
	// WHEN: an action is completed, then the objective is completed and a
	//       sweep runs
	// THEN: only the completed objective earns it
	h := newHarness(t, "First Blueprint")
	ctx := context.Background()

	assert.Empty(t, h.complete("act-1", at(time.March, 3, 9, 0)))

	tree, err := h.mem.LoadHierarchy(ctx, user)
	require.NoError(t, err)
	obj, ok := tree.Objective("obj-1")
	require.True(t, ok)
	obj.Complete(at(time.March, 4, 9, 0))
	require.NoError(t, h.mem.SaveObjective(ctx, obj))

	assert.Equal(t, []string{"First Blueprint"}, h.check(at(time.March, 4, 10, 0), rewards.NoTrigger{}))
}

func TestFullCatalog_FirstCompletion(t *testing.T) {
	// GIVEN: the whole built-in catalog
	// WHEN: both actions of the only checkpoint are completed early on a weekday
	// THEN: the expected mix of rewards is granted and nothing user-wide leaks
	h := newHarness(t)

	first := h.complete("act-1", at(time.March, 10, 6, 30))
	assert.Contains(t, first, "First Steps")
	assert.Contains(t, first, "Early Bird")
	assert.Contains(t, first, "Progress Maker")
	assert.NotContains(t, first, "First Blueprint", "no objective was created or completed")
	assert.NotContains(t, first, "Perfectionist")
	assert.NotContains(t, first, "Weekend Warrior")
	assert.NotContains(t, first, "Goal Crusher")

	second := h.complete("act-2", at(time.March, 10, 6, 40))
	assert.Contains(t, second, "Perfectionist")
	assert.Contains(t, second, "Almost There")
	assert.Contains(t, second, "First Steps", "per action")
	assert.Contains(t, second, "Early Bird", "scoped per action and day")
	assert.NotContains(t, second, "First Blueprint")
}

// =============================================================================
// ENGINE INPUTS AND FAILURES
// =============================================================================

func TestEngine_RejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.EvaluateAndGrant(ctx, "", rewards.NoTrigger{})
	assert.ErrorIs(t, err, generic.ErrValidation)

	foreign := goals.Action{ID: "act-x", UserID: "user-2", CheckpointID: "cp-1",
		Frequency: generic.FrequencyDaily, Status: goals.StatusCompleted}
	_, err = h.engine.EvaluateAndGrant(ctx, user, rewards.ActionTrigger{Action: foreign})
	assert.ErrorIs(t, err, generic.ErrValidation)

	bad := goals.Action{ID: "act-x", UserID: user, CheckpointID: "cp-1",
		Frequency: "hourly", Status: goals.StatusCompleted}
	_, err = h.engine.EvaluateAndGrant(ctx, user, rewards.ActionTrigger{Action: bad})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

type failingLedger struct {
	generic.Ledger
	fail generic.RewardID
}

func (l failingLedger) Grant(ctx context.Context, g generic.Grant, repeatable bool) (generic.GrantResult, error) {
	if g.RewardID == l.fail {
		return generic.GrantResult{}, generic.ErrStoreUnavailable
	}
	return l.Ledger.Grant(ctx, g, repeatable)
}

func TestEngine_OneFailedGrantDoesNotStopOthers(t *testing.T) {
	h := newHarness(t, "First Steps", "Early Bird")
	h.engine.Ledger = failingLedger{Ledger: h.engine.Ledger, fail: h.byName["First Steps"].ID}

	assert.Equal(t, []string{"Early Bird"}, h.complete("act-1", at(time.March, 10, 7, 0)))
}

type brokenHierarchy struct{}

func (brokenHierarchy) LoadHierarchy(context.Context, generic.UserID) (goals.Hierarchy, error) {
	return goals.Hierarchy{}, generic.ErrStoreUnavailable
}

func TestEngine_HierarchyFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	h.engine.Hierarchy = brokenHierarchy{}

	_, err := h.engine.EvaluateAndGrant(context.Background(), user, rewards.NoTrigger{})
	require.Error(t, err)
	assert.True(t, generic.IsRetryable(err))
	assert.True(t, errors.Is(err, generic.ErrStoreUnavailable))
}

// =============================================================================
// EVALUATOR
// =============================================================================

func TestEvaluate_CompletionTypes(t *testing.T) {
	today := date(2025, time.March, 12)
	cases := []struct {
		name   string
		target generic.TimePoint
		status goals.Status
		want   map[rewards.CompletionType]bool
	}{
		{"before target", today.AddDays(5), goals.StatusCompleted,
			map[rewards.CompletionType]bool{rewards.CompletionFull: true, rewards.CompletionEarly: true, rewards.CompletionOnTime: true}},
		{"on target", today, goals.StatusCompleted,
			map[rewards.CompletionType]bool{rewards.CompletionFull: true, rewards.CompletionEarly: false, rewards.CompletionOnTime: true}},
		{"late", today.AddDays(-1), goals.StatusCompleted,
			map[rewards.CompletionType]bool{rewards.CompletionFull: true, rewards.CompletionEarly: false, rewards.CompletionOnTime: false}},
		{"not completed", today.AddDays(5), goals.StatusInProgress,
			map[rewards.CompletionType]bool{rewards.CompletionFull: false, rewards.CompletionEarly: false, rewards.CompletionOnTime: false}},
	}

	ev := rewards.NewEvaluator(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obj := goals.Objective{ID: "obj-1", UserID: user, Status: tc.status, TargetDate: tc.target}
			h := goals.Hierarchy{UserID: user, Objectives: []goals.Objective{obj}}
			for ct, want := range tc.want {
				r := rewards.Reward{Name: string(ct), Category: rewards.CategoryObjectiveCompletion, Active: true,
					Criteria: rewards.CompletionCriteria{Type: ct, RequiredCount: 1}}
				assert.Equal(t, want, ev.Evaluate(r, h, rewards.ObjectiveTrigger{Objective: obj}, today), ct)
			}
		})
	}
}

func TestEvaluate_RequiredCountIsUserWide(t *testing.T) {
	ev := rewards.NewEvaluator(nil)
	today := date(2025, time.March, 12)
	r := rewards.Reward{Name: "Triple", Category: rewards.CategoryObjectiveCompletion, Active: true,
		Criteria: rewards.CompletionCriteria{Type: rewards.CompletionFull, RequiredCount: 2}}

	h := goals.Hierarchy{UserID: user, Objectives: []goals.Objective{
		{ID: "o1", UserID: user, Status: goals.StatusCompleted},
		{ID: "o2", UserID: user, Status: goals.StatusInProgress},
	}}
	assert.False(t, ev.Evaluate(r, h, rewards.NoTrigger{}, today))

	h.Objectives[1].Status = goals.StatusCompleted
	m := ev.Match(r, h, rewards.ObjectiveTrigger{Objective: h.Objectives[1]}, today)
	require.True(t, m.Satisfied)
	assert.Equal(t, rewards.Scope{}, m.Scope)
}

func TestEvaluate_Progress(t *testing.T) {
	ev := rewards.NewEvaluator(nil)
	maker := rewards.Reward{Name: "Progress Maker", Category: rewards.CategoryCheckpointProgress, Active: true,
		Criteria: rewards.ProgressCriteria{Percentage: decimal.NewFromInt(50)}}
	almost := rewards.Reward{Name: "Almost There", Category: rewards.CategoryCheckpointProgress, Active: true,
		Criteria: rewards.ProgressCriteria{Percentage: decimal.NewFromInt(90)}}

	h := hierarchy()
	cp := h.Objectives[0].Checkpoints[0]
	cp.Actions[0].Status = goals.StatusCompleted
	trig := rewards.CheckpointTrigger{Checkpoint: cp}
	today := date(2025, time.March, 12)

	m := ev.Match(maker, h, trig, today)
	require.True(t, m.Satisfied)
	assert.Equal(t, generic.CheckpointID("cp-1"), m.Scope.CheckpointID)
	assert.Equal(t, "50", m.Snapshot["progress"])
	assert.False(t, ev.Evaluate(almost, h, trig, today))
}

func TestEvaluate_Specials(t *testing.T) {
	today := date(2025, time.March, 12)
	special := func(st rewards.SpecialType, threshold int) rewards.Reward {
		return rewards.Reward{Name: string(st), Category: rewards.CategorySpecial, Active: true,
			Criteria: rewards.SpecialCriteria{Type: st, Threshold: threshold}}
	}
	streaky := func() goals.Hierarchy {
		h := hierarchy()
		acts := h.Objectives[0].Checkpoints[0].Actions
		acts[0].Completions = dailyRun(date(2025, time.March, 1), 12)
		acts[0].Status = goals.StatusCompleted
		acts[1].Completions = dailyRun(date(2025, time.March, 4), 9)
		acts[1].Status = goals.StatusCompleted
		return h
	}

	ev := rewards.NewEvaluator(nil)
	cases := []struct {
		name   string
		reward rewards.Reward
		h      goals.Hierarchy
		t      rewards.Trigger
		want   bool
	}{
		{"streak legend default", special(rewards.SpecialStreakLegend, 0), streaky(), rewards.NoTrigger{}, false},
		{"streak legend 10", special(rewards.SpecialStreakLegend, 10), streaky(), rewards.NoTrigger{}, true},
		{"habit master 20", special(rewards.SpecialHabitMaster, 20), streaky(), rewards.NoTrigger{}, true},
		{"habit master 22", special(rewards.SpecialHabitMaster, 22), streaky(), rewards.NoTrigger{}, false},
		{"consistency 2", special(rewards.SpecialConsistencyChampion, 2), streaky(), rewards.NoTrigger{}, true},
		{"consistency default", special(rewards.SpecialConsistencyChampion, 0), streaky(), rewards.NoTrigger{}, false},
		{"perfect week", special(rewards.SpecialPerfectWeek, 0), streaky(), rewards.NoTrigger{}, true},
		{"perfect week without habits", special(rewards.SpecialPerfectWeek, 0), goals.Hierarchy{UserID: user}, rewards.NoTrigger{}, false},
		{"perfect week broken", special(rewards.SpecialPerfectWeek, 0), hierarchy(), rewards.NoTrigger{}, false},
		{"perfectionist via checkpoint", special(rewards.SpecialPerfectionist, 0), streaky(),
			rewards.CheckpointTrigger{Checkpoint: streaky().Objectives[0].Checkpoints[0]}, true},
		{"perfectionist without trigger", special(rewards.SpecialPerfectionist, 0), streaky(), rewards.NoTrigger{}, false},
		{"unknown special", special("moonwalker", 0), streaky(), rewards.NoTrigger{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ev.Evaluate(tc.reward, tc.h, tc.t, today))
		})
	}
}

func TestEvaluate_ComebackKid(t *testing.T) {
	ev := rewards.NewEvaluator(nil)
	r := rewards.Reward{Name: "Comeback Kid", Category: rewards.CategorySpecial, Active: true, Repeatable: true,
		Criteria: rewards.SpecialCriteria{Type: rewards.SpecialComebackKid}}

	a := goals.Action{ID: "act-1", UserID: user, CheckpointID: "cp-1", Frequency: generic.FrequencyDaily,
		Status: goals.StatusCompleted, Completions: generic.NewHistory(date(2025, time.March, 1), date(2025, time.March, 5))}
	m := ev.Match(r, hierarchy(), rewards.ActionTrigger{Action: a}, date(2025, time.March, 5))
	require.True(t, m.Satisfied)
	assert.Equal(t, "2025-03-05", m.Scope.Occurrence)
	assert.Equal(t, "3", m.Snapshot["missed_periods"])

	a.Completions = generic.NewHistory(date(2025, time.March, 1), date(2025, time.March, 4))
	assert.False(t, ev.Evaluate(r, hierarchy(), rewards.ActionTrigger{Action: a}, date(2025, time.March, 4)))
}

func TestEvaluate_NeverMatches(t *testing.T) {
	ev := rewards.NewEvaluator(nil)
	h := hierarchy()
	today := date(2025, time.March, 12)

	invalid := rewards.Reward{Name: "Broken", Category: rewards.CategoryStreak, Active: true,
		Criteria: rewards.InvalidCriteria{Reason: "streak_days must be a positive integer"}}
	none := rewards.Reward{Name: "Empty", Category: rewards.CategoryStreak, Active: true}
	inactive := rewards.Reward{Name: "Retired", Category: rewards.CategoryObjectiveCompletion,
		Criteria: rewards.CompletionCriteria{Type: rewards.CompletionCreation, RequiredCount: 1}}

	assert.False(t, ev.Evaluate(invalid, h, rewards.NoTrigger{}, today))
	assert.False(t, ev.Evaluate(none, h, rewards.NoTrigger{}, today))
	assert.False(t, ev.Evaluate(inactive, h, rewards.NoTrigger{}, today))
}

func TestProgress_TowardUnearned(t *testing.T) {
	h := hierarchy()
	h.Objectives[0].Checkpoints[0].Actions[0].Completions = dailyRun(date(2025, time.March, 10), 3)
	today := date(2025, time.March, 12)

	week := rewards.Reward{Category: rewards.CategoryStreak, Criteria: rewards.StreakCriteria{Days: 7}}
	p := rewards.Progress(week, h, today)
	assert.True(t, p.Percent.Equal(decimal.RequireFromString("42.9")), p.Percent.String())

	early := rewards.Reward{Category: rewards.CategorySpecial, Criteria: rewards.SpecialCriteria{Type: rewards.SpecialEarlyBird}}
	assert.True(t, rewards.Progress(early, h, today).Percent.IsZero())
}

// =============================================================================
// DISPLAY
// =============================================================================

func TestCelebrationMessage_ByRarity(t *testing.T) {
	r := rewards.Reward{Name: "Streak Legend", Rarity: rewards.RarityLegendary, Points: 100}
	assert.Equal(t, "🌟 LEGENDARY 🎉 Achievement Unlocked: Streak Legend! This is incredibly rare!", rewards.CelebrationMessage(r))
	assert.Equal(t, "You earned 100 points! 🏆", rewards.PointsMessage(r))

	r.Rarity = rewards.RarityCommon
	assert.Equal(t, "🎉 Achievement Unlocked: Streak Legend!", rewards.CelebrationMessage(r))
}

func TestDisplay_ResolvesMostSpecificItem(t *testing.T) {
	g := generic.Grant{ID: "g-1", ObjectiveID: "obj-1", CheckpointID: "cp-1", ActionID: "act-2"}
	r := rewards.Reward{Name: "First Steps", Rarity: rewards.RarityCommon, Points: 10}

	d := rewards.Display(g, r, hierarchy())
	require.NotNil(t, d.AssociatedItem)
	assert.Equal(t, "action", d.AssociatedItem.Type)
	assert.Equal(t, "Stretch", d.AssociatedItem.Title)
	assert.Equal(t, "#CD7F32", d.Reward.Color)

	assert.Nil(t, rewards.Display(generic.Grant{ID: "g-2"}, r, hierarchy()).AssociatedItem)
}
