/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a goal
	hierarchy and drive it through the same code paths the HTTP handlers
	use, so every reward in a scenario is granted by the engine itself.

AVAILABLE SCENARIOS:

	new-habit:     One objective, one daily habit completed this morning
	week-streak:   A daily habit completed seven days running
	goal-crusher:  An objective completed ahead of its target date
	community:     All three above for different users, for the leaderboard

HOW SCENARIOS WORK:
 1. Reset the store
 2. Seed the default reward catalog
 3. Save the hierarchy (the creation trigger fires for each objective)
 4. Replay completions and status changes relative to the handler clock

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "week-streak"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: completeAction, evaluate
  - rewards/catalog.go: The seeded catalog
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/achievement-engine/factory"
	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
	"github.com/warp/achievement-engine/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-habit",
		Name:        "New Habit",
		Description: "First objective and a morning run completed before 8 AM",
	},
	{
		ID:          "week-streak",
		Name:        "Week Streak",
		Description: "Daily meditation completed seven days in a row",
	},
	{
		ID:          "goal-crusher",
		Name:        "Goal Crusher",
		Description: "Objective with every checkpoint done, completed before its target date",
	},
	{
		ID:          "community",
		Name:        "Community",
		Description: "Three users at different stages, for the leaderboard",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"new-habit":    func(h *Handler, ctx context.Context) error { return h.loadNewHabitScenario(ctx, "alice") },
	"week-streak":  func(h *Handler, ctx context.Context) error { return h.loadWeekStreakScenario(ctx, "bob") },
	"goal-crusher": func(h *Handler, ctx context.Context) error { return h.loadGoalCrusherScenario(ctx, "carol") },
	"community": func(h *Handler, ctx context.Context) error {
		if err := h.loadNewHabitScenario(ctx, "alice"); err != nil {
			return err
		}
		if err := h.loadWeekStreakScenario(ctx, "bob"); err != nil {
			return err
		}
		return h.loadGoalCrusherScenario(ctx, "carol")
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Load(r.Context(), req.ScenarioID); err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears the store.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		writeDomainError(w, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Load resets the store and runs the named scenario loader.
func (h *Handler) Load(ctx context.Context, scenarioID string) error {
	load, ok := scenarioLoaders[scenarioID]
	if !ok {
		return &generic.ValidationError{Field: "scenario_id", Value: scenarioID, Reason: "unknown scenario"}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentScenario = ""
	if _, err := factory.Seed(ctx, h.Store, rewards.DefaultCatalog()); err != nil {
		return err
	}
	if err := load(h, ctx); err != nil {
		return fmt.Errorf("scenario %s: %w", scenarioID, err)
	}
	h.currentScenario = scenarioID
	h.Log.Info("scenario loaded", "scenario", scenarioID)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadNewHabitScenario: a fresh objective and one run at 07:00 today.
func (h *Handler) loadNewHabitScenario(ctx context.Context, userID generic.UserID) error {
	now := h.Now()
	prefix := string(userID) + "-"

	obj := objective(userID, prefix+"obj-10k", "Run a 10k", now)
	obj.TargetDate = generic.DateOf(now).AddDays(60)
	cp := checkpoint(userID, obj.ID, prefix+"cp-5k", "Run 5k without stopping")
	run := action(userID, cp.ID, prefix+"act-run", "Morning run", generic.FrequencyDaily, now)

	if err := h.plant(ctx, obj, cp, run); err != nil {
		return err
	}
	_, _, err := h.completeAction(ctx, userID, run.ID, atHour(now, 0, 7))
	return err
}

// loadWeekStreakScenario: meditation every evening for the last seven days.
func (h *Handler) loadWeekStreakScenario(ctx context.Context, userID generic.UserID) error {
	now := h.Now()
	prefix := string(userID) + "-"

	obj := objective(userID, prefix+"obj-calm", "Build a calm routine", now.AddDate(0, 0, -14))
	cp := checkpoint(userID, obj.ID, prefix+"cp-daily", "Meditate daily")
	med := action(userID, cp.ID, prefix+"act-meditate", "Evening meditation", generic.FrequencyDaily, now.AddDate(0, 0, -14))

	if err := h.plant(ctx, obj, cp, med); err != nil {
		return err
	}
	for days := 6; days >= 0; days-- {
		if _, _, err := h.completeAction(ctx, userID, med.ID, atHour(now, -days, 19)); err != nil {
			return err
		}
	}
	return nil
}

// loadGoalCrusherScenario: every checkpoint done, then the objective.
func (h *Handler) loadGoalCrusherScenario(ctx context.Context, userID generic.UserID) error {
	now := h.Now()
	prefix := string(userID) + "-"

	obj := objective(userID, prefix+"obj-book", "Read three books", now.AddDate(0, 0, -30))
	obj.TargetDate = generic.DateOf(now).AddDays(30)
	if err := h.plant(ctx, obj); err != nil {
		return err
	}

	titles := []string{"Book one", "Book two", "Book three"}
	for i, title := range titles {
		cp := checkpoint(userID, obj.ID, fmt.Sprintf("%scp-book-%d", prefix, i+1), title)
		read := action(userID, cp.ID, fmt.Sprintf("%sact-read-%d", prefix, i+1), "Read a chapter", generic.FrequencyWeekly, now.AddDate(0, 0, -30))
		if err := h.plant(ctx, goals.Objective{}, cp, read); err != nil {
			return err
		}
		if _, _, err := h.completeAction(ctx, userID, read.ID, atHour(now, -(len(titles)-i)*7, 12)); err != nil {
			return err
		}
		cp.Status = goals.StatusCompleted
		if err := h.Store.SaveCheckpoint(ctx, cp); err != nil {
			return err
		}
		h.evaluate(ctx, userID, rewards.CheckpointTrigger{Checkpoint: cp})
	}

	obj.Complete(now)
	if err := h.Store.SaveObjective(ctx, obj); err != nil {
		return err
	}
	h.evaluate(ctx, userID, rewards.ObjectiveTrigger{Objective: obj})
	return nil
}

// plant saves the given items in order. A non-empty objective also fires the
// creation trigger.
func (h *Handler) plant(ctx context.Context, obj goals.Objective, items ...any) error {
	if obj.ID != "" {
		if err := obj.Validate(); err != nil {
			return err
		}
		if err := h.Store.SaveObjective(ctx, obj); err != nil {
			return err
		}
		h.evaluate(ctx, obj.UserID, rewards.ObjectiveTrigger{Objective: obj, Created: true})
	}
	for _, item := range items {
		var err error
		switch it := item.(type) {
		case goals.Checkpoint:
			if err = it.Validate(); err == nil {
				err = h.Store.SaveCheckpoint(ctx, it)
			}
		case goals.Action:
			if err = it.Validate(); err == nil {
				err = h.Store.SaveAction(ctx, it)
			}
		default:
			err = fmt.Errorf("cannot plant %T", item)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func objective(userID generic.UserID, id, title string, created time.Time) goals.Objective {
	return goals.Objective{
		ID: generic.ObjectiveID(id), UserID: userID, Title: title,
		Status: goals.StatusInProgress, CreatedAt: created,
	}
}

func checkpoint(userID generic.UserID, objectiveID generic.ObjectiveID, id, title string) goals.Checkpoint {
	return goals.Checkpoint{
		ID: generic.CheckpointID(id), UserID: userID, ObjectiveID: objectiveID,
		Title: title, Status: goals.StatusInProgress,
	}
}

func action(userID generic.UserID, checkpointID generic.CheckpointID, id, title string, freq generic.Frequency, created time.Time) goals.Action {
	return goals.Action{
		ID: generic.ActionID(id), UserID: userID, CheckpointID: checkpointID,
		Title: title, Frequency: freq, Status: goals.StatusPending, CreatedAt: created,
	}
}

// atHour is the given hour on the day offset from now, in now's location.
func atHour(now time.Time, dayOffset, hour int) time.Time {
	d := now.AddDate(0, 0, dayOffset)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, now.Location())
}
