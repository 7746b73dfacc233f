package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
	"github.com/warp/achievement-engine/logger"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// HierarchySource loads a user's goal hierarchy. goals.Store satisfies it.
type HierarchySource interface {
	LoadHierarchy(ctx context.Context, userID generic.UserID) (goals.Hierarchy, error)
}

// Catalog supplies the rewards to evaluate.
type Catalog interface {
	Rewards(ctx context.Context) ([]Reward, error)
}

// GrantLister reads grants already held. generic.GrantStore satisfies it.
type GrantLister interface {
	ListGrants(ctx context.Context, filter generic.GrantFilter) ([]generic.Grant, error)
}

// StaticCatalog is a fixed, in-process catalog.
type StaticCatalog []Reward

func (c StaticCatalog) Rewards(context.Context) ([]Reward, error) { return c, nil }

// =============================================================================
// ENGINE
// =============================================================================

// Engine ties the catalog, the evaluator and the award ledger together.
type Engine struct {
	Catalog   Catalog
	Hierarchy HierarchySource
	Ledger    generic.Ledger
	Grants    GrantLister // optional, keeps backfilled streak runs on one grant
	Evaluator *Evaluator
	Log       *logger.Logger
	Now       func() time.Time
}

func NewEngine(catalog Catalog, hierarchy HierarchySource, ledger generic.Ledger, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	e := &Engine{
		Catalog:   catalog,
		Hierarchy: hierarchy,
		Ledger:    ledger,
		Evaluator: NewEvaluator(log),
		Log:       log,
		Now:       time.Now,
	}
	if l, ok := ledger.(*generic.DefaultLedger); ok {
		e.Grants = l.Store
	}
	return e
}

// EvaluateAndGrant evaluates every active reward for the user against the
// trigger and grants the satisfied ones. It returns only grants created by
// this call.
//
// Invalid input (unknown user, malformed trigger item) and failures loading
// the hierarchy or catalog are returned. A failure granting one reward is
// logged and skipped so the remaining rewards are still granted.
func (e *Engine) EvaluateAndGrant(ctx context.Context, userID generic.UserID, t Trigger) ([]generic.Grant, error) {
	if t == nil {
		t = NoTrigger{}
	}
	if err := validateTrigger(userID, t); err != nil {
		return nil, err
	}

	h, err := e.Hierarchy.LoadHierarchy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load hierarchy for %s: %w", userID, err)
	}
	catalog, err := e.Catalog.Rewards(ctx)
	if err != nil {
		return nil, fmt.Errorf("load reward catalog: %w", err)
	}

	today := generic.DateOf(e.Now())
	log := e.Log.With("user_id", string(userID), "trigger", string(t.Kind()))

	var created []generic.Grant
	for _, r := range catalog {
		if !r.Active {
			continue
		}
		m := e.Evaluator.Match(r, h, t, today)
		if !m.Satisfied {
			continue
		}

		if r.IsRepeatable() && !m.Scope.RunStart.IsZero() {
			held, err := e.heldRunOccurrence(ctx, userID, r.ID, m.Scope, today)
			if err != nil {
				log.Warn("looking up streak grants failed", "reward", r.Name, "error", err)
				continue
			}
			if held != "" {
				m.Scope.Occurrence = held
			}
		}

		snapshot := m.Snapshot
		if snapshot == nil {
			snapshot = map[string]string{}
		}
		snapshot["trigger"] = string(t.Kind())

		res, err := e.Ledger.Grant(ctx, generic.Grant{
			UserID:       userID,
			RewardID:     r.ID,
			ObjectiveID:  m.Scope.ObjectiveID,
			CheckpointID: m.Scope.CheckpointID,
			ActionID:     m.Scope.ActionID,
			Occurrence:   m.Scope.Occurrence,
			StreakCount:  m.Scope.StreakCount,
			Context:      snapshot,
		}, r.IsRepeatable())
		if err != nil {
			log.Warn("grant failed", "reward", r.Name, "error", err)
			continue
		}

		switch res.Outcome {
		case generic.OutcomeCreated:
			log.Info("reward granted", "reward", r.Name, "points", r.Points, "context_key", res.Grant.ContextKey())
			created = append(created, res.Grant)
		case generic.OutcomeRefreshed:
			log.Debug("grant refreshed", "reward", r.Name, "context_key", res.Grant.ContextKey())
		}
	}
	return created, nil
}

// heldRunOccurrence returns the earliest occurrence of the reward already granted for
// the scope's action inside the current run, or "". Backfilled completions
// move a run's start earlier without making it a new run.
func (e *Engine) heldRunOccurrence(ctx context.Context, userID generic.UserID, rewardID generic.RewardID, s Scope, today generic.TimePoint) (string, error) {
	if e.Grants == nil {
		return "", nil
	}
	held, err := e.Grants.ListGrants(ctx, generic.GrantFilter{UserID: userID, RewardID: rewardID})
	if err != nil {
		return "", err
	}
	var best generic.TimePoint
	for _, g := range held {
		if g.ActionID != s.ActionID {
			continue
		}
		d, err := generic.ParseDate(g.Occurrence)
		if err != nil {
			continue
		}
		if d.Before(s.RunStart) || d.After(today) {
			continue
		}
		if best.IsZero() || d.Before(best) {
			best = d
		}
	}
	if best.IsZero() {
		return "", nil
	}
	return best.String(), nil
}

func validateTrigger(userID generic.UserID, t Trigger) error {
	if userID == "" {
		return &generic.ValidationError{Field: "user_id", Reason: "required"}
	}
	var (
		owner generic.UserID
		err   error
	)
	switch tt := t.(type) {
	case ActionTrigger:
		owner, err = tt.Action.UserID, tt.Action.Validate()
	case CheckpointTrigger:
		owner, err = tt.Checkpoint.UserID, tt.Checkpoint.Validate()
	case ObjectiveTrigger:
		owner, err = tt.Objective.UserID, tt.Objective.Validate()
	case NoTrigger:
		return nil
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return &generic.ValidationError{Field: "trigger.user_id", Value: string(owner), Reason: "belongs to another user"}
	}
	return nil
}
