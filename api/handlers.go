/*
handlers.go - HTTP API handlers for the achievement engine

PURPOSE:
  Exposes the goal hierarchy, the rewards engine and the aggregate queries
  via REST. Handles HTTP request/response and JSON serialization, and
  delegates to the domain packages.

ENDPOINTS:
  Hierarchy (each mutation evaluates rewards with the matching trigger):
    GET  /api/users/{userID}/hierarchy                          Full tree with progress
    POST /api/users/{userID}/objectives                         Create objective
    PUT  /api/users/{userID}/objectives/{objectiveID}/status    Change objective status
    POST /api/users/{userID}/objectives/{objectiveID}/checkpoints  Add checkpoint
    PUT  /api/users/{userID}/checkpoints/{checkpointID}/status  Change checkpoint status
    POST /api/users/{userID}/checkpoints/{checkpointID}/actions  Add action
    POST /api/users/{userID}/actions/{actionID}/complete        Complete action
    GET  /api/users/{userID}/actions/{actionID}/streak          Streak statistics

  Rewards:
    POST /api/users/{userID}/check/{kind}        Manual evaluation (action|checkpoint|objective|none)
    GET  /api/users/{userID}/achievements        The user's grants
    GET  /api/users/{userID}/catalog             Catalog with earned flag and progress
    GET  /api/users/{userID}/stats               Aggregate statistics
    GET  /api/users/{userID}/position            Place on the full leaderboard
    POST /api/users/{userID}/notifications/flush Compose pending celebration mail
    GET  /api/rewards                            Catalog
    POST /api/rewards                            Add a reward definition
    POST /api/rewards/seed                       Seed the default catalog
    GET  /api/rewards/recent                     Latest grants across users
    GET  /api/leaderboard                        Top users by points

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status derived from the error:
  - 400: Validation errors, invalid input
  - 404: Unknown item or reward
  - 409: Duplicate reward name
  - 503: Storage temporarily unavailable
  - 500: Internal errors

  Rewarding never fails a mutation: an evaluation error is logged and the
  response carries no new achievements.

SECURITY NOTE:
  No authentication. The user ID in the path is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/achievement-engine/factory"
	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
	"github.com/warp/achievement-engine/logger"
	"github.com/warp/achievement-engine/notify"
	"github.com/warp/achievement-engine/rewards"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage the API needs: ledger, catalog, standings and
// hierarchy, plus Reset for the demo scenarios.
type Backend interface {
	generic.Store
	goals.Store
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Backend
	Catalog  rewards.Catalog
	Engine   *rewards.Engine
	Stats    *rewards.Stats
	Notifier *notify.Notifier // optional
	Log      *logger.Logger

	LeaderboardLimit int
	RecentLimit      int
	Now              func() time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engine and the stats on top of store. The catalog is
// read from the store on every evaluation.
func NewHandler(store Backend, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	catalog := factory.StoreCatalog{Store: store}
	return &Handler{
		Store:            store,
		Catalog:          catalog,
		Engine:           rewards.NewEngine(catalog, store, generic.NewLedger(store), log),
		Stats:            rewards.NewStats(store, catalog, store),
		Log:              log,
		LeaderboardLimit: 10,
		RecentLimit:      10,
		Now:              time.Now,
	}
}

// SetClock pins the clock of the handler and everything it wired.
func (h *Handler) SetClock(now func() time.Time) {
	h.Now = now
	h.Engine.Now = now
	h.Stats.Now = now
	if l, ok := h.Engine.Ledger.(*generic.DefaultLedger); ok {
		l.Now = now
	}
	if h.Notifier != nil {
		h.Notifier.Now = now
	}
}

func (h *Handler) today() generic.TimePoint {
	return generic.DateOf(h.Now())
}

// =============================================================================
// HIERARCHY HANDLERS
// =============================================================================

// GetHierarchy returns the user's tree with derived progress and streaks.
func (h *Handler) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	tree, err := h.Store.LoadHierarchy(r.Context(), userID)
	if err != nil {
		writeDomainError(w, "Failed to load hierarchy", err)
		return
	}
	writeJSON(w, http.StatusOK, toHierarchyDTO(tree, h.today()))
}

// CreateObjective stores a new objective and evaluates the creation trigger.
func (h *Handler) CreateObjective(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)

	var req ObjectiveDTO
	if !decodeBody(w, r, &req) {
		return
	}
	obj, err := req.objective(userID, h.Now())
	if err != nil {
		writeDomainError(w, "Invalid objective", err)
		return
	}
	if err := h.Store.SaveObjective(ctx, obj); err != nil {
		writeDomainError(w, "Failed to save objective", err)
		return
	}

	granted := h.evaluate(ctx, userID, rewards.ObjectiveTrigger{Objective: obj, Created: true})
	writeJSON(w, http.StatusCreated, MutationResponse{Item: toObjectiveDTO(obj, h.today()), Granted: granted})
}

// UpdateObjectiveStatus moves an objective; completing stamps CompletedAt.
func (h *Handler) UpdateObjectiveStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)

	var req UpdateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tree, err := h.Store.LoadHierarchy(ctx, userID)
	if err != nil {
		writeDomainError(w, "Failed to load hierarchy", err)
		return
	}
	id := generic.ObjectiveID(chi.URLParam(r, "objectiveID"))
	obj, ok := tree.Objective(id)
	if !ok {
		writeDomainError(w, "Objective not found", generic.NewNotFound("objective", string(id)))
		return
	}

	if goals.Status(req.Status) == goals.StatusCompleted && obj.Status != goals.StatusCompleted {
		obj.Complete(h.Now())
	} else {
		obj.Status = goals.Status(req.Status)
	}
	if err := obj.Validate(); err != nil {
		writeDomainError(w, "Invalid status", err)
		return
	}
	if err := h.Store.SaveObjective(ctx, obj); err != nil {
		writeDomainError(w, "Failed to save objective", err)
		return
	}

	granted := h.evaluate(ctx, userID, rewards.ObjectiveTrigger{Objective: obj})
	writeJSON(w, http.StatusOK, MutationResponse{Item: toObjectiveDTO(obj, h.today()), Granted: granted})
}

// CreateCheckpoint adds a checkpoint under an objective.
func (h *Handler) CreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)

	var req CheckpointDTO
	if !decodeBody(w, r, &req) {
		return
	}
	cp, err := req.checkpoint(userID, generic.ObjectiveID(chi.URLParam(r, "objectiveID")))
	if err != nil {
		writeDomainError(w, "Invalid checkpoint", err)
		return
	}
	if err := h.Store.SaveCheckpoint(ctx, cp); err != nil {
		writeDomainError(w, "Failed to save checkpoint", err)
		return
	}
	writeJSON(w, http.StatusCreated, MutationResponse{Item: toCheckpointDTO(cp, h.today()), Granted: []rewards.GrantDisplay{}})
}

// UpdateCheckpointStatus changes a checkpoint's status and evaluates the
// checkpoint trigger.
func (h *Handler) UpdateCheckpointStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)

	var req UpdateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tree, err := h.Store.LoadHierarchy(ctx, userID)
	if err != nil {
		writeDomainError(w, "Failed to load hierarchy", err)
		return
	}
	id := generic.CheckpointID(chi.URLParam(r, "checkpointID"))
	cp, ok := tree.Checkpoint(id)
	if !ok {
		writeDomainError(w, "Checkpoint not found", generic.NewNotFound("checkpoint", string(id)))
		return
	}
	cp.Status = goals.Status(req.Status)
	if err := cp.Validate(); err != nil {
		writeDomainError(w, "Invalid status", err)
		return
	}
	if err := h.Store.SaveCheckpoint(ctx, cp); err != nil {
		writeDomainError(w, "Failed to save checkpoint", err)
		return
	}

	granted := h.evaluate(ctx, userID, rewards.CheckpointTrigger{Checkpoint: cp})
	writeJSON(w, http.StatusOK, MutationResponse{Item: toCheckpointDTO(cp, h.today()), Granted: granted})
}

// CreateAction adds a recurring action under a checkpoint.
func (h *Handler) CreateAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)

	var req ActionDTO
	if !decodeBody(w, r, &req) {
		return
	}
	act, err := req.action(userID, generic.CheckpointID(chi.URLParam(r, "checkpointID")), h.Now())
	if err != nil {
		writeDomainError(w, "Invalid action", err)
		return
	}
	if err := h.Store.SaveAction(ctx, act); err != nil {
		writeDomainError(w, "Failed to save action", err)
		return
	}
	writeJSON(w, http.StatusCreated, MutationResponse{Item: toActionDTO(act, h.today()), Granted: []rewards.GrantDisplay{}})
}

// CompleteAction records a completion and evaluates the action trigger.
func (h *Handler) CompleteAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)

	var req CompleteActionRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	at := h.Now()
	if req.CompletedAt != nil {
		at = *req.CompletedAt
	}

	act, granted, err := h.completeAction(ctx, userID, generic.ActionID(chi.URLParam(r, "actionID")), at)
	if err != nil {
		writeDomainError(w, "Failed to complete action", err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Item: toActionDTO(act, h.today()), Granted: granted})
}

// completeAction marks the action completed at the given instant, saves it
// and evaluates the action trigger.
func (h *Handler) completeAction(ctx context.Context, userID generic.UserID, id generic.ActionID, at time.Time) (goals.Action, []rewards.GrantDisplay, error) {
	tree, err := h.Store.LoadHierarchy(ctx, userID)
	if err != nil {
		return goals.Action{}, nil, err
	}
	act, ok := tree.Action(id)
	if !ok {
		return goals.Action{}, nil, generic.NewNotFound("action", string(id))
	}

	act.MarkCompleted(at)
	if err := h.Store.SaveAction(ctx, act); err != nil {
		return goals.Action{}, nil, err
	}
	return act, h.evaluate(ctx, userID, rewards.ActionTrigger{Action: act, CompletedAt: at}), nil
}

// GetActionStreak returns the derived streak statistics of one action.
func (h *Handler) GetActionStreak(w http.ResponseWriter, r *http.Request) {
	userID := userParam(r)
	tree, err := h.Store.LoadHierarchy(r.Context(), userID)
	if err != nil {
		writeDomainError(w, "Failed to load hierarchy", err)
		return
	}
	id := generic.ActionID(chi.URLParam(r, "actionID"))
	act, ok := tree.Action(id)
	if !ok {
		writeDomainError(w, "Action not found", generic.NewNotFound("action", string(id)))
		return
	}
	writeJSON(w, http.StatusOK, act.Stats(h.today()))
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// Check evaluates rewards against an existing item without mutating it.
// POST /api/users/{userID}/check/{kind}
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)

	kind, err := rewards.ParseTriggerKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, "Invalid trigger", err)
		return
	}
	var req CheckRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	trigger, err := h.resolveTrigger(ctx, userID, kind, req)
	if err != nil {
		writeDomainError(w, "Invalid trigger", err)
		return
	}

	created, err := h.Engine.EvaluateAndGrant(ctx, userID, trigger)
	if err != nil {
		writeDomainError(w, "Evaluation failed", err)
		return
	}
	displays, err := h.displays(ctx, userID, created)
	if err != nil {
		writeDomainError(w, "Failed to render achievements", err)
		return
	}
	writeJSON(w, http.StatusOK, MutationResponse{Granted: displays})
}

func (h *Handler) resolveTrigger(ctx context.Context, userID generic.UserID, kind rewards.TriggerKind, req CheckRequest) (rewards.Trigger, error) {
	if kind == rewards.TriggerNone {
		return rewards.NoTrigger{}, nil
	}
	if req.ID == "" {
		return nil, &generic.ValidationError{Field: "id", Reason: "required for trigger " + string(kind)}
	}
	tree, err := h.Store.LoadHierarchy(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch kind {
	case rewards.TriggerAction:
		act, ok := tree.Action(generic.ActionID(req.ID))
		if !ok {
			return nil, generic.NewNotFound("action", req.ID)
		}
		t := rewards.ActionTrigger{Action: act}
		if req.CompletedAt != nil {
			t.CompletedAt = *req.CompletedAt
		}
		return t, nil
	case rewards.TriggerCheckpoint:
		cp, ok := tree.Checkpoint(generic.CheckpointID(req.ID))
		if !ok {
			return nil, generic.NewNotFound("checkpoint", req.ID)
		}
		return rewards.CheckpointTrigger{Checkpoint: cp}, nil
	default:
		obj, ok := tree.Objective(generic.ObjectiveID(req.ID))
		if !ok {
			return nil, generic.NewNotFound("objective", req.ID)
		}
		return rewards.ObjectiveTrigger{Objective: obj}, nil
	}
}

// ListUserAchievements returns the user's grants, newest first.
func (h *Handler) ListUserAchievements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := userParam(r)
	grants, err := h.Store.ListGrants(ctx, generic.GrantFilter{UserID: userID, Limit: queryInt(r, "limit", 0)})
	if err != nil {
		writeDomainError(w, "Failed to list achievements", err)
		return
	}
	displays, err := h.displays(ctx, userID, grants)
	if err != nil {
		writeDomainError(w, "Failed to render achievements", err)
		return
	}
	writeJSON(w, http.StatusOK, displays)
}

func (h *Handler) GetUserCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Stats.Catalog(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, "Failed to load catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) GetUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.UserStats(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, "Failed to load stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) GetUserPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.Stats.Position(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, "Failed to load position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// FlushNotifications composes the celebration mail for pending grants.
func (h *Handler) FlushNotifications(w http.ResponseWriter, r *http.Request) {
	if h.Notifier == nil {
		writeError(w, http.StatusNotImplemented, "Notifications are not configured", nil)
		return
	}
	n, err := h.Notifier.Flush(r.Context(), userParam(r))
	if err != nil {
		writeDomainError(w, "Failed to flush notifications", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"notified": n})
}

// ListRewards returns the catalog ordered by points.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.Catalog.Rewards(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to list rewards", err)
		return
	}
	out := make([]rewards.RewardSummary, len(catalog))
	for i, rw := range catalog {
		out[i] = rewards.Summarize(rw)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateReward adds one reward from its file representation. An existing
// name is reported as a conflict.
func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req factory.RewardJSON
	if !decodeBody(w, r, &req) {
		return
	}
	rw, err := req.ToReward()
	if err != nil {
		writeDomainError(w, "Invalid reward", err)
		return
	}

	existing, err := h.Catalog.Rewards(ctx)
	if err != nil {
		writeDomainError(w, "Failed to list rewards", err)
		return
	}
	for _, e := range existing {
		if e.Name == rw.Name {
			writeDomainError(w, "Reward already exists", generic.ErrDuplicateReward)
			return
		}
	}

	saved, err := factory.Seed(ctx, h.Store, []rewards.Reward{rw})
	if err != nil {
		writeDomainError(w, "Failed to save reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, rewards.Summarize(saved[0]))
}

// SeedRewards stores the built-in catalog. Seeding twice is a no-op.
func (h *Handler) SeedRewards(w http.ResponseWriter, r *http.Request) {
	saved, err := factory.Seed(r.Context(), h.Store, rewards.DefaultCatalog())
	if err != nil {
		writeDomainError(w, "Failed to seed rewards", err)
		return
	}
	resp := SeedResponse{Seeded: len(saved), Rewards: make([]rewards.RewardSummary, len(saved))}
	for i, rw := range saved {
		resp.Rewards[i] = rewards.Summarize(rw)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListRecent(w http.ResponseWriter, r *http.Request) {
	recent, err := h.Stats.RecentGrants(r.Context(), queryInt(r, "limit", h.RecentLimit))
	if err != nil {
		writeDomainError(w, "Failed to list recent achievements", err)
		return
	}
	writeJSON(w, http.StatusOK, recent)
}

// GetLeaderboard returns the top users. With ?user= the caller's own
// position is included.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.Stats.Leaderboard(ctx, queryInt(r, "limit", h.LeaderboardLimit))
	if err != nil {
		writeDomainError(w, "Failed to load leaderboard", err)
		return
	}
	resp := LeaderboardResponse{Entries: entries}
	if u := r.URL.Query().Get("user"); u != "" {
		pos, err := h.Stats.Position(ctx, generic.UserID(u))
		if err != nil {
			writeDomainError(w, "Failed to load position", err)
			return
		}
		resp.Me = &pos
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// EVALUATION HELPERS
// =============================================================================

// evaluate runs the engine after a mutation. Failures are logged, never
// returned.
func (h *Handler) evaluate(ctx context.Context, userID generic.UserID, t rewards.Trigger) []rewards.GrantDisplay {
	created, err := h.Engine.EvaluateAndGrant(ctx, userID, t)
	if err != nil {
		h.Log.Warn("reward evaluation failed", "user_id", string(userID), "trigger", string(t.Kind()), "error", err)
		return []rewards.GrantDisplay{}
	}
	displays, err := h.displays(ctx, userID, created)
	if err != nil {
		h.Log.Warn("rendering achievements failed", "user_id", string(userID), "error", err)
		return []rewards.GrantDisplay{}
	}
	return displays
}

func (h *Handler) displays(ctx context.Context, userID generic.UserID, grants []generic.Grant) ([]rewards.GrantDisplay, error) {
	out := make([]rewards.GrantDisplay, 0, len(grants))
	if len(grants) == 0 {
		return out, nil
	}
	catalog, err := h.Catalog.Rewards(ctx)
	if err != nil {
		return nil, err
	}
	tree, err := h.Store.LoadHierarchy(ctx, userID)
	if err != nil {
		return nil, err
	}
	byID := make(map[generic.RewardID]rewards.Reward, len(catalog))
	for _, rw := range catalog {
		byID[rw.ID] = rw
	}
	for _, g := range grants {
		if rw, ok := byID[g.RewardID]; ok {
			out = append(out, rewards.Display(g, rw, tree))
		}
	}
	return out, nil
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func userParam(r *http.Request) generic.UserID {
	return generic.UserID(chi.URLParam(r, "userID"))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError picks the status from the error predicates.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrDuplicateReward):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case generic.IsRetryable(err):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
