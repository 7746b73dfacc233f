package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
)

// =============================================================================
// GOAL HIERARCHY (goals.Store)
// =============================================================================

type objectiveRow struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	Title       string `db:"title"`
	Status      string `db:"status"`
	TargetDate  string `db:"target_date"`
	CompletedAt string `db:"completed_at"`
	CreatedAt   string `db:"created_at"`
}

type checkpointRow struct {
	ID          string `db:"id"`
	UserID      string `db:"user_id"`
	ObjectiveID string `db:"objective_id"`
	Title       string `db:"title"`
	Status      string `db:"status"`
	TargetDate  string `db:"target_date"`
}

type actionRow struct {
	ID                string `db:"id"`
	UserID            string `db:"user_id"`
	CheckpointID      string `db:"checkpoint_id"`
	Title             string `db:"title"`
	Frequency         string `db:"frequency"`
	Status            string `db:"status"`
	CompletionHistory string `db:"completion_history"`
	LastCompletedAt   string `db:"last_completed_at"`
	CreatedAt         string `db:"created_at"`
}

func (s *Store) SaveObjective(ctx context.Context, o goals.Objective) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO objectives (id, user_id, title, status, target_date, completed_at, created_at)
		VALUES (:id, :user_id, :title, :status, :target_date, :completed_at, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			target_date = excluded.target_date,
			completed_at = excluded.completed_at`,
		objectiveRow{
			ID: string(o.ID), UserID: string(o.UserID), Title: o.Title, Status: string(o.Status),
			TargetDate: formatDate(o.TargetDate), CompletedAt: formatTime(o.CompletedAt), CreatedAt: formatTime(o.CreatedAt),
		})
	if err != nil {
		return wrapErr("saving objective", err)
	}
	return nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, c goals.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO checkpoints (id, user_id, objective_id, title, status, target_date)
		VALUES (:id, :user_id, :objective_id, :title, :status, :target_date)
		ON CONFLICT(id) DO UPDATE SET
			objective_id = excluded.objective_id,
			title = excluded.title,
			status = excluded.status,
			target_date = excluded.target_date`,
		checkpointRow{
			ID: string(c.ID), UserID: string(c.UserID), ObjectiveID: string(c.ObjectiveID),
			Title: c.Title, Status: string(c.Status), TargetDate: formatDate(c.TargetDate),
		})
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return generic.NewNotFound("objective", string(c.ObjectiveID))
		}
		return wrapErr("saving checkpoint", err)
	}
	return nil
}

func (s *Store) SaveAction(ctx context.Context, a goals.Action) error {
	history, err := json.Marshal(orEmptyHistory(a.Completions.Strings()))
	if err != nil {
		return fmt.Errorf("encoding completion history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO actions (id, user_id, checkpoint_id, title, frequency, status, completion_history, last_completed_at, created_at)
		VALUES (:id, :user_id, :checkpoint_id, :title, :frequency, :status, :completion_history, :last_completed_at, :created_at)
		ON CONFLICT(id) DO UPDATE SET
			checkpoint_id = excluded.checkpoint_id,
			title = excluded.title,
			frequency = excluded.frequency,
			status = excluded.status,
			completion_history = excluded.completion_history,
			last_completed_at = excluded.last_completed_at`,
		actionRow{
			ID: string(a.ID), UserID: string(a.UserID), CheckpointID: string(a.CheckpointID),
			Title: a.Title, Frequency: string(a.Frequency), Status: string(a.Status),
			CompletionHistory: string(history), LastCompletedAt: formatTime(a.LastCompletedAt), CreatedAt: formatTime(a.CreatedAt),
		})
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return generic.NewNotFound("checkpoint", string(a.CheckpointID))
		}
		return wrapErr("saving action", err)
	}
	return nil
}

// LoadHierarchy assembles the user's tree, ordered by ID at every level.
func (s *Store) LoadHierarchy(ctx context.Context, userID generic.UserID) (goals.Hierarchy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		objs []objectiveRow
		cps  []checkpointRow
		acts []actionRow
	)
	if err := s.db.SelectContext(ctx, &objs, "SELECT * FROM objectives WHERE user_id = ? ORDER BY id", string(userID)); err != nil {
		return goals.Hierarchy{}, wrapErr("loading objectives", err)
	}
	if err := s.db.SelectContext(ctx, &cps, "SELECT * FROM checkpoints WHERE user_id = ? ORDER BY id", string(userID)); err != nil {
		return goals.Hierarchy{}, wrapErr("loading checkpoints", err)
	}
	if err := s.db.SelectContext(ctx, &acts, "SELECT * FROM actions WHERE user_id = ? ORDER BY id", string(userID)); err != nil {
		return goals.Hierarchy{}, wrapErr("loading actions", err)
	}
	return assemble(userID, objs, cps, acts)
}

func assemble(userID generic.UserID, objs []objectiveRow, cps []checkpointRow, acts []actionRow) (goals.Hierarchy, error) {
	actionsByCheckpoint := make(map[generic.CheckpointID][]goals.Action)
	for _, r := range acts {
		var raw []string
		if err := json.Unmarshal([]byte(r.CompletionHistory), &raw); err != nil {
			return goals.Hierarchy{}, fmt.Errorf("decoding history of action %s: %w", r.ID, err)
		}
		history, err := generic.ParseHistory(raw)
		if err != nil {
			return goals.Hierarchy{}, fmt.Errorf("parsing history of action %s: %w", r.ID, err)
		}
		a := goals.Action{
			ID:              generic.ActionID(r.ID),
			UserID:          generic.UserID(r.UserID),
			CheckpointID:    generic.CheckpointID(r.CheckpointID),
			Title:           r.Title,
			Frequency:       generic.Frequency(r.Frequency),
			Status:          goals.Status(r.Status),
			Completions:     history,
			LastCompletedAt: parseTime(r.LastCompletedAt),
			CreatedAt:       parseTime(r.CreatedAt),
		}
		actionsByCheckpoint[a.CheckpointID] = append(actionsByCheckpoint[a.CheckpointID], a)
	}

	checkpointsByObjective := make(map[generic.ObjectiveID][]goals.Checkpoint)
	for _, r := range cps {
		c := goals.Checkpoint{
			ID:          generic.CheckpointID(r.ID),
			UserID:      generic.UserID(r.UserID),
			ObjectiveID: generic.ObjectiveID(r.ObjectiveID),
			Title:       r.Title,
			Status:      goals.Status(r.Status),
			TargetDate:  parseDate(r.TargetDate),
			Actions:     actionsByCheckpoint[generic.CheckpointID(r.ID)],
		}
		checkpointsByObjective[c.ObjectiveID] = append(checkpointsByObjective[c.ObjectiveID], c)
	}

	h := goals.Hierarchy{UserID: userID}
	for _, r := range objs {
		h.Objectives = append(h.Objectives, goals.Objective{
			ID:          generic.ObjectiveID(r.ID),
			UserID:      generic.UserID(r.UserID),
			Title:       r.Title,
			Status:      goals.Status(r.Status),
			TargetDate:  parseDate(r.TargetDate),
			CompletedAt: parseTime(r.CompletedAt),
			CreatedAt:   parseTime(r.CreatedAt),
			Checkpoints: checkpointsByObjective[generic.ObjectiveID(r.ID)],
		})
	}
	sort.Slice(h.Objectives, func(i, j int) bool { return h.Objectives[i].ID < h.Objectives[j].ID })
	return h, nil
}

func orEmptyHistory(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
