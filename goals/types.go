// Package goals implements the three-tier goal hierarchy: long-term
// objectives, intermediate checkpoints, and recurring actions.
// Streak math comes from the generic period engine; this package only
// knows how the hierarchy is shaped and how progress rolls up.
package goals

import (
	"time"

	"github.com/warp/achievement-engine/generic"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPaused     Status = "paused"
	StatusArchived   Status = "archived"
)

var (
	objectiveStatuses = []Status{StatusNotStarted, StatusInProgress, StatusPaused, StatusCompleted, StatusArchived}
	itemStatuses      = []Status{StatusPending, StatusInProgress, StatusCompleted}
)

func validStatus(s Status, allowed []Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// =============================================================================
// ACTION - Recurring habit
// =============================================================================

// Action is a recurring task with a completion history. Streaks, completion
// rate and due dates are derived from the history on every read.
type Action struct {
	ID              generic.ActionID
	UserID          generic.UserID
	CheckpointID    generic.CheckpointID
	Title           string
	Frequency       generic.Frequency
	Status          Status
	Completions     generic.History
	LastCompletedAt time.Time
	CreatedAt       time.Time
}

// MarkCompleted records a completion at the given instant. Completing twice on
// the same calendar day keeps a single history entry.
func (a *Action) MarkCompleted(at time.Time) {
	a.Completions = a.Completions.Add(generic.DateOf(at))
	a.Status = StatusCompleted
	if at.After(a.LastCompletedAt) {
		a.LastCompletedAt = at
	}
}

// Reset clears the status and the completion history.
func (a *Action) Reset() {
	a.Status = StatusPending
	a.Completions = nil
	a.LastCompletedAt = time.Time{}
}

func (a Action) Validate() error {
	if a.ID == "" {
		return &generic.ValidationError{Field: "action.id", Reason: "required"}
	}
	if a.UserID == "" {
		return &generic.ValidationError{Field: "action.user_id", Reason: "required"}
	}
	if a.CheckpointID == "" {
		return &generic.ValidationError{Field: "action.checkpoint_id", Reason: "an action belongs to a checkpoint"}
	}
	if _, err := generic.ParseFrequency(string(a.Frequency)); err != nil {
		return err
	}
	if !validStatus(a.Status, itemStatuses) {
		return &generic.ValidationError{Field: "action.status", Value: string(a.Status), Reason: "unknown status"}
	}
	return nil
}

// Stats derives the streak attributes as of today.
func (a Action) Stats(today generic.TimePoint) generic.StreakStats {
	return generic.ComputeStreakStats(a.Completions, a.Frequency, a.createdOn(today), today)
}

// createdOn falls back to the first completion, then today, when the creation
// time is unknown.
func (a Action) createdOn(today generic.TimePoint) generic.TimePoint {
	if !a.CreatedAt.IsZero() {
		return generic.DateOf(a.CreatedAt)
	}
	if len(a.Completions) > 0 {
		return a.Completions[0]
	}
	return today
}

// =============================================================================
// CHECKPOINT - Intermediate milestone
// =============================================================================

type Checkpoint struct {
	ID          generic.CheckpointID
	UserID      generic.UserID
	ObjectiveID generic.ObjectiveID
	Title       string
	Status      Status
	TargetDate  generic.TimePoint
	Actions     []Action
}

func (c Checkpoint) Validate() error {
	if c.ID == "" {
		return &generic.ValidationError{Field: "checkpoint.id", Reason: "required"}
	}
	if c.UserID == "" {
		return &generic.ValidationError{Field: "checkpoint.user_id", Reason: "required"}
	}
	if c.ObjectiveID == "" {
		return &generic.ValidationError{Field: "checkpoint.objective_id", Reason: "a checkpoint belongs to an objective"}
	}
	if !validStatus(c.Status, itemStatuses) {
		return &generic.ValidationError{Field: "checkpoint.status", Value: string(c.Status), Reason: "unknown status"}
	}
	return nil
}

// =============================================================================
// OBJECTIVE - Long-term goal
// =============================================================================

type Objective struct {
	ID          generic.ObjectiveID
	UserID      generic.UserID
	Title       string
	Status      Status
	TargetDate  generic.TimePoint
	CompletedAt time.Time
	CreatedAt   time.Time
	Checkpoints []Checkpoint
}

// Complete moves the objective to completed and stamps the completion time.
func (o *Objective) Complete(at time.Time) {
	o.Status = StatusCompleted
	o.CompletedAt = at
}

func (o Objective) Validate() error {
	if o.ID == "" {
		return &generic.ValidationError{Field: "objective.id", Reason: "required"}
	}
	if o.UserID == "" {
		return &generic.ValidationError{Field: "objective.user_id", Reason: "required"}
	}
	if !validStatus(o.Status, objectiveStatuses) {
		return &generic.ValidationError{Field: "objective.status", Value: string(o.Status), Reason: "unknown status"}
	}
	return nil
}
