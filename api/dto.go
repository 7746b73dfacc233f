/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain types stay free
  of wire concerns; the conversions live here.

NAMING CONVENTION:
  - *DTO: Shapes shared by requests and responses
  - *Request: Request body types from clients
  - *Response: Response wrappers

TYPES:
  Hierarchy:
    ObjectiveDTO, CheckpointDTO, ActionDTO, HierarchyDTO

  Mutations:
    CompleteActionRequest, UpdateStatusRequest, CheckRequest, MutationResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Conversions parse enums and dates; the domain Validate methods do the rest.

SEE ALSO:
  - handlers.go: Uses these types
  - rewards/display.go: GrantDisplay, returned as-is
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
	"github.com/warp/achievement-engine/rewards"
)

// =============================================================================
// HIERARCHY
// =============================================================================

type ObjectiveDTO struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Status      string          `json:"status,omitempty"`
	TargetDate  string          `json:"target_date,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   *time.Time      `json:"created_at,omitempty"`
	Progress    decimal.Decimal `json:"progress"`
	Overdue     bool            `json:"overdue"`
	Checkpoints []CheckpointDTO `json:"checkpoints,omitempty"`
}

type CheckpointDTO struct {
	ID          string          `json:"id"`
	ObjectiveID string          `json:"objective_id,omitempty"`
	Title       string          `json:"title"`
	Status      string          `json:"status,omitempty"`
	TargetDate  string          `json:"target_date,omitempty"`
	Progress    decimal.Decimal `json:"progress"`
	Overdue     bool            `json:"overdue"`
	Actions     []ActionDTO     `json:"actions,omitempty"`
}

type ActionDTO struct {
	ID                string               `json:"id"`
	CheckpointID      string               `json:"checkpoint_id,omitempty"`
	Title             string               `json:"title"`
	Frequency         string               `json:"frequency"`
	Status            string               `json:"status,omitempty"`
	CompletionHistory []string             `json:"completion_history,omitempty"`
	LastCompletedAt   *time.Time           `json:"last_completed_at,omitempty"`
	CreatedAt         *time.Time           `json:"created_at,omitempty"`
	Stats             *generic.StreakStats `json:"stats,omitempty"`
}

type HierarchyDTO struct {
	UserID     string         `json:"user_id"`
	Objectives []ObjectiveDTO `json:"objectives"`
}

func toHierarchyDTO(h goals.Hierarchy, today generic.TimePoint) HierarchyDTO {
	out := HierarchyDTO{UserID: string(h.UserID), Objectives: make([]ObjectiveDTO, 0, len(h.Objectives))}
	for _, o := range h.Objectives {
		out.Objectives = append(out.Objectives, toObjectiveDTO(o, today))
	}
	return out
}

func toObjectiveDTO(o goals.Objective, today generic.TimePoint) ObjectiveDTO {
	dto := ObjectiveDTO{
		ID:          string(o.ID),
		Title:       o.Title,
		Status:      string(o.Status),
		TargetDate:  dateString(o.TargetDate),
		CompletedAt: timePtr(o.CompletedAt),
		CreatedAt:   timePtr(o.CreatedAt),
		Progress:    goals.ObjectiveProgress(o),
		Overdue:     o.IsOverdue(today),
	}
	for _, c := range o.Checkpoints {
		dto.Checkpoints = append(dto.Checkpoints, toCheckpointDTO(c, today))
	}
	return dto
}

func toCheckpointDTO(c goals.Checkpoint, today generic.TimePoint) CheckpointDTO {
	dto := CheckpointDTO{
		ID:          string(c.ID),
		ObjectiveID: string(c.ObjectiveID),
		Title:       c.Title,
		Status:      string(c.Status),
		TargetDate:  dateString(c.TargetDate),
		Progress:    goals.CheckpointProgress(c),
		Overdue:     c.IsOverdue(today),
	}
	for _, a := range c.Actions {
		dto.Actions = append(dto.Actions, toActionDTO(a, today))
	}
	return dto
}

func toActionDTO(a goals.Action, today generic.TimePoint) ActionDTO {
	stats := a.Stats(today)
	return ActionDTO{
		ID:                string(a.ID),
		CheckpointID:      string(a.CheckpointID),
		Title:             a.Title,
		Frequency:         string(a.Frequency),
		Status:            string(a.Status),
		CompletionHistory: a.Completions.Strings(),
		LastCompletedAt:   timePtr(a.LastCompletedAt),
		CreatedAt:         timePtr(a.CreatedAt),
		Stats:             &stats,
	}
}

// objective converts a request body. Missing status defaults to not_started.
func (d ObjectiveDTO) objective(userID generic.UserID, now time.Time) (goals.Objective, error) {
	target, err := parseOptionalDate("target_date", d.TargetDate)
	if err != nil {
		return goals.Objective{}, err
	}
	o := goals.Objective{
		ID:         generic.ObjectiveID(d.ID),
		UserID:     userID,
		Title:      d.Title,
		Status:     goals.Status(d.Status),
		TargetDate: target,
		CreatedAt:  now,
	}
	if o.Status == "" {
		o.Status = goals.StatusNotStarted
	}
	if d.CreatedAt != nil {
		o.CreatedAt = *d.CreatedAt
	}
	if d.CompletedAt != nil {
		o.CompletedAt = *d.CompletedAt
	}
	return o, o.Validate()
}

func (d CheckpointDTO) checkpoint(userID generic.UserID, objectiveID generic.ObjectiveID) (goals.Checkpoint, error) {
	target, err := parseOptionalDate("target_date", d.TargetDate)
	if err != nil {
		return goals.Checkpoint{}, err
	}
	c := goals.Checkpoint{
		ID:          generic.CheckpointID(d.ID),
		UserID:      userID,
		ObjectiveID: objectiveID,
		Title:       d.Title,
		Status:      goals.Status(d.Status),
		TargetDate:  target,
	}
	if c.Status == "" {
		c.Status = goals.StatusPending
	}
	return c, c.Validate()
}

func (d ActionDTO) action(userID generic.UserID, checkpointID generic.CheckpointID, now time.Time) (goals.Action, error) {
	freq, err := generic.ParseFrequency(d.Frequency)
	if err != nil {
		return goals.Action{}, err
	}
	history, err := generic.ParseHistory(d.CompletionHistory)
	if err != nil {
		return goals.Action{}, &generic.ValidationError{Field: "completion_history", Reason: err.Error()}
	}
	a := goals.Action{
		ID:           generic.ActionID(d.ID),
		UserID:       userID,
		CheckpointID: checkpointID,
		Title:        d.Title,
		Frequency:    freq,
		Status:       goals.Status(d.Status),
		Completions:  history,
		CreatedAt:    now,
	}
	if a.Status == "" {
		a.Status = goals.StatusPending
	}
	if d.CreatedAt != nil {
		a.CreatedAt = *d.CreatedAt
	}
	if d.LastCompletedAt != nil {
		a.LastCompletedAt = *d.LastCompletedAt
	}
	return a, a.Validate()
}

// =============================================================================
// MUTATIONS
// =============================================================================

// CompleteActionRequest is the body of an action completion. CompletedAt
// defaults to the server clock.
type CompleteActionRequest struct {
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// CheckRequest names the item a manual check evaluates against. It is
// ignored for kind "none".
type CheckRequest struct {
	ID          string     `json:"id"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// MutationResponse carries the mutated item and the rewards it unlocked.
type MutationResponse struct {
	Item    any                    `json:"item,omitempty"`
	Granted []rewards.GrantDisplay `json:"new_achievements"`
}

// =============================================================================
// LEADERBOARD AND CATALOG
// =============================================================================

type LeaderboardResponse struct {
	Entries []rewards.LeaderboardEntry `json:"leaderboard"`
	Me      *rewards.Position          `json:"me,omitempty"`
}

type SeedResponse struct {
	Seeded int                     `json:"seeded"`
	Rewards []rewards.RewardSummary `json:"rewards"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func dateString(tp generic.TimePoint) string {
	if tp.IsZero() {
		return ""
	}
	return tp.String()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func parseOptionalDate(field, s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.TimePoint{}, nil
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, &generic.ValidationError{Field: field, Value: s, Reason: "use YYYY-MM-DD"}
	}
	return tp, nil
}
