package rewards

import (
	"time"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
)

// =============================================================================
// TRIGGER - What just happened
// =============================================================================

type TriggerKind string

const (
	TriggerAction     TriggerKind = "action"
	TriggerCheckpoint TriggerKind = "checkpoint"
	TriggerObjective  TriggerKind = "objective"
	TriggerNone       TriggerKind = "none"
)

func ParseTriggerKind(s string) (TriggerKind, error) {
	switch k := TriggerKind(s); k {
	case TriggerAction, TriggerCheckpoint, TriggerObjective, TriggerNone:
		return k, nil
	}
	return "", &generic.ValidationError{Field: "trigger", Value: s, Reason: "must be action, checkpoint, objective or none"}
}

// Trigger is a closed variant: ActionTrigger, CheckpointTrigger,
// ObjectiveTrigger or NoTrigger.
type Trigger interface {
	Kind() TriggerKind
	isTrigger()
}

// ActionTrigger fires when an action is completed. CompletedAt carries the
// wall-clock instant for the time-of-day specials.
type ActionTrigger struct {
	Action      goals.Action
	CompletedAt time.Time
}

type CheckpointTrigger struct {
	Checkpoint goals.Checkpoint
}

// ObjectiveTrigger fires when an objective is created or changes status.
type ObjectiveTrigger struct {
	Objective goals.Objective
	Created   bool
}

// NoTrigger re-evaluates the user's whole hierarchy.
type NoTrigger struct{}

func (ActionTrigger) Kind() TriggerKind     { return TriggerAction }
func (CheckpointTrigger) Kind() TriggerKind { return TriggerCheckpoint }
func (ObjectiveTrigger) Kind() TriggerKind  { return TriggerObjective }
func (NoTrigger) Kind() TriggerKind         { return TriggerNone }

func (ActionTrigger) isTrigger()     {}
func (CheckpointTrigger) isTrigger() {}
func (ObjectiveTrigger) isTrigger()  {}
func (NoTrigger) isTrigger()         {}

// completedAt is the instant of the triggering completion, if there is one.
func completedAt(t Trigger) (time.Time, bool) {
	at, ok := t.(ActionTrigger)
	if !ok {
		return time.Time{}, false
	}
	if !at.CompletedAt.IsZero() {
		return at.CompletedAt, true
	}
	if !at.Action.LastCompletedAt.IsZero() {
		return at.Action.LastCompletedAt, true
	}
	return time.Time{}, false
}
