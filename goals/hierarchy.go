package goals

import (
	"context"
	"fmt"

	"github.com/warp/achievement-engine/generic"
)

// =============================================================================
// HIERARCHY - Everything one user is working on
// =============================================================================

// Hierarchy is a user's objectives with their checkpoints and actions nested
// inside. It is a value: the With* methods return modified copies.
type Hierarchy struct {
	UserID     generic.UserID
	Objectives []Objective
}

// Actions flattens every action of every checkpoint.
func (h Hierarchy) Actions() []Action {
	var out []Action
	for _, o := range h.Objectives {
		for _, c := range o.Checkpoints {
			out = append(out, c.Actions...)
		}
	}
	return out
}

// Checkpoints flattens every checkpoint of every objective.
func (h Hierarchy) Checkpoints() []Checkpoint {
	var out []Checkpoint
	for _, o := range h.Objectives {
		out = append(out, o.Checkpoints...)
	}
	return out
}

func (h Hierarchy) Objective(id generic.ObjectiveID) (Objective, bool) {
	for _, o := range h.Objectives {
		if o.ID == id {
			return o, true
		}
	}
	return Objective{}, false
}

func (h Hierarchy) Checkpoint(id generic.CheckpointID) (Checkpoint, bool) {
	for _, c := range h.Checkpoints() {
		if c.ID == id {
			return c, true
		}
	}
	return Checkpoint{}, false
}

func (h Hierarchy) Action(id generic.ActionID) (Action, bool) {
	for _, a := range h.Actions() {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// CountCompleted returns completed checkpoints and completed objectives.
func (h Hierarchy) CountCompleted() (checkpoints, objectives int) {
	for _, o := range h.Objectives {
		if o.Status == StatusCompleted {
			objectives++
		}
		for _, c := range o.Checkpoints {
			if c.Status == StatusCompleted {
				checkpoints++
			}
		}
	}
	return checkpoints, objectives
}

// =============================================================================
// OVERLAY - Fold a freshly mutated item into a loaded hierarchy
// =============================================================================
// The caller of a trigger usually holds a newer copy of the item than the one
// in storage. These methods put that copy in place. Children already present
// in the hierarchy are kept when the incoming item carries none.

func (h Hierarchy) WithObjective(obj Objective) Hierarchy {
	out := h.clone()
	for i, o := range out.Objectives {
		if o.ID == obj.ID {
			if len(obj.Checkpoints) == 0 {
				obj.Checkpoints = o.Checkpoints
			}
			out.Objectives[i] = obj
			return out
		}
	}
	out.Objectives = append(out.Objectives, obj)
	return out
}

func (h Hierarchy) WithCheckpoint(cp Checkpoint) Hierarchy {
	out := h.clone()
	for i := range out.Objectives {
		o := &out.Objectives[i]
		for j, c := range o.Checkpoints {
			if c.ID == cp.ID {
				if len(cp.Actions) == 0 {
					cp.Actions = c.Actions
				}
				o.Checkpoints[j] = cp
				return out
			}
		}
	}
	for i := range out.Objectives {
		if out.Objectives[i].ID == cp.ObjectiveID {
			out.Objectives[i].Checkpoints = append(out.Objectives[i].Checkpoints, cp)
			return out
		}
	}
	return out
}

func (h Hierarchy) WithAction(act Action) Hierarchy {
	out := h.clone()
	for i := range out.Objectives {
		for j := range out.Objectives[i].Checkpoints {
			c := &out.Objectives[i].Checkpoints[j]
			for k, a := range c.Actions {
				if a.ID == act.ID {
					c.Actions[k] = act
					return out
				}
			}
		}
	}
	for i := range out.Objectives {
		for j := range out.Objectives[i].Checkpoints {
			c := &out.Objectives[i].Checkpoints[j]
			if c.ID == act.CheckpointID {
				c.Actions = append(c.Actions, act)
				return out
			}
		}
	}
	return out
}

// clone copies the objective, checkpoint and action slices so the overlay
// never writes through to the receiver.
func (h Hierarchy) clone() Hierarchy {
	out := Hierarchy{UserID: h.UserID, Objectives: make([]Objective, len(h.Objectives))}
	for i, o := range h.Objectives {
		o.Checkpoints = append([]Checkpoint(nil), o.Checkpoints...)
		for j := range o.Checkpoints {
			o.Checkpoints[j].Actions = append([]Action(nil), o.Checkpoints[j].Actions...)
		}
		out.Objectives[i] = o
	}
	return out
}

// =============================================================================
// STORE
// =============================================================================

// Store persists the hierarchy. Saves are upserts of a single row; nested
// children are not written by the parent's save.
type Store interface {
	LoadHierarchy(ctx context.Context, userID generic.UserID) (Hierarchy, error)
	SaveObjective(ctx context.Context, o Objective) error
	SaveCheckpoint(ctx context.Context, c Checkpoint) error
	SaveAction(ctx context.Context, a Action) error
}

// SaveHierarchy validates and writes every item of h, parents first.
func SaveHierarchy(ctx context.Context, store Store, h Hierarchy) error {
	for _, o := range h.Objectives {
		if err := o.Validate(); err != nil {
			return err
		}
		if err := store.SaveObjective(ctx, o); err != nil {
			return fmt.Errorf("save objective %s: %w", o.ID, err)
		}
		for _, c := range o.Checkpoints {
			if err := c.Validate(); err != nil {
				return err
			}
			if err := store.SaveCheckpoint(ctx, c); err != nil {
				return fmt.Errorf("save checkpoint %s: %w", c.ID, err)
			}
			for _, a := range c.Actions {
				if err := a.Validate(); err != nil {
					return err
				}
				if err := store.SaveAction(ctx, a); err != nil {
					return fmt.Errorf("save action %s: %w", a.ID, err)
				}
			}
		}
	}
	return nil
}
