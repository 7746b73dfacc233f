// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/goals"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.Store and goals.Store. A single mutex stands in
// for the database's unique index and transaction boundary.
type Memory struct {
	mu          sync.RWMutex
	rewards     map[generic.RewardID]generic.RewardRecord
	rewardNames map[string]generic.RewardID
	grants      map[generic.GrantID]generic.Grant
	grantKeys   map[grantKey]generic.GrantID

	objectives  map[generic.ObjectiveID]goals.Objective
	checkpoints map[generic.CheckpointID]goals.Checkpoint
	actions     map[generic.ActionID]goals.Action
}

type grantKey struct {
	UserID     generic.UserID
	RewardID   generic.RewardID
	ContextKey string
}

var (
	_ generic.Store = (*Memory)(nil)
	_ goals.Store   = (*Memory)(nil)
)

func NewMemory() *Memory {
	m := &Memory{}
	m.clear()
	return m
}

// Reset drops everything.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
	return nil
}

func (m *Memory) clear() {
	m.rewards = make(map[generic.RewardID]generic.RewardRecord)
	m.rewardNames = make(map[string]generic.RewardID)
	m.grants = make(map[generic.GrantID]generic.Grant)
	m.grantKeys = make(map[grantKey]generic.GrantID)
	m.objectives = make(map[generic.ObjectiveID]goals.Objective)
	m.checkpoints = make(map[generic.CheckpointID]goals.Checkpoint)
	m.actions = make(map[generic.ActionID]goals.Action)
}

// =============================================================================
// REWARDS
// =============================================================================

func (m *Memory) SaveReward(_ context.Context, r generic.RewardRecord) (generic.RewardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.rewardNames[r.Name]; ok {
		return m.rewards[id], nil
	}
	if r.ID == "" {
		r.ID = generic.RewardID(uuid.NewString())
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.TimesEarned = 0
	m.rewards[r.ID] = r
	m.rewardNames[r.Name] = r.ID
	return r, nil
}

func (m *Memory) GetReward(_ context.Context, id generic.RewardID) (*generic.RewardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rewards[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) ListRewards(_ context.Context) ([]generic.RewardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]generic.RewardRecord, 0, len(m.rewards))
	for _, r := range m.rewards {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points < out[j].Points
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// =============================================================================
// GRANTS
// =============================================================================

func (m *Memory) FindGrant(_ context.Context, userID generic.UserID, rewardID generic.RewardID, contextKey string) (*generic.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.grantKeys[grantKey{UserID: userID, RewardID: rewardID, ContextKey: contextKey}]
	if !ok {
		return nil, nil
	}
	g := copyGrant(m.grants[id])
	return &g, nil
}

// InsertGrant stores the grant and bumps the reward counter under one lock.
func (m *Memory) InsertGrant(_ context.Context, g generic.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rewards[g.RewardID]
	if !ok {
		return generic.NewNotFound("reward", string(g.RewardID))
	}
	k := grantKey{UserID: g.UserID, RewardID: g.RewardID, ContextKey: g.ContextKey()}
	if _, exists := m.grantKeys[k]; exists {
		return generic.ErrDuplicateGrant
	}

	m.grants[g.ID] = copyGrant(g)
	m.grantKeys[k] = g.ID
	r.TimesEarned++
	m.rewards[r.ID] = r
	return nil
}

func (m *Memory) UpdateGrantContext(_ context.Context, id generic.GrantID, snapshot map[string]string, streakCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[id]
	if !ok {
		return generic.NewNotFound("grant", string(id))
	}
	g.Context = copyContext(snapshot)
	g.StreakCount = streakCount
	m.grants[id] = g
	return nil
}

func (m *Memory) ListGrants(_ context.Context, filter generic.GrantFilter) ([]generic.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []generic.Grant
	for _, g := range m.grants {
		if filter.UserID != "" && g.UserID != filter.UserID {
			continue
		}
		if filter.RewardID != "" && g.RewardID != filter.RewardID {
			continue
		}
		if filter.Unnotified && g.Notified {
			continue
		}
		out = append(out, copyGrant(g))
	}
	sortNewestFirst(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) MarkNotified(_ context.Context, ids ...generic.GrantID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if g, ok := m.grants[id]; ok {
			g.Notified = true
			m.grants[id] = g
		}
	}
	return nil
}

// =============================================================================
// STANDINGS
// =============================================================================

func (m *Memory) Standings(_ context.Context, limit int) ([]generic.Standing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.standingsLocked()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UserStanding(_ context.Context, userID generic.UserID) (*generic.Standing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.standingsLocked() {
		if s.UserID == userID {
			return &s, nil
		}
	}
	return nil, nil
}

func (m *Memory) CountUsersAbove(_ context.Context, points int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, s := range m.standingsLocked() {
		if s.Points > points {
			n++
		}
	}
	return n, nil
}

func (m *Memory) standingsLocked() []generic.Standing {
	byUser := make(map[generic.UserID]*generic.Standing)
	for _, g := range m.grants {
		s, ok := byUser[g.UserID]
		if !ok {
			s = &generic.Standing{UserID: g.UserID}
			byUser[g.UserID] = s
		}
		r := m.rewards[g.RewardID]
		s.Points += r.Points
		s.Grants++
		if g.EarnedAt.After(s.LatestEarnedAt) || s.LatestReward == "" {
			s.LatestEarnedAt = g.EarnedAt
			s.LatestReward = r.Name
		}
	}

	out := make([]generic.Standing, 0, len(byUser))
	for _, s := range byUser {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// =============================================================================
// GOAL HIERARCHY
// =============================================================================

func (m *Memory) SaveObjective(_ context.Context, o goals.Objective) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.Checkpoints = nil
	m.objectives[o.ID] = o
	return nil
}

func (m *Memory) SaveCheckpoint(_ context.Context, c goals.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objectives[c.ObjectiveID]; !ok {
		return generic.NewNotFound("objective", string(c.ObjectiveID))
	}
	c.Actions = nil
	m.checkpoints[c.ID] = c
	return nil
}

func (m *Memory) SaveAction(_ context.Context, a goals.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.checkpoints[a.CheckpointID]; !ok {
		return generic.NewNotFound("checkpoint", string(a.CheckpointID))
	}
	a.Completions = append(generic.History(nil), a.Completions...)
	m.actions[a.ID] = a
	return nil
}

// LoadHierarchy assembles the user's tree, ordered by ID at every level.
// A user with nothing saved gets an empty hierarchy.
func (m *Memory) LoadHierarchy(_ context.Context, userID generic.UserID) (goals.Hierarchy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	actionsByCheckpoint := make(map[generic.CheckpointID][]goals.Action)
	for _, a := range m.actions {
		if a.UserID == userID {
			a.Completions = append(generic.History(nil), a.Completions...)
			actionsByCheckpoint[a.CheckpointID] = append(actionsByCheckpoint[a.CheckpointID], a)
		}
	}
	checkpointsByObjective := make(map[generic.ObjectiveID][]goals.Checkpoint)
	for _, c := range m.checkpoints {
		if c.UserID != userID {
			continue
		}
		c.Actions = actionsByCheckpoint[c.ID]
		sort.Slice(c.Actions, func(i, j int) bool { return c.Actions[i].ID < c.Actions[j].ID })
		checkpointsByObjective[c.ObjectiveID] = append(checkpointsByObjective[c.ObjectiveID], c)
	}

	h := goals.Hierarchy{UserID: userID}
	for _, o := range m.objectives {
		if o.UserID != userID {
			continue
		}
		o.Checkpoints = checkpointsByObjective[o.ID]
		sort.Slice(o.Checkpoints, func(i, j int) bool { return o.Checkpoints[i].ID < o.Checkpoints[j].ID })
		h.Objectives = append(h.Objectives, o)
	}
	sort.Slice(h.Objectives, func(i, j int) bool { return h.Objectives[i].ID < h.Objectives[j].ID })
	return h, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func sortNewestFirst(gs []generic.Grant) {
	sort.Slice(gs, func(i, j int) bool {
		if !gs[i].EarnedAt.Equal(gs[j].EarnedAt) {
			return gs[i].EarnedAt.After(gs[j].EarnedAt)
		}
		return gs[i].ID > gs[j].ID
	})
}

func copyGrant(g generic.Grant) generic.Grant {
	g.Context = copyContext(g.Context)
	return g
}

func copyContext(c map[string]string) map[string]string {
	if c == nil {
		return nil
	}
	out := make(map[string]string, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
