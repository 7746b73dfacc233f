package notify_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/achievement-engine/factory"
	"github.com/warp/achievement-engine/generic"
	"github.com/warp/achievement-engine/generic/store"
	"github.com/warp/achievement-engine/goals"
	"github.com/warp/achievement-engine/notify"
	"github.com/warp/achievement-engine/rewards"
)

var sentAt = time.Date(2025, time.March, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	mem    *store.Memory
	byName map[string]rewards.Reward
	outbox *notify.MemoryOutbox
	n      *notify.Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	var picked []rewards.Reward
	for _, r := range rewards.DefaultCatalog() {
		switch r.Name {
		case "First Steps", "Early Bird", "Goal Crusher":
			picked = append(picked, r)
		}
	}
	seeded, err := factory.Seed(context.Background(), mem, picked)
	require.NoError(t, err)

	byName := make(map[string]rewards.Reward)
	for _, r := range seeded {
		byName[r.Name] = r
	}

	outbox := &notify.MemoryOutbox{}
	n := notify.NewNotifier(mem, factory.StoreCatalog{Store: mem}, outbox, "achievements@example.com", nil)
	n.Hierarchy = mem
	n.Now = func() time.Time { return sentAt }
	return &fixture{t: t, mem: mem, byName: byName, outbox: outbox, n: n}
}

func (f *fixture) award(userID generic.UserID, name string, g generic.Grant, at time.Time) {
	f.t.Helper()
	g.UserID = userID
	g.RewardID = f.byName[name].ID
	g.EarnedAt = at
	_, err := generic.NewLedger(f.mem).Grant(context.Background(), g, false)
	require.NoError(f.t, err)
}

// readMessage returns the subject and the bodies keyed by content type.
func readMessage(t *testing.T, raw []byte) (string, map[string]string) {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer mr.Close()

	subject, err := mr.Header.Subject()
	require.NoError(t, err)

	bodies := make(map[string]string)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if h, ok := part.Header.(*mail.InlineHeader); ok {
			ct, _, err := h.ContentType()
			require.NoError(t, err)
			body, err := io.ReadAll(part.Body)
			require.NoError(t, err)
			bodies[ct] = string(body)
		}
	}
	return subject, bodies
}

func TestFlush_OneMessagePerUser(t *testing.T) {
	// GIVEN: alice holds two unnotified grants, bob one
	f := newFixture(t)
	ctx := context.Background()
	f.award("alice", "First Steps", generic.Grant{ActionID: "act-1"}, sentAt.Add(-2*time.Hour))
	f.award("alice", "Early Bird", generic.Grant{ActionID: "act-1", Occurrence: "2025-03-15"}, sentAt.Add(-time.Hour))
	f.award("bob", "Goal Crusher", generic.Grant{ObjectiveID: "obj-1"}, sentAt)

	// WHEN: flushing alice
	n, err := f.n.Flush(ctx, "alice")

	// THEN: one message covers both grants and they are marked notified
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	deliveries := f.outbox.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, generic.UserID("alice"), deliveries[0].UserID)

	subject, bodies := readMessage(t, deliveries[0].Message)
	assert.Equal(t, "🎉 You unlocked 2 achievements!", subject)
	text := bodies["text/plain"]
	assert.Contains(t, text, "🎉 Achievement Unlocked: First Steps!")
	assert.Contains(t, text, "✨ RARE 🎉 Achievement Unlocked: Early Bird! Well done!")
	assert.Contains(t, text, "Total: 25 points")
	assert.Less(t, strings.Index(text, "First Steps"), strings.Index(text, "Early Bird"), "oldest grant first")
	assert.Contains(t, bodies["text/html"], "<li")

	pending, err := f.mem.ListGrants(ctx, generic.GrantFilter{UserID: "alice", Unnotified: true})
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = f.mem.ListGrants(ctx, generic.GrantFilter{UserID: "bob", Unnotified: true})
	require.NoError(t, err)
	assert.Len(t, pending, 1, "other users are untouched")
}

func TestFlush_NothingPending(t *testing.T) {
	f := newFixture(t)

	n, err := f.n.Flush(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.outbox.Deliveries())
}

func TestFlush_SingleGrantSubjectAndItemTitle(t *testing.T) {
	// GIVEN: a grant tied to a titled action
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.SaveObjective(ctx, goals.Objective{ID: "obj-1", UserID: "alice", Title: "Get fit", Status: goals.StatusInProgress}))
	require.NoError(t, f.mem.SaveCheckpoint(ctx, goals.Checkpoint{ID: "cp-1", UserID: "alice", ObjectiveID: "obj-1", Title: "Week one", Status: goals.StatusInProgress}))
	require.NoError(t, f.mem.SaveAction(ctx, goals.Action{ID: "act-1", UserID: "alice", CheckpointID: "cp-1", Title: "Morning run", Frequency: generic.FrequencyDaily, Status: goals.StatusPending}))
	f.award("alice", "First Steps", generic.Grant{ActionID: "act-1", CheckpointID: "cp-1", ObjectiveID: "obj-1"}, sentAt)

	_, err := f.n.Flush(ctx, "alice")
	require.NoError(t, err)

	subject, bodies := readMessage(t, f.outbox.Deliveries()[0].Message)
	assert.Equal(t, "🎉 Achievement Unlocked: First Steps!", subject)
	assert.Contains(t, bodies["text/plain"], `For: action "Morning run"`)
}

type failingOutbox struct{}

func (failingOutbox) Deliver(context.Context, generic.UserID, []byte) error {
	return errors.New("relay down")
}

func TestFlush_FailedDeliveryKeepsGrantsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.award("alice", "First Steps", generic.Grant{ActionID: "act-1"}, sentAt)
	f.n.Outbox = failingOutbox{}

	_, err := f.n.Flush(ctx, "alice")

	assert.Error(t, err)
	pending, err := f.mem.ListGrants(ctx, generic.GrantFilter{UserID: "alice", Unnotified: true})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestFlushAll(t *testing.T) {
	f := newFixture(t)
	f.award("bob", "Goal Crusher", generic.Grant{ObjectiveID: "obj-1"}, sentAt)
	f.award("alice", "First Steps", generic.Grant{ActionID: "act-1"}, sentAt)
	f.award("alice", "Goal Crusher", generic.Grant{ObjectiveID: "obj-2"}, sentAt)

	total, err := f.n.FlushAll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, total)
	deliveries := f.outbox.Deliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, generic.UserID("alice"), deliveries[0].UserID)
	assert.Equal(t, generic.UserID("bob"), deliveries[1].UserID)

	total, err = f.n.FlushAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total, "second flush finds nothing")
}

func TestCompose_RequiresGrants(t *testing.T) {
	_, err := notify.Compose(mail.Address{Address: "a@example.com"}, mail.Address{Address: "b@example.com"}, nil, sentAt)

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestDirOutbox_WritesEml(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outbox")
	outbox := notify.DirOutbox{Dir: dir}

	require.NoError(t, outbox.Deliver(context.Background(), "al/ice", []byte("Subject: hi\r\n\r\nbody")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "al_ice-"))
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".eml"))
}
