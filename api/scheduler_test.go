package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/achievement-engine/notify"
)

func TestNotificationScheduler_FlushesOnStart(t *testing.T) {
	// GIVEN: a user with pending grants
	h := setupTestHandler(t)
	require.NoError(t, h.Load(context.Background(), "new-habit"))
	outbox := &notify.MemoryOutbox{}
	n := notify.NewNotifier(h.Store, h.Catalog, outbox, "achievements@example.com", nil)

	// WHEN: the scheduler starts and stops
	s := NewNotificationScheduler(n, nil)
	s.Interval = time.Hour
	s.Start()
	s.Start()
	s.Stop()

	// THEN: the initial flush ran exactly once
	require.Len(t, outbox.Deliveries(), 1)
	assert.Equal(t, "alice", string(outbox.Deliveries()[0].UserID))
}

func TestNotificationScheduler_Disabled(t *testing.T) {
	outbox := &notify.MemoryOutbox{}
	h := setupTestHandler(t)
	s := NewNotificationScheduler(notify.NewNotifier(h.Store, h.Catalog, outbox, "a@example.com", nil), nil)
	s.Enabled = false

	s.Start()
	s.Stop()

	assert.Empty(t, outbox.Deliveries())
}
