/*
scheduler.go - Periodic notification flush

PURPOSE:
  Periodically composes celebration mail for every user holding unnotified
  grants. The on-demand endpoint POST /api/users/{id}/notifications/flush
  does the same for one user.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on start
  - A failing user is logged and retried on the next tick (the notifier only
    marks grants after delivery)

USAGE:
  scheduler := NewNotificationScheduler(notifier, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - notify/notify.go: Notifier.FlushAll
  - handlers.go: FlushNotifications endpoint
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/achievement-engine/logger"
	"github.com/warp/achievement-engine/notify"
)

// NotificationScheduler flushes pending notifications on a ticker.
type NotificationScheduler struct {
	Notifier *notify.Notifier
	Log      *logger.Logger
	Interval time.Duration
	Enabled  bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewNotificationScheduler(n *notify.Notifier, log *logger.Logger) *NotificationScheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &NotificationScheduler{
		Notifier: n,
		Log:      log.With("component", "notification_scheduler"),
		Interval: 5 * time.Minute,
		Enabled:  true,
	}
}

// Start begins the scheduler. Starting twice is a no-op.
func (s *NotificationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.Notifier == nil {
		s.Log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Log.Info("started", "interval", s.Interval.String())
}

// Stop stops the scheduler and waits for an in-flight flush.
func (s *NotificationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Log.Info("stopped")
}

func (s *NotificationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.flush()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-stop:
			return
		}
	}
}

func (s *NotificationScheduler) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Interval)
	defer cancel()

	n, err := s.Notifier.FlushAll(ctx)
	if err != nil {
		s.Log.Error("flush failed", "error", err)
		return
	}
	if n > 0 {
		s.Log.Info("flushed notifications", "grants", n)
	}
}
