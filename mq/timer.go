package mq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TimerScheduler runs jobs in this process with time.AfterFunc. Pending jobs
// are lost on restart, so it suits tests and single-node setups.
type TimerScheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	handler Handler
	timers  map[string]*time.Timer
	stopped bool
}

// NewTimerScheduler creates a scheduler. Jobs that fire before Start is
// called are dropped with a warning.
func NewTimerScheduler(logger *slog.Logger) *TimerScheduler {
	return &TimerScheduler{
		logger: logger,
		ctx:    context.Background(),
		timers: make(map[string]*time.Timer),
	}
}

// Start sets the handler used for fired jobs.
func (t *TimerScheduler) Start(ctx context.Context, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ctx = ctx
	t.handler = handler
	return nil
}

// Schedule implements service.Scheduler.
func (t *TimerScheduler) Schedule(_ context.Context, fireAt time.Time, job Job) (string, error) {
	if job.Handle == "" {
		job.Handle = uuid.NewString()
	}
	job.FireAt = fireAt.UnixMilli()

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.timers[job.Handle]; ok {
		prev.Stop()
	}
	t.timers[job.Handle] = time.AfterFunc(time.Until(fireAt), func() { t.fire(job) })
	return job.Handle, nil
}

func (t *TimerScheduler) fire(job Job) {
	t.mu.Lock()
	if _, ok := t.timers[job.Handle]; !ok || t.stopped {
		t.mu.Unlock()
		return
	}
	delete(t.timers, job.Handle)
	ctx, handler := t.ctx, t.handler
	t.mu.Unlock()

	if handler == nil {
		t.logger.Warn("job fired before scheduler start, dropped", "handle", job.Handle, "kind", job.Kind)
		return
	}
	if err := handler(ctx, job); err != nil {
		t.logger.Error("job failed", "handle", job.Handle, "kind", job.Kind, "poll_id", job.PollID, "error", err)
	}
}

// Cancel implements service.Scheduler.
func (t *TimerScheduler) Cancel(_ context.Context, handle string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.timers[handle]
	if !ok {
		return ErrJobNotFound
	}
	timer.Stop()
	delete(t.timers, handle)
	return nil
}

// Pending returns the number of jobs that have not fired yet.
func (t *TimerScheduler) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels every pending job.
func (t *TimerScheduler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for handle, timer := range t.timers {
		timer.Stop()
		delete(t.timers, handle)
	}
	t.stopped = true
}
