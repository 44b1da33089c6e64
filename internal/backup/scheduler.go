package backup

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job takes one snapshot and returns its key.
type Job func(ctx context.Context) (string, error)

// Scheduler runs a backup job periodically on a background goroutine.
type Scheduler struct {
	job      Job
	interval time.Duration
	timeout  time.Duration // per scheduled run, 0 = none
	run      sync.Mutex    // one run at a time (scheduled + on-demand)
	mu       sync.Mutex    // guards lastErr
	lastErr  error
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates and starts a scheduler for job. If interval is 0, no
// goroutine is started and only RunOnce does anything.
func NewScheduler(job Job, interval, timeout time.Duration) *Scheduler {
	s := &Scheduler{
		job:      job,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if interval > 0 {
		go s.loop()
	} else {
		close(s.done)
	}

	return s
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if s.timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, s.timeout)
			}
			if key, err := s.RunOnce(ctx); err != nil {
				slog.Error("scheduled backup failed", "error", err)
			} else {
				slog.Info("scheduled backup complete", "key", key)
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

// RunOnce executes the job once, serialized with scheduled runs.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	s.run.Lock()
	defer s.run.Unlock()
	key, err := s.job(ctx)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return key, err
}

// LastError returns the result of the most recent run. It does not wait for
// a run in progress.
func (s *Scheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Shutdown stops the periodic scheduler and waits for an in-flight run.
func (s *Scheduler) Shutdown() {
	close(s.stop)
	<-s.done
}
