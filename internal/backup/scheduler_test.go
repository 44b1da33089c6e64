package backup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_RunOnce(t *testing.T) {
	var called atomic.Int32
	fn := func(_ context.Context) (string, error) {
		called.Add(1)
		return "snap", nil
	}

	sched := NewScheduler(fn, 0, 0) // no periodic scheduling
	defer sched.Shutdown()

	key, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if key != "snap" {
		t.Fatalf("expected key snap, got %q", key)
	}
	if called.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", called.Load())
	}
}

func TestScheduler_LastError(t *testing.T) {
	boom := errors.New("boom")
	sched := NewScheduler(func(_ context.Context) (string, error) { return "", boom }, 0, 0)
	defer sched.Shutdown()

	if sched.LastError() != nil {
		t.Fatal("expected no error before first run")
	}
	_, _ = sched.RunOnce(context.Background())
	if !errors.Is(sched.LastError(), boom) {
		t.Fatalf("expected boom, got %v", sched.LastError())
	}
}

func TestScheduler_PeriodicTick(t *testing.T) {
	var called atomic.Int32
	fn := func(_ context.Context) (string, error) {
		called.Add(1)
		return "snap", nil
	}

	sched := NewScheduler(fn, 50*time.Millisecond, 0)

	// Wait for at least 2 ticks.
	time.Sleep(150 * time.Millisecond)
	sched.Shutdown()

	if count := called.Load(); count < 2 {
		t.Fatalf("expected at least 2 calls, got %d", count)
	}
}

func TestScheduler_TimeoutAppliedToScheduledRuns(t *testing.T) {
	hadDeadline := make(chan bool, 1)
	fn := func(ctx context.Context) (string, error) {
		_, ok := ctx.Deadline()
		select {
		case hadDeadline <- ok:
		default:
		}
		return "", nil
	}

	sched := NewScheduler(fn, 20*time.Millisecond, time.Second)
	defer sched.Shutdown()

	select {
	case ok := <-hadDeadline:
		if !ok {
			t.Fatal("scheduled run should carry a deadline")
		}
	case <-time.After(time.Second):
		t.Fatal("scheduled run never happened")
	}
}

func TestScheduler_ShutdownStopsTicker(t *testing.T) {
	var called atomic.Int32
	fn := func(_ context.Context) (string, error) {
		called.Add(1)
		return "snap", nil
	}

	sched := NewScheduler(fn, 50*time.Millisecond, 0)
	time.Sleep(80 * time.Millisecond) // wait for 1 tick
	sched.Shutdown()

	countAtShutdown := called.Load()
	time.Sleep(100 * time.Millisecond) // wait to confirm no more ticks

	if called.Load() != countAtShutdown {
		t.Fatal("scheduler continued after shutdown")
	}
}

func TestScheduler_NoPanicOnZeroInterval(t *testing.T) {
	sched := NewScheduler(func(_ context.Context) (string, error) { return "", nil }, 0, 0)
	sched.Shutdown() // should not panic or block
}

func TestScheduler_RunsNeverOverlap(t *testing.T) {
	var running, overlaps atomic.Int32
	fn := func(_ context.Context) (string, error) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return "", nil
	}

	sched := NewScheduler(fn, 10*time.Millisecond, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sched.RunOnce(context.Background())
		}()
	}
	wg.Wait()
	sched.Shutdown()

	if n := overlaps.Load(); n != 0 {
		t.Fatalf("expected runs to be serialized, saw %d overlaps", n)
	}
}
