package simulation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunsAtLeastTargetTicks(t *testing.T) {
	var ticks int32
	monitor := NewTickMonitor()
	loop := NewLoop(60, func(time.Time) error {
		atomic.AddInt32(&ticks, 1)
		return nil
	}, WithMonitor(monitor))
	loop.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	loop.Stop()
	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatalf("expected loop to tick at least once")
	}
	if got := monitor.Snapshot().Samples; got != int(atomic.LoadInt32(&ticks)) {
		t.Fatalf("monitor saw %d samples, loop ran %d steps", got, ticks)
	}
}

func TestLoopStepDuration(t *testing.T) {
	loop := NewLoop(120, nil)
	if step := loop.StepDuration(); step != time.Second/120 {
		t.Fatalf("unexpected step duration %v", step)
	}
	if step := NewLoop(0, nil).StepDuration(); step != time.Second/20 {
		t.Fatalf("unexpected default step duration %v", step)
	}
}

func TestLoopPassesClockAndReportsErrors(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	boom := errors.New("boom")
	seen := make(chan time.Time, 1)
	errs := make(chan error, 1)
	loop := NewLoop(200, func(now time.Time) error {
		select {
		case seen <- now:
		default:
		}
		return boom
	}, WithClock(func() time.Time { return fixed }), WithErrorHandler(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))
	loop.Start(context.Background())
	defer loop.Stop()

	select {
	case now := <-seen:
		if !now.Equal(fixed) {
			t.Fatalf("step got %v, want %v", now, fixed)
		}
	case <-time.After(time.Second):
		t.Fatalf("loop never stepped")
	}
	select {
	case err := <-errs:
		if !errors.Is(err, boom) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("error handler never called")
	}
}

func TestDoRunsBetweenSteps(t *testing.T) {
	var inStep atomic.Bool
	var overlapped atomic.Bool
	loop := NewLoop(500, func(time.Time) error {
		inStep.Store(true)
		time.Sleep(100 * time.Microsecond)
		inStep.Store(false)
		return nil
	})

	if err := loop.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped before start, got %v", err)
	}

	loop.Start(context.Background())
	ran := 0
	for i := 0; i < 5; i++ {
		err := loop.Do(context.Background(), func() {
			if inStep.Load() {
				overlapped.Store(true)
			}
			ran++
		})
		if err != nil {
			t.Fatalf("do: %v", err)
		}
	}
	loop.Stop()

	if ran != 5 {
		t.Fatalf("expected 5 actions, ran %d", ran)
	}
	if overlapped.Load() {
		t.Fatalf("action ran while a step was in progress")
	}
	if err := loop.Do(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after stop, got %v", err)
	}
}

func TestTickMonitorCountsOverruns(t *testing.T) {
	monitor := NewTickMonitor()
	monitor.Observe(10*time.Millisecond, 50*time.Millisecond)
	monitor.Observe(70*time.Millisecond, 50*time.Millisecond)
	monitor.Dropped(2)

	snap := monitor.Snapshot()
	if snap.Samples != 2 || snap.Overruns != 1 || snap.Dropped != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Average != 40*time.Millisecond || snap.Max != 70*time.Millisecond || snap.Last != 70*time.Millisecond {
		t.Fatalf("unexpected timing %+v", snap)
	}
	if fps := snap.AverageFPS(); fps != 25 {
		t.Fatalf("expected 25 fps, got %v", fps)
	}

	monitor.Reset()
	if snap := monitor.Snapshot(); snap.Samples != 0 || snap.Overruns != 0 {
		t.Fatalf("reset left %+v", snap)
	}

	var nilMonitor *TickMonitor
	nilMonitor.Observe(time.Second, 0)
	if snap := nilMonitor.Snapshot(); snap.Samples != 0 {
		t.Fatalf("nil monitor recorded samples")
	}
}
