package simulation

import (
	"context"
	"errors"
	"time"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("simulation: loop stopped")

// maxCatchUp bounds how many steps a late tick may run back to back.
const maxCatchUp = 4

// StepFunc advances the simulation once at the given instant.
type StepFunc func(now time.Time) error

// Option customises a Loop.
type Option func(*Loop)

// WithMonitor records the wall time every step takes.
func WithMonitor(monitor *TickMonitor) Option {
	return func(l *Loop) { l.monitor = monitor }
}

// WithClock overrides the instant passed to each step.
func WithClock(clock func() time.Time) Option {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithErrorHandler receives every error a step returns.
func WithErrorHandler(handle func(error)) Option {
	return func(l *Loop) { l.onError = handle }
}

// Loop drives a fixed timestep at the configured frequency. Steps and queued
// actions run on one goroutine, so the stepped value needs no locking.
type Loop struct {
	step     time.Duration
	stepFunc StepFunc
	monitor  *TickMonitor
	clock    func() time.Time
	onError  func(error)
	actions  chan func()
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLoop configures a loop that targets the provided steps per second.
func NewLoop(targetHz float64, step StepFunc, opts ...Option) *Loop {
	if targetHz <= 0 {
		targetHz = 20
	}
	if step == nil {
		step = func(time.Time) error { return nil }
	}
	interval := time.Duration(float64(time.Second) / targetHz)
	if interval <= 0 {
		interval = time.Second / 20
	}
	loop := &Loop{
		step:     interval,
		stepFunc: step,
		clock:    time.Now,
		actions:  make(chan func(), 16),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(loop)
		}
	}
	return loop
}

// Start begins ticking until the context is cancelled or Stop is invoked.
func (l *Loop) Start(ctx context.Context) {
	if l == nil || l.stepFunc == nil || l.done != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	go l.run(ctx, time.NewTicker(l.step), l.done)
}

func (l *Loop) run(ctx context.Context, ticker *time.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	last := time.Now()
	accumulator := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-l.actions:
			action()
		case now := <-ticker.C:
			//1.- Accumulate elapsed time and run fixed steps while catching up.
			accumulator += now.Sub(last)
			last = now
			steps := 0
			for accumulator >= l.step && steps < maxCatchUp {
				l.runStep()
				accumulator -= l.step
				steps++
			}
			//2.- Drop the backlog rather than spiral when steps run long.
			if accumulator >= l.step {
				l.monitor.Dropped(int(accumulator / l.step))
				accumulator %= l.step
			}
		}
	}
}

func (l *Loop) runStep() {
	started := time.Now()
	err := l.stepFunc(l.clock())
	l.monitor.Observe(time.Since(started), l.step)
	if err != nil && l.onError != nil {
		l.onError(err)
	}
}

// Do runs fn on the loop goroutine between steps and waits for it. Before
// Start, and after the loop exits, it reports ErrStopped.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if l == nil || l.done == nil {
		return ErrStopped
	}
	finished := make(chan struct{})
	select {
	case l.actions <- func() { fn(); close(finished) }:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the loop and waits for the goroutine to exit.
func (l *Loop) Stop() {
	if l == nil {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
}

// StepDuration exposes the configured timestep.
func (l *Loop) StepDuration() time.Duration {
	if l == nil {
		return 0
	}
	return l.step
}
