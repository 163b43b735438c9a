// Package scheduler runs fixed-interval capture, submit, apply loops.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/frame/workerpool"
)

// DefaultTimeout bounds every submission.
const DefaultTimeout = 5 * time.Second

// Config wires one domain into a Scheduler.
type Config[P, R any] struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration

	// Capture produces the tick's payload. Errors for which Skip returns
	// true end the tick quietly; other errors are logged.
	Capture func(ctx context.Context) (P, error)
	Skip    func(error) bool
	// Submit sends the payload and returns the decoded result.
	Submit func(ctx context.Context, payload P) (R, error)
	// Fallback builds a degraded result after a failed submission. A nil
	// Fallback drops the tick.
	Fallback func(payload P, err error) (R, bool)
	// Apply runs only while the scheduler generation that issued the tick
	// is still current, with Stop held off. It reports whether the result
	// was taken.
	Apply func(payload P, result R) bool
	// Notify runs after an accepted Apply, outside the scheduler lock.
	Notify func(payload P, result R)

	// Pool runs ticks when set; otherwise each tick gets a goroutine.
	Pool workerpool.WorkerPool
}

// Stats counts tick outcomes.
type Stats struct {
	Ticks    uint64
	Skipped  uint64
	Failed   uint64
	Degraded uint64
	Applied  uint64
	Stale    uint64
}

// Scheduler fires its tick immediately on Start and then every Interval
// until Stop. Results that arrive after Stop are discarded.
type Scheduler[P, R any] struct {
	cfg Config[P, R]

	mu     sync.RWMutex
	gen    uint64
	cancel context.CancelFunc

	loops    sync.WaitGroup
	inflight sync.WaitGroup

	ticks, skipped, failed, degraded, applied, stale atomic.Uint64
}

// New creates a stopped scheduler.
func New[P, R any](cfg Config[P, R]) *Scheduler[P, R] {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Scheduler[P, R]{cfg: cfg}
}

// Name returns the scheduler's domain name.
func (s *Scheduler[P, R]) Name() string { return s.cfg.Name }

// Start begins ticking. A running loop is cancelled first, so at most one
// timer is ever active.
func (s *Scheduler[P, R]) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loops.Add(1)
	go s.loop(runCtx, s.gen)
}

// Stop cancels the timer and invalidates in-flight ticks. It returns once
// no result can be applied anymore.
func (s *Scheduler[P, R]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

// Running reports whether a loop is active.
func (s *Scheduler[P, R]) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancel != nil
}

// Wait blocks until the loop and every dispatched tick have returned.
func (s *Scheduler[P, R]) Wait() {
	s.loops.Wait()
	s.inflight.Wait()
}

// Stats returns the tick counters.
func (s *Scheduler[P, R]) Stats() Stats {
	return Stats{
		Ticks:    s.ticks.Load(),
		Skipped:  s.skipped.Load(),
		Failed:   s.failed.Load(),
		Degraded: s.degraded.Load(),
		Applied:  s.applied.Load(),
		Stale:    s.stale.Load(),
	}
}

func (s *Scheduler[P, R]) loop(ctx context.Context, gen uint64) {
	defer s.loops.Done()
	s.dispatch(ctx, gen)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, gen)
		}
	}
}

func (s *Scheduler[P, R]) dispatch(ctx context.Context, gen uint64) {
	s.ticks.Add(1)
	s.inflight.Add(1)
	fn := func() {
		defer s.inflight.Done()
		s.tick(ctx, gen)
	}
	if s.cfg.Pool == nil {
		go fn()
		return
	}
	if err := s.cfg.Pool.Submit(ctx, fn); err != nil {
		s.inflight.Done()
		s.skipped.Add(1)
		slog.WarnContext(ctx, "scheduler pool rejected tick",
			slog.String("scheduler", s.cfg.Name),
			slog.String("error", err.Error()))
	}
}

func (s *Scheduler[P, R]) tick(ctx context.Context, gen uint64) {
	payload, err := s.cfg.Capture(ctx)
	if err != nil {
		s.skipped.Add(1)
		if ctx.Err() != nil || (s.cfg.Skip != nil && s.cfg.Skip(err)) {
			slog.DebugContext(ctx, "tick skipped",
				slog.String("scheduler", s.cfg.Name),
				slog.String("reason", err.Error()))
			return
		}
		slog.WarnContext(ctx, "capture failed",
			slog.String("scheduler", s.cfg.Name),
			slog.String("error", err.Error()))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	result, err := s.cfg.Submit(reqCtx, payload)
	cancel()
	if err != nil {
		if !s.current(gen) {
			s.stale.Add(1)
			return
		}
		s.failed.Add(1)
		slog.WarnContext(ctx, "analysis request failed",
			slog.String("scheduler", s.cfg.Name),
			slog.String("error", err.Error()))
		if s.cfg.Fallback == nil {
			return
		}
		var ok bool
		if result, ok = s.cfg.Fallback(payload, err); !ok {
			return
		}
		s.degraded.Add(1)
	}

	if !s.apply(ctx, gen, payload, result) {
		return
	}
	if s.cfg.Notify != nil {
		s.cfg.Notify(payload, result)
	}
}

func (s *Scheduler[P, R]) apply(ctx context.Context, gen uint64, payload P, result R) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gen != gen {
		s.stale.Add(1)
		slog.DebugContext(ctx, "dropping stale result", slog.String("scheduler", s.cfg.Name))
		return false
	}
	s.applied.Add(1)
	return s.cfg.Apply(payload, result)
}

func (s *Scheduler[P, R]) current(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen == gen
}
