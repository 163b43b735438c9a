package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func captureOK(ctx context.Context) (int, error) { return 1, nil }

func TestFiresImmediately(t *testing.T) {
	var applied atomic.Int32
	s := New(Config[int, int]{
		Name:     "test",
		Interval: time.Hour,
		Capture:  captureOK,
		Submit:   func(ctx context.Context, p int) (int, error) { return p * 2, nil },
		Apply:    func(p, r int) bool { applied.Add(int32(r)); return true },
	})
	s.Start(context.Background())
	defer s.Stop()
	eventually(t, func() bool { return applied.Load() == 2 })
	if !s.Running() {
		t.Error("scheduler should be running")
	}
}

func TestRestartKeepsOneTimer(t *testing.T) {
	var ticks atomic.Int32
	s := New(Config[int, int]{
		Name:     "test",
		Interval: 5 * time.Millisecond,
		Capture: func(ctx context.Context) (int, error) {
			ticks.Add(1)
			return 0, nil
		},
		Submit: func(ctx context.Context, p int) (int, error) { return p, nil },
		Apply:  func(p, r int) bool { return true },
	})
	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx)
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Wait()
	if s.Running() {
		t.Fatal("scheduler still running after Stop")
	}
	after := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	if got := ticks.Load(); got != after {
		t.Errorf("ticks continued after Stop: %d -> %d", after, got)
	}
}

func TestStaleResultDropped(t *testing.T) {
	release := make(chan struct{})
	submitted := make(chan struct{}, 1)
	var applied atomic.Int32
	s := New(Config[int, int]{
		Name:     "pace",
		Interval: time.Hour,
		Capture:  captureOK,
		Submit: func(ctx context.Context, p int) (int, error) {
			submitted <- struct{}{}
			<-release
			return 150, nil
		},
		Apply: func(p, r int) bool { applied.Add(1); return true },
	})
	s.Start(context.Background())
	<-submitted
	s.Stop()
	close(release)
	s.Wait()
	if applied.Load() != 0 {
		t.Fatal("result applied after Stop")
	}
	if got := s.Stats().Stale; got != 1 {
		t.Errorf("got %d stale, want 1", got)
	}
}

func TestErrorsDoNotHaltLoop(t *testing.T) {
	var calls, applied atomic.Int32
	s := New(Config[int, int]{
		Name:     "loudness",
		Interval: 5 * time.Millisecond,
		Capture:  captureOK,
		Submit: func(ctx context.Context, p int) (int, error) {
			if calls.Add(1) <= 2 {
				return 0, errors.New("boom")
			}
			return 1, nil
		},
		Apply: func(p, r int) bool { applied.Add(1); return true },
	})
	s.Start(context.Background())
	eventually(t, func() bool { return applied.Load() > 0 })
	s.Stop()
	s.Wait()
	if st := s.Stats(); st.Failed < 2 {
		t.Errorf("got %d failures, want at least 2", st.Failed)
	}
}

func TestTimeoutRunsFallback(t *testing.T) {
	var got atomic.Int32
	s := New(Config[int, int]{
		Name:     "pause",
		Interval: time.Hour,
		Timeout:  20 * time.Millisecond,
		Capture:  captureOK,
		Submit: func(ctx context.Context, p int) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		},
		Fallback: func(p int, err error) (int, bool) {
			if !errors.Is(err, context.DeadlineExceeded) {
				return 0, false
			}
			return 42, true
		},
		Apply: func(p, r int) bool { got.Store(int32(r)); return true },
	})
	s.Start(context.Background())
	defer s.Stop()
	eventually(t, func() bool { return got.Load() == 42 })
	if st := s.Stats(); st.Degraded != 1 {
		t.Errorf("got %d degraded, want 1", st.Degraded)
	}
}

func TestSkippedCapture(t *testing.T) {
	errShort := errors.New("short")
	var submits atomic.Int32
	s := New(Config[int, int]{
		Name:     "pace",
		Interval: 5 * time.Millisecond,
		Capture:  func(ctx context.Context) (int, error) { return 0, errShort },
		Skip:     func(err error) bool { return errors.Is(err, errShort) },
		Submit: func(ctx context.Context, p int) (int, error) {
			submits.Add(1)
			return 0, nil
		},
		Apply: func(p, r int) bool { return true },
	})
	s.Start(context.Background())
	eventually(t, func() bool { return s.Stats().Skipped >= 3 })
	s.Stop()
	s.Wait()
	if submits.Load() != 0 {
		t.Error("skipped tick was submitted")
	}
}

func TestNotifyRunsAfterApplyUnlocked(t *testing.T) {
	notified := make(chan struct{})
	var s *Scheduler[int, int]
	s = New(Config[int, int]{
		Name:     "pace",
		Interval: time.Hour,
		Capture:  captureOK,
		Submit:   func(ctx context.Context, p int) (int, error) { return p, nil },
		Apply:    func(p, r int) bool { return true },
		Notify: func(p, r int) {
			// Stop takes the write lock; it would hang if Notify ran under Apply's lock.
			s.Stop()
			close(notified)
		},
	})
	s.Start(context.Background())
	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on the scheduler lock")
	}
	s.Wait()
}

func TestNotifySkippedWhenApplyRejects(t *testing.T) {
	var applied, notified atomic.Int32
	s := New(Config[int, int]{
		Name:     "emotion",
		Interval: 5 * time.Millisecond,
		Capture:  captureOK,
		Submit:   func(ctx context.Context, p int) (int, error) { return p, nil },
		Apply: func(p, r int) bool {
			applied.Add(1)
			return false
		},
		Notify: func(p, r int) { notified.Add(1) },
	})
	s.Start(context.Background())
	eventually(t, func() bool { return applied.Load() >= 3 })
	s.Stop()
	s.Wait()
	if n := notified.Load(); n != 0 {
		t.Errorf("got %d notifications for rejected results, want 0", n)
	}
}
