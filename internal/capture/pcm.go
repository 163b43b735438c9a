package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voicetyped/speechcoach/internal/media"
	"github.com/voicetyped/speechcoach/pkg/wav"
)

const pcmTapBuffer = 256

// PCMCapturer keeps a private SampleBuffer fed by its own tap and cuts the
// trailing window on every Capture.
type PCMCapturer struct {
	activity Activity
	window   time.Duration
	buf      *SampleBuffer
	tap      *media.PCMTap
	now      func() time.Time
	started  time.Time

	mu     sync.Mutex
	warmed bool
	seq    uint64
	closed bool

	wg sync.WaitGroup
}

// PCMOption configures a PCMCapturer.
type PCMOption func(*PCMCapturer)

// WithClock overrides the time source used for CapturedAt.
func WithClock(now func() time.Time) PCMOption {
	return func(c *PCMCapturer) { c.now = now }
}

// NewPCMCapturer taps src and starts filling a buffer capped at retention.
// A nil src yields a capturer that only produces duration-only windows.
func NewPCMCapturer(src media.Source, activity Activity, window, retention time.Duration, opts ...PCMOption) *PCMCapturer {
	rate := 0
	if src != nil {
		rate = src.SampleRate()
	}
	c := &PCMCapturer{
		activity: activity,
		window:   window,
		buf:      NewSampleBuffer(rate, retention),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.started = c.now()
	if src == nil {
		return c
	}
	c.tap = src.TapPCM(pcmTapBuffer)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for frame := range c.tap.C {
			c.buf.Append(frame)
		}
	}()
	return c
}

// Buffer exposes the capturer's buffer for whole-session reads.
func (c *PCMCapturer) Buffer() *SampleBuffer { return c.buf }

// Capture cuts the most recent window. The buffer is never drained.
func (c *PCMCapturer) Capture(ctx context.Context) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Window{}, ErrClosed
	}

	now := c.now()
	if c.tap == nil {
		return c.fallbackLocked(now), nil
	}

	rate := c.buf.SampleRate()
	need := int(c.window.Seconds() * float64(rate))
	samples, ok := c.buf.Tail(need)
	if !ok {
		return Window{}, ErrNotEnoughAudio
	}
	if !c.warmed {
		c.warmed = true
		slog.DebugContext(ctx, "discarding cold-start window",
			slog.String("activity", string(c.activity)))
		return Window{}, ErrColdStart
	}

	c.seq++
	return Window{
		Activity:   c.activity,
		Payload:    wav.Encode(samples, rate),
		MIME:       MIMEWAV,
		Duration:   c.window,
		CapturedAt: now,
		Seq:        c.seq,
		Samples:    samples,
		SampleRate: rate,
	}, nil
}

func (c *PCMCapturer) fallbackLocked(now time.Time) Window {
	c.seq++
	d := now.Sub(c.started)
	if d > c.window || d <= 0 {
		d = c.window
	}
	return Window{
		Activity:   c.activity,
		Duration:   d,
		CapturedAt: now,
		Seq:        c.seq,
		Fallback:   true,
	}
}

// Full muxes the entire buffered session to WAV. It returns nil when nothing
// was captured.
func (c *PCMCapturer) Full() []byte {
	samples := c.buf.Snapshot()
	if len(samples) == 0 {
		return nil
	}
	return wav.Encode(samples, c.buf.SampleRate())
}

// Close detaches the tap and resets the buffer. Safe to call twice.
func (c *PCMCapturer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.tap != nil {
		c.tap.Close()
		c.wg.Wait()
	}
	c.buf.Reset()
}
