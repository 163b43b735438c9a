package coach

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicetyped/speechcoach/internal/analysis"
	"github.com/voicetyped/speechcoach/internal/capture"
	"github.com/voicetyped/speechcoach/internal/media"
	"github.com/voicetyped/speechcoach/internal/metrics"
	"github.com/voicetyped/speechcoach/internal/scheduler"
	"github.com/voicetyped/speechcoach/pkg/profile"
)

// loop is the part of a scheduler a run drives.
type loop interface {
	Name() string
	Start(ctx context.Context)
	Stop()
	Wait()
	Stats() scheduler.Stats
}

// run is the session-scoped context object. It owns every capturer,
// recorder and scheduler of one session; teardown is the only path that
// releases them.
type run struct {
	id        string
	profile   profile.Profile
	session   *media.Session
	board     *metrics.Board
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	loops     []loop
	capturers []capture.Capturer
	// recording holds the whole session for end-of-activity analysis.
	recording *capture.PCMCapturer

	idealIndex atomic.Int64

	mu       sync.Mutex
	activity *analysis.ActivityResponse
	paused   bool
	stopping bool

	once    sync.Once
	summary Summary
	done    chan struct{}
}

func (r *run) own(c capture.Capturer) {
	r.capturers = append(r.capturers, c)
}

func (r *run) startLoops() {
	for _, l := range r.loops {
		l.Start(r.ctx)
	}
}

// stopLoops cancels every timer. In-flight results are dropped.
func (r *run) stopLoops() {
	for _, l := range r.loops {
		l.Stop()
	}
}

func (r *run) waitLoops() {
	for _, l := range r.loops {
		l.Wait()
	}
}

// setPaused flips the paused flag and stops or restarts the loops with it.
// It reports whether the flag changed. A run in teardown is never
// restarted.
func (r *run) setPaused(p bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopping {
		return false, fmt.Errorf("%w: %q is stopping", ErrNoSession, r.id)
	}
	if r.paused == p {
		return false, nil
	}
	r.paused = p
	if p {
		r.stopLoops()
	} else {
		r.startLoops()
	}
	return true, nil
}

// beginStop marks the run as stopping and cancels its loops. Pause and
// Resume fail from here on.
func (r *run) beginStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopping = true
	r.stopLoops()
}

func (r *run) setActivityResult(res analysis.ActivityResponse) {
	r.mu.Lock()
	r.activity = &res
	r.mu.Unlock()
}

func (r *run) activityResult() *analysis.ActivityResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activity
}

// nextChunkIndex numbers ideal-pace chunks from zero.
func (r *run) nextChunkIndex() int {
	return int(r.idealIndex.Add(1) - 1)
}

// Stats returns the tick counters of every domain.
func (r *run) stats() map[string]scheduler.Stats {
	out := make(map[string]scheduler.Stats, len(r.loops))
	for _, l := range r.loops {
		out[l.Name()] = l.Stats()
	}
	return out
}

func (r *run) chunk(w capture.Window) analysis.Chunk {
	ch := analysis.Chunk{
		SessionID:    r.id,
		ActivityType: r.profile.Activity,
		Duration:     w.Duration.Seconds(),
		TimestampMs:  w.CapturedAt.UnixMilli(),
	}
	if !w.Fallback && len(w.Payload) > 0 {
		ch.Audio = w.Payload
		ch.Filename = chunkFilename(w)
	}
	return ch
}

func (r *run) degradedInput(w capture.Window) metrics.DegradedInput {
	return metrics.DegradedInput{
		CapturedAt: w.CapturedAt,
		Duration:   w.Duration,
		Samples:    w.Samples,
		SampleRate: w.SampleRate,
		TargetWPM:  r.board.Pace.Target(),
	}
}
