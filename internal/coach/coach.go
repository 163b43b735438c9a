// Package coach runs coaching sessions: it acquires media, drives one
// scheduler per analysis domain, reconciles results into a metrics board
// and persists a summary when the session ends.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pitabwire/frame/workerpool"

	"github.com/voicetyped/speechcoach/internal/analysis"
	"github.com/voicetyped/speechcoach/internal/media"
	"github.com/voicetyped/speechcoach/internal/metrics"
	"github.com/voicetyped/speechcoach/internal/scheduler"
	"github.com/voicetyped/speechcoach/pkg/events"
	"github.com/voicetyped/speechcoach/pkg/profile"
	"github.com/voicetyped/speechcoach/pkg/validate"
)

var (
	// ErrSessionActive is returned when a session is started while another
	// one is live.
	ErrSessionActive = media.ErrSessionActive
	// ErrNoSession is returned for unknown or finished session ids.
	ErrNoSession = errors.New("coach: no such session")
	// ErrUnknownProfile is returned when a start request names no profile
	// the coach knows.
	ErrUnknownProfile = errors.New("coach: unknown profile")
)

// Stop reasons.
const (
	ReasonRequested  = "requested"
	ReasonMediaEnded = "media_ended"
	ReasonShutdown   = "shutdown"
)

// Analyzer is the set of analysis endpoints a session uses.
type Analyzer interface {
	PredictLoudness(ctx context.Context, ch analysis.Chunk) (analysis.LoudnessResponse, error)
	AnalyzePace(ctx context.Context, ch analysis.Chunk) (analysis.PaceResponse, error)
	IdealPaceChunk(ctx context.Context, ch analysis.Chunk, index int) (analysis.PaceResponse, error)
	MonitorPause(ctx context.Context, ch analysis.Chunk) (analysis.PauseResponse, error)
	UploadRecording(ctx context.Context, ch analysis.Chunk) (analysis.FillerResponse, error)
	PredictEmotion(ctx context.Context, req analysis.EmotionRequest) (analysis.EmotionResponse, error)
	AnalyzeActivity(ctx context.Context, activity, sessionID string, recording []byte) (analysis.ActivityResponse, error)
}

// ProfileSource resolves profiles by name.
type ProfileSource interface {
	Get(name string) (profile.Profile, bool)
}

// Config holds session pipeline settings.
type Config struct {
	DefaultProfile  string
	RequestTimeout  time.Duration
	AnalyzeTimeout  time.Duration
	Retention       time.Duration
	Alpha           float64
	DominanceWindow time.Duration
}

// Option configures a Coach.
type Option func(*Coach)

// WithProvider sets the degraded-mode provider.
func WithProvider(p metrics.DegradedProvider) Option {
	return func(c *Coach) { c.provider = p }
}

// WithSaver persists summaries when sessions end.
func WithSaver(s *Saver) Option {
	return func(c *Coach) { c.saver = s }
}

// WithPublisher emits session events.
func WithPublisher(p *events.Publisher) Option {
	return func(c *Coach) { c.pub = p }
}

// WithPool runs scheduler ticks on a worker pool.
func WithPool(p workerpool.WorkerPool) Option {
	return func(c *Coach) { c.pool = p }
}

// StartRequest starts a session. Zero values take the profile's settings.
type StartRequest struct {
	Profile   string  `json:"profile"`
	TargetWPM float64 `json:"target_wpm" validate:"omitempty,gte=40,lte=300"`
	Tolerance float64 `json:"tolerance"  validate:"omitempty,gte=0,lte=100"`
	Video     *bool   `json:"video,omitempty"`
	// Offer is the SDP offer of a WebRTC publisher.
	Offer string `json:"offer,omitempty"`
}

// SessionInfo describes a started session.
type SessionInfo struct {
	ID        string          `json:"session_id"`
	Profile   profile.Profile `json:"profile"`
	StartedAt time.Time       `json:"started_at"`
	Answer    string          `json:"answer,omitempty"`
}

// Coach owns at most one live session.
type Coach struct {
	config   Config
	acquirer *media.Acquirer
	analyzer Analyzer
	profiles ProfileSource
	provider metrics.DegradedProvider
	saver    *Saver
	pub      *events.Publisher
	pool     workerpool.WorkerPool
	now      func() time.Time

	mu       sync.Mutex
	active   *run
	starting bool
	last     *Summary
}

// New creates a coach.
func New(cfg Config, acquirer *media.Acquirer, analyzer Analyzer, profiles ProfileSource, opts ...Option) *Coach {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = scheduler.DefaultTimeout
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = 30 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = metrics.DefaultAlpha
	}
	if cfg.DominanceWindow <= 0 {
		cfg.DominanceWindow = metrics.DefaultDominanceWindow
	}
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = profile.ActivityRate
	}
	c := &Coach{
		config:   cfg,
		acquirer: acquirer,
		analyzer: analyzer,
		profiles: profiles,
		provider: metrics.NewRandomProvider(0),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coach) resolveProfile(req StartRequest) (profile.Profile, error) {
	if err := validate.Struct(req); err != nil {
		return profile.Profile{}, err
	}
	name := req.Profile
	if name == "" {
		name = c.config.DefaultProfile
	}
	p, ok := c.profiles.Get(name)
	if !ok {
		return profile.Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	if req.TargetWPM > 0 {
		p.TargetWPM = req.TargetWPM
	}
	if req.Tolerance > 0 {
		p.Tolerance = req.Tolerance
	}
	if req.Video != nil {
		p.Video = *req.Video
		if !p.Video {
			p.Domains = without(p.Domains, profile.DomainEmotion)
		}
	}
	p.Normalize()
	if err := p.Validate(); err != nil {
		return profile.Profile{}, err
	}
	return p, nil
}

// Start acquires media and starts every domain the profile enables.
func (c *Coach) Start(ctx context.Context, req StartRequest) (SessionInfo, error) {
	p, err := c.resolveProfile(req)
	if err != nil {
		return SessionInfo{}, err
	}

	c.mu.Lock()
	if c.active != nil || c.starting {
		c.mu.Unlock()
		return SessionInfo{}, ErrSessionActive
	}
	c.starting = true
	c.mu.Unlock()

	sess, err := c.acquirer.Acquire(ctx, media.Constraints{Video: p.Video, Offer: req.Offer})
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		return SessionInfo{}, fmt.Errorf("acquire media: %w", err)
	}

	// Session work outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:      sess.ID,
		profile: p,
		session: sess,
		board: metrics.NewBoard(metrics.BoardConfig{
			TargetWPM:       p.TargetWPM,
			Tolerance:       p.Tolerance,
			Alpha:           c.config.Alpha,
			DominanceWindow: c.config.DominanceWindow,
		}),
		startedAt: sess.StartedAt,
		ctx:       runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.buildLoops(r)
	// Loops start before the run is visible, so no Stop can race them.
	r.startLoops()
	c.mu.Lock()
	c.active = r
	c.starting = false
	c.mu.Unlock()

	slog.InfoContext(ctx, "coaching session started",
		slog.String("session_id", r.id),
		slog.String("profile", p.Name),
		slog.String("activity", p.Activity),
		slog.Int("domains", len(r.loops)))
	c.emit(ctx, events.SessionStarted, r.id, events.SessionStartedData{
		Activity:  p.Activity,
		TargetWPM: p.TargetWPM,
		Video:     p.Video,
		Device:    deviceKind(req),
	})

	go c.watchMedia(r)

	return SessionInfo{ID: r.id, Profile: p, StartedAt: r.startedAt, Answer: sess.Answer()}, nil
}

// watchMedia stops the session when its producer runs out of audio.
func (c *Coach) watchMedia(r *run) {
	select {
	case <-r.session.Done():
		slog.InfoContext(r.ctx, "media ended, stopping session", slog.String("session_id", r.id))
		c.teardown(r.ctx, r, ReasonMediaEnded)
	case <-r.done:
	}
}

func (c *Coach) lookup(id string) (*run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || (id != "" && c.active.id != id) {
		return nil, fmt.Errorf("%w: %q", ErrNoSession, id)
	}
	return c.active, nil
}

// Stop ends the session and returns its summary. An empty id stops the
// active session.
func (c *Coach) Stop(ctx context.Context, id string) (Summary, error) {
	r, err := c.lookup(id)
	if err != nil {
		return Summary{}, err
	}
	return c.teardown(ctx, r, ReasonRequested), nil
}

// teardown is the single cleanup path of a run. Later calls return the
// summary built by the first.
func (c *Coach) teardown(ctx context.Context, r *run, reason string) Summary {
	r.once.Do(func() {
		defer close(r.done)

		r.beginStop()
		r.waitLoops()

		c.analyzeActivity(ctx, r)

		for _, cp := range r.capturers {
			cp.Close()
		}
		c.acquirer.Release(r.session)

		ended := c.now()
		r.summary = buildSummary(r, ended)
		r.summary.StopReason = reason
		r.cancel()

		slog.InfoContext(ctx, "coaching session stopped",
			slog.String("session_id", r.id),
			slog.String("reason", reason),
			slog.Float64("duration_sec", r.summary.DurationSec),
			slog.Int("mock_samples", r.summary.MockSamples))
		c.emit(ctx, events.SessionStopped, r.id, events.SessionStoppedData{
			Reason:     reason,
			DurationMs: ended.Sub(r.startedAt).Milliseconds(),
		})

		c.mu.Lock()
		if c.active == r {
			c.active = nil
		}
		last := r.summary
		c.last = &last
		c.mu.Unlock()

		if c.saver != nil {
			if err := c.saver.Save(context.WithoutCancel(ctx), r.summary); err != nil {
				slog.WarnContext(ctx, "session summary not saved yet",
					slog.String("session_id", r.id),
					slog.String("error", err.Error()))
			}
		}
	})
	return r.summary
}

// analyzeActivity posts the whole recording for rate and pause activities.
func (c *Coach) analyzeActivity(ctx context.Context, r *run) {
	if r.recording == nil {
		return
	}
	recording := r.recording.Full()
	if recording == nil {
		slog.InfoContext(ctx, "no audio recorded, skipping activity analysis",
			slog.String("session_id", r.id))
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.AnalyzeTimeout)
	defer cancel()
	res, err := c.analyzer.AnalyzeActivity(actx, r.profile.Activity, r.id, recording)
	if err != nil {
		slog.WarnContext(ctx, "activity analysis failed",
			slog.String("session_id", r.id),
			slog.String("activity", r.profile.Activity),
			slog.String("error", err.Error()))
		return
	}
	r.setActivityResult(res)
	c.emit(ctx, events.ActivityAnalyzed, r.id, events.ActivityAnalyzedData{
		Activity:   r.profile.Activity,
		FinalScore: res.FinalScore,
		NewBadges:  len(res.NewBadges),
	})
}

// Pause gates the media and stops every timer until Resume.
func (c *Coach) Pause(ctx context.Context, id string) error {
	r, err := c.lookup(id)
	if err != nil {
		return err
	}
	if err := c.acquirer.Pause(r.session); err != nil {
		return err
	}
	changed, err := r.setPaused(true)
	if err != nil {
		return err
	}
	if changed {
		c.emit(ctx, events.SessionPaused, r.id, struct{}{})
	}
	return nil
}

// Resume restarts a paused session. A session that is being stopped
// cannot be resumed.
func (c *Coach) Resume(ctx context.Context, id string) error {
	r, err := c.lookup(id)
	if err != nil {
		return err
	}
	if err := c.acquirer.Resume(r.session); err != nil {
		return err
	}
	changed, err := r.setPaused(false)
	if err != nil {
		return err
	}
	if changed {
		c.emit(ctx, events.SessionResumed, r.id, struct{}{})
	}
	return nil
}

// Snapshot returns the current view model of a session.
func (c *Coach) Snapshot(id string) (metrics.Snapshot, error) {
	r, err := c.lookup(id)
	if err != nil {
		return metrics.Snapshot{}, err
	}
	return r.board.Snapshot(), nil
}

// Stats returns per-domain tick counters of a session.
func (c *Coach) Stats(id string) (map[string]scheduler.Stats, error) {
	r, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	return r.stats(), nil
}

// Active returns the id of the live session, if any.
func (c *Coach) Active() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.id, true
}

// LastSummary returns the summary of the most recently stopped session.
func (c *Coach) LastSummary() (Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Summary{}, false
	}
	return *c.last, true
}

// Done returns a channel closed once the session has been torn down.
func (c *Coach) Done(id string) (<-chan struct{}, error) {
	r, err := c.lookup(id)
	if err != nil {
		return nil, err
	}
	return r.done, nil
}

// Shutdown stops the live session, if any.
func (c *Coach) Shutdown(ctx context.Context) {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r != nil {
		c.teardown(ctx, r, ReasonShutdown)
	}
}

func deviceKind(req StartRequest) string {
	if req.Offer != "" {
		return "webrtc"
	}
	return "local"
}

func without(list []string, drop string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != drop {
			out = append(out, s)
		}
	}
	return out
}

func (c *Coach) emit(ctx context.Context, eventType events.EventType, sessionID string, data any) {
	publish(ctx, c.pub, eventType, sessionID, data)
}

func (s *Saver) emit(ctx context.Context, eventType events.EventType, sessionID string, data any) {
	publish(ctx, s.pub, eventType, sessionID, data)
}

// publish sends an event and logs a failed publish; session work goes on
// either way.
func publish(ctx context.Context, pub *events.Publisher, eventType events.EventType, sessionID string, data any) {
	if err := pub.Emit(ctx, eventType, sessionID, data); err != nil {
		slog.WarnContext(ctx, "event publish failed",
			slog.String("event_type", string(eventType)),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
	}
}
