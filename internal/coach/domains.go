package coach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/voicetyped/speechcoach/internal/analysis"
	"github.com/voicetyped/speechcoach/internal/capture"
	"github.com/voicetyped/speechcoach/internal/media"
	"github.com/voicetyped/speechcoach/internal/metrics"
	"github.com/voicetyped/speechcoach/internal/scheduler"
	"github.com/voicetyped/speechcoach/pkg/events"
	"github.com/voicetyped/speechcoach/pkg/profile"
)

// errNoPayload sends a tick without media straight to degraded mode.
var errNoPayload = errors.New("coach: window has no payload")

// domain describes one analysis stream of a run.
type domain[R any] struct {
	name     metrics.Domain
	interval time.Duration
	capturer capture.Capturer
	submit   func(ctx context.Context, w capture.Window) (R, error)
	degrade  func(in metrics.DegradedInput) R
	apply    func(w capture.Window, res R) bool
	// announce emits domain events once apply has taken a result.
	announce func(res R)
	isMock   func(res R) bool
}

func newLoop[R any](c *Coach, r *run, d domain[R]) loop {
	r.own(d.capturer)
	return scheduler.New(scheduler.Config[capture.Window, R]{
		Name:     string(d.name),
		Interval: d.interval,
		Timeout:  c.config.RequestTimeout,
		Capture:  d.capturer.Capture,
		Skip:     capture.IsSkip,
		Submit:   d.submit,
		Fallback: func(w capture.Window, _ error) (R, bool) {
			return d.degrade(r.degradedInput(w)), true
		},
		Apply: func(w capture.Window, res R) bool {
			if !d.apply(w, res) {
				return false
			}
			r.board.Touch()
			return true
		},
		Notify: func(_ capture.Window, res R) {
			c.emit(r.ctx, events.MetricUpdated, r.id, events.MetricUpdatedData{
				Domain:  string(d.name),
				Version: r.board.Version(),
				IsMock:  d.isMock(res),
			})
			if d.announce != nil {
				d.announce(res)
			}
		},
		Pool: c.pool,
	})
}

// buildLoops creates the capturers and schedulers the profile enables.
func (c *Coach) buildLoops(r *run) {
	p := r.profile
	audio := media.DeriveAudioOnly(r.session).Primary()

	// The capturer that keeps the whole session feeds end-of-activity
	// analysis: pace first, then pause.
	wantRecording := p.AnalyzeOnStop && activityAnalyzable(p.Activity)
	recordingDomain := ""
	if wantRecording {
		switch {
		case p.Has(profile.DomainPace) && p.Activity != profile.ActivityIdealPace:
			recordingDomain = profile.DomainPace
		case p.Has(profile.DomainPause):
			recordingDomain = profile.DomainPause
		}
	}
	pcm := func(domainName string, act capture.Activity, window time.Duration) *capture.PCMCapturer {
		retention := 2 * window
		if domainName == recordingDomain {
			retention = c.config.Retention
		}
		pc := capture.NewPCMCapturer(audio, act, window, retention)
		if domainName == recordingDomain {
			r.recording = pc
		}
		return pc
	}

	if p.Has(profile.DomainLoudness) {
		r.loops = append(r.loops, c.loudnessLoop(r, pcm(profile.DomainLoudness, capture.ActivityLoudness, p.Windows.Loudness)))
	}
	if p.Has(profile.DomainPace) {
		if p.Activity == profile.ActivityIdealPace {
			rec := capture.NewChunkRecorder(audio, capture.ActivityIdealPace, p.Windows.Pace)
			r.loops = append(r.loops, c.idealPaceLoop(r, rec))
		} else {
			r.loops = append(r.loops, c.paceLoop(r, pcm(profile.DomainPace, capture.ActivityPace, p.Windows.Pace)))
		}
	}
	if p.Has(profile.DomainPause) {
		r.loops = append(r.loops, c.pauseLoop(r, pcm(profile.DomainPause, capture.ActivityPause, p.Windows.Pause)))
	}
	if p.Has(profile.DomainFiller) {
		rec := capture.NewChunkRecorder(audio, capture.ActivityFiller, p.Windows.Filler)
		r.loops = append(r.loops, c.fillerLoop(r, rec))
	}
	if p.Has(profile.DomainEmotion) {
		var video media.Source
		if vs := r.session.Sources(media.KindVideo); len(vs) > 0 {
			video = vs[0]
		}
		rec := capture.NewChunkRecorder(video, capture.ActivityEmotion, p.Windows.Emotion)
		r.loops = append(r.loops, c.emotionLoop(r, rec))
	}

	if wantRecording && r.recording == nil {
		// Nothing scheduled keeps the whole session; keep a silent buffer.
		r.recording = capture.NewPCMCapturer(audio, capture.ActivityPace, p.Windows.Pace, c.config.Retention)
		r.own(r.recording)
	}
}

func (c *Coach) loudnessLoop(r *run, cp capture.Capturer) loop {
	return newLoop(c, r, domain[metrics.LoudnessResult]{
		name:     metrics.DomainLoudness,
		interval: r.profile.Intervals.Loudness,
		capturer: cp,
		submit: func(ctx context.Context, w capture.Window) (metrics.LoudnessResult, error) {
			ch := r.chunk(w)
			if ch.Audio == nil {
				return metrics.LoudnessResult{}, errNoPayload
			}
			resp, err := c.analyzer.PredictLoudness(ctx, ch)
			if err != nil {
				return metrics.LoudnessResult{}, err
			}
			return metrics.LoudnessResult{
				Category:   metrics.ParseLoudnessCategory(resp.Category),
				Samples:    w.Samples,
				CapturedAt: w.CapturedAt,
			}, nil
		},
		degrade: c.provider.Loudness,
		apply: func(_ capture.Window, res metrics.LoudnessResult) bool {
			return r.board.Loudness.Apply(res)
		},
		isMock: func(res metrics.LoudnessResult) bool { return res.IsMock },
	})
}

func paceResult(resp analysis.PaceResponse, w capture.Window) metrics.PaceResult {
	return metrics.PaceResult{
		WPM:         resp.CurrentWPM,
		ServerScore: resp.Score,
		Feedback:    string(resp.Feedback),
		IsMock:      resp.IsMock,
		CapturedAt:  w.CapturedAt,
	}
}

func (c *Coach) paceLoop(r *run, cp capture.Capturer) loop {
	return newLoop(c, r, domain[metrics.PaceResult]{
		name:     metrics.DomainPace,
		interval: r.profile.Intervals.Pace,
		capturer: cp,
		submit: func(ctx context.Context, w capture.Window) (metrics.PaceResult, error) {
			resp, err := c.analyzer.AnalyzePace(ctx, r.chunk(w))
			if err != nil {
				return metrics.PaceResult{}, err
			}
			return paceResult(resp, w), nil
		},
		degrade: c.provider.Pace,
		apply: func(_ capture.Window, res metrics.PaceResult) bool {
			return r.board.Pace.Apply(res)
		},
		isMock: func(res metrics.PaceResult) bool { return res.IsMock },
	})
}

func (c *Coach) idealPaceLoop(r *run, cp capture.Capturer) loop {
	return newLoop(c, r, domain[metrics.PaceResult]{
		name:     metrics.DomainPace,
		interval: r.profile.Intervals.Pace,
		capturer: cp,
		submit: func(ctx context.Context, w capture.Window) (metrics.PaceResult, error) {
			resp, err := c.analyzer.IdealPaceChunk(ctx, r.chunk(w), r.nextChunkIndex())
			if err != nil {
				return metrics.PaceResult{}, err
			}
			return paceResult(resp, w), nil
		},
		degrade: c.provider.Pace,
		apply: func(_ capture.Window, res metrics.PaceResult) bool {
			return r.board.Pace.Apply(res)
		},
		isMock: func(res metrics.PaceResult) bool { return res.IsMock },
	})
}

func pauseResult(resp analysis.PauseResponse, w capture.Window) metrics.PauseResult {
	res := metrics.PauseResult{
		PauseRatio:           resp.Metrics.PauseRatio,
		ExcessivePauses:      resp.Metrics.ExcessivePauses,
		LongPauses:           resp.Metrics.LongPauses,
		CurrentPauseDuration: resp.Metrics.CurrentPauseDuration,
		FlowScore:            resp.Scores.FlowScore,
		ActivityScore:        resp.Scores.ActivityScore,
		IsMock:               resp.IsMock,
		CapturedAt:           w.CapturedAt,
	}
	for _, a := range resp.Feedback.Alerts {
		if a.Message == "" {
			continue
		}
		kind := a.Type
		if kind == "" {
			kind = "service"
		}
		res.Alerts = append(res.Alerts, metrics.Alert{
			Severity: metrics.ParseSeverity(a.Severity),
			Kind:     kind,
			Message:  a.Message,
		})
	}
	for _, s := range resp.Feedback.Suggestions {
		if s != "" {
			res.Suggestions = append(res.Suggestions, string(s))
		}
	}
	return res
}

func (c *Coach) pauseLoop(r *run, cp capture.Capturer) loop {
	return newLoop(c, r, domain[metrics.PauseResult]{
		name:     metrics.DomainPause,
		interval: r.profile.Intervals.Pause,
		capturer: cp,
		submit: func(ctx context.Context, w capture.Window) (metrics.PauseResult, error) {
			resp, err := c.analyzer.MonitorPause(ctx, r.chunk(w))
			if err != nil {
				return metrics.PauseResult{}, err
			}
			return pauseResult(resp, w), nil
		},
		degrade: c.provider.Pause,
		apply: func(_ capture.Window, res metrics.PauseResult) bool {
			return r.board.Pause.Apply(res)
		},
		announce: func(metrics.PauseResult) {
			for _, a := range r.board.Pause.Alerts() {
				c.emit(r.ctx, events.AlertRaised, r.id, events.AlertRaisedData{
					Severity: string(a.Severity),
					Kind:     a.Kind,
					Message:  a.Message,
				})
			}
		},
		isMock: func(res metrics.PauseResult) bool { return res.IsMock },
	})
}

func (c *Coach) fillerLoop(r *run, cp capture.Capturer) loop {
	return newLoop(c, r, domain[metrics.FillerResult]{
		name:     metrics.DomainFiller,
		interval: r.profile.Intervals.Filler,
		capturer: cp,
		submit: func(ctx context.Context, w capture.Window) (metrics.FillerResult, error) {
			ch := r.chunk(w)
			if ch.Audio == nil {
				return metrics.FillerResult{}, errNoPayload
			}
			resp, err := c.analyzer.UploadRecording(ctx, ch)
			if err != nil {
				return metrics.FillerResult{}, err
			}
			return metrics.FillerResult{FillerCount: resp.FillerCount, TotalChunks: resp.TotalChunks}, nil
		},
		degrade: c.provider.Filler,
		apply: func(_ capture.Window, res metrics.FillerResult) bool {
			return r.board.Filler.Apply(res)
		},
		isMock: func(res metrics.FillerResult) bool { return res.IsMock },
	})
}

func (c *Coach) emotionLoop(r *run, cp capture.Capturer) loop {
	return newLoop(c, r, domain[metrics.EmotionResult]{
		name:     metrics.DomainEmotion,
		interval: r.profile.Intervals.Emotion,
		capturer: cp,
		submit: func(ctx context.Context, w capture.Window) (metrics.EmotionResult, error) {
			frame := w.Base64()
			if frame == "" {
				return metrics.EmotionResult{}, errNoPayload
			}
			resp, err := c.analyzer.PredictEmotion(ctx, analysis.EmotionRequest{
				Frame:     frame,
				MIME:      w.MIME,
				SessionID: r.id,
				Timestamp: w.CapturedAt.UnixMilli(),
			})
			if err != nil {
				return metrics.EmotionResult{}, err
			}
			return metrics.EmotionResult{
				Probabilities: resp.Probabilities,
				FaceDetected:  resp.FaceDetected,
				CapturedAt:    w.CapturedAt,
			}, nil
		},
		degrade: c.provider.Emotion,
		apply: func(_ capture.Window, res metrics.EmotionResult) bool {
			return r.board.Emotion.Apply(res)
		},
		isMock: func(res metrics.EmotionResult) bool { return res.IsMock },
	})
}

func activityAnalyzable(activity string) bool {
	_, err := analysis.ActivityPath(activity)
	return err == nil
}

func chunkFilename(w capture.Window) string {
	ext := ".bin"
	switch w.MIME {
	case capture.MIMEWAV:
		ext = ".wav"
	case capture.MIMEOgg:
		ext = ".ogg"
	case capture.MIMEIVF:
		ext = ".ivf"
	}
	return fmt.Sprintf("%s-%d%s", w.Activity, w.Seq, ext)
}
