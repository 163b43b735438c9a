package coach

import (
	"time"

	"github.com/voicetyped/speechcoach/internal/metrics"
)

// Summary is the record of a finished session sent to the backend.
type Summary struct {
	SessionID   string    `json:"sessionId"`
	Profile     string    `json:"profile"`
	Activity    string    `json:"activityType"`
	TargetWPM   float64   `json:"targetWpm"`
	Tolerance   float64   `json:"tolerance"`
	StartedAt   time.Time `json:"startedAt"`
	EndedAt     time.Time `json:"endedAt"`
	DurationSec float64   `json:"duration"`

	AverageWPM       float64   `json:"averageWpm"`
	PaceScore        float64   `json:"paceScore"`
	ConsistencyScore float64   `json:"consistencyScore"`
	BestStreak       int       `json:"bestStreak"`
	WPMHistory       []float64 `json:"wpmHistory,omitempty"`

	AveragePauseRatio float64 `json:"averagePauseRatio"`
	ExcessivePauses   int     `json:"excessivePauses"`
	LongPauses        int     `json:"longPauses"`
	FlowScore         float64 `json:"flowScore"`

	LoudnessCounts  map[metrics.LoudnessCategory]int `json:"loudnessCounts,omitempty"`
	DominantEmotion string                           `json:"dominantEmotion,omitempty"`
	FillerCount     int                              `json:"fillerCount"`
	MockSamples     int                              `json:"mockSamples"`

	FinalScore *float64         `json:"finalScore,omitempty"`
	NewBadges  []map[string]any `json:"newBadges,omitempty"`

	// StopReason is local bookkeeping and is not sent.
	StopReason string `json:"-"`
}

// buildSummary folds the final board state into a Summary.
func buildSummary(r *run, ended time.Time) Summary {
	snap := r.board.Snapshot()
	s := Summary{
		SessionID:   r.id,
		Profile:     r.profile.Name,
		Activity:    r.profile.Activity,
		TargetWPM:   snap.Pace.TargetWPM,
		Tolerance:   snap.Pace.Tolerance,
		StartedAt:   r.startedAt,
		EndedAt:     ended,
		DurationSec: ended.Sub(r.startedAt).Seconds(),

		AverageWPM:       snap.Pace.AverageWPM,
		PaceScore:        snap.Pace.Score,
		ConsistencyScore: snap.Pace.ConsistencyScore,
		BestStreak:       snap.Pace.BestStreak,
		WPMHistory:       snap.Pace.History,

		AveragePauseRatio: snap.Pause.AverageRatio,
		ExcessivePauses:   snap.Pause.ExcessivePauseCount,
		LongPauses:        snap.Pause.LongPauseCount,
		FlowScore:         snap.Pause.FlowScore,

		DominantEmotion: snap.Emotion.Dominant,
		FillerCount:     snap.Filler.Count,
		MockSamples:     r.board.MockSamples(),
	}
	if len(snap.Loudness.Counts) > 0 {
		s.LoudnessCounts = snap.Loudness.Counts
	}
	if res := r.activityResult(); res != nil {
		score := res.FinalScore
		s.FinalScore = &score
		s.NewBadges = res.NewBadges
	}
	return s
}
