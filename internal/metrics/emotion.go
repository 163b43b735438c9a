package metrics

import (
	"sync"
	"time"
)

// EmotionLabels is the fixed label set reported by the emotion service.
var EmotionLabels = []string{"angry", "disgust", "fear", "happy", "neutral", "sad", "surprise"}

// DefaultDominanceWindow is the trailing window used to pick the dominant label.
const DefaultDominanceWindow = 3 * time.Second

// EmotionResult is one analyzed video frame.
type EmotionResult struct {
	Probabilities map[string]float64
	FaceDetected  bool
	CapturedAt    time.Time
	IsMock        bool
}

type emotionObservation struct {
	at    time.Time
	probs map[string]float64
}

// EmotionState smooths per-label probabilities and tracks the dominant label
// over a trailing window.
type EmotionState struct {
	mu           sync.RWMutex
	window       time.Duration
	smoothers    map[string]*EMA
	observations []emotionObservation
	dominant     string
	faceDetected bool
	samples      int
	mockSamples  int
	isMock       bool
	guard        orderGuard
	dominance    map[string]int
}

// EmotionSnapshot is a copy of EmotionState.
type EmotionSnapshot struct {
	Smoothed     map[string]float64 `json:"smoothed_probabilities"`
	Dominant     string             `json:"dominant_label"`
	FaceDetected bool               `json:"face_detected"`
	SampleCount  int                `json:"sample_count"`
	IsMock       bool               `json:"is_mock"`
	// Tally counts how often each label was dominant.
	Tally map[string]int `json:"dominance_tally,omitempty"`
}

// NewEmotionState creates an empty emotion state.
func NewEmotionState(alpha float64, window time.Duration) *EmotionState {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	if window <= 0 {
		window = DefaultDominanceWindow
	}
	s := &EmotionState{
		window:    window,
		smoothers: make(map[string]*EMA, len(EmotionLabels)),
		dominance: make(map[string]int),
	}
	for _, l := range EmotionLabels {
		s.smoothers[l] = &EMA{Alpha: alpha}
	}
	return s
}

// Apply folds a frame result in. It returns false for out-of-order results.
func (s *EmotionState) Apply(r EmotionResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.guard.accept(r.CapturedAt) {
		return false
	}
	s.faceDetected = r.FaceDetected
	s.isMock = r.IsMock
	s.evictLocked(r.CapturedAt)
	// Dominance only ever reflects the trailing window, even an empty one.
	s.dominant = dominantLabel(s.observations)
	if !r.FaceDetected || len(r.Probabilities) == 0 {
		return true
	}

	probs := make(map[string]float64, len(EmotionLabels))
	for _, l := range EmotionLabels {
		p := clamp01(r.Probabilities[l])
		probs[l] = p
		s.smoothers[l].Update(p)
	}
	s.observations = append(s.observations, emotionObservation{at: r.CapturedAt, probs: probs})
	s.samples++
	if r.IsMock {
		s.mockSamples++
	}
	s.dominant = dominantLabel(s.observations)
	if s.dominant != "" {
		s.dominance[s.dominant]++
	}
	return true
}

func (s *EmotionState) evictLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.observations) && s.observations[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.observations = append(s.observations[:0], s.observations[i:]...)
	}
}

// dominantLabel averages every observation per label and returns the
// highest. Ties resolve to the earlier label in EmotionLabels.
func dominantLabel(obs []emotionObservation) string {
	if len(obs) == 0 {
		return ""
	}
	best, bestAvg := "", -1.0
	for _, l := range EmotionLabels {
		sum := 0.0
		for _, o := range obs {
			sum += o.probs[l]
		}
		if avg := sum / float64(len(obs)); avg > bestAvg {
			best, bestAvg = l, avg
		}
	}
	return best
}

// Snapshot copies the current state.
func (s *EmotionState) Snapshot() EmotionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := EmotionSnapshot{
		Smoothed:     make(map[string]float64, len(EmotionLabels)),
		Dominant:     s.dominant,
		FaceDetected: s.faceDetected,
		SampleCount:  s.samples,
		IsMock:       s.isMock,
		Tally:        make(map[string]int, len(s.dominance)),
	}
	for _, l := range EmotionLabels {
		snap.Smoothed[l] = s.smoothers[l].Value()
	}
	for k, v := range s.dominance {
		snap.Tally[k] = v
	}
	return snap
}

// MockSamples returns how many applied frames were synthesized.
func (s *EmotionState) MockSamples() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mockSamples
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
