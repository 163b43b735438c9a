package metrics

import (
	"strings"
	"sync"
	"time"
)

// LoudnessCategory is the classifier output.
type LoudnessCategory string

const (
	LoudnessAcceptable LoudnessCategory = "Acceptable"
	LoudnessLow        LoudnessCategory = "Low/Silent"
	LoudnessTooLoud    LoudnessCategory = "Too Loud"
	LoudnessUnknown    LoudnessCategory = "Prediction error"
)

// WaveformSize is the number of points kept for visualization.
const WaveformSize = 64

// ParseLoudnessCategory maps service labels onto a category.
func ParseLoudnessCategory(s string) LoudnessCategory {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(v, "loud"):
		return LoudnessTooLoud
	case strings.Contains(v, "low"), strings.Contains(v, "silent"), strings.Contains(v, "quiet"):
		return LoudnessLow
	case strings.Contains(v, "accept"), v == "normal", v == "ok":
		return LoudnessAcceptable
	default:
		return LoudnessUnknown
	}
}

// CategoryForRMS classifies a level locally.
func CategoryForRMS(rms float64) LoudnessCategory {
	switch {
	case rms < SilenceRMS:
		return LoudnessLow
	case rms > LoudRMS:
		return LoudnessTooLoud
	default:
		return LoudnessAcceptable
	}
}

// LoudnessResult is one classified window.
type LoudnessResult struct {
	Category   LoudnessCategory
	Samples    []float32
	IsMock     bool
	CapturedAt time.Time
}

// LoudnessState tracks the latest category and waveform.
type LoudnessState struct {
	mu        sync.RWMutex
	category  LoudnessCategory
	waveform  []float64
	isMock    bool
	counts    map[LoudnessCategory]int
	mockTicks int
	guard     orderGuard
}

// LoudnessSnapshot is a copy of LoudnessState.
type LoudnessSnapshot struct {
	Category LoudnessCategory         `json:"category"`
	Waveform []float64                `json:"waveform_samples"`
	Counts   map[LoudnessCategory]int `json:"category_counts"`
	IsMock   bool                     `json:"is_mock"`
}

// NewLoudnessState creates an empty loudness state.
func NewLoudnessState() *LoudnessState {
	return &LoudnessState{
		waveform: make([]float64, WaveformSize),
		counts:   make(map[LoudnessCategory]int),
	}
}

// Apply records a result. It returns false for out-of-order results.
func (l *LoudnessState) Apply(r LoudnessResult) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.guard.accept(r.CapturedAt) {
		return false
	}
	l.category = r.Category
	if len(r.Samples) > 0 {
		l.waveform = Waveform(r.Samples, WaveformSize)
	}
	l.isMock = r.IsMock
	l.counts[r.Category]++
	if r.IsMock {
		l.mockTicks++
	}
	return true
}

// MockTicks returns how many applied results were synthesized.
func (l *LoudnessState) MockTicks() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.mockTicks
}

// Snapshot copies the current state.
func (l *LoudnessState) Snapshot() LoudnessSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := LoudnessSnapshot{
		Category: l.category,
		Waveform: append([]float64(nil), l.waveform...),
		Counts:   make(map[LoudnessCategory]int, len(l.counts)),
		IsMock:   l.isMock,
	}
	for k, v := range l.counts {
		snap.Counts[k] = v
	}
	return snap
}
