package metrics

import (
	"math"
	"sync"
	"time"
)

// Pace defaults.
const (
	DefaultTargetWPM    = 125
	DefaultTolerance    = 15
	PaceHistoryCapacity = 20
)

// PaceResult is one analyzed pace window.
type PaceResult struct {
	WPM         float64
	ServerScore float64
	Feedback    string
	IsMock      bool
	CapturedAt  time.Time
}

// PaceScore is a linear penalty on the distance from target, floored at 0.
func PaceScore(wpm, target float64) float64 {
	return math.Max(0, 100-2*math.Abs(wpm-target))
}

// ConsistencyScore penalizes the population standard deviation of history.
func ConsistencyScore(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	return math.Max(0, 100-2*stddev(history))
}

// WithinTolerance reports whether wpm counts toward a streak. The bound is
// inclusive.
func WithinTolerance(wpm, target, tolerance float64) bool {
	return math.Abs(wpm-target) <= tolerance
}

func stddev(xs []float64) float64 {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return math.Sqrt(v / float64(len(xs)))
}

// PaceState tracks words-per-minute against a target.
type PaceState struct {
	mu          sync.RWMutex
	target      float64
	tolerance   float64
	current     float64
	history     []float64
	consistency float64
	score       float64
	serverScore float64
	streak      int
	bestStreak  int
	feedback    string
	isMock      bool
	ticks       int
	mockTicks   int
	sum         float64
	guard       orderGuard
}

// PaceSnapshot is a copy of PaceState.
type PaceSnapshot struct {
	CurrentWPM       float64   `json:"current_wpm"`
	TargetWPM        float64   `json:"target_wpm"`
	Tolerance        float64   `json:"tolerance"`
	History          []float64 `json:"history"`
	ConsistencyScore float64   `json:"consistency_score"`
	Score            float64   `json:"score"`
	ServerScore      float64   `json:"server_score"`
	StreakCount      int       `json:"streak_count"`
	BestStreak       int       `json:"best_streak"`
	AverageWPM       float64   `json:"average_wpm"`
	Feedback         string    `json:"feedback,omitempty"`
	Ticks            int       `json:"ticks"`
	IsMock           bool      `json:"is_mock"`
}

// NewPaceState creates a pace state for the given target.
func NewPaceState(target, tolerance float64) *PaceState {
	if target <= 0 {
		target = DefaultTargetWPM
	}
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	return &PaceState{
		target:    target,
		tolerance: tolerance,
		history:   make([]float64, 0, PaceHistoryCapacity),
	}
}

// Target returns the target WPM.
func (p *PaceState) Target() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.target
}

// Apply folds a pace result in. It returns false for out-of-order results.
func (p *PaceState) Apply(r PaceResult) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.guard.accept(r.CapturedAt) {
		return false
	}
	p.current = r.WPM
	if len(p.history) == PaceHistoryCapacity {
		copy(p.history, p.history[1:])
		p.history = p.history[:PaceHistoryCapacity-1]
	}
	p.history = append(p.history, r.WPM)
	p.consistency = ConsistencyScore(p.history)
	p.score = PaceScore(r.WPM, p.target)
	p.serverScore = r.ServerScore
	if WithinTolerance(r.WPM, p.target, p.tolerance) {
		p.streak++
		if p.streak > p.bestStreak {
			p.bestStreak = p.streak
		}
	} else {
		p.streak = 0
	}
	p.feedback = r.Feedback
	p.isMock = r.IsMock
	p.ticks++
	p.sum += r.WPM
	if r.IsMock {
		p.mockTicks++
	}
	return true
}

// Streak returns the current perfect streak.
func (p *PaceState) Streak() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streak
}

// MockTicks returns how many applied results were synthesized.
func (p *PaceState) MockTicks() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mockTicks
}

// Snapshot copies the current state.
func (p *PaceState) Snapshot() PaceSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := PaceSnapshot{
		CurrentWPM:       p.current,
		TargetWPM:        p.target,
		Tolerance:        p.tolerance,
		History:          append([]float64(nil), p.history...),
		ConsistencyScore: p.consistency,
		Score:            p.score,
		ServerScore:      p.serverScore,
		StreakCount:      p.streak,
		BestStreak:       p.bestStreak,
		Feedback:         p.feedback,
		Ticks:            p.ticks,
		IsMock:           p.isMock,
	}
	if p.ticks > 0 {
		snap.AverageWPM = p.sum / float64(p.ticks)
	}
	return snap
}
