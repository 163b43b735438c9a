package metrics

import (
	"sync/atomic"
	"time"
)

// Domain names one analysis stream.
type Domain string

const (
	DomainLoudness Domain = "loudness"
	DomainPace     Domain = "pace"
	DomainPause    Domain = "pause"
	DomainEmotion  Domain = "emotion"
	DomainFiller   Domain = "filler"
)

// Board is the session view model: one state per domain, each written only
// by its own scheduler.
type Board struct {
	Loudness *LoudnessState
	Pace     *PaceState
	Pause    *PauseState
	Emotion  *EmotionState
	Filler   *FillerState

	version atomic.Uint64
}

// BoardConfig parameterizes a new Board.
type BoardConfig struct {
	TargetWPM       float64
	Tolerance       float64
	Alpha           float64
	DominanceWindow time.Duration
}

// NewBoard creates an empty view model.
func NewBoard(cfg BoardConfig) *Board {
	return &Board{
		Loudness: NewLoudnessState(),
		Pace:     NewPaceState(cfg.TargetWPM, cfg.Tolerance),
		Pause:    NewPauseState(),
		Emotion:  NewEmotionState(cfg.Alpha, cfg.DominanceWindow),
		Filler:   NewFillerState(),
	}
}

// Touch bumps the board version after an apply.
func (b *Board) Touch() uint64 { return b.version.Add(1) }

// Version returns the number of applied updates.
func (b *Board) Version() uint64 { return b.version.Load() }

// Snapshot is a consistent-per-domain copy of the board.
type Snapshot struct {
	Version  uint64           `json:"version"`
	Loudness LoudnessSnapshot `json:"loudness"`
	Pace     PaceSnapshot     `json:"pace"`
	Pause    PauseSnapshot    `json:"pause"`
	Emotion  EmotionSnapshot  `json:"emotion"`
	Filler   FillerSnapshot   `json:"filler"`
}

// Snapshot copies every domain state.
func (b *Board) Snapshot() Snapshot {
	return Snapshot{
		Version:  b.Version(),
		Loudness: b.Loudness.Snapshot(),
		Pace:     b.Pace.Snapshot(),
		Pause:    b.Pause.Snapshot(),
		Emotion:  b.Emotion.Snapshot(),
		Filler:   b.Filler.Snapshot(),
	}
}

// MockSamples counts synthesized results across every domain.
func (b *Board) MockSamples() int {
	return b.Loudness.MockTicks() + b.Pace.MockTicks() + b.Pause.MockTicks() +
		b.Emotion.MockSamples() + b.Filler.MockChunks()
}
