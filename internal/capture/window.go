// Package capture cuts live tracks into analysis windows: continuous PCM
// buffers muxed to WAV, or short-lived container-native chunk recordings.
package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"time"
)

// Activity tags the analysis domain a window serves.
type Activity string

const (
	ActivityLoudness  Activity = "loudness"
	ActivityPace      Activity = "pace"
	ActivityIdealPace Activity = "ideal-pace"
	ActivityPause     Activity = "pause"
	ActivityFiller    Activity = "filler"
	ActivityEmotion   Activity = "emotion-frame"
)

// Payload MIME types.
const (
	MIMEWAV = "audio/wav"
	MIMEOgg = "audio/ogg"
	MIMEIVF = "video/x-ivf"
)

var (
	// ErrNotEnoughAudio means the tick must be skipped; partial windows are
	// never produced.
	ErrNotEnoughAudio = errors.New("capture: not enough audio buffered")
	// ErrColdStart marks the first full window, which is always discarded.
	ErrColdStart = errors.New("capture: first window discarded")
	ErrNoMedia   = errors.New("capture: no media received")
	ErrClosed    = errors.New("capture: capturer closed")
)

// Window is one immutable submission unit.
type Window struct {
	Activity   Activity
	Payload    []byte
	MIME       string
	Duration   time.Duration
	CapturedAt time.Time
	Seq        uint64
	// Samples holds the PCM behind a WAV payload, for local features.
	Samples    []float32
	SampleRate int
	// Fallback marks a duration-only window produced after a capture failure.
	Fallback bool
}

// Base64 returns the transport encoding of the payload.
func (w Window) Base64() string {
	if len(w.Payload) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(w.Payload)
}

// Capturer produces windows for one scheduler.
type Capturer interface {
	Capture(ctx context.Context) (Window, error)
	Close()
}

// IsSkip reports whether err only means "nothing to submit this tick".
func IsSkip(err error) bool {
	return errors.Is(err, ErrNotEnoughAudio) || errors.Is(err, ErrColdStart)
}
