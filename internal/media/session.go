// Package media owns exclusive access to capture devices and hands read-only
// track views to the rest of the pipeline.
package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/xid"
)

var (
	ErrPermissionDenied  = errors.New("media: permission denied")
	ErrDeviceUnavailable = errors.New("media: no matching device available")
	ErrSessionActive     = errors.New("media: a session is already active")
	ErrSessionStopped    = errors.New("media: session is stopped")
	ErrInvalidState      = errors.New("media: invalid state transition")
)

// State is the lifecycle state of a media session.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Constraints selects the tracks to acquire. Audio is always required.
type Constraints struct {
	Video bool
	// Offer is the SDP offer for signalled devices.
	Offer string
}

// Stream is what a device returns from Open.
type Stream struct {
	Tracks []*Track
	// Answer is the SDP answer produced by signalled devices.
	Answer string
	// Close releases device-level resources after every track has stopped.
	Close func() error
}

// Device opens hardware or network media.
type Device interface {
	Open(ctx context.Context, c Constraints) (*Stream, error)
}

// DeviceFunc adapts a function to the Device interface.
type DeviceFunc func(ctx context.Context, c Constraints) (*Stream, error)

func (f DeviceFunc) Open(ctx context.Context, c Constraints) (*Stream, error) { return f(ctx, c) }

// Session is one active recording session holding exclusive ownership of
// its tracks.
type Session struct {
	ID        string
	StartedAt time.Time

	mu     sync.RWMutex
	state  State
	stream *Stream
}

func newSession(stream *Stream) *Session {
	return &Session{
		ID:        xid.New().String(),
		StartedAt: time.Now(),
		state:     StateRecording,
		stream:    stream,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Live reports whether the session has not been stopped.
func (s *Session) Live() bool {
	return s.State() != StateStopped
}

// Answer returns the SDP answer when the device was signalled.
func (s *Session) Answer() string {
	return s.stream.Answer
}

// Sources returns read-only views of the session's tracks of the given kind.
func (s *Session) Sources(kind Kind) []Source {
	var out []Source
	for _, t := range s.stream.Tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// HasVideo reports whether the session holds a video track.
func (s *Session) HasVideo() bool {
	return len(s.Sources(KindVideo)) > 0
}

// Done is closed once every audio track's producer has ended.
func (s *Session) Done() <-chan struct{} {
	ch := make(chan struct{})
	audio := s.Sources(KindAudio)
	go func() {
		for _, src := range audio {
			<-src.Done()
		}
		close(ch)
	}()
	return ch
}

// AudioTrackSet is a non-owning view over the audio tracks of a session, for
// consumers that must never receive video.
type AudioTrackSet struct {
	SessionID string
	Tracks    []Source
}

// Primary returns the first audio track, or nil.
func (a AudioTrackSet) Primary() Source {
	if len(a.Tracks) == 0 {
		return nil
	}
	return a.Tracks[0]
}

// DeriveAudioOnly extracts the audio tracks of a session.
func DeriveAudioOnly(s *Session) AudioTrackSet {
	return AudioTrackSet{SessionID: s.ID, Tracks: s.Sources(KindAudio)}
}
