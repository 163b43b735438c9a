package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Acquirer grants at most one live session at a time. A second Acquire while
// a session is live, or while another Acquire is still opening the device, is
// rejected with ErrSessionActive.
type Acquirer struct {
	device Device

	mu      sync.Mutex
	active  *Session
	opening bool
}

// NewAcquirer creates an acquirer over the given device.
func NewAcquirer(device Device) *Acquirer {
	return &Acquirer{device: device}
}

// Acquire opens the device once and returns a session that exclusively owns
// the resulting tracks.
func (a *Acquirer) Acquire(ctx context.Context, c Constraints) (*Session, error) {
	a.mu.Lock()
	if a.opening || (a.active != nil && a.active.Live()) {
		a.mu.Unlock()
		return nil, ErrSessionActive
	}
	a.opening = true
	a.mu.Unlock()

	stream, err := a.device.Open(ctx, c)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.opening = false
	if err != nil {
		return nil, err
	}

	if !hasKind(stream.Tracks, KindAudio) || (c.Video && !hasKind(stream.Tracks, KindVideo)) {
		closeStream(stream)
		return nil, fmt.Errorf("%w: requested tracks not provided", ErrDeviceUnavailable)
	}

	s := newSession(stream)
	a.active = s
	slog.InfoContext(ctx, "media session acquired",
		slog.String("session_id", s.ID),
		slog.Int("tracks", len(stream.Tracks)),
		slog.Bool("video", c.Video),
	)
	return s, nil
}

// Release stops every track owned by the session. Releasing a stopped
// session is a no-op.
func (a *Acquirer) Release(s *Session) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	closeStream(s.stream)

	a.mu.Lock()
	if a.active == s {
		a.active = nil
	}
	a.mu.Unlock()

	slog.Info("media session released", slog.String("session_id", s.ID))
}

// Pause stops frame delivery on every track without releasing them.
func (a *Acquirer) Pause(s *Session) error {
	return a.transition(s, StateRecording, StatePaused, true)
}

// Resume restarts frame delivery after Pause.
func (a *Acquirer) Resume(s *Session) error {
	return a.transition(s, StatePaused, StateRecording, false)
}

// Active returns the live session, if any.
func (a *Acquirer) Active() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active != nil && a.active.Live() {
		return a.active
	}
	return nil
}

func (a *Acquirer) transition(s *Session, from, to State, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return ErrSessionStopped
	}
	if s.state != from {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, s.state, to)
	}
	for _, t := range s.stream.Tracks {
		t.setPaused(paused)
	}
	s.state = to
	return nil
}

func closeStream(stream *Stream) {
	for _, t := range stream.Tracks {
		t.stop()
	}
	if stream.Close != nil {
		if err := stream.Close(); err != nil {
			slog.Warn("media: closing device", slog.String("error", err.Error()))
		}
	}
}

func hasKind(tracks []*Track, kind Kind) bool {
	for _, t := range tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}
