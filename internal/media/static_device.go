package media

import (
	"context"
	"strconv"
	"sync"
)

// StaticDevice opens fresh in-memory tracks that the caller feeds by hand.
type StaticDevice struct {
	SampleRate int
	// Video makes the device able to satisfy video constraints.
	Video bool

	mu     sync.Mutex
	opens  int
	tracks []*Track
}

func (d *StaticDevice) Open(_ context.Context, c Constraints) (*Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	rate := d.SampleRate
	if rate <= 0 {
		rate = DecodedSampleRate
	}
	n := strconv.Itoa(d.opens)
	d.tracks = []*Track{NewTrack("static-audio-"+n, KindAudio, rate, "")}
	if c.Video && d.Video {
		d.tracks = append(d.tracks, NewTrack("static-video-"+n, KindVideo, 0, ""))
	}
	return &Stream{Tracks: append([]*Track(nil), d.tracks...)}, nil
}

// Opens counts how many times the device was opened.
func (d *StaticDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Audio returns the audio track of the latest Open, or nil.
func (d *StaticDevice) Audio() *Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tracks {
		if t.Kind() == KindAudio {
			return t
		}
	}
	return nil
}
