package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/rs/xid"

	"github.com/voicetyped/speechcoach/pkg/wav"
)

// frameDuration is the pacing unit of file playback.
const frameDuration = 20 * time.Millisecond

// WAVDevice replays a 16-bit PCM WAV file as a live microphone. Speed scales
// the playback clock; values <= 0 mean real time.
type WAVDevice struct {
	Path  string
	Speed float64
}

// Open reads the whole file and starts a paced producer goroutine.
func (d *WAVDevice) Open(ctx context.Context, c Constraints) (*Stream, error) {
	if c.Video {
		return nil, fmt.Errorf("%w: file devices carry no video", ErrDeviceUnavailable)
	}
	raw, err := os.ReadFile(d.Path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
	}
	samples, h, err := wav.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	track := NewTrack("file-"+xid.New().String(), KindAudio, h.SampleRate, "")
	playCtx, cancel := context.WithCancel(context.Background())
	track.OnStop(cancel)

	go play(playCtx, track, samples, h.SampleRate, d.Speed)

	return &Stream{Tracks: []*Track{track}}, nil
}

func play(ctx context.Context, track *Track, samples []float32, sampleRate int, speed float64) {
	defer track.End()

	frame := sampleRate * int(frameDuration/time.Millisecond) / 1000
	if frame <= 0 {
		return
	}

	if speed <= 0 {
		speed = 1
	}
	ticker := time.NewTicker(time.Duration(float64(frameDuration) / speed))
	defer ticker.Stop()

	for off := 0; off < len(samples); off += frame {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		end := off + frame
		if end > len(samples) {
			end = len(samples)
		}
		track.WritePCM(samples[off:end])
	}
}
