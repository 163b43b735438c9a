package capture

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/voicetyped/speechcoach/internal/media"
	"github.com/voicetyped/speechcoach/pkg/wav"
)

const (
	opusClockRate = 48000
	opusChannels  = 2
	chunkTapDepth = 512
)

// ChunkRecorder records a fresh container-native blob per Capture call.
// Nothing is retained between calls.
type ChunkRecorder struct {
	source   media.Source
	activity Activity
	duration time.Duration
	now      func() time.Time
	seq      atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// NewChunkRecorder returns a recorder producing duration-long chunks of src.
func NewChunkRecorder(src media.Source, activity Activity, duration time.Duration) *ChunkRecorder {
	return &ChunkRecorder{
		source:   src,
		activity: activity,
		duration: duration,
		now:      time.Now,
	}
}

// Capture records one chunk. Recording failures produce a duration-only
// fallback window; only cancellation and Close are returned as errors.
func (r *ChunkRecorder) Capture(ctx context.Context) (Window, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return Window{}, ErrClosed
	}

	start := r.now()
	rec := &recording{source: r.source, duration: r.duration}
	payload, mime, err := rec.run(ctx)
	if ctx.Err() != nil {
		return Window{}, ctx.Err()
	}
	w := Window{
		Activity:   r.activity,
		Duration:   r.duration,
		CapturedAt: start,
		Seq:        r.seq.Add(1),
	}
	if err != nil {
		slog.WarnContext(ctx, "chunk recording failed, sending duration only",
			slog.String("activity", string(r.activity)),
			slog.String("error", err.Error()))
		w.Fallback = true
		return w, nil
	}
	w.Payload = payload
	w.MIME = mime
	return w, nil
}

// Close makes later Capture calls fail with ErrClosed.
func (r *ChunkRecorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// recording is a single-use recorder bound to one tick.
type recording struct {
	source   media.Source
	duration time.Duration
}

func (rec *recording) run(ctx context.Context) ([]byte, string, error) {
	if rec.source == nil {
		return nil, "", ErrNoMedia
	}
	codec := rec.source.Codec()
	switch {
	case strings.EqualFold(codec, webrtc.MimeTypeOpus):
		b, err := rec.recordOgg(ctx)
		return b, MIMEOgg, err
	case strings.EqualFold(codec, webrtc.MimeTypeVP8):
		b, err := rec.recordIVF(ctx)
		return b, MIMEIVF, err
	case rec.source.Kind() == media.KindAudio:
		b, err := rec.recordWAV(ctx)
		return b, MIMEWAV, err
	default:
		return nil, "", fmt.Errorf("capture: unsupported codec %q", codec)
	}
}

func (rec *recording) recordOgg(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	w, err := oggwriter.NewWith(&buf, opusClockRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	tap := rec.source.TapRTP(chunkTapDepth)
	defer tap.Close()

	n, err := rec.drainRTP(ctx, tap, func(pkt *rtp.Packet) error { return w.WriteRTP(pkt) })
	if cerr := w.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoMedia
	}
	return buf.Bytes(), nil
}

func (rec *recording) recordIVF(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	w, err := ivfwriter.NewWith(&buf)
	if err != nil {
		return nil, fmt.Errorf("ivf writer: %w", err)
	}
	tap := rec.source.TapRTP(chunkTapDepth)
	defer tap.Close()

	n, err := rec.drainRTP(ctx, tap, func(pkt *rtp.Packet) error { return w.WriteRTP(pkt) })
	if cerr := w.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoMedia
	}
	return buf.Bytes(), nil
}

func (rec *recording) drainRTP(ctx context.Context, tap *media.RTPTap, write func(*rtp.Packet) error) (int, error) {
	timer := time.NewTimer(rec.duration)
	defer timer.Stop()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-timer.C:
			return n, nil
		case pkt, ok := <-tap.C:
			if !ok {
				return n, nil
			}
			if err := write(pkt); err != nil {
				return n, err
			}
			n++
		}
	}
}

func (rec *recording) recordWAV(ctx context.Context) ([]byte, error) {
	tap := rec.source.TapPCM(chunkTapDepth)
	defer tap.Close()

	timer := time.NewTimer(rec.duration)
	defer timer.Stop()
	var samples []float32
	for done := false; !done; {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			done = true
		case frame, ok := <-tap.C:
			if !ok {
				done = true
				break
			}
			samples = append(samples, frame...)
		}
	}
	if len(samples) == 0 {
		return nil, ErrNoMedia
	}
	return wav.Encode(samples, rec.source.SampleRate()), nil
}
