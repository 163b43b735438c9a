package capture

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/voicetyped/speechcoach/internal/media"
	"github.com/voicetyped/speechcoach/pkg/wav"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func ramp(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)/float32(n*4)
	}
	return out
}

func TestSampleBufferTailIsNonDestructive(t *testing.T) {
	b := NewSampleBuffer(10, 0)
	prev := 0
	for tick := 0; tick < 5; tick++ {
		b.Append(ramp(10, float32(tick)))
		got, ok := b.Tail(10)
		if !ok {
			t.Fatalf("tick %d: tail not available", tick)
		}
		if got[0] != float32(tick) {
			t.Errorf("tick %d: tail starts at %v, want %v", tick, got[0], float32(tick))
		}
		if b.Len() < prev {
			t.Fatalf("buffer shrank from %d to %d", prev, b.Len())
		}
		prev = b.Len()
	}
	if b.Len() != 50 {
		t.Errorf("got len %d, want 50", b.Len())
	}
}

func TestSampleBufferTailCopies(t *testing.T) {
	b := NewSampleBuffer(4, 0)
	b.Append([]float32{1, 2, 3, 4})
	got, _ := b.Tail(2)
	got[0] = 99
	again, _ := b.Tail(2)
	if again[0] != 3 {
		t.Errorf("tail aliases buffer: got %v", again)
	}
	if _, ok := b.Tail(5); ok {
		t.Error("tail of more than buffered should fail")
	}
}

func TestSampleBufferRetention(t *testing.T) {
	b := NewSampleBuffer(10, time.Second) // cap 10 samples
	for i := 0; i < 4; i++ {
		b.Append(ramp(5, float32(i)))
	}
	if b.Len() > 12 {
		t.Errorf("retention not applied: len %d", b.Len())
	}
	got, ok := b.Tail(5)
	if !ok || got[0] != 3 {
		t.Errorf("newest samples lost: %v", got)
	}
}

func TestPCMCapturerColdStartAndUnderrun(t *testing.T) {
	track := media.NewTrack("mic", media.KindAudio, 100, "")
	c := NewPCMCapturer(track, ActivityLoudness, time.Second, 0)
	defer c.Close()
	ctx := context.Background()

	track.WritePCM(ramp(50, 0))
	waitFor(t, func() bool { return c.Buffer().Len() == 50 })
	if _, err := c.Capture(ctx); !errors.Is(err, ErrNotEnoughAudio) {
		t.Fatalf("got %v, want ErrNotEnoughAudio", err)
	}

	track.WritePCM(ramp(50, 1))
	waitFor(t, func() bool { return c.Buffer().Len() == 100 })
	if _, err := c.Capture(ctx); !errors.Is(err, ErrColdStart) {
		t.Fatalf("got %v, want ErrColdStart", err)
	}

	track.WritePCM(ramp(100, 2))
	waitFor(t, func() bool { return c.Buffer().Len() == 200 })
	w, err := c.Capture(ctx)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(w.Payload) != wav.HeaderSize+100*2 {
		t.Errorf("got payload %d bytes, want %d", len(w.Payload), wav.HeaderSize+200)
	}
	if w.MIME != MIMEWAV || w.Activity != ActivityLoudness || w.Seq != 1 {
		t.Errorf("unexpected window metadata: %+v", w)
	}
	if w.Samples[0] != 2 {
		t.Errorf("window is not the tail: first sample %v", w.Samples[0])
	}
	if c.Buffer().Len() != 200 {
		t.Errorf("cut drained the buffer: len %d", c.Buffer().Len())
	}
	h, err := wav.ParseHeader(w.Payload)
	if err != nil || h.SampleRate != 100 {
		t.Errorf("header: %+v, %v", h, err)
	}
}

func TestPCMCapturersAreIndependent(t *testing.T) {
	track := media.NewTrack("mic", media.KindAudio, 10, "")
	a := NewPCMCapturer(track, ActivityPace, time.Second, 0)
	b := NewPCMCapturer(track, ActivityPause, time.Second, 0)
	defer a.Close()
	defer b.Close()

	track.WritePCM(ramp(30, 0))
	waitFor(t, func() bool { return a.Buffer().Len() == 30 && b.Buffer().Len() == 30 })
	_, _ = a.Capture(context.Background())
	_, _ = a.Capture(context.Background())
	if b.Buffer().Len() != 30 {
		t.Errorf("cutting a affected b: len %d", b.Buffer().Len())
	}
}

func TestPCMCapturerWithoutSourceFallsBack(t *testing.T) {
	c := NewPCMCapturer(nil, ActivityPause, 3*time.Second, 0)
	w, err := c.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !w.Fallback || w.Payload != nil || w.Duration <= 0 {
		t.Errorf("want duration-only fallback, got %+v", w)
	}
	c.Close()
	c.Close()
	if _, err := c.Capture(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestPCMCapturerFull(t *testing.T) {
	track := media.NewTrack("mic", media.KindAudio, 8, "")
	c := NewPCMCapturer(track, ActivityPace, time.Second, 0)
	if c.Full() != nil {
		t.Error("empty buffer should produce no recording")
	}
	track.WritePCM(ramp(20, 0))
	waitFor(t, func() bool { return c.Buffer().Len() == 20 })
	full := c.Full()
	if len(full) != wav.HeaderSize+40 {
		t.Errorf("got %d bytes, want %d", len(full), wav.HeaderSize+40)
	}
	c.Close()
	if c.Buffer().Len() != 0 {
		t.Error("close should reset the buffer")
	}
}

func feed(track *media.Track, stop <-chan struct{}, write func()) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			write()
		}
	}
}

func TestChunkRecorderWAV(t *testing.T) {
	track := media.NewTrack("mic", media.KindAudio, 16000, "")
	stop := make(chan struct{})
	defer close(stop)
	go feed(track, stop, func() { track.WritePCM(make([]float32, 80)) })

	r := NewChunkRecorder(track, ActivityFiller, 100*time.Millisecond)
	w, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if w.Fallback {
		t.Fatal("got fallback window")
	}
	if w.MIME != MIMEWAV {
		t.Errorf("got MIME %q, want %q", w.MIME, MIMEWAV)
	}
	if _, err := wav.ParseHeader(w.Payload); err != nil {
		t.Errorf("payload is not WAV: %v", err)
	}
	if w.Base64() == "" {
		t.Error("empty base64 encoding")
	}
}

func TestChunkRecorderOgg(t *testing.T) {
	track := media.NewTrack("mic", media.KindAudio, 16000, webrtc.MimeTypeOpus)
	stop := make(chan struct{})
	defer close(stop)
	var seq uint16
	go feed(track, stop, func() {
		seq++
		track.WriteRTP(&rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: uint32(seq) * 960, PayloadType: 111},
			Payload: []byte{0xfc, 0xff, 0xfe},
		})
	})

	r := NewChunkRecorder(track, ActivityIdealPace, 100*time.Millisecond)
	w, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if w.Fallback {
		t.Fatal("got fallback window")
	}
	if w.MIME != MIMEOgg || !bytes.HasPrefix(w.Payload, []byte("OggS")) {
		t.Errorf("payload is not Ogg: mime %q prefix %q", w.MIME, w.Payload[:4])
	}
}

func TestChunkRecorderIVF(t *testing.T) {
	track := media.NewTrack("cam", media.KindVideo, 0, webrtc.MimeTypeVP8)
	stop := make(chan struct{})
	defer close(stop)
	var seq uint16
	go feed(track, stop, func() {
		seq++
		track.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				SequenceNumber: seq,
				Timestamp:      uint32(seq) * 3000,
				PayloadType:    96,
			},
			// VP8 descriptor with the start bit, then a key frame header.
			Payload: []byte{0x10, 0x00, 0x00, 0x00, 0x9d, 0x01, 0x2a, 0x40, 0x01, 0xf0, 0x00},
		})
	})

	r := NewChunkRecorder(track, ActivityEmotion, 100*time.Millisecond)
	w, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if w.MIME != MIMEIVF || !bytes.HasPrefix(w.Payload, []byte("DKIF")) {
		t.Errorf("payload is not IVF: mime %q", w.MIME)
	}
}

func TestChunkRecorderSilentTrackFallsBack(t *testing.T) {
	track := media.NewTrack("mic", media.KindAudio, 16000, "")
	r := NewChunkRecorder(track, ActivityFiller, 20*time.Millisecond)
	w, err := r.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if !w.Fallback || w.Duration != 20*time.Millisecond {
		t.Errorf("want duration-only fallback, got %+v", w)
	}
}

func TestChunkRecorderCancelled(t *testing.T) {
	track := media.NewTrack("mic", media.KindAudio, 16000, "")
	r := NewChunkRecorder(track, ActivityFiller, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := r.Capture(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	r.Close()
	if _, err := r.Capture(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}
