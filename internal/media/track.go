package media

import (
	"sync"

	"github.com/pion/rtp"
)

// Kind is the media kind of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Source is the read-only view of a track handed to consumers. Consumers tap
// a source; only the acquisition layer can stop the underlying track.
type Source interface {
	ID() string
	Kind() Kind
	SampleRate() int
	// Codec is the RTP mime type ("audio/opus", "video/VP8") or empty for
	// tracks that only carry raw PCM.
	Codec() string
	TapPCM(buffer int) *PCMTap
	TapRTP(buffer int) *RTPTap
	// Done is closed when the track stops or its producer runs out of media.
	Done() <-chan struct{}
}

// PCMTap receives decoded mono float frames from an audio track.
type PCMTap struct {
	C     <-chan []float32
	id    int
	track *Track
	once  sync.Once
}

// Close detaches the tap from its track.
func (p *PCMTap) Close() {
	p.once.Do(func() { p.track.removePCMTap(p.id) })
}

// RTPTap receives raw RTP packets from a network track.
type RTPTap struct {
	C     <-chan *rtp.Packet
	id    int
	track *Track
	once  sync.Once
}

// Close detaches the tap from its track.
func (r *RTPTap) Close() {
	r.once.Do(func() { r.track.removeRTPTap(r.id) })
}

// Track is one hardware or network media track. Producers push frames with
// WritePCM / WriteRTP; consumers read through taps. A full tap drops frames
// instead of blocking the producer.
type Track struct {
	id         string
	kind       Kind
	sampleRate int
	codec      string

	mu      sync.RWMutex
	pcmTaps map[int]chan []float32
	rtpTaps map[int]chan *rtp.Packet
	nextTap int
	paused  bool
	stopped bool
	done    chan struct{}
	onStop  func()
}

// NewTrack creates a track. sampleRate is the rate of the PCM frames the
// track produces (0 for video).
func NewTrack(id string, kind Kind, sampleRate int, codec string) *Track {
	return &Track{
		id:         id,
		kind:       kind,
		sampleRate: sampleRate,
		codec:      codec,
		pcmTaps:    make(map[int]chan []float32),
		rtpTaps:    make(map[int]chan *rtp.Packet),
		done:       make(chan struct{}),
	}
}

func (t *Track) ID() string            { return t.id }
func (t *Track) Kind() Kind            { return t.kind }
func (t *Track) SampleRate() int       { return t.sampleRate }
func (t *Track) Codec() string         { return t.codec }
func (t *Track) Done() <-chan struct{} { return t.done }

// OnStop registers a producer cleanup hook run once when the track stops.
func (t *Track) OnStop(fn func()) {
	t.mu.Lock()
	t.onStop = fn
	t.mu.Unlock()
}

// TapPCM subscribes to decoded PCM frames.
func (t *Track) TapPCM(buffer int) *PCMTap {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan []float32, buffer)
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextTap
	t.nextTap++
	if t.stopped {
		close(ch)
	} else {
		t.pcmTaps[id] = ch
	}
	return &PCMTap{C: ch, id: id, track: t}
}

// TapRTP subscribes to raw RTP packets.
func (t *Track) TapRTP(buffer int) *RTPTap {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan *rtp.Packet, buffer)
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextTap
	t.nextTap++
	if t.stopped {
		close(ch)
	} else {
		t.rtpTaps[id] = ch
	}
	return &RTPTap{C: ch, id: id, track: t}
}

// WritePCM fans a frame out to every PCM tap. Each tap gets its own copy so
// consumers can never corrupt each other's data.
func (t *Track) WritePCM(samples []float32) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped || t.paused || len(samples) == 0 {
		return
	}
	for _, ch := range t.pcmTaps {
		frame := make([]float32, len(samples))
		copy(frame, samples)
		select {
		case ch <- frame:
		default:
		}
	}
}

// WriteRTP fans a packet out to every RTP tap.
func (t *Track) WriteRTP(pkt *rtp.Packet) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped || t.paused || pkt == nil {
		return
	}
	for _, ch := range t.rtpTaps {
		select {
		case ch <- pkt.Clone():
		default:
		}
	}
}

// End marks the producer as exhausted. Taps stay open until Stop.
func (t *Track) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeDoneLocked()
}

func (t *Track) setPaused(paused bool) {
	t.mu.Lock()
	t.paused = paused
	t.mu.Unlock()
}

// stop closes every tap and runs the producer hook. Safe to call twice.
func (t *Track) stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	for id, ch := range t.pcmTaps {
		close(ch)
		delete(t.pcmTaps, id)
	}
	for id, ch := range t.rtpTaps {
		close(ch)
		delete(t.rtpTaps, id)
	}
	t.closeDoneLocked()
	onStop := t.onStop
	t.mu.Unlock()

	if onStop != nil {
		onStop()
	}
}

func (t *Track) closeDoneLocked() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

func (t *Track) removePCMTap(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.pcmTaps[id]; ok {
		close(ch)
		delete(t.pcmTaps, id)
	}
}

func (t *Track) removeRTPTap(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.rtpTaps[id]; ok {
		close(ch)
		delete(t.rtpTaps, id)
	}
}
