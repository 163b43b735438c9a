package capture

import (
	"sync"
	"time"
)

// SampleBuffer accumulates mono float PCM at a fixed sample rate. Reads copy
// the tail and never remove history; only the retention cap evicts, and only
// on Append.
type SampleBuffer struct {
	mu         sync.Mutex
	samples    []float32
	sampleRate int
	maxSamples int
}

// NewSampleBuffer creates a buffer. maxDuration <= 0 keeps everything.
func NewSampleBuffer(sampleRate int, maxDuration time.Duration) *SampleBuffer {
	max := 0
	if maxDuration > 0 {
		max = int(maxDuration.Seconds() * float64(sampleRate))
	}
	return &SampleBuffer{
		samples:    make([]float32, 0, sampleRate*4),
		sampleRate: sampleRate,
		maxSamples: max,
	}
}

// SampleRate returns the fixed rate of the buffer.
func (b *SampleBuffer) SampleRate() int { return b.sampleRate }

// Append adds a frame. When the retention cap is exceeded by a quarter, the
// oldest samples are dropped back down to the cap.
func (b *SampleBuffer) Append(frame []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, frame...)
	if b.maxSamples > 0 && len(b.samples) > b.maxSamples+b.maxSamples/4 {
		drop := len(b.samples) - b.maxSamples
		n := copy(b.samples, b.samples[drop:])
		b.samples = b.samples[:n]
	}
}

// Len returns the number of buffered samples.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}

// Duration returns the buffered audio duration.
func (b *SampleBuffer) Duration() time.Duration {
	if b.sampleRate == 0 {
		return 0
	}
	return time.Duration(float64(b.Len()) / float64(b.sampleRate) * float64(time.Second))
}

// Tail copies the most recent n samples. It reports false when fewer than n
// samples are buffered.
func (b *SampleBuffer) Tail(n int) ([]float32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || len(b.samples) < n {
		return nil, false
	}
	out := make([]float32, n)
	copy(out, b.samples[len(b.samples)-n:])
	return out, true
}

// Snapshot copies the whole buffer.
func (b *SampleBuffer) Snapshot() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// Reset drops every sample.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = b.samples[:0]
}
