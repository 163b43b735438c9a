package metrics

import "math"

// Energy thresholds on normalized float PCM.
const (
	SilenceRMS = 0.01
	LoudRMS    = 0.3
	frameMs    = 30
)

// RMS returns the root-mean-square level of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// SilenceRatio splits samples into 30ms frames and returns the share whose
// energy stays under SilenceRMS.
func SilenceRatio(samples []float32, sampleRate int) float64 {
	n := sampleRate * frameMs / 1000
	if n <= 0 || len(samples) < n {
		return 0
	}
	frames, silent := 0, 0
	for i := 0; i+n <= len(samples); i += n {
		frames++
		if RMS(samples[i:i+n]) < SilenceRMS {
			silent++
		}
	}
	return float64(silent) / float64(frames)
}

// Waveform reduces samples to n peak amplitudes for visualization.
func Waveform(samples []float32, n int) []float64 {
	out := make([]float64, n)
	if n <= 0 || len(samples) == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		lo := i * len(samples) / n
		hi := (i + 1) * len(samples) / n
		peak := 0.0
		for _, s := range samples[lo:hi] {
			if v := math.Abs(float64(s)); v > peak {
				peak = v
			}
		}
		out[i] = math.Min(peak, 1)
	}
	return out
}
