package metrics

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Degraded-mode bounds.
const (
	MockPauseRatioMin = 0.05
	MockPauseRatioMax = 0.20
	MockWPMSpread     = 20.0
)

// DegradedInput is what a failed tick still knows about its window.
type DegradedInput struct {
	CapturedAt time.Time
	Duration   time.Duration
	Samples    []float32
	SampleRate int
	TargetWPM  float64
}

// DegradedProvider synthesizes plausible results when the analysis services
// cannot be reached. Every result it returns has IsMock set.
type DegradedProvider interface {
	Loudness(in DegradedInput) LoudnessResult
	Pace(in DegradedInput) PaceResult
	Pause(in DegradedInput) PauseResult
	Emotion(in DegradedInput) EmotionResult
	Filler(in DegradedInput) FillerResult
}

// RandomProvider draws bounded random values, using the window's audio when
// there is some.
type RandomProvider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomProvider creates a provider with a fixed seed.
func NewRandomProvider(seed uint64) *RandomProvider {
	return &RandomProvider{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (p *RandomProvider) uniform(lo, hi float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo + p.rng.Float64()*(hi-lo)
}

func (p *RandomProvider) intn(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}

func (p *RandomProvider) Loudness(in DegradedInput) LoudnessResult {
	cat := LoudnessAcceptable
	if len(in.Samples) > 0 {
		cat = CategoryForRMS(RMS(in.Samples))
	} else if r := p.intn(10); r == 0 {
		cat = LoudnessLow
	}
	return LoudnessResult{Category: cat, Samples: in.Samples, IsMock: true, CapturedAt: in.CapturedAt}
}

func (p *RandomProvider) Pace(in DegradedInput) PaceResult {
	target := in.TargetWPM
	if target <= 0 {
		target = DefaultTargetWPM
	}
	wpm := math.Round(target + p.uniform(-MockWPMSpread, MockWPMSpread))
	return PaceResult{
		WPM:         wpm,
		ServerScore: PaceScore(wpm, target),
		Feedback:    "Estimated pace while analysis is unavailable.",
		IsMock:      true,
		CapturedAt:  in.CapturedAt,
	}
}

func (p *RandomProvider) Pause(in DegradedInput) PauseResult {
	var ratio float64
	if len(in.Samples) > 0 && in.SampleRate > 0 {
		ratio = math.Min(MockPauseRatioMax, math.Max(MockPauseRatioMin, SilenceRatio(in.Samples, in.SampleRate)))
	} else {
		ratio = p.uniform(MockPauseRatioMin, MockPauseRatioMax)
	}
	excessive := 0
	if p.intn(10) == 0 {
		excessive = 1
	}
	return PauseResult{
		PauseRatio:           ratio,
		ExcessivePauses:      excessive,
		LongPauses:           p.intn(3),
		CurrentPauseDuration: math.Round(p.uniform(0, 2)*10) / 10,
		FlowScore:            math.Round(100 - ratio*200),
		ActivityScore:        math.Round(100 - ratio*150),
		IsMock:               true,
		CapturedAt:           in.CapturedAt,
	}
}

func (p *RandomProvider) Emotion(in DegradedInput) EmotionResult {
	probs := make(map[string]float64, len(EmotionLabels))
	total := 0.0
	for _, l := range EmotionLabels {
		v := p.uniform(0, 0.2)
		if l == "neutral" {
			v += 0.5
		}
		probs[l] = v
		total += v
	}
	for l := range probs {
		probs[l] /= total
	}
	return EmotionResult{Probabilities: probs, FaceDetected: true, IsMock: true, CapturedAt: in.CapturedAt}
}

func (p *RandomProvider) Filler(in DegradedInput) FillerResult {
	return FillerResult{FillerCount: p.intn(3), IsMock: true}
}

// FixedProvider returns the same mid-range values on every call.
type FixedProvider struct{}

func (FixedProvider) Loudness(in DegradedInput) LoudnessResult {
	return LoudnessResult{Category: LoudnessAcceptable, Samples: in.Samples, IsMock: true, CapturedAt: in.CapturedAt}
}

func (FixedProvider) Pace(in DegradedInput) PaceResult {
	target := in.TargetWPM
	if target <= 0 {
		target = DefaultTargetWPM
	}
	return PaceResult{WPM: target, ServerScore: 100, IsMock: true, CapturedAt: in.CapturedAt}
}

func (FixedProvider) Pause(in DegradedInput) PauseResult {
	return PauseResult{PauseRatio: 0.1, FlowScore: 80, ActivityScore: 85, IsMock: true, CapturedAt: in.CapturedAt}
}

func (FixedProvider) Emotion(in DegradedInput) EmotionResult {
	probs := make(map[string]float64, len(EmotionLabels))
	for _, l := range EmotionLabels {
		probs[l] = 0
	}
	probs["neutral"] = 1
	return EmotionResult{Probabilities: probs, FaceDetected: true, IsMock: true, CapturedAt: in.CapturedAt}
}

func (FixedProvider) Filler(DegradedInput) FillerResult {
	return FillerResult{IsMock: true}
}
