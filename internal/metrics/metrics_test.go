package metrics

import (
	"math"
	"strings"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestEMAFirstSampleUnchanged(t *testing.T) {
	e := EMA{Alpha: DefaultAlpha}
	if got := e.Update(0.7); got != 0.7 {
		t.Errorf("got %v, want 0.7", got)
	}
}

func TestEMAConvergesMonotonically(t *testing.T) {
	for _, y0 := range []float64{-5, 0, 3, 20} {
		e := EMA{Alpha: DefaultAlpha}
		e.Update(y0)
		prev := math.Abs(y0 - 3)
		for i := 0; i < 50; i++ {
			d := math.Abs(e.Update(3) - 3)
			if d > prev {
				t.Fatalf("y0=%v step %d: distance grew from %v to %v", y0, i, prev, d)
			}
			prev = d
		}
		if prev > 1e-6 {
			t.Errorf("y0=%v: did not converge, distance %v", y0, prev)
		}
	}
}

func TestEMAAlternatingStaysInside(t *testing.T) {
	e := EMA{Alpha: DefaultAlpha}
	e.Update(0)
	for i := 1; i < 40; i++ {
		y := e.Update(float64(i % 2))
		if y <= 0 || y >= 1 {
			t.Fatalf("step %d: %v outside (0, 1)", i, y)
		}
	}
}

func TestPaceStreakProgression(t *testing.T) {
	p := NewPaceState(125, 15)
	wpms := []float64{120, 130, 140, 110, 125}
	want := []int{1, 2, 3, 4, 5}
	for i, w := range wpms {
		p.Apply(PaceResult{WPM: w, CapturedAt: t0.Add(time.Duration(i) * time.Second)})
		if got := p.Streak(); got != want[i] {
			t.Errorf("tick %d (wpm %v): got streak %d, want %d", i, w, got, want[i])
		}
	}
}

func TestPaceStreakResetsAtMiss(t *testing.T) {
	p := NewPaceState(125, 15)
	wpms := []float64{120, 130, 141, 125}
	want := []int{1, 2, 0, 1}
	for i, w := range wpms {
		p.Apply(PaceResult{WPM: w, CapturedAt: t0.Add(time.Duration(i) * time.Second)})
		if got := p.Streak(); got != want[i] {
			t.Errorf("tick %d (wpm %v): got streak %d, want %d", i, w, got, want[i])
		}
	}
	if got := p.Snapshot().BestStreak; got != 2 {
		t.Errorf("got best streak %d, want 2", got)
	}
}

func TestScoresNeverNegative(t *testing.T) {
	for _, wpm := range []float64{0, 125, 1000, -400} {
		if s := PaceScore(wpm, 125); s < 0 {
			t.Errorf("PaceScore(%v) = %v", wpm, s)
		}
	}
	if got := PaceScore(135, 125); got != 80 {
		t.Errorf("got %v, want 80", got)
	}
	if s := ConsistencyScore([]float64{0, 1000, 0, 1000}); s != 0 {
		t.Errorf("got consistency %v, want 0", s)
	}
	if s := ConsistencyScore([]float64{120, 130}); s != 90 {
		t.Errorf("got consistency %v, want 90", s)
	}
}

func TestPaceHistoryCapped(t *testing.T) {
	p := NewPaceState(125, 15)
	for i := 0; i < 30; i++ {
		p.Apply(PaceResult{WPM: float64(i), CapturedAt: t0.Add(time.Duration(i) * time.Second)})
	}
	h := p.Snapshot().History
	if len(h) != PaceHistoryCapacity {
		t.Fatalf("got %d entries, want %d", len(h), PaceHistoryCapacity)
	}
	if h[0] != 10 || h[len(h)-1] != 29 {
		t.Errorf("oldest entries not evicted first: %v", h)
	}
}

func TestPaceRejectsOlderCapture(t *testing.T) {
	p := NewPaceState(125, 15)
	p.Apply(PaceResult{WPM: 130, CapturedAt: t0.Add(2 * time.Second)})
	if p.Apply(PaceResult{WPM: 60, CapturedAt: t0}) {
		t.Fatal("older result applied")
	}
	if got := p.Snapshot().CurrentWPM; got != 130 {
		t.Errorf("got %v, want 130", got)
	}
}

func TestExcessivePausesWarn(t *testing.T) {
	p := NewPauseState()
	p.Apply(PauseResult{PauseRatio: 0.05, ExcessivePauses: 1, CapturedAt: t0})
	found := false
	for _, a := range p.Alerts() {
		if a.Severity == SeverityWarning && strings.Contains(a.Message, "1") {
			found = true
		}
	}
	if !found {
		t.Errorf("no warning referencing the count in %+v", p.Alerts())
	}
}

func TestPauseAlertsReplaced(t *testing.T) {
	p := NewPauseState()
	p.Apply(PauseResult{PauseRatio: 0.3, LongPauses: 3, CurrentPauseDuration: 4, CapturedAt: t0})
	if n := len(p.Alerts()); n != 3 {
		t.Fatalf("got %d alerts, want 3: %+v", n, p.Alerts())
	}
	p.Apply(PauseResult{PauseRatio: 0.05, CapturedAt: t0.Add(time.Second)})
	if n := len(p.Alerts()); n != 0 {
		t.Errorf("alerts accumulated: %+v", p.Alerts())
	}
}

func TestDeriveAlertsThresholds(t *testing.T) {
	cases := []struct {
		ratio float64
		want  Severity
	}{
		{0.26, SeverityWarning},
		{0.2, SeverityCaution},
		{0.15, ""},
	}
	for _, c := range cases {
		alerts := DeriveAlerts(PauseResult{PauseRatio: c.ratio})
		var got Severity
		if len(alerts) > 0 {
			got = alerts[0].Severity
		}
		if got != c.want {
			t.Errorf("ratio %v: got %q, want %q", c.ratio, got, c.want)
		}
	}
}

func TestEmotionDominanceWindow(t *testing.T) {
	s := NewEmotionState(DefaultAlpha, 3*time.Second)
	s.Apply(EmotionResult{Probabilities: map[string]float64{"happy": 1}, FaceDetected: true, CapturedAt: t0})
	s.Apply(EmotionResult{Probabilities: map[string]float64{"happy": 0.6, "sad": 0.4}, FaceDetected: true, CapturedAt: t0.Add(time.Second)})
	if got := s.Snapshot().Dominant; got != "happy" {
		t.Fatalf("got %q, want happy", got)
	}
	s.Apply(EmotionResult{Probabilities: map[string]float64{"sad": 0.9}, FaceDetected: true, CapturedAt: t0.Add(5 * time.Second)})
	snap := s.Snapshot()
	if snap.Dominant != "sad" {
		t.Errorf("got %q, want sad after happy frames left the window", snap.Dominant)
	}
	if snap.SampleCount != 3 {
		t.Errorf("got %d samples, want 3", snap.SampleCount)
	}
	if len(snap.Smoothed) != len(EmotionLabels) {
		t.Errorf("got %d labels, want %d", len(snap.Smoothed), len(EmotionLabels))
	}
	if snap.Smoothed["happy"] <= 0 || snap.Smoothed["happy"] >= 1 {
		t.Errorf("happy should be smoothed, got %v", snap.Smoothed["happy"])
	}
}

func TestEmotionNoFace(t *testing.T) {
	s := NewEmotionState(DefaultAlpha, 0)
	s.Apply(EmotionResult{FaceDetected: false, CapturedAt: t0})
	snap := s.Snapshot()
	if snap.FaceDetected || snap.SampleCount != 0 || snap.Dominant != "" {
		t.Errorf("unexpected state %+v", snap)
	}

	s.Apply(EmotionResult{FaceDetected: true, Probabilities: map[string]float64{"happy": 0.9}, CapturedAt: t0.Add(time.Second)})
	if got := s.Snapshot().Dominant; got != "happy" {
		t.Fatalf("got dominant %q, want happy", got)
	}
	s.Apply(EmotionResult{FaceDetected: false, CapturedAt: t0.Add(11 * time.Second)})
	snap = s.Snapshot()
	if snap.Dominant != "" || snap.FaceDetected {
		t.Errorf("dominant label outlived its window: %+v", snap)
	}
	if snap.Tally["happy"] != 1 {
		t.Errorf("got tally %v, want happy=1", snap.Tally)
	}
}

func TestLoudnessCategories(t *testing.T) {
	cases := map[string]LoudnessCategory{
		"Acceptable": LoudnessAcceptable,
		"too loud":   LoudnessTooLoud,
		"Low/Silent": LoudnessLow,
		"???":        LoudnessUnknown,
	}
	for in, want := range cases {
		if got := ParseLoudnessCategory(in); got != want {
			t.Errorf("%q: got %q, want %q", in, got, want)
		}
	}
	l := NewLoudnessState()
	l.Apply(LoudnessResult{Category: LoudnessTooLoud, Samples: []float32{0.5, -0.9}, CapturedAt: t0})
	if l.Apply(LoudnessResult{Category: LoudnessLow, CapturedAt: t0.Add(-time.Second)}) {
		t.Error("older loudness applied")
	}
	snap := l.Snapshot()
	if snap.Category != LoudnessTooLoud || len(snap.Waveform) != WaveformSize {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestSilenceRatio(t *testing.T) {
	samples := make([]float32, 16000)
	for i := 8000; i < 16000; i++ {
		samples[i] = 0.5
	}
	if got := SilenceRatio(samples, 16000); math.Abs(got-0.5) > 0.02 {
		t.Errorf("got %v, want about 0.5", got)
	}
}

func TestRandomProviderBounds(t *testing.T) {
	p := NewRandomProvider(7)
	for i := 0; i < 200; i++ {
		in := DegradedInput{CapturedAt: t0, TargetWPM: 125}
		pause := p.Pause(in)
		if pause.PauseRatio < MockPauseRatioMin || pause.PauseRatio > MockPauseRatioMax || !pause.IsMock {
			t.Fatalf("pause out of bounds: %+v", pause)
		}
		pace := p.Pace(in)
		if math.Abs(pace.WPM-125) > MockWPMSpread || !pace.IsMock {
			t.Fatalf("pace out of bounds: %+v", pace)
		}
		emo := p.Emotion(in)
		sum := 0.0
		for _, v := range emo.Probabilities {
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("emotion probabilities sum to %v", sum)
		}
	}
}

func TestRandomProviderSeeded(t *testing.T) {
	a, b := NewRandomProvider(42), NewRandomProvider(42)
	in := DegradedInput{CapturedAt: t0, TargetWPM: 140}
	for i := 0; i < 10; i++ {
		if x, y := a.Pace(in).WPM, b.Pace(in).WPM; x != y {
			t.Fatalf("same seed diverged: %v vs %v", x, y)
		}
	}
}

func TestRegistry(t *testing.T) {
	p, err := Providers.Create("random", map[string]string{"seed": "3"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !p.Loudness(DegradedInput{}).IsMock {
		t.Error("degraded result not flagged")
	}
	if _, err := Providers.Create("random", map[string]string{"seed": "x"}); err == nil {
		t.Error("bad seed accepted")
	}
	if _, err := Providers.Create("nope", nil); err == nil {
		t.Error("unknown provider accepted")
	}
	if got := Providers.List(); len(got) != 2 || got[0] != "fixed" {
		t.Errorf("got %v", got)
	}
}

func TestBoardSnapshot(t *testing.T) {
	b := NewBoard(BoardConfig{TargetWPM: 130, Tolerance: 10})
	var fp FixedProvider
	b.Pace.Apply(fp.Pace(DegradedInput{CapturedAt: t0, TargetWPM: 130}))
	b.Filler.Apply(FillerResult{FillerCount: 2, TotalChunks: 1})
	b.Touch()
	snap := b.Snapshot()
	if snap.Version != 1 || snap.Pace.TargetWPM != 130 || snap.Filler.Count != 2 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if got := b.MockSamples(); got != 1 {
		t.Errorf("got %d mock samples, want 1", got)
	}
}
