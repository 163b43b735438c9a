package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Severity ranks a pause alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityCaution Severity = "caution"
	SeverityWarning Severity = "warning"
)

// ParseSeverity maps a service severity label onto a Severity. Unknown
// labels rank as caution.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "low":
		return SeverityInfo
	case "warning", "high", "critical", "error":
		return SeverityWarning
	default:
		return SeverityCaution
	}
}

// Alert thresholds.
const (
	PauseRatioWarning   = 0.25
	PauseRatioCaution   = 0.15
	LongPauseCaution    = 2
	CurrentPauseInfoSec = 3.0
)

// Alert is one pause notice. Alerts are replaced wholesale every tick.
type Alert struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
}

// PauseResult is one analyzed pause window.
type PauseResult struct {
	PauseRatio           float64
	ExcessivePauses      int
	LongPauses           int
	CurrentPauseDuration float64
	FlowScore            float64
	ActivityScore        float64
	Alerts               []Alert
	Suggestions          []string
	IsMock               bool
	CapturedAt           time.Time
}

// DeriveAlerts classifies the pause metrics of r into alerts.
func DeriveAlerts(r PauseResult) []Alert {
	var alerts []Alert
	switch {
	case r.PauseRatio > PauseRatioWarning:
		alerts = append(alerts, Alert{
			Severity: SeverityWarning,
			Kind:     "pause_ratio",
			Message:  fmt.Sprintf("You are pausing %.0f%% of the time. Try to keep going.", r.PauseRatio*100),
		})
	case r.PauseRatio > PauseRatioCaution:
		alerts = append(alerts, Alert{
			Severity: SeverityCaution,
			Kind:     "pause_ratio",
			Message:  fmt.Sprintf("Pauses make up %.0f%% of your speech.", r.PauseRatio*100),
		})
	}
	if r.ExcessivePauses > 0 {
		alerts = append(alerts, Alert{
			Severity: SeverityWarning,
			Kind:     "excessive_pauses",
			Message:  fmt.Sprintf("%d excessive pause(s) detected.", r.ExcessivePauses),
		})
	}
	if r.LongPauses > LongPauseCaution {
		alerts = append(alerts, Alert{
			Severity: SeverityCaution,
			Kind:     "long_pauses",
			Message:  fmt.Sprintf("%d long pauses so far.", r.LongPauses),
		})
	}
	if r.CurrentPauseDuration > CurrentPauseInfoSec {
		alerts = append(alerts, Alert{
			Severity: SeverityInfo,
			Kind:     "current_pause",
			Message:  fmt.Sprintf("Paused for %.1fs.", r.CurrentPauseDuration),
		})
	}
	return alerts
}

// PauseState tracks pause metrics and the current alert set.
type PauseState struct {
	mu          sync.RWMutex
	last        PauseResult
	alerts      []Alert
	suggestions []string
	ticks       int
	mockTicks   int
	ratioSum    float64
	guard       orderGuard
}

// PauseSnapshot is a copy of PauseState.
type PauseSnapshot struct {
	PauseRatio           float64  `json:"pause_ratio"`
	ExcessivePauseCount  int      `json:"excessive_pause_count"`
	LongPauseCount       int      `json:"long_pause_count"`
	CurrentPauseDuration float64  `json:"current_pause_duration"`
	FlowScore            float64  `json:"flow_score"`
	ActivityScore        float64  `json:"activity_score"`
	AverageRatio         float64  `json:"average_pause_ratio"`
	Alerts               []Alert  `json:"active_alerts"`
	Suggestions          []string `json:"active_suggestions"`
	Ticks                int      `json:"ticks"`
	IsMock               bool     `json:"is_mock"`
}

// NewPauseState creates an empty pause state.
func NewPauseState() *PauseState {
	return &PauseState{}
}

// Apply replaces the pause metrics and alerts. Service-provided alerts come
// first, followed by locally derived ones. It returns false for out-of-order
// results.
func (p *PauseState) Apply(r PauseResult) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.guard.accept(r.CapturedAt) {
		return false
	}
	p.last = r
	alerts := make([]Alert, 0, len(r.Alerts)+4)
	alerts = append(alerts, r.Alerts...)
	alerts = append(alerts, DeriveAlerts(r)...)
	p.alerts = alerts
	p.suggestions = append([]string(nil), r.Suggestions...)
	p.ticks++
	p.ratioSum += r.PauseRatio
	if r.IsMock {
		p.mockTicks++
	}
	return true
}

// Alerts returns a copy of the current alert set.
func (p *PauseState) Alerts() []Alert {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Alert(nil), p.alerts...)
}

// MockTicks returns how many applied results were synthesized.
func (p *PauseState) MockTicks() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mockTicks
}

// Snapshot copies the current state.
func (p *PauseState) Snapshot() PauseSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snap := PauseSnapshot{
		PauseRatio:           p.last.PauseRatio,
		ExcessivePauseCount:  p.last.ExcessivePauses,
		LongPauseCount:       p.last.LongPauses,
		CurrentPauseDuration: p.last.CurrentPauseDuration,
		FlowScore:            p.last.FlowScore,
		ActivityScore:        p.last.ActivityScore,
		Alerts:               append([]Alert(nil), p.alerts...),
		Suggestions:          append([]string(nil), p.suggestions...),
		Ticks:                p.ticks,
		IsMock:               p.last.IsMock,
	}
	if p.ticks > 0 {
		snap.AverageRatio = p.ratioSum / float64(p.ticks)
	}
	return snap
}
