// Package metrics reconciles asynchronous analysis results into per-domain
// state and a combined view model.
package metrics

import "time"

// DefaultAlpha is the smoothing factor for per-frame signals.
const DefaultAlpha = 0.4

// EMA is an exponential moving average seeded with its first sample.
type EMA struct {
	Alpha float64
	value float64
	set   bool
}

// Update folds x into the average and returns the new value.
func (e *EMA) Update(x float64) float64 {
	if !e.set {
		e.value = x
		e.set = true
		return x
	}
	e.value = e.Alpha*x + (1-e.Alpha)*e.value
	return e.value
}

// Value returns the current average.
func (e *EMA) Value() float64 { return e.value }

// Seeded reports whether any sample has been folded in.
func (e *EMA) Seeded() bool { return e.set }

// orderGuard drops results captured before the last applied one.
type orderGuard struct {
	last time.Time
}

func (g *orderGuard) accept(capturedAt time.Time) bool {
	if capturedAt.Before(g.last) {
		return false
	}
	g.last = capturedAt
	return true
}
