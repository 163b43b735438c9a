package metrics

import "sync"

// FillerResult is the outcome of one uploaded chunk.
type FillerResult struct {
	FillerCount int
	TotalChunks int
	IsMock      bool
}

// FillerState accumulates filler words across uploaded chunks. Results are
// additive, so arrival order does not matter.
type FillerState struct {
	mu          sync.RWMutex
	count       int
	chunks      int
	serverTotal int
	mockChunks  int
}

// FillerSnapshot is a copy of FillerState.
type FillerSnapshot struct {
	Count       int  `json:"filler_count"`
	TotalChunks int  `json:"total_chunks"`
	IsMock      bool `json:"is_mock"`
}

// NewFillerState creates an empty filler state.
func NewFillerState() *FillerState { return &FillerState{} }

// Apply adds a chunk result.
func (f *FillerState) Apply(r FillerResult) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count += r.FillerCount
	f.chunks++
	if r.TotalChunks > f.serverTotal {
		f.serverTotal = r.TotalChunks
	}
	if r.IsMock {
		f.mockChunks++
	}
	return true
}

// Snapshot copies the current state. The service chunk total wins over the
// local count when it reports one.
func (f *FillerState) Snapshot() FillerSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	total := f.chunks
	if f.serverTotal > total {
		total = f.serverTotal
	}
	return FillerSnapshot{
		Count:       f.count,
		TotalChunks: total,
		IsMock:      f.chunks > 0 && f.mockChunks == f.chunks,
	}
}

// MockChunks returns how many applied results were synthesized.
func (f *FillerState) MockChunks() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mockChunks
}
