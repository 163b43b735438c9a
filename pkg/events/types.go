package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	SessionStarted   EventType = "session.started"
	SessionPaused    EventType = "session.paused"
	SessionResumed   EventType = "session.resumed"
	SessionStopped   EventType = "session.stopped"
	MetricUpdated    EventType = "metric.updated"
	AlertRaised      EventType = "alert.raised"
	ActivityAnalyzed EventType = "activity.analyzed"
	SummarySaved     EventType = "summary.saved"
	SummaryFailed    EventType = "summary.failed"
	SystemError      EventType = "error"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionStartedData is the payload for session.started events.
type SessionStartedData struct {
	Activity  string  `json:"activity"`
	TargetWPM float64 `json:"target_wpm"`
	Video     bool    `json:"video"`
	Device    string  `json:"device"`
}

// SessionStoppedData is the payload for session.stopped events.
type SessionStoppedData struct {
	Reason     string `json:"reason"`
	DurationMs int64  `json:"duration_ms"`
}

// MetricUpdatedData is the payload for metric.updated events.
type MetricUpdatedData struct {
	Domain  string `json:"domain"`
	Version uint64 `json:"version"`
	IsMock  bool   `json:"is_mock"`
}

// AlertRaisedData is the payload for alert.raised events.
type AlertRaisedData struct {
	Severity string `json:"severity"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}

// ActivityAnalyzedData is the payload for activity.analyzed events.
type ActivityAnalyzedData struct {
	Activity   string  `json:"activity"`
	FinalScore float64 `json:"final_score"`
	NewBadges  int     `json:"new_badges"`
}

// SummaryData is the payload for summary.saved and summary.failed events.
type SummaryData struct {
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}
