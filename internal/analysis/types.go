package analysis

import (
	"encoding/json"
	"strings"
)

// Endpoint paths.
const (
	PathRecordingUpload   = "/api/recording/upload"
	PathLoudness          = "/loudness/predict-loudness"
	PathRealTimePace      = "/real-time-analysis/"
	PathPauseMonitor      = "/pause-realtime-monitoring/"
	PathIdealPace         = "/ideal-pace-challenge/"
	PathRateActivity      = "/rate/analyze-activity/"
	PathPauseActivity     = "/pause/analyze-activity/"
	PathEmotionFrame      = "/emotion/predict-frame"
	PathPaceSession       = "/api/pace/session"
	PathPaceSessions      = "/api/pace/sessions"
	PathChallengeProgress = "/api/challenge/progress"
	PathChallengeInit     = "/api/challenge/init"
	PathChallengeSession  = "/api/challenge/session"
)

// Chunk is the common part of every window submission. Either Audio or
// Duration is set; a window without audio is sent duration-only.
type Chunk struct {
	SessionID    string
	ActivityType string
	Audio        []byte
	Filename     string
	Duration     float64
	TimestampMs  int64
}

// FillerResponse is the reply of the recording upload.
type FillerResponse struct {
	FillerCount int `json:"fillerCount"`
	TotalChunks int `json:"total_chunks"`
}

// LoudnessResponse is the reply of the loudness classifier.
type LoudnessResponse struct {
	Category string `json:"category"`
}

// PaceRequest is the JSON body of pace and ideal-pace submissions.
type PaceRequest struct {
	AudioChunk   string   `json:"audioChunk,omitempty"`
	Duration     *float64 `json:"duration,omitempty"`
	ActivityType string   `json:"activityType,omitempty"`
	SessionID    string   `json:"sessionId"`
	ChunkIndex   *int     `json:"chunkIndex,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}

// PaceResponse is the reply of pace and ideal-pace analysis.
type PaceResponse struct {
	CurrentWPM float64  `json:"current_wpm"`
	Score      float64  `json:"score"`
	Feedback   FlexText `json:"feedback"`
	IsMock     bool     `json:"is_mock"`
}

// PauseResponse is the reply of pause monitoring.
type PauseResponse struct {
	Metrics struct {
		PauseRatio           float64 `json:"pause_ratio"`
		ExcessivePauses      int     `json:"excessive_pauses"`
		LongPauses           int     `json:"long_pauses"`
		CurrentPauseDuration float64 `json:"current_pause_duration"`
	} `json:"metrics"`
	Scores struct {
		FlowScore     float64 `json:"flow_score"`
		ActivityScore float64 `json:"activity_score"`
	} `json:"scores"`
	Feedback struct {
		Alerts      []ServiceAlert `json:"alerts"`
		Suggestions []FlexText     `json:"suggestions"`
	} `json:"feedback"`
	IsMock bool `json:"is_mock"`
}

// ServiceAlert is an alert as sent by the pause service: either a bare
// message or an object.
type ServiceAlert struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func (a *ServiceAlert) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = ServiceAlert{Message: s}
		return nil
	}
	type plain ServiceAlert
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = ServiceAlert(p)
	return nil
}

// FlexText accepts a string, a list of strings or an object with a
// message/text field.
type FlexText string

func (f *FlexText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexText(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*f = FlexText(strings.Join(list, " "))
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err == nil {
		for _, k := range []string{"message", "text", "suggestion", "summary"} {
			if v, ok := obj[k].(string); ok {
				*f = FlexText(v)
				return nil
			}
		}
		*f = ""
		return nil
	}
	*f = ""
	return nil
}

// ActivityResponse is the end-of-activity analysis. Metrics keeps the whole
// body for pass-through.
type ActivityResponse struct {
	FinalScore float64          `json:"finalScore"`
	NewBadges  []map[string]any `json:"newBadges"`
	Metrics    map[string]any   `json:"-"`
}

// EmotionRequest carries one encoded frame.
type EmotionRequest struct {
	Frame     string `json:"frame"`
	MIME      string `json:"mime,omitempty"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
}

// EmotionResponse is the per-frame emotion prediction.
type EmotionResponse struct {
	Probabilities map[string]float64 `json:"probabilities"`
	FaceDetected  bool               `json:"face_detected"`
}

// PaceSessionsResponse lists saved sessions as opaque records.
type PaceSessionsResponse struct {
	Sessions []json.RawMessage `json:"sessions"`
}
