package config

import (
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pitabwire/frame/config"

	"github.com/voicetyped/speechcoach/pkg/validate"
)

// CoachConfig holds configuration for the speech-coaching service.
type CoachConfig struct {
	config.ConfigurationDefault

	// WebRTC ingest
	STUNServers  string `envDefault:"stun:stun.l.google.com:19302" env:"STUN_SERVERS"`
	TURNServers  string `envDefault:""                              env:"TURN_SERVERS"`
	TURNUsername string `envDefault:""                              env:"TURN_USERNAME"`
	TURNPassword string `envDefault:""                              env:"TURN_PASSWORD"`

	// Analysis services and backend collaborator
	AnalysisURL       string `envDefault:"http://localhost:8000" env:"ANALYSIS_URL"        validate:"required,url"`
	BackendURL        string `envDefault:""                      env:"BACKEND_URL"         validate:"omitempty,url"`
	AuthToken         string `envDefault:""                      env:"AUTH_TOKEN"`
	AnalysisTimeoutMs int    `envDefault:"5000"                  env:"ANALYSIS_TIMEOUT_MS" validate:"gt=0"`
	CacheTTLSec       int    `envDefault:"30"                    env:"BACKEND_CACHE_TTL_SEC"`

	// Pipeline
	SampleBufferMaxSec int     `envDefault:"600"    env:"SAMPLE_BUFFER_MAX_SEC"`
	EMAAlpha           float64 `envDefault:"0.4"    env:"EMA_ALPHA"             validate:"gt=0,lte=1"`
	DominanceWindowMs  int     `envDefault:"3000"   env:"EMOTION_WINDOW_MS"     validate:"gt=0"`
	DegradedProvider   string  `envDefault:"random" env:"DEGRADED_PROVIDER"     validate:"required"`
	DegradedSeed       uint64  `envDefault:"0"      env:"DEGRADED_SEED"`
	ProfileDir         string  `envDefault:""       env:"PROFILE_DIR"`
	DefaultProfile     string  `envDefault:"rate"   env:"DEFAULT_PROFILE"       validate:"required"`
	AnalyzeTimeoutSec  int     `envDefault:"30"     env:"ACTIVITY_ANALYZE_TIMEOUT_SEC"`
	WatchBufferSize    int     `envDefault:"32"     env:"WATCH_BUFFER_SIZE"`

	// Summary persistence
	SummaryMaxRetries   int    `envDefault:"5"      env:"SUMMARY_MAX_RETRIES"    validate:"gte=1"`
	SummaryBackoffMs    int    `envDefault:"500"    env:"SUMMARY_BACKOFF_INITIAL_MS"`
	SummaryBackoffMaxMs int    `envDefault:"30000"  env:"SUMMARY_BACKOFF_MAX_MS"`
	CBFailThreshold     int    `envDefault:"5"      env:"CB_FAILURE_THRESHOLD"   validate:"gte=1"`
	CBResetTimeoutSec   int    `envDefault:"60"     env:"CB_RESET_TIMEOUT_SEC"`
	DeadLetterStore     string `envDefault:"memory" env:"DEAD_LETTER_STORE"      validate:"oneof=memory database"`
}

// Validate checks the service settings.
func (c *CoachConfig) Validate() error {
	return validate.Struct(c)
}

// WebRTCConfig builds a webrtc.Configuration from the STUN/TURN settings.
func (c *CoachConfig) WebRTCConfig() webrtc.Configuration {
	return buildWebRTCConfig(c.STUNServers, c.TURNServers, c.TURNUsername, c.TURNPassword)
}

// AnalysisTimeout bounds each analysis request.
func (c *CoachConfig) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutMs) * time.Millisecond
}

// DominanceWindow is the emotion aggregation window.
func (c *CoachConfig) DominanceWindow() time.Duration {
	return time.Duration(c.DominanceWindowMs) * time.Millisecond
}

// SampleBufferRetention caps how much audio a capturer keeps.
func (c *CoachConfig) SampleBufferRetention() time.Duration {
	return time.Duration(c.SampleBufferMaxSec) * time.Second
}

// buildWebRTCConfig creates a webrtc.Configuration from STUN/TURN server strings.
func buildWebRTCConfig(stunServers, turnServers, turnUsername, turnPassword string) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stunServers != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: strings.Split(stunServers, ","),
		})
	}
	if turnServers != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:           strings.Split(turnServers, ","),
			Username:       turnUsername,
			Credential:     turnPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return webrtc.Configuration{ICEServers: iceServers}
}
