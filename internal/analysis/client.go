// Package analysis talks to the external analysis services and the backend
// collaborator that stores sessions and challenges.
package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const maxResponseBytes = 1 << 20

// Config holds client settings.
type Config struct {
	AnalysisURL string
	// BackendURL serves the authenticated /api endpoints. Empty means the
	// analysis host serves them too.
	BackendURL string
	Timeout    time.Duration
	Breaker    BreakerConfig
	CacheTTL   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTokenSource sets the bearer token source.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// Client calls every external endpoint. Each endpoint has its own breaker.
type Client struct {
	analysisURL string
	backendURL  string
	http        *http.Client
	tokens      TokenSource
	breakers    *breakers
	cache       *cache.Cache
}

// NewClient creates a client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.Breaker.ResetTimeout <= 0 {
		cfg.Breaker.ResetTimeout = 30 * time.Second
	}
	backend := cfg.BackendURL
	if backend == "" {
		backend = cfg.AnalysisURL
	}
	c := &Client{
		analysisURL: strings.TrimRight(cfg.AnalysisURL, "/"),
		backendURL:  strings.TrimRight(backend, "/"),
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breakers: newBreakers(cfg.Breaker),
		cache:    cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BreakerStates reports the breaker state of every endpoint called so far.
func (c *Client) BreakerStates() map[string]string { return c.breakers.states() }

type request struct {
	method      string
	base        string
	path        string
	body        io.Reader
	contentType string
	auth        bool
}

func (c *Client) do(ctx context.Context, r request, dest any) error {
	if r.base == "" {
		return ErrNoBackend
	}
	br := c.breakers.get(r.path)
	if !br.Allow() {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, r.path)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.base+r.path, r.body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, req, r.auth); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			br.Failure()
		}
		return fmt.Errorf("%s: %w", r.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		br.Failure()
		return fmt.Errorf("%s: read response: %w", r.path, err)
	}
	// Drain remainder for connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		br.Success()
		return fmt.Errorf("%s: %w", r.path, ErrAuthExpired)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		se := &StatusError{Path: r.path, StatusCode: resp.StatusCode, Body: string(body)}
		if se.Retryable() {
			br.Failure()
		} else {
			br.Success()
		}
		return se
	}

	if dest != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, dest); err != nil {
			br.Failure()
			return fmt.Errorf("%s: decode response: %w", r.path, err)
		}
	}
	br.Success()
	return nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request, required bool) error {
	if c.tokens == nil {
		if required {
			return ErrNoToken
		}
		return nil
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		if required || errors.Is(err, ErrAuthExpired) {
			return err
		}
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

func (c *Client) postJSON(ctx context.Context, base, path string, auth bool, body, dest any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, request{
		method:      http.MethodPost,
		base:        base,
		path:        path,
		body:        bytes.NewReader(b),
		contentType: "application/json",
		auth:        auth,
	}, dest)
}

type formField struct{ key, value string }

func (c *Client) postMultipart(ctx context.Context, path, fileField, filename string, file []byte, fields []formField, dest any) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(file); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.key, f.value); err != nil {
			return fmt.Errorf("write field %s: %w", f.key, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return c.do(ctx, request{
		method:      http.MethodPost,
		base:        c.analysisURL,
		path:        path,
		body:        &body,
		contentType: w.FormDataContentType(),
	}, dest)
}

func filename(ch Chunk, fallback string) string {
	if ch.Filename != "" {
		return ch.Filename
	}
	return fallback
}

// UploadRecording posts an audio chunk for filler-word detection.
func (c *Client) UploadRecording(ctx context.Context, ch Chunk) (FillerResponse, error) {
	var out FillerResponse
	err := c.postMultipart(ctx, PathRecordingUpload, "audio", filename(ch, "chunk.ogg"), ch.Audio, []formField{
		{"sessionId", ch.SessionID},
		{"activityType", ch.ActivityType},
	}, &out)
	return out, err
}

// PredictLoudness classifies a WAV window.
func (c *Client) PredictLoudness(ctx context.Context, ch Chunk) (LoudnessResponse, error) {
	var out LoudnessResponse
	err := c.postMultipart(ctx, PathLoudness, "file", filename(ch, "window.wav"), ch.Audio, nil, &out)
	return out, err
}

func paceRequest(ch Chunk) PaceRequest {
	req := PaceRequest{
		ActivityType: ch.ActivityType,
		SessionID:    ch.SessionID,
		Timestamp:    ch.TimestampMs,
	}
	if len(ch.Audio) > 0 {
		req.AudioChunk = base64.StdEncoding.EncodeToString(ch.Audio)
	}
	if ch.Duration > 0 {
		d := ch.Duration
		req.Duration = &d
	}
	return req
}

// AnalyzePace submits a window for real-time WPM analysis.
func (c *Client) AnalyzePace(ctx context.Context, ch Chunk) (PaceResponse, error) {
	var out PaceResponse
	err := c.postJSON(ctx, c.analysisURL, PathRealTimePace, false, paceRequest(ch), &out)
	return out, err
}

// IdealPaceChunk submits one chunk of the ideal-pace challenge.
func (c *Client) IdealPaceChunk(ctx context.Context, ch Chunk, index int) (PaceResponse, error) {
	req := paceRequest(ch)
	req.ActivityType = ""
	req.ChunkIndex = &index
	var out PaceResponse
	err := c.postJSON(ctx, c.analysisURL, PathIdealPace, false, req, &out)
	return out, err
}

// MonitorPause submits a window for pause monitoring as a form.
func (c *Client) MonitorPause(ctx context.Context, ch Chunk) (PauseResponse, error) {
	form := url.Values{}
	form.Set("activityType", ch.ActivityType)
	form.Set("sessionId", ch.SessionID)
	form.Set("timestamp", strconv.FormatInt(ch.TimestampMs, 10))
	if len(ch.Audio) > 0 {
		form.Set("audioChunk", base64.StdEncoding.EncodeToString(ch.Audio))
	}
	if ch.Duration > 0 {
		form.Set("duration", strconv.FormatFloat(ch.Duration, 'f', 3, 64))
	}
	var out PauseResponse
	err := c.do(ctx, request{
		method:      http.MethodPost,
		base:        c.analysisURL,
		path:        PathPauseMonitor,
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, &out)
	return out, err
}

// ErrUnsupportedActivity means no end-of-activity analysis exists for it.
var ErrUnsupportedActivity = errors.New("analysis: activity has no end-of-activity analysis")

// ActivityPath returns the end-of-activity endpoint for activity.
func ActivityPath(activity string) (string, error) {
	switch activity {
	case "rate":
		return PathRateActivity, nil
	case "pause":
		return PathPauseActivity, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedActivity, activity)
}

// AnalyzeActivity posts the whole recording of a finished activity.
func (c *Client) AnalyzeActivity(ctx context.Context, activity, sessionID string, recording []byte) (ActivityResponse, error) {
	path, err := ActivityPath(activity)
	if err != nil {
		return ActivityResponse{}, err
	}
	var raw map[string]any
	err = c.postMultipart(ctx, path, "file", "recording.wav", recording, []formField{
		{"activityType", activity},
		{"activity_type", activity},
		{"sessionId", sessionID},
		{"session_id", sessionID},
	}, &raw)
	if err != nil {
		return ActivityResponse{}, err
	}
	out := ActivityResponse{Metrics: raw}
	if v, ok := raw["finalScore"].(float64); ok {
		out.FinalScore = v
	} else if v, ok := raw["final_score"].(float64); ok {
		out.FinalScore = v
	}
	badges, ok := raw["newBadges"].([]any)
	if !ok {
		badges, _ = raw["new_badges"].([]any)
	}
	for _, b := range badges {
		switch v := b.(type) {
		case map[string]any:
			out.NewBadges = append(out.NewBadges, v)
		case string:
			out.NewBadges = append(out.NewBadges, map[string]any{"name": v})
		}
	}
	return out, nil
}

// PredictEmotion classifies one encoded video frame.
func (c *Client) PredictEmotion(ctx context.Context, req EmotionRequest) (EmotionResponse, error) {
	var out EmotionResponse
	err := c.postJSON(ctx, c.analysisURL, PathEmotionFrame, false, req, &out)
	return out, err
}
