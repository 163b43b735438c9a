package analysis

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/patrickmn/go-cache"
)

// SavePaceSession stores a session summary.
func (c *Client) SavePaceSession(ctx context.Context, summary any) error {
	if err := c.postJSON(ctx, c.backendURL, PathPaceSession, true, summary, nil); err != nil {
		return err
	}
	c.cache.Delete(PathPaceSessions)
	return nil
}

// ListPaceSessions returns saved sessions. Results are cached briefly.
func (c *Client) ListPaceSessions(ctx context.Context) (PaceSessionsResponse, error) {
	if v, ok := c.cache.Get(PathPaceSessions); ok {
		return v.(PaceSessionsResponse), nil
	}
	var out PaceSessionsResponse
	err := c.do(ctx, request{method: http.MethodGet, base: c.backendURL, path: PathPaceSessions, auth: true}, &out)
	if err != nil {
		return PaceSessionsResponse{}, err
	}
	c.cache.Set(PathPaceSessions, out, cache.DefaultExpiration)
	return out, nil
}

// ChallengeProgress returns challenges, history and badges untouched.
func (c *Client) ChallengeProgress(ctx context.Context) (json.RawMessage, error) {
	if v, ok := c.cache.Get(PathChallengeProgress); ok {
		return v.(json.RawMessage), nil
	}
	var out json.RawMessage
	err := c.do(ctx, request{method: http.MethodGet, base: c.backendURL, path: PathChallengeProgress, auth: true}, &out)
	if err != nil {
		return nil, err
	}
	c.cache.Set(PathChallengeProgress, out, cache.DefaultExpiration)
	return out, nil
}

// InitChallenges seeds the challenge records of the current user.
func (c *Client) InitChallenges(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, c.backendURL, PathChallengeInit, true, map[string]any{}, &out)
	c.cache.Delete(PathChallengeProgress)
	return out, err
}

// SaveChallengeSession records a challenge outcome and returns the
// backend's reply, including any unlocked badge.
func (c *Client) SaveChallengeSession(ctx context.Context, outcome json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.postJSON(ctx, c.backendURL, PathChallengeSession, true, outcome, &out)
	c.cache.Delete(PathChallengeProgress)
	return out, err
}
