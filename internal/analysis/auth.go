package analysis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource yields the bearer token for authenticated endpoints.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken holds a token handed over by the surrounding application. JWT
// tokens are checked for expiry locally; the signature is the backend's
// business. Opaque tokens are passed through.
type StaticToken struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

// NewStaticToken wraps token.
func NewStaticToken(token string) *StaticToken {
	return &StaticToken{token: strings.TrimSpace(token), now: time.Now}
}

// Set replaces the token.
func (s *StaticToken) Set(token string) {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
}

// Clear drops the token, as after a refused request.
func (s *StaticToken) Clear() { s.Set("") }

// Token returns the token or ErrAuthExpired when its exp claim has passed.
func (s *StaticToken) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	tok := s.token
	s.mu.RUnlock()
	if tok == "" {
		return "", ErrNoToken
	}
	if exp, ok := tokenExpiry(tok); ok && !exp.After(s.now()) {
		return "", ErrAuthExpired
	}
	return tok, nil
}

// tokenExpiry extracts the exp claim of a JWT without verifying it.
func tokenExpiry(tok string) (time.Time, bool) {
	if strings.Count(tok, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
