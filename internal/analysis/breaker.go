package analysis

import (
	"sync"
	"time"
)

// Breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// BreakerConfig holds the parameters for an endpoint breaker.
type BreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxAttempts int
}

// Breaker stops calling an endpoint after repeated failures and probes it
// again once ResetTimeout has passed.
type Breaker struct {
	mu              sync.Mutex
	state           string
	failures        int
	successes       int
	lastFailureTime time.Time
	config          BreakerConfig
	now             func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.HalfOpenMaxAttempts <= 0 {
		cfg.HalfOpenMaxAttempts = 1
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	return &Breaker{
		state:  StateClosed,
		config: cfg,
		now:    time.Now,
	}
}

// Allow reports whether a request may be attempted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) > b.config.ResetTimeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.config.HalfOpenMaxAttempts {
			b.state = StateClosed
		}
		return
	}
	b.state = StateClosed
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = b.now()
	if b.state == StateHalfOpen || b.failures >= b.config.FailureThreshold {
		b.state = StateOpen
	}
}

// State returns the current breaker state.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// breakers hands out one Breaker per endpoint path.
type breakers struct {
	mu     sync.Mutex
	config BreakerConfig
	byPath map[string]*Breaker
}

func newBreakers(cfg BreakerConfig) *breakers {
	return &breakers{config: cfg, byPath: make(map[string]*Breaker)}
}

func (s *breakers) get(path string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byPath[path]
	if !ok {
		b = NewBreaker(s.config)
		s.byPath[path] = b
	}
	return b
}

func (s *breakers) states() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.byPath))
	for p, b := range s.byPath {
		out[p] = b.State()
	}
	return out
}
