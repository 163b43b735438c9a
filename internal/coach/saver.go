package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"

	"github.com/voicetyped/speechcoach/internal/analysis"
	"github.com/voicetyped/speechcoach/pkg/events"
)

// SummarySink stores finished session summaries.
type SummarySink interface {
	SavePaceSession(ctx context.Context, summary any) error
}

// SaverConfig holds summary persistence settings.
type SaverConfig struct {
	MaxRetries     int
	Timeout        time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Saver persists summaries, retrying transient failures with exponential
// backoff and dead-lettering what cannot be saved.
type Saver struct {
	sink   SummarySink
	store  DeadLetterStore
	config SaverConfig
	pool   workerpool.WorkerPool
	pub    *events.Publisher

	pending sync.WaitGroup
}

// NewSaver creates a saver. pool may be nil.
func NewSaver(sink SummarySink, store DeadLetterStore, cfg SaverConfig, pool workerpool.WorkerPool, pub *events.Publisher) *Saver {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	return &Saver{sink: sink, store: store, config: cfg, pool: pool, pub: pub}
}

func (s *Saver) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.BackoffInitial
	b.MaxInterval = s.config.BackoffMax
	b.Multiplier = 2
	b.Reset()
	return b
}

// Save makes the first attempt synchronously and returns its error. Failed
// attempts are retried in the background.
func (s *Saver) Save(ctx context.Context, sum Summary) error {
	return s.attempt(ctx, sum, s.newBackOff(), 1)
}

// Wait blocks until every scheduled retry has finished.
func (s *Saver) Wait() { s.pending.Wait() }

func (s *Saver) attempt(ctx context.Context, sum Summary, bo *backoff.ExponentialBackOff, attempt int) error {
	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	err := s.sink.SavePaceSession(callCtx, sum)
	cancel()
	if err == nil {
		slog.InfoContext(ctx, "session summary saved",
			slog.String("session_id", sum.SessionID),
			slog.Int("attempt", attempt))
		s.emit(ctx, events.SummarySaved, sum.SessionID, events.SummaryData{Attempts: attempt})
		return nil
	}
	s.handleFailure(ctx, sum, bo, attempt, err)
	return err
}

func (s *Saver) handleFailure(ctx context.Context, sum Summary, bo *backoff.ExponentialBackOff, attempt int, cause error) {
	if attempt >= s.config.MaxRetries || !analysis.IsRetryable(cause) || ctx.Err() != nil {
		s.deadLetter(ctx, sum, attempt, cause)
		return
	}

	wait := bo.NextBackOff()
	if wait == backoff.Stop {
		s.deadLetter(ctx, sum, attempt, cause)
		return
	}
	slog.WarnContext(ctx, "session summary save failed, retrying",
		slog.String("session_id", sum.SessionID),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", wait),
		slog.String("error", cause.Error()))

	s.pending.Add(1)
	retryFunc := func() {
		defer s.pending.Done()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.deadLetter(context.WithoutCancel(ctx), sum, attempt, ctx.Err())
		case <-timer.C:
			_ = s.attempt(ctx, sum, bo, attempt+1)
		}
	}

	if s.pool != nil {
		if err := s.pool.Submit(ctx, retryFunc); err != nil {
			s.pending.Done()
			slog.WarnContext(ctx, "retry pool full, dead-lettering summary",
				slog.String("session_id", sum.SessionID),
				slog.Int("attempt", attempt))
			s.deadLetter(ctx, sum, attempt, cause)
		}
		return
	}
	go retryFunc()
}

func (s *Saver) deadLetter(ctx context.Context, sum Summary, attempts int, cause error) {
	payload, err := json.Marshal(sum)
	if err != nil {
		util.Log(ctx).WithError(err).Error("marshal summary for dead letter")
		return
	}
	if err := s.store.Create(ctx, &DeadLetter{
		SessionID:  sum.SessionID,
		Activity:   sum.Activity,
		Payload:    string(payload),
		LastError:  cause.Error(),
		Attempts:   attempts,
		Replayable: true,
	}); err != nil {
		util.Log(ctx).WithError(err).Error("create summary dead letter")
	}
	s.emit(ctx, events.SummaryFailed, sum.SessionID, events.SummaryData{
		Attempts: attempts,
		Error:    cause.Error(),
	})
}

// DeadLetters lists summaries that still await replay.
func (s *Saver) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	return s.store.ListReplayable(ctx)
}

// Replay sends a dead-lettered summary once more. On success the letter is
// marked as replayed.
func (s *Saver) Replay(ctx context.Context, id string) error {
	dl, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !dl.Replayable {
		return fmt.Errorf("%w: %s already replayed", ErrDeadLetterNotFound, id)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if err := s.sink.SavePaceSession(callCtx, json.RawMessage(dl.Payload)); err != nil {
		return fmt.Errorf("replay %s: %w", id, err)
	}
	s.emit(ctx, events.SummarySaved, dl.SessionID, events.SummaryData{Attempts: dl.Attempts + 1})
	return s.store.MarkReplayed(ctx, id)
}
