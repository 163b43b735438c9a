package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pitabwire/frame/workerpool"
	"github.com/pitabwire/util"
)

// HandlerFunc processes one event taken off the bus.
type HandlerFunc func(ctx context.Context, env Envelope) error

// Subscriber implements queue.SubscribeWorker. It decodes envelopes from the
// event queue and routes them to the handlers registered for their type.
type Subscriber struct {
	Pool workerpool.WorkerPool

	mu       sync.RWMutex
	handlers map[EventType][]HandlerFunc
}

// On registers fn for events of type t.
func (s *Subscriber) On(t EventType, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = make(map[EventType][]HandlerFunc)
	}
	s.handlers[t] = append(s.handlers[t], fn)
}

// Handle is called by frame's pub/sub for each event message.
func (s *Subscriber) Handle(ctx context.Context, _ map[string]string, message []byte) error {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		util.Log(ctx).WithError(err).Error("event subscriber: unmarshal envelope")
		return err
	}

	s.mu.RLock()
	fns := append([]HandlerFunc(nil), s.handlers[env.Type]...)
	s.mu.RUnlock()

	for _, fn := range fns {
		run := func() {
			if err := fn(ctx, env); err != nil {
				util.Log(ctx).WithError(err).Error("event subscriber: handler failed")
			}
		}
		if s.Pool != nil {
			if err := s.Pool.Submit(ctx, run); err != nil {
				slog.WarnContext(ctx, "event pool full, handling inline",
					slog.String("event_type", string(env.Type)))
				run()
			}
			continue
		}
		run()
	}
	return nil
}
