package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pitabwire/frame/queue"
	"github.com/rs/xid"
)

// Publisher emits typed envelopes to the frame event queue and to local
// in-process watchers. A nil queue manager limits it to local watchers; a
// nil Publisher drops everything.
type Publisher struct {
	queueMgr queue.Manager
	source   string
	queueRef string

	mu       sync.RWMutex
	watchers map[string]*watcher
	dropped  atomic.Uint64
}

type watcher struct {
	ch chan Envelope
	// sessionID limits delivery to one session when set.
	sessionID string
}

func (w *watcher) wants(env Envelope) bool {
	return w.sessionID == "" || w.sessionID == env.SessionID
}

// NewPublisher creates a publisher for queueRef. source names the emitter in
// every envelope.
func NewPublisher(queueMgr queue.Manager, source string, queueRef string) *Publisher {
	return &Publisher{
		queueMgr: queueMgr,
		source:   source,
		queueRef: queueRef,
		watchers: make(map[string]*watcher),
	}
}

// Emit builds an envelope around data, hands it to every interested watcher
// without blocking, then publishes it on the queue.
func (p *Publisher) Emit(ctx context.Context, eventType EventType, sessionID string, data any) error {
	if p == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	env := Envelope{
		ID:        xid.New().String(),
		Type:      eventType,
		Source:    p.source,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}

	p.deliver(ctx, env)

	if p.queueMgr == nil || p.queueRef == "" {
		return nil
	}
	return p.queueMgr.Publish(ctx, p.queueRef, env)
}

func (p *Publisher) deliver(ctx context.Context, env Envelope) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for id, w := range p.watchers {
		if !w.wants(env) {
			continue
		}
		select {
		case w.ch <- env:
		default:
			p.dropped.Add(1)
			level := slog.LevelWarn
			if env.Type == MetricUpdated {
				// The next update carries a newer snapshot anyway.
				level = slog.LevelDebug
			}
			slog.Log(ctx, level, "event dropped: watcher buffer full",
				slog.String("watcher", id), slog.String("event_type", string(env.Type)))
		}
	}
}

// Subscribe registers a local watcher for every event. The caller must
// Unsubscribe with the same id.
func (p *Publisher) Subscribe(id string, bufSize int) <-chan Envelope {
	return p.add(id, "", bufSize)
}

// SubscribeSession registers a local watcher for the events of one session.
func (p *Publisher) SubscribeSession(id, sessionID string, bufSize int) <-chan Envelope {
	return p.add(id, sessionID, bufSize)
}

func (p *Publisher) add(id, sessionID string, bufSize int) <-chan Envelope {
	if bufSize <= 0 {
		bufSize = 64
	}
	w := &watcher{ch: make(chan Envelope, bufSize), sessionID: sessionID}
	p.mu.Lock()
	if old, ok := p.watchers[id]; ok {
		close(old.ch)
	}
	p.watchers[id] = w
	p.mu.Unlock()
	return w.ch
}

// Unsubscribe removes a watcher and closes its channel.
func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.watchers[id]; ok {
		close(w.ch)
		delete(p.watchers, id)
	}
}

// Dropped counts events that found a watcher's buffer full.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }
