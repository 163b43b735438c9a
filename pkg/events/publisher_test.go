package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeSerialization(t *testing.T) {
	raw, err := json.Marshal(&SessionStartedData{Activity: "rate", TargetWPM: 140, Video: true})
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}

	env := Envelope{
		ID:        "test-id",
		Type:      SessionStarted,
		Source:    "speechcoach",
		SessionID: "session-123",
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var decoded Envelope
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if decoded.Type != SessionStarted {
		t.Errorf("type = %q, want %q", decoded.Type, SessionStarted)
	}
	if decoded.SessionID != "session-123" {
		t.Errorf("session_id = %q, want %q", decoded.SessionID, "session-123")
	}
	var payload SessionStartedData
	if err := json.Unmarshal(decoded.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.TargetWPM != 140 || !payload.Video {
		t.Errorf("payload = %+v", payload)
	}
}

func TestLocalSubscribers(t *testing.T) {
	p := NewPublisher(nil, "speechcoach", "")
	ch := p.Subscribe("watch-1", 4)

	if err := p.Emit(context.Background(), MetricUpdated, "s1", MetricUpdatedData{Domain: "pace", Version: 3}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case env := <-ch:
		if env.Type != MetricUpdated || env.SessionID != "s1" || env.ID == "" {
			t.Errorf("unexpected envelope %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	p.Unsubscribe("watch-1")
	if _, ok := <-ch; ok {
		t.Error("channel not closed after Unsubscribe")
	}
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	p := NewPublisher(nil, "speechcoach", "")
	p.Subscribe("slow", 1)
	for i := 0; i < 5; i++ {
		if err := p.Emit(context.Background(), AlertRaised, "s1", AlertRaisedData{Severity: "warning"}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	if got := p.Dropped(); got != 4 {
		t.Errorf("got %d dropped, want 4", got)
	}
}

func TestSessionSubscriptionFilters(t *testing.T) {
	p := NewPublisher(nil, "speechcoach", "")
	ch := p.SubscribeSession("watch-s2", "s2", 4)
	defer p.Unsubscribe("watch-s2")

	ctx := context.Background()
	_ = p.Emit(ctx, MetricUpdated, "s1", MetricUpdatedData{Domain: "pace"})
	_ = p.Emit(ctx, MetricUpdated, "s2", MetricUpdatedData{Domain: "loudness"})

	select {
	case env := <-ch:
		if env.SessionID != "s2" {
			t.Errorf("got session %q, want s2", env.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	if len(ch) != 0 {
		t.Errorf("got %d extra events, want 0", len(ch))
	}
}

func TestNilPublisher(t *testing.T) {
	var p *Publisher
	if err := p.Emit(context.Background(), SessionStopped, "s", nil); err != nil {
		t.Errorf("nil publisher: %v", err)
	}
}
