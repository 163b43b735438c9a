package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestSubscriberRoutesByType(t *testing.T) {
	var s Subscriber
	var stopped, failed int
	s.On(SessionStopped, func(_ context.Context, env Envelope) error {
		stopped++
		if env.SessionID != "s1" {
			t.Errorf("got session %q, want s1", env.SessionID)
		}
		return nil
	})
	s.On(SummaryFailed, func(context.Context, Envelope) error {
		failed++
		return errors.New("handler errors are logged, not returned")
	})

	for _, typ := range []EventType{SessionStopped, SummaryFailed, MetricUpdated} {
		msg, _ := json.Marshal(Envelope{ID: "e", Type: typ, SessionID: "s1"})
		if err := s.Handle(context.Background(), nil, msg); err != nil {
			t.Fatalf("Handle(%s): %v", typ, err)
		}
	}
	if stopped != 1 || failed != 1 {
		t.Errorf("got stopped=%d failed=%d, want 1 and 1", stopped, failed)
	}
}

func TestSubscriberRejectsGarbage(t *testing.T) {
	var s Subscriber
	if err := s.Handle(context.Background(), nil, []byte("{")); err == nil {
		t.Fatal("expected an unmarshal error")
	}
}
