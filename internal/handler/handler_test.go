package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/voicetyped/speechcoach/internal/analysis"
	"github.com/voicetyped/speechcoach/internal/coach"
	"github.com/voicetyped/speechcoach/internal/media"
	"github.com/voicetyped/speechcoach/internal/metrics"
	"github.com/voicetyped/speechcoach/pkg/events"
	"github.com/voicetyped/speechcoach/pkg/profile"
)

type profileSet map[string]profile.Profile

func (p profileSet) Get(name string) (profile.Profile, bool) {
	v, ok := p[name]
	return v, ok
}

func (p profileSet) List() []profile.Profile {
	out := make([]profile.Profile, 0, len(p))
	for _, v := range p {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type fakeBackend struct {
	sessions analysis.PaceSessionsResponse
	err      error
	saved    json.RawMessage
}

func (f *fakeBackend) ListPaceSessions(context.Context) (analysis.PaceSessionsResponse, error) {
	return f.sessions, f.err
}

func (f *fakeBackend) ChallengeProgress(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"challenges":[]}`), f.err
}

func (f *fakeBackend) InitChallenges(context.Context) (json.RawMessage, error) {
	return nil, f.err
}

func (f *fakeBackend) SaveChallengeSession(_ context.Context, outcome json.RawMessage) (json.RawMessage, error) {
	f.saved = outcome
	return json.RawMessage(`{"badge":"first"}`), f.err
}

func (f *fakeBackend) BreakerStates() map[string]string {
	return map[string]string{analysis.PathRealTimePace: analysis.StateClosed}
}

type env struct {
	coach   *coach.Coach
	dev     *media.StaticDevice
	pub     *events.Publisher
	mux     *http.ServeMux
	backend *fakeBackend
}

func newEnv(t *testing.T) *env {
	t.Helper()
	services := http.NewServeMux()
	services.HandleFunc(analysis.PathRealTimePace, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"current_wpm":120,"score":95}`))
	})
	srv := httptest.NewServer(services)
	t.Cleanup(srv.Close)

	client := analysis.NewClient(analysis.Config{AnalysisURL: srv.URL, Timeout: time.Second})

	p := profile.Profile{
		Name:      "steady",
		Activity:  profile.ActivityFree,
		TargetWPM: 120,
		Tolerance: 10,
		Domains:   []string{profile.DomainPace},
		Intervals: profile.Timings{Pace: 20 * time.Millisecond},
		Windows:   profile.Timings{Pace: 50 * time.Millisecond},
	}
	p.Normalize()
	profiles := profileSet{p.Name: p}

	pub := events.NewPublisher(nil, "test", "")
	dev := &media.StaticDevice{}
	c := coach.New(coach.Config{DefaultProfile: p.Name, RequestTimeout: time.Second},
		media.NewAcquirer(dev), client, profiles,
		coach.WithProvider(metrics.FixedProvider{}),
		coach.WithPublisher(pub),
	)
	t.Cleanup(func() { c.Shutdown(context.Background()) })

	backend := &fakeBackend{sessions: analysis.PaceSessionsResponse{}}
	mux := http.NewServeMux()
	NewHandler(c, profiles, backend, nil).RegisterRoutes(mux)
	path, h := NewCoachServiceHandler(NewCoachService(c, pub))
	mux.Handle(path, h)
	return &env{coach: c, dev: dev, pub: pub, mux: mux, backend: backend}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	return w
}

func feedTone(t *testing.T, dev *media.StaticDevice) {
	t.Helper()
	track := dev.Audio()
	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		frame := make([]float32, 160)
		for i := range frame {
			frame[i] = 0.2
		}
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-track.Done():
				return
			case <-ticker.C:
				track.WritePCM(frame)
			}
		}
	}()
}

func TestRESTSessionFlow(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/sessions", `{}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: got status %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var info coach.SessionInfo
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode session info: %v", err)
	}
	if info.ID == "" {
		t.Fatal("expected a session id")
	}

	w = e.do(t, http.MethodPost, "/api/v1/sessions", `{}`)
	if w.Code != http.StatusConflict {
		t.Errorf("second start: got status %d, want %d", w.Code, http.StatusConflict)
	}

	w = e.do(t, http.MethodGet, "/api/v1/sessions/active", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), info.ID) {
		t.Errorf("active: got %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/api/v1/sessions/"+info.ID+"/snapshot", "")
	if w.Code != http.StatusOK {
		t.Errorf("snapshot: got status %d, want %d", w.Code, http.StatusOK)
	}

	w = e.do(t, http.MethodGet, "/api/v1/sessions/unknown/snapshot", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown snapshot: got status %d, want %d", w.Code, http.StatusNotFound)
	}

	w = e.do(t, http.MethodPost, "/api/v1/sessions/"+info.ID+"/pause", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("pause: got status %d, want %d", w.Code, http.StatusNoContent)
	}
	w = e.do(t, http.MethodPost, "/api/v1/sessions/"+info.ID+"/pause", "")
	if w.Code != http.StatusConflict {
		t.Errorf("second pause: got status %d, want %d", w.Code, http.StatusConflict)
	}
	w = e.do(t, http.MethodPost, "/api/v1/sessions/"+info.ID+"/resume", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("resume: got status %d, want %d", w.Code, http.StatusNoContent)
	}

	w = e.do(t, http.MethodGet, "/api/v1/sessions/"+info.ID+"/stats", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), profile.DomainPace) {
		t.Errorf("stats: got %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodDelete, "/api/v1/sessions/"+info.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("stop: got status %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var sum coach.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.SessionID != info.ID {
		t.Errorf("got summary for %q, want %q", sum.SessionID, info.ID)
	}

	w = e.do(t, http.MethodGet, "/api/v1/sessions/active", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("active after stop: got status %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRESTStartRejectsBadInput(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"target out of range", `{"target_wpm": 900}`, http.StatusBadRequest},
		{"unknown profile", `{"profile": "nope"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/api/v1/sessions", tt.body)
			if w.Code != tt.want {
				t.Errorf("got status %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Error == "" {
				t.Errorf("expected an error body, got %s", w.Body.String())
			}
		})
	}
}

func TestRESTProfilesAndBackend(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/profiles", "")
	var list []profile.Profile
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode profiles: %v", err)
	}
	if len(list) != 1 || list[0].Name != "steady" {
		t.Errorf("got profiles %+v, want [steady]", list)
	}

	w = e.do(t, http.MethodGet, "/api/v1/challenges/progress", "")
	if w.Code != http.StatusOK || w.Body.String() != `{"challenges":[]}` {
		t.Errorf("progress: got %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/api/v1/challenges/init", "")
	if w.Code != http.StatusOK || w.Body.String() != `{}` {
		t.Errorf("init: got %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, "/api/v1/challenges/session", `{"challenge":"pace","score":80}`)
	if w.Code != http.StatusOK {
		t.Errorf("challenge session: got status %d", w.Code)
	}
	if !bytes.Contains(e.backend.saved, []byte(`"pace"`)) {
		t.Errorf("backend got %s", e.backend.saved)
	}

	w = e.do(t, http.MethodGet, "/api/v1/breakers", "")
	if !strings.Contains(w.Body.String(), analysis.StateClosed) {
		t.Errorf("breakers: got %s", w.Body.String())
	}

	e.backend.err = &analysis.StatusError{Path: analysis.PathPaceSessions, StatusCode: 500}
	w = e.do(t, http.MethodGet, "/api/v1/pace-sessions", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("pace sessions: got status %d, want %d", w.Code, http.StatusBadGateway)
	}

	e.backend.err = analysis.ErrAuthExpired
	w = e.do(t, http.MethodGet, "/api/v1/pace-sessions", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expired token: got status %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRESTDeadLettersWithoutSaver(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/api/v1/dead-letters", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("dead letters: got %d %s", w.Code, w.Body.String())
	}
	w = e.do(t, http.MethodPost, "/api/v1/dead-letters/abc/replay", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("replay: got status %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{media.ErrPermissionDenied, http.StatusForbidden},
		{media.ErrDeviceUnavailable, http.StatusServiceUnavailable},
		{coach.ErrSessionActive, http.StatusConflict},
		{coach.ErrNoSession, http.StatusNotFound},
		{analysis.ErrCircuitOpen, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestConnectSessionAndWatch(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.mux)
	t.Cleanup(srv.Close)
	ctx := context.Background()

	start := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+StartSessionProcedure)
	resp, err := start.CallUnary(ctx, connect.NewRequest(&structpb.Struct{}))
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	var info coach.SessionInfo
	if err := FromStruct(resp.Msg, &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	feedTone(t, e.dev)

	_, err = start.CallUnary(ctx, connect.NewRequest(&structpb.Struct{}))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("second start: got code %v, want %v", connect.CodeOf(err), connect.CodeFailedPrecondition)
	}

	watch := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+WatchSnapshotsProcedure)
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stream, err := watch.CallServerStream(wctx, connect.NewRequest(&structpb.Struct{}))
	if err != nil {
		t.Fatalf("WatchSnapshots: %v", err)
	}
	defer stream.Close()

	var received int
	for received < 3 && stream.Receive() {
		if len(stream.Msg().GetFields()) == 0 {
			t.Fatal("got an empty snapshot")
		}
		received++
	}
	if received < 3 {
		t.Fatalf("got %d snapshots, want 3: %v", received, stream.Err())
	}

	req, _ := structpb.NewStruct(map[string]any{"session_id": info.ID})
	stop := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+StopSessionProcedure)
	if _, err := stop.CallUnary(ctx, connect.NewRequest(req)); err != nil {
		t.Fatalf("StopSession: %v", err)
	}

	for stream.Receive() {
	}
	if err := stream.Err(); err != nil {
		t.Errorf("stream ended with %v, want clean end", err)
	}

	get := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+GetSnapshotProcedure)
	_, err = get.CallUnary(ctx, connect.NewRequest(req))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("snapshot after stop: got code %v, want %v", connect.CodeOf(err), connect.CodeNotFound)
	}
}

func TestWatchWithoutSessionFails(t *testing.T) {
	e := newEnv(t)
	srv := httptest.NewServer(e.mux)
	t.Cleanup(srv.Close)

	watch := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+WatchSnapshotsProcedure)
	stream, err := watch.CallServerStream(context.Background(), connect.NewRequest(&structpb.Struct{}))
	if err != nil {
		t.Fatalf("WatchSnapshots: %v", err)
	}
	defer stream.Close()
	if stream.Receive() {
		t.Fatal("expected no snapshot without a session")
	}
	if connect.CodeOf(stream.Err()) != connect.CodeNotFound {
		t.Errorf("got code %v, want %v", connect.CodeOf(stream.Err()), connect.CodeNotFound)
	}
}
