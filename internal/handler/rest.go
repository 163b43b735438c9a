// Package handler exposes the coach over REST and Connect.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/voicetyped/speechcoach/internal/analysis"
	"github.com/voicetyped/speechcoach/internal/coach"
	"github.com/voicetyped/speechcoach/pkg/profile"
)

const maxRequestBodySize = 1 << 20 // 1 MiB

// ProfileLister lists the known coaching profiles.
type ProfileLister interface {
	List() []profile.Profile
}

// Backend is the pass-through part of the analysis client.
type Backend interface {
	ListPaceSessions(ctx context.Context) (analysis.PaceSessionsResponse, error)
	ChallengeProgress(ctx context.Context) (json.RawMessage, error)
	InitChallenges(ctx context.Context) (json.RawMessage, error)
	SaveChallengeSession(ctx context.Context, outcome json.RawMessage) (json.RawMessage, error)
	BreakerStates() map[string]string
}

// ErrorResponse is the body of every REST error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler provides the REST endpoints.
type Handler struct {
	coach    *coach.Coach
	profiles ProfileLister
	backend  Backend
	saver    *coach.Saver
}

// NewHandler creates a REST handler. backend and saver may be nil.
func NewHandler(c *coach.Coach, profiles ProfileLister, backend Backend, saver *coach.Saver) *Handler {
	return &Handler{coach: c, profiles: profiles, backend: backend, saver: saver}
}

// RegisterRoutes registers all REST routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.Start)
	mux.HandleFunc("GET /api/v1/sessions/active", h.Active)
	mux.HandleFunc("POST /api/v1/sessions/{id}/pause", h.Pause)
	mux.HandleFunc("POST /api/v1/sessions/{id}/resume", h.Resume)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.Stop)
	mux.HandleFunc("GET /api/v1/sessions/{id}/snapshot", h.Snapshot)
	mux.HandleFunc("GET /api/v1/sessions/{id}/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/profiles", h.Profiles)
	mux.HandleFunc("GET /api/v1/pace-sessions", h.PaceSessions)
	mux.HandleFunc("GET /api/v1/challenges/progress", h.ChallengeProgress)
	mux.HandleFunc("POST /api/v1/challenges/init", h.InitChallenges)
	mux.HandleFunc("POST /api/v1/challenges/session", h.SaveChallengeSession)
	mux.HandleFunc("GET /api/v1/dead-letters", h.DeadLetters)
	mux.HandleFunc("POST /api/v1/dead-letters/{id}/replay", h.ReplayDeadLetter)
	mux.HandleFunc("GET /api/v1/breakers", h.Breakers)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

var errNoBackend = analysis.ErrNoBackend

// Start handles POST /api/v1/sessions
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req coach.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	info, err := h.coach.Start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// Active handles GET /api/v1/sessions/active
func (h *Handler) Active(w http.ResponseWriter, _ *http.Request) {
	id, ok := h.coach.Active()
	if !ok {
		writeError(w, coach.ErrNoSession)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// Pause handles POST /api/v1/sessions/{id}/pause
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.coach.Pause(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles POST /api/v1/sessions/{id}/resume
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.coach.Resume(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stop handles DELETE /api/v1/sessions/{id}
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	sum, err := h.coach.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Snapshot handles GET /api/v1/sessions/{id}/snapshot
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.coach.Snapshot(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Stats handles GET /api/v1/sessions/{id}/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.coach.Stats(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Profiles handles GET /api/v1/profiles
func (h *Handler) Profiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.profiles.List())
}

// PaceSessions handles GET /api/v1/pace-sessions
func (h *Handler) PaceSessions(w http.ResponseWriter, r *http.Request) {
	if h.backend == nil {
		writeError(w, errNoBackend)
		return
	}
	out, err := h.backend.ListPaceSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) passThrough(w http.ResponseWriter, raw json.RawMessage, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// ChallengeProgress handles GET /api/v1/challenges/progress
func (h *Handler) ChallengeProgress(w http.ResponseWriter, r *http.Request) {
	if h.backend == nil {
		writeError(w, errNoBackend)
		return
	}
	raw, err := h.backend.ChallengeProgress(r.Context())
	h.passThrough(w, raw, err)
}

// InitChallenges handles POST /api/v1/challenges/init
func (h *Handler) InitChallenges(w http.ResponseWriter, r *http.Request) {
	if h.backend == nil {
		writeError(w, errNoBackend)
		return
	}
	raw, err := h.backend.InitChallenges(r.Context())
	h.passThrough(w, raw, err)
}

// SaveChallengeSession handles POST /api/v1/challenges/session
func (h *Handler) SaveChallengeSession(w http.ResponseWriter, r *http.Request) {
	if h.backend == nil {
		writeError(w, errNoBackend)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var outcome json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	raw, err := h.backend.SaveChallengeSession(r.Context(), outcome)
	h.passThrough(w, raw, err)
}

// DeadLetters handles GET /api/v1/dead-letters
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.saver == nil {
		writeJSON(w, http.StatusOK, []coach.DeadLetter{})
		return
	}
	letters, err := h.saver.DeadLetters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, letters)
}

// ReplayDeadLetter handles POST /api/v1/dead-letters/{id}/replay
func (h *Handler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	if h.saver == nil {
		writeError(w, coach.ErrDeadLetterNotFound)
		return
	}
	if err := h.saver.Replay(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Breakers handles GET /api/v1/breakers
func (h *Handler) Breakers(w http.ResponseWriter, _ *http.Request) {
	if h.backend == nil {
		writeJSON(w, http.StatusOK, map[string]string{})
		return
	}
	writeJSON(w, http.StatusOK, h.backend.BreakerStates())
}
