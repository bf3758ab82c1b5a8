package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/domain"
	"genstudio/internal/middleware"
)

type generationCreateRequest struct {
	Kind string `json:"kind"`
	domain.Payload
	UserID    string `json:"user_id"`
	PersonaID string `json:"persona_id"`
}

type generationsResponse struct {
	Items []domain.GenerationTask `json:"items"`
}

type cancelResponse struct {
	Cancelled bool                  `json:"cancelled"`
	Task      domain.GenerationTask `json:"task"`
}

func (a *App) GenerationsCreate(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var body generationCreateRequest
	if !a.decode(w, r, &body) {
		return
	}
	kind, ok := domain.ParseKind(body.Kind)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported kind")
		return
	}
	owner := domain.OwnerContext{
		UserID:    strings.TrimSpace(body.UserID),
		PersonaID: strings.TrimSpace(body.PersonaID),
		Locale:    middleware.LocaleFromContext(r.Context()),
		Country:   middleware.CountryFromContext(r.Context()),
	}
	req := domain.GenerationRequest{Kind: kind, Payload: body.Payload, Owner: owner}

	// The task outlives the request; only the session may cancel it.
	h, err := s.Submit(r.Context(), req)
	switch {
	case errors.Is(err, domain.ErrSubmissionRejected):
		a.error(w, http.StatusBadRequest, "rejected", err.Error())
		return
	case errors.Is(err, domain.ErrSessionClosed):
		a.error(w, http.StatusGone, "session_closed", "session closed")
		return
	case err != nil:
		a.Logger.Error().Err(err).Str("session_id", s.ID).Msg("handlers: submit generation")
		a.error(w, http.StatusInternalServerError, "internal", "failed to submit generation")
		return
	}
	a.json(w, http.StatusAccepted, h.Snapshot())
}

func (a *App) GenerationsList(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, generationsResponse{Items: s.Tasks()})
}

func (a *App) GenerationsGet(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	task, ok := s.Task(chi.URLParam(r, "id"))
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	}
	a.json(w, http.StatusOK, task)
}

// GenerationsCancel stops local tracking. The provider is not told.
func (a *App) GenerationsCancel(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if h, ok := s.Orchestrator().Handle(id); ok {
		cancelled := h.Cancel()
		a.json(w, http.StatusOK, cancelResponse{Cancelled: cancelled, Task: h.Snapshot()})
		return
	}
	task, ok := s.Task(id)
	if !ok {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	}
	a.json(w, http.StatusOK, cancelResponse{Task: task})
}
