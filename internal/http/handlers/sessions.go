package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/domain"
	"genstudio/internal/session"
)

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *App) SessionsCreate(w http.ResponseWriter, r *http.Request) {
	s, err := a.Sessions.Open()
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: open session")
		a.error(w, http.StatusInternalServerError, "internal", "failed to open session")
		return
	}
	a.json(w, http.StatusCreated, sessionResponse{ID: s.ID, CreatedAt: s.CreatedAt})
}

// SessionsDelete closes the session and stops tracking all of its tasks.
func (a *App) SessionsDelete(w http.ResponseWriter, r *http.Request) {
	n, err := a.Sessions.Close(chi.URLParam(r, "sid"))
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	a.json(w, http.StatusOK, map[string]int{"cancelled": n})
}

// session resolves {sid} and writes the error response when it fails.
func (a *App) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := a.Sessions.Get(chi.URLParam(r, "sid"))
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "session not found")
		return nil, false
	}
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load session")
		return nil, false
	}
	return s, true
}
