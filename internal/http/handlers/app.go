package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/session"
)

const maxBodyBytes = 1 << 20

// App holds the dependencies shared by HTTP handlers.
type App struct {
	Sessions *session.Manager
	// Artifacts is nil when no database is configured.
	Artifacts domain.ArtifactLister
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger
}

type AppOptions struct {
	Sessions  *session.Manager
	Artifacts domain.ArtifactLister
	Gatherer  prometheus.Gatherer
	Logger    *infra.Logger
}

func NewApp(opts AppOptions) (*App, error) {
	if opts.Sessions == nil {
		return nil, errors.New("handlers: session manager is required")
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &App{
		Sessions:  opts.Sessions,
		Artifacts: opts.Artifacts,
		Gatherer:  gatherer,
		Logger:    logger,
	}, nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, errorBody{Error: errCode, Message: msg})
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
