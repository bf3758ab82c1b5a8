package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"genstudio/internal/domain"
)

const defaultArtifactPage = 20

type artifactsResponse struct {
	Items  []domain.Artifact `json:"items"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

func (a *App) ArtifactsList(w http.ResponseWriter, r *http.Request) {
	if a.Artifacts == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "artifact storage is not configured")
		return
	}
	q := r.URL.Query()
	owner := strings.TrimSpace(q.Get("owner_id"))
	if owner == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "owner_id required")
		return
	}
	limit := queryInt(q.Get("limit"), defaultArtifactPage)
	offset := queryInt(q.Get("offset"), 0)
	items, err := a.Artifacts.ListByOwner(r.Context(), owner, limit, offset)
	if err != nil {
		a.Logger.Error().Err(err).Str("owner_id", owner).Msg("handlers: list artifacts")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list artifacts")
		return
	}
	if items == nil {
		items = []domain.Artifact{}
	}
	a.json(w, http.StatusOK, artifactsResponse{Items: items, Limit: limit, Offset: offset})
}

func queryInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
