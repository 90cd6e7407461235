package api

import (
	"errors"
	"net/http"
	"strings"

	service "github.com/forgescore/forgescore/internal/app"
	"github.com/forgescore/forgescore/internal/domain/rank"
)

// RankHandler handles rank requests.
type RankHandler struct {
	deps Dependencies
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps Dependencies) *RankHandler {
	return &RankHandler{deps: deps}
}

// HandleGetRank handles GET /rank/{contributor_id} requests.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/rank/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	entry, err := h.deps.RankOf(r.Context(), path)
	if errors.Is(err, service.ErrUnknownSubject) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleGetRankChanges handles GET /rank-changes?kind=&period=&project=.
func (h *RankHandler) HandleGetRankChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	kind, ok := parseKind(q.Get("kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	movements, err := h.deps.RankChange(r.Context(), kind, q.Get("period"), q.Get("project"))
	if errors.Is(err, rank.ErrNoHistory) {
		writeError(w, http.StatusNotFound, "no_history", err)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}
