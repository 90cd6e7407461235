package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/forgescore/forgescore/internal/domain/model"
)

// ContributorsHandler serves contributor and contribution lookups.
type ContributorsHandler struct {
	deps Dependencies
}

// NewContributorsHandler creates a new contributors handler.
func NewContributorsHandler(deps Dependencies) *ContributorsHandler {
	return &ContributorsHandler{deps: deps}
}

type contributorResponse struct {
	ContributorID string                   `json:"contributor_id"`
	Balance       int                      `json:"balance"`
	Badges        []model.BadgeAward       `json:"badges"`
	History       []model.PointTransaction `json:"history"`
}

// HandleGetContributor handles GET /contributors/{contributor_id} requests.
// The response bundles the current balance, earned badges and the full
// point history so clients render a profile page with a single call.
func (h *ContributorsHandler) HandleGetContributor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/contributors/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	balance, err := h.deps.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	badges, err := h.deps.Badges(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	history, err := h.deps.PointHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, contributorResponse{
		ContributorID: id,
		Balance:       balance,
		Badges:        badges,
		History:       history,
	})
}

// HandleGetContribution handles GET /contributions/{subject_id} requests,
// where subject_id is the numeric provider-side pull request identifier.
func (h *ContributorsHandler) HandleGetContribution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/contributions/")
	subjectID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	rec, err := h.deps.Contribution(r.Context(), subjectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
