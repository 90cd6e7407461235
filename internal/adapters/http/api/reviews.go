// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/forgescore/forgescore/internal/app"
	"github.com/forgescore/forgescore/internal/domain/model"
)

// ReviewsHandler handles review claims and submissions.
type ReviewsHandler struct {
	deps Dependencies
}

// NewReviewsHandler creates a new reviews handler.
func NewReviewsHandler(deps Dependencies) *ReviewsHandler {
	return &ReviewsHandler{deps: deps}
}

type claimRequest struct {
	SubjectID  int64  `json:"subject_id"`
	ReviewerID string `json:"reviewer_id"`
}

// HandleClaimReview handles POST /reviews/claim requests.
func (h *ReviewsHandler) HandleClaimReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.SubjectID == 0 || req.ReviewerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	err := h.deps.ClaimReview(r.Context(), req.SubjectID, req.ReviewerID)
	if errors.Is(err, service.ErrReviewClaimed) {
		writeError(w, http.StatusConflict, "already_claimed", err)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed"})
}

type reviewRequest struct {
	SubjectID  int64  `json:"subject_id"`
	ReviewerID string `json:"reviewer_id"`
	Action     string `json:"action"`
	Rating     int    `json:"rating,omitempty"`
}

// HandlePostReview handles POST /reviews requests.
func (h *ReviewsHandler) HandlePostReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.SubjectID == 0 || req.ReviewerID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	err := h.deps.SubmitReview(r.Context(), req.SubjectID, req.ReviewerID,
		model.ReviewAction(req.Action), req.Rating)
	if errors.Is(err, service.ErrInvalidRating) {
		writeError(w, http.StatusBadRequest, "invalid_rating", err)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
