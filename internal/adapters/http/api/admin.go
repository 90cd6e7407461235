package api

import (
	"encoding/json"
	"errors"
	"net/http"

	service "github.com/forgescore/forgescore/internal/app"
	"github.com/forgescore/forgescore/internal/domain/ledger"
	"github.com/forgescore/forgescore/internal/domain/model"
)

// AdminHandler serves operator endpoints: manual badge grants, point
// adjustments, ledger verification and the audit trail. All mutating
// operations require the caller to name an actor and a justification.
type AdminHandler struct {
	deps Dependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps Dependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

// HandleIssueStateToken handles POST /admin/state-token requests. The
// returned token is single-use and must accompany a manual badge grant.
func (h *AdminHandler) HandleIssueStateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Actor == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	token := h.deps.IssueStateToken(r.Context(), req.Actor)
	writeJSON(w, http.StatusOK, map[string]string{"state_token": token})
}

// HandleGrantBadge handles POST /admin/badges/grant requests.
func (h *AdminHandler) HandleGrantBadge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req struct {
		StateToken    string `json:"state_token"`
		ContributorID string `json:"contributor_id"`
		BadgeID       string `json:"badge_id"`
		Actor         string `json:"actor"`
		Justification string `json:"justification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	award, err := h.deps.GrantBadge(r.Context(), req.StateToken, req.ContributorID, req.BadgeID, req.Actor, req.Justification)
	if errors.Is(err, service.ErrInvalidStateToken) {
		writeError(w, http.StatusForbidden, "invalid_state_token", err)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, award)
}

// HandleRevokeBadge handles POST /admin/badges/revoke requests.
func (h *AdminHandler) HandleRevokeBadge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req struct {
		ContributorID string `json:"contributor_id"`
		BadgeID       string `json:"badge_id"`
		Actor         string `json:"actor"`
		Justification string `json:"justification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.deps.RevokeBadge(r.Context(), req.ContributorID, req.BadgeID, req.Actor, req.Justification); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// HandleAdjustPoints handles POST /admin/points/adjust requests.
func (h *AdminHandler) HandleAdjustPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req struct {
		ContributorID string `json:"contributor_id"`
		Points        int    `json:"points"`
		Kind          string `json:"kind"`
		Actor         string `json:"actor"`
		Justification string `json:"justification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	kind := model.TransactionKind(req.Kind)
	switch kind {
	case model.KindBonus, model.KindPenalty:
	default:
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	tx, err := h.deps.AdjustPoints(r.Context(), req.ContributorID, req.Points, kind, req.Actor, req.Justification)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// HandleReverseTransaction handles POST /admin/points/reverse requests.
func (h *AdminHandler) HandleReverseTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req struct {
		TransactionID string `json:"transaction_id"`
		Actor         string `json:"actor"`
		Justification string `json:"justification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	tx, err := h.deps.ReverseTransaction(r.Context(), req.TransactionID, req.Actor, req.Justification)
	if errors.Is(err, ledger.ErrNotReversible) {
		writeError(w, http.StatusConflict, "not_reversible", err)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type verifyResponse struct {
	Consistent bool           `json:"consistent"`
	Drifts     []ledger.Drift `json:"drifts,omitempty"`
}

// HandleVerifyLedger handles GET /admin/ledger/verify requests. Drifts are
// reported with a 409 so monitoring can alert on the status code alone.
func (h *AdminHandler) HandleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	drifts, err := h.deps.VerifyLedger(r.Context())
	if errors.Is(err, ledger.ErrIntegrity) {
		writeJSON(w, http.StatusConflict, verifyResponse{Consistent: false, Drifts: drifts})
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Consistent: true})
}

// HandleGetAudit handles GET /admin/audit?actor=&subject=&action= requests.
func (h *AdminHandler) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	entries, err := h.deps.Audit(r.Context(), model.AuditFilter{
		Actor:   q.Get("actor"),
		Subject: q.Get("subject"),
		Action:  q.Get("action"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
