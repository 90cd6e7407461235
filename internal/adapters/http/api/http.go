// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/forgescore/forgescore/internal/adapters/repository"
	"github.com/forgescore/forgescore/internal/domain/abuse"
	"github.com/forgescore/forgescore/internal/domain/badge"
	"github.com/forgescore/forgescore/internal/domain/fingerprint"
	"github.com/forgescore/forgescore/internal/domain/ledger"
	"github.com/forgescore/forgescore/internal/domain/lifecycle"
	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/internal/domain/rank"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Accept reserves a delivery fingerprint and queues it for processing.
	Accept(ctx context.Context, deliveryID string, ev model.Event) (fingerprint.Outcome, error)

	// Review operations.
	ClaimReview(ctx context.Context, subjectID int64, reviewerID string) error
	SubmitReview(ctx context.Context, subjectID int64, reviewerID string, action model.ReviewAction, rating int) error

	// Read operations.
	Leaderboard(ctx context.Context, kind model.LeaderboardKind, period, projectID string, limit int) ([]model.RankEntry, error)
	RankOf(ctx context.Context, contributorID string) (model.RankEntry, error)
	RankChange(ctx context.Context, kind model.LeaderboardKind, period, projectID string) ([]rank.Movement, error)
	Badges(ctx context.Context, contributorID string) ([]model.BadgeAward, error)
	PointHistory(ctx context.Context, contributorID string) ([]model.PointTransaction, error)
	Balance(ctx context.Context, contributorID string) (int, error)
	Contribution(ctx context.Context, subjectID int64) (model.Contribution, error)
	Audit(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error)

	// Admin operations.
	IssueStateToken(ctx context.Context, payload string) string
	GrantBadge(ctx context.Context, stateToken, contributorID, badgeID, actor, justification string) (model.BadgeAward, error)
	RevokeBadge(ctx context.Context, contributorID, badgeID, actor, justification string) error
	AdjustPoints(ctx context.Context, contributorID string, points int, kind model.TransactionKind, actor, justification string) (model.PointTransaction, error)
	ReverseTransaction(ctx context.Context, txID, actor, justification string) (model.PointTransaction, error)
	VerifyLedger(ctx context.Context) ([]ledger.Drift, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler       *HealthHandler
	statsHandler        *StatsHandler
	webhookHandler      *WebhookHandler
	reviewsHandler      *ReviewsHandler
	leaderboardHandler  *LeaderboardHandler
	rankHandler         *RankHandler
	contributorsHandler *ContributorsHandler
	adminHandler        *AdminHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, secret string, maxLimit int) *Server {
	return &Server{
		healthHandler:       NewHealthHandler(),
		statsHandler:        NewStatsHandler(statsProvider),
		webhookHandler:      NewWebhookHandler(deps, secret),
		reviewsHandler:      NewReviewsHandler(deps),
		leaderboardHandler:  NewLeaderboardHandler(deps, maxLimit),
		rankHandler:         NewRankHandler(deps),
		contributorsHandler: NewContributorsHandler(deps),
		adminHandler:        NewAdminHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/webhooks", MetricsMiddleware(s.webhookHandler.HandlePostWebhook, "webhooks"))
	mux.HandleFunc("/reviews", MetricsMiddleware(s.reviewsHandler.HandlePostReview, "reviews"))
	mux.HandleFunc("/reviews/claim", MetricsMiddleware(s.reviewsHandler.HandleClaimReview, "reviews_claim"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/rank/", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("/rank-changes", MetricsMiddleware(s.rankHandler.HandleGetRankChanges, "rank_changes"))
	mux.HandleFunc("/contributors/", MetricsMiddleware(s.contributorsHandler.HandleGetContributor, "contributors"))
	mux.HandleFunc("/contributions/", MetricsMiddleware(s.contributorsHandler.HandleGetContribution, "contributions"))
	mux.HandleFunc("/admin/state-token", MetricsMiddleware(s.adminHandler.HandleIssueStateToken, "admin_state_token"))
	mux.HandleFunc("/admin/badges/grant", MetricsMiddleware(s.adminHandler.HandleGrantBadge, "admin_badge_grant"))
	mux.HandleFunc("/admin/badges/revoke", MetricsMiddleware(s.adminHandler.HandleRevokeBadge, "admin_badge_revoke"))
	mux.HandleFunc("/admin/points/adjust", MetricsMiddleware(s.adminHandler.HandleAdjustPoints, "admin_points_adjust"))
	mux.HandleFunc("/admin/points/reverse", MetricsMiddleware(s.adminHandler.HandleReverseTransaction, "admin_points_reverse"))
	mux.HandleFunc("/admin/ledger/verify", MetricsMiddleware(s.adminHandler.HandleVerifyLedger, "admin_ledger_verify"))
	mux.HandleFunc("/admin/audit", MetricsMiddleware(s.adminHandler.HandleGetAudit, "admin_audit"))
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates known sentinel errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var transition *lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, abuse.ErrReviewerBlocked):
		writeError(w, http.StatusForbidden, "reviewer_blocked", err)
	case errors.Is(err, badge.ErrAlreadyAwarded):
		writeError(w, http.StatusConflict, "already_awarded", err)
	case errors.Is(err, badge.ErrMissingJustification),
		errors.Is(err, ledger.ErrMissingReason),
		errors.Is(err, rank.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "invalid_transition", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
