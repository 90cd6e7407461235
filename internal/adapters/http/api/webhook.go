// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	service "github.com/forgescore/forgescore/internal/app"
	"github.com/forgescore/forgescore/internal/domain/fingerprint"
	"github.com/forgescore/forgescore/internal/domain/model"
	"github.com/forgescore/forgescore/pkg/metrics"
)

// Webhook header names.
const (
	headerDelivery  = "X-Delivery"
	headerEventType = "X-Event-Type"
	headerSignature = "X-Signature-256"

	maxWebhookBody = 1 << 20 // 1 MiB
)

// WebhookHandler verifies, decodes, and queues webhook deliveries.
type WebhookHandler struct {
	deps   Dependencies
	secret []byte
}

// NewWebhookHandler creates a new webhook handler. An empty secret disables
// signature verification, for local development only.
func NewWebhookHandler(deps Dependencies, secret string) *WebhookHandler {
	return &WebhookHandler{deps: deps, secret: []byte(secret)}
}

// verifySignature checks the hex HMAC-SHA256 of the raw body in constant
// time.
func (h *WebhookHandler) verifySignature(body []byte, header string) bool {
	if len(h.secret) == 0 {
		return true
	}
	sig := strings.TrimPrefix(header, "sha256=")
	if sig == header {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

type prRef struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Additions int       `json:"additions"`
	Deletions int       `json:"deletions"`
	Merged    bool      `json:"merged"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at"`
	MergedAt  time.Time `json:"merged_at"`
}

type repoRef struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

type webhookPayload struct {
	Action      string  `json:"action"`
	PullRequest *prRef  `json:"pull_request,omitempty"`
	Repository  repoRef `json:"repository"`
	Ref         string  `json:"ref,omitempty"`
	Commits     []struct {
		ID string `json:"id"`
	} `json:"commits,omitempty"`
}

// decodeEvent maps a payload onto the typed event union.
func decodeEvent(eventType string, p webhookPayload) (model.Event, error) {
	switch eventType {
	case "pull_request":
		if p.PullRequest == nil {
			return nil, errors.New("missing pull_request object")
		}
		return model.PullRequestEvent{
			EventAction:   p.Action,
			SubjectID:     p.PullRequest.ID,
			Number:        p.PullRequest.Number,
			RepoSubjectID: p.Repository.ID,
			AuthorID:      p.PullRequest.Author,
			Title:         p.PullRequest.Title,
			Additions:     p.PullRequest.Additions,
			Deletions:     p.PullRequest.Deletions,
			Merged:        p.PullRequest.Merged,
			CreatedAt:     p.PullRequest.CreatedAt,
			ClosedAt:      p.PullRequest.ClosedAt,
			MergedAt:      p.PullRequest.MergedAt,
		}, nil
	case "push":
		return model.PushEvent{
			Ref:           p.Ref,
			RepoSubjectID: p.Repository.ID,
			DefaultBranch: p.Repository.DefaultBranch,
			CommitCount:   len(p.Commits),
		}, nil
	case "repository":
		return model.RepositoryEvent{
			EventAction:   p.Action,
			RepoSubjectID: p.Repository.ID,
			Name:          p.Repository.Name,
			FullName:      p.Repository.FullName,
		}, nil
	default:
		return nil, nil // unsupported event types are acknowledged and ignored
	}
}

// HandlePostWebhook handles POST /webhooks requests. Valid deliveries are
// acknowledged with 202 before processing happens.
func (h *WebhookHandler) HandlePostWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	if !h.verifySignature(body, r.Header.Get(headerSignature)) {
		metrics.RecordWebhookRejected()
		writeError(w, http.StatusUnauthorized, "invalid_signature", ErrInvalidSignature)
		return
	}

	deliveryID := r.Header.Get(headerDelivery)
	eventType := r.Header.Get(headerEventType)
	if deliveryID == "" || eventType == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrMissingHeaders)
		return
	}
	metrics.RecordWebhookReceived(eventType)

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	ev, err := decodeEvent(eventType, payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if ev == nil {
		metrics.RecordWebhookIgnored()
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "ignored"})
		return
	}

	outcome, err := h.deps.Accept(r.Context(), deliveryID, ev)
	if errors.Is(err, service.ErrQueueFull) {
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if outcome == fingerprint.OutcomeDuplicate {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted"})
}
