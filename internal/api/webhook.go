package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	svix "github.com/svix/svix-webhooks/go"
	"go.uber.org/zap"

	"github.com/sharkyai/sharky/internal/core"
	"github.com/sharkyai/sharky/internal/webhook"
)

const (
	headerWebhookID        = "svix-id"
	headerWebhookTimestamp = "svix-timestamp"
	headerWebhookSignature = "svix-signature"
)

// IdentityEventHandler applies a verified identity-provider event.
type IdentityEventHandler interface {
	HandleEvent(ctx context.Context, event core.IdentityEvent) error
}

// WebhookHandler receives signed identity-provider events. Nothing is
// written unless the signature verifies.
type WebhookHandler struct {
	wh       *svix.Webhook
	identity IdentityEventHandler
	guard    webhook.Guard
	logger   *zap.Logger
}

// NewWebhookHandler fails if the secret is malformed. An empty secret is
// accepted and makes every delivery fail with 500.
func NewWebhookHandler(secret string, identity IdentityEventHandler, guard webhook.Guard, logger *zap.Logger) (*WebhookHandler, error) {
	h := &WebhookHandler{identity: identity, guard: guard, logger: logger}
	if h.guard == nil {
		h.guard = webhook.NopGuard{}
	}
	if secret == "" {
		logger.Warn("WEBHOOK_SECRET is not set; identity webhooks will be rejected")
		return h, nil
	}

	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, err
	}
	h.wh = wh
	return h, nil
}

func respondText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, text)
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.wh == nil {
		respondText(w, http.StatusInternalServerError, "Webhook secret is not configured")
		return
	}

	msgID := r.Header.Get(headerWebhookID)
	if msgID == "" || r.Header.Get(headerWebhookTimestamp) == "" || r.Header.Get(headerWebhookSignature) == "" {
		respondText(w, http.StatusBadRequest, "Missing required webhook headers")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondText(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	if err := h.wh.Verify(body, r.Header); err != nil {
		h.logger.Warn("webhook signature verification failed", zap.String("svix_id", msgID), zap.Error(err))
		respondText(w, http.StatusBadRequest, "Invalid webhook signature")
		return
	}

	var event core.IdentityEvent
	if err := json.Unmarshal(body, &event); err != nil {
		respondText(w, http.StatusBadRequest, "Invalid webhook payload")
		return
	}

	claimed, err := h.guard.Claim(r.Context(), msgID)
	if err != nil {
		// Handling is idempotent, so a guard outage only costs a repeat write.
		h.logger.Warn("webhook replay guard unavailable", zap.String("svix_id", msgID), zap.Error(err))
		claimed = true
	}
	if !claimed {
		h.logger.Info("webhook already processed", zap.String("svix_id", msgID), zap.String("event", event.Type))
		respondText(w, http.StatusOK, "Webhook already processed")
		return
	}

	if err := h.identity.HandleEvent(r.Context(), event); err != nil {
		if rerr := h.guard.Release(context.WithoutCancel(r.Context()), msgID); rerr != nil {
			h.logger.Warn("failed to release webhook claim", zap.String("svix_id", msgID), zap.Error(rerr))
		}
		if errors.Is(err, core.ErrValidation) {
			respondText(w, http.StatusBadRequest, "Invalid webhook payload")
			return
		}
		h.logger.Error("webhook processing failed",
			zap.String("svix_id", msgID),
			zap.String("event", event.Type),
			zap.Error(err))
		respondText(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondText(w, http.StatusOK, "Webhook processed successfully")
}
