package gifty

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"gifty-bot/internal/metrics"
	"gifty-bot/internal/repo"

	"github.com/google/uuid"
)

// Webhook event types.
const (
	EventPaymentStatus = "payment_status"
	EventRedeemStatus  = "redeem_status"
)

// PaymentStatusEvent is the inbound payment completion payload.
type PaymentStatusEvent struct {
	Status     string    `json:"status"`
	TelegramID string    `json:"telegram_id"`
	GiftCard   *GiftCard `json:"gift_card,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
}

// RedeemStatusEvent is the inbound redeem state-change payload.
type RedeemStatusEvent struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	Message            string `json:"message"`
	CustomerTelegramID string `json:"customer_telegram_id"`
	ShopTelegramID     string `json:"shop_telegram_id,omitempty"`
}

// NotificationProcessor completes in-flight conversations from webhook events.
type NotificationProcessor interface {
	HandlePaymentStatus(ctx context.Context, event PaymentStatusEvent) error
	HandleRedeemStatus(ctx context.Context, event RedeemStatusEvent) error
}

// WebhookHandler validates inbound backend notifications and forwards them
// to the processor. Auth is optional: when no MD5 secrets are configured the
// handler accepts any caller.
type WebhookHandler struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	repository  repo.Repository
	usernameMD5 string
	passwordMD5 string
	processor   NotificationProcessor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, metrics *metrics.Metrics, repository repo.Repository, usernameMD5, passwordMD5 string, processor NotificationProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:      logger.With("component", "gifty_webhook"),
		metrics:     metrics,
		repository:  repository,
		usernameMD5: strings.ToLower(usernameMD5),
		passwordMD5: strings.ToLower(passwordMD5),
		processor:   processor,
	}
}

// PaymentStatus returns the handler for payment completion callbacks.
func (h *WebhookHandler) PaymentStatus() http.Handler {
	return h.endpoint(EventPaymentStatus, func(ctx context.Context, body []byte) (string, error) {
		var event PaymentStatusEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return "", fmt.Errorf("decode payment status: %w", err)
		}
		if h.processor == nil {
			return event.Status, nil
		}
		return event.Status, h.processor.HandlePaymentStatus(ctx, event)
	})
}

// RedeemStatus returns the handler for redeem state-change callbacks.
func (h *WebhookHandler) RedeemStatus() http.Handler {
	return h.endpoint(EventRedeemStatus, func(ctx context.Context, body []byte) (string, error) {
		var event RedeemStatusEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return "", fmt.Errorf("decode redeem status: %w", err)
		}
		if h.processor == nil {
			return event.Status, nil
		}
		return event.Status, h.processor.HandleRedeemStatus(ctx, event)
	})
}

func (h *WebhookHandler) endpoint(eventType string, dispatch func(ctx context.Context, body []byte) (string, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := h.validateAuth(r); err != nil {
			if h.metrics != nil {
				h.metrics.Errors.WithLabelValues("webhook_auth").Inc()
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		status, err := dispatch(r.Context(), body)
		if err != nil {
			h.logger.Error("failed processing webhook", "error", err, "event", eventType)
			if h.metrics != nil {
				h.metrics.Errors.WithLabelValues("webhook_process").Inc()
			}
			http.Error(w, "failed to process", http.StatusBadRequest)
			return
		}

		if h.metrics != nil {
			h.metrics.WebhookEvents.WithLabelValues(eventType, status).Inc()
		}
		h.record(r.Context(), eventType, status, body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}

// record stores the event for auditing. Failures are logged, never surfaced.
func (h *WebhookHandler) record(ctx context.Context, eventType, status string, body []byte) {
	if h.repository == nil {
		return
	}
	err := h.repository.InsertWebhookEvent(ctx, repo.WebhookEventRecord{
		ID:         uuid.NewString(),
		Type:       eventType,
		Status:     status,
		RawPayload: body,
	})
	if err != nil {
		h.logger.Warn("failed recording webhook event", "error", err, "event", eventType)
	}
}

func (h *WebhookHandler) validateAuth(r *http.Request) error {
	if h.usernameMD5 == "" && h.passwordMD5 == "" {
		return nil
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		return fmt.Errorf("missing basic auth")
	}
	if md5Hex(username) != h.usernameMD5 {
		return fmt.Errorf("invalid username hash")
	}
	if md5Hex(password) != h.passwordMD5 {
		return fmt.Errorf("invalid password hash")
	}
	return nil
}

func md5Hex(val string) string {
	sum := md5.Sum([]byte(val))
	return strings.ToLower(hex.EncodeToString(sum[:]))
}
