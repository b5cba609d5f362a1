package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/yoyaba/gtmdocs/internal/api/response"
	"github.com/yoyaba/gtmdocs/internal/observability"
	"github.com/yoyaba/gtmdocs/internal/openai"
)

// Webhook bodies are small JSON envelopes; anything bigger is hostile.
const maxWebhookBody = 1 << 20

// EventVerifier authenticates a raw webhook delivery.
type EventVerifier interface {
	Unwrap(body []byte, header http.Header) (*openai.Event, error)
}

// EventEnqueuer hands a verified event to the processing pool.
type EventEnqueuer interface {
	TryEnqueue(event *openai.Event) bool
}

// NewWebhookHandler returns an http.HandlerFunc for POST /webhook/openai.
//
// The contract with the provider: an unverifiable delivery is a client error,
// everything after verification is acknowledged with 200 no matter what, so
// the provider stops redelivering. Processing failures are retried through
// the provider's own redelivery of later events or manual resubmission, never
// by holding the webhook response open.
func NewWebhookHandler(verifier EventVerifier, enqueuer EventEnqueuer, metrics *observability.Metrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Signature verification needs the exact raw bytes.
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable request body", nil)
			return
		}

		event, err := verifier.Unwrap(body, r.Header)
		if err != nil {
			metrics.WebhookEvents.WithLabelValues(observability.OutcomeRejected).Inc()
			if errors.Is(err, openai.ErrInvalidSignature) {
				logger.Warn("webhook signature verification failed", "error", err)
				response.Error(w, http.StatusBadRequest, "INVALID_SIGNATURE",
					"Webhook signature verification failed", nil)
				return
			}
			logger.Warn("webhook payload rejected", "error", err)
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed webhook payload", nil)
			return
		}

		if event.Type != openai.EventTypeResponseCompleted {
			metrics.WebhookEvents.WithLabelValues(observability.OutcomeIgnored).Inc()
			logger.Info("ignoring webhook event", "event_id", event.ID, "type", event.Type)
			response.JSON(w, ackResponse{Status: "ignored"})
			return
		}

		if !enqueuer.TryEnqueue(event) {
			// Still a 200: the delivery is authentic and the job will be
			// picked up by a later redelivery once the queue drains.
			metrics.WebhookEvents.WithLabelValues(observability.OutcomeQueueFull).Inc()
			response.JSON(w, ackResponse{Status: "deferred"})
			return
		}

		metrics.WebhookEvents.WithLabelValues(observability.OutcomeProcessed).Inc()
		response.JSON(w, ackResponse{Status: "accepted"})
	}
}

type ackResponse struct {
	Status string `json:"status"`
}
