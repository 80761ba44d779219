package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gitshopapp/commerce/internal/services"
)

// signatureHeaders are tried in order; the mock provider signs in the Stripe format.
var signatureHeaders = []string{"Stripe-Signature", "X-Webhook-Signature"}

// PaymentWebhook accepts a provider delivery. It answers 200 for processed and
// duplicate events, 400 for bad signatures and 500 when processing failed, so
// the provider redelivers.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	provider := mux.Vars(r)["provider"]

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Warn("failed to read webhook payload", "error", err, "provider", provider)
		h.badRequest(w, r, "unreadable webhook payload")
		return
	}

	var signature string
	for _, name := range signatureHeaders {
		if signature = r.Header.Get(name); signature != "" {
			break
		}
	}

	result, err := h.webhooks.HandleWebhook(ctx, provider, payload, signature)
	if err != nil {
		if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrNotFound) {
			h.writeError(w, r, err)
			return
		}
		logger.Error("failed to process payment webhook", "error", err, "provider", provider)
		h.writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "processing failed", Code: "processing_failed"})
		return
	}

	if result.Duplicate {
		logger.Info("webhook already processed", "event_id", result.EventID)
	}
	h.writeJSON(w, r, http.StatusOK, result)
}
