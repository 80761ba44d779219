package handlers

import (
	"net/http"

	"github.com/gitshopapp/commerce/internal/services"
)

func (h *Handlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var input services.CreatePaymentIntentInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.payments.CreatePaymentIntent(r.Context(), h.principal(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, tx)
}

// ConfirmPayment answers 200 with the recorded transaction whatever the
// provider decided; a decline is a failed transaction, not an HTTP error.
func (h *Handlers) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var input services.ConfirmPaymentInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	tx, err := h.payments.ConfirmPayment(r.Context(), h.principal(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, tx)
}

func (h *Handlers) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var input services.CreateRefundInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	refund, err := h.payments.CreateRefund(r.Context(), h.principal(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, refund)
}

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	orderID, err := queryUUID(r, "order_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	txs, err := h.payments.ListTransactions(r.Context(), h.principal(r), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"transactions": txs})
}

func (h *Handlers) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var input services.AddPaymentMethodInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	method, err := h.payments.AddPaymentMethod(r.Context(), h.principal(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, method)
}

func (h *Handlers) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.payments.ListPaymentMethods(r.Context(), h.principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"payment_methods": methods})
}

func (h *Handlers) SetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.payments.SetDefaultPaymentMethod(r.Context(), h.principal(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RemovePaymentMethod(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.payments.RemovePaymentMethod(r.Context(), h.principal(r), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
