package handlers

import (
	"net/http"
	"strings"

	"github.com/gitshopapp/commerce/internal/models"
	"github.com/gitshopapp/commerce/internal/services"
)

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var input services.CreateOrderInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), h.principal(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, order)
}

func (h *Handlers) CheckoutCart(w http.ResponseWriter, r *http.Request) {
	var input services.CheckoutInput
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &input); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	order, err := h.orders.CheckoutCart(r.Context(), h.principal(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, order)
}

func (h *Handlers) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	orders, err := h.orders.ListMyOrders(r.Context(), h.principal(r), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orders.GetOrder(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, order)
}

func (h *Handlers) ListOrderEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	events, err := h.orders.ListOrderEvents(r.Context(), h.principal(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"events": events})
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	order, err := h.orders.CancelOrder(r.Context(), h.principal(r), id, strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, order)
}

// AdminListOrders lists every order, optionally narrowed by user_id and status.
func (h *Handlers) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	status := models.OrderStatus(strings.TrimSpace(query.Get("status")))
	if status != "" && !status.Valid() {
		h.badRequest(w, r, "unknown order status %q", status)
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), h.principal(r), services.ListOrdersInput{
		UserID: strings.TrimSpace(query.Get("user_id")),
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handlers) AdminUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var input services.UpdateOrderInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orders.UpdateOrder(r.Context(), h.principal(r), id, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, order)
}

func pageParams(r *http.Request) (int, int, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
