package handlers

import (
	"net/http"

	"github.com/gitshopapp/commerce/internal/services"
)

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.GetCart(r.Context(), h.principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, cart)
}

func (h *Handlers) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var input services.AddCartItemInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.carts.AddItem(r.Context(), h.principal(r), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, item)
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "itemId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req updateCartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	item, err := h.carts.UpdateItem(r.Context(), h.principal(r), itemID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if item == nil {
		// Quantity zero removed the line.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, r, http.StatusOK, item)
}

func (h *Handlers) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := pathUUID(r, "itemId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.carts.RemoveItem(r.Context(), h.principal(r), itemID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.Clear(r.Context(), h.principal(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
