package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gitshopapp/commerce/internal/gateway"
	"github.com/gitshopapp/commerce/internal/observability"
	"github.com/gitshopapp/commerce/internal/services"
)

const maxRequestBodyBytes = 64 << 10

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// DeclineCode carries the provider's reason for gateway failures.
	DeclineCode string `json:"decline_code,omitempty"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

// writeError maps service errors onto status codes. Anything unrecognized is
// an internal fault: it is logged and reported, and the client gets a generic body.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	var status int

	switch {
	case errors.Is(err, services.ErrValidation):
		status, resp.Code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, services.ErrNotFound):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrForbidden):
		status, resp.Code = http.StatusForbidden, "forbidden"
	case errors.Is(err, services.ErrInvalidTransition):
		status, resp.Code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, services.ErrConflict):
		status, resp.Code = http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrGateway):
		status, resp.Code = http.StatusBadGateway, "gateway_error"
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			resp.DeclineCode = gwErr.Code
		}
		h.loggerFromContext(r.Context()).Warn("payment gateway call failed", "error", err)
	default:
		h.loggerFromContext(r.Context()).Error("request failed", "error", err)
		observability.CaptureError(r.Context(), err)
		status = http.StatusInternalServerError
		resp = errorResponse{Error: "internal server error", Code: "internal_error"}
	}

	h.writeJSON(w, r, status, resp)
}

func (h *Handlers) badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	h.writeError(w, r, fmt.Errorf("%w: %s", services.ErrValidation, fmt.Sprintf(format, args...)))
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields and
// trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("%w: request body is required", services.ErrValidation)
		case errors.As(err, &maxErr):
			return fmt.Errorf("%w: request body exceeds %d bytes", services.ErrValidation, maxErr.Limit)
		default:
			return fmt.Errorf("%w: invalid JSON body: %v", services.ErrValidation, err)
		}
	}
	if dec.More() {
		return fmt.Errorf("%w: request body must contain a single JSON object", services.ErrValidation)
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a UUID", services.ErrValidation, name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", services.ErrValidation, name)
	}
	return n, nil
}

func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a UUID", services.ErrValidation, name)
	}
	return &id, nil
}
