package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/services"
)

// Authenticate verifies a bearer token when one is sent and attaches its
// principal. Requests without an Authorization header pass through anonymous.
func (h *Handlers) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			h.unauthorized(w, r, fmt.Errorf("authorization header must use the Bearer scheme"))
			return
		}
		principal, err := h.verifier.Verify(token)
		if err != nil {
			h.loggerFromContext(r.Context()).Info("rejected bearer token", "error", err)
			h.unauthorized(w, r, err)
			return
		}

		ctx := auth.WithPrincipal(r.Context(), principal)
		ctx = withUserScope(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects requests that carry no signed-in principal.
func (h *Handlers) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		if !ok || p.IsGuest() {
			h.unauthorized(w, r, fmt.Errorf("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects callers without the admin role before the handler runs.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.FromContext(r.Context())
		if !ok || !p.IsAdmin() {
			h.writeError(w, r, services.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="commerce"`)
	h.writeJSON(w, r, http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: "unauthorized"})
}

// principal returns the caller: the bearer principal when present, otherwise
// the guest bound to the cart session.
func (h *Handlers) principal(r *http.Request) auth.Principal {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p
	}
	return guestFromContext(r.Context())
}
