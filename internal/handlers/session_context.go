package handlers

import (
	"context"
	"net/http"

	"github.com/gitshopapp/commerce/internal/auth"
	"github.com/gitshopapp/commerce/internal/session"
)

// GuestSession gives anonymous callers a cart session. Signed-in callers are
// left alone so their cart follows their user id.
func (h *Handlers) GuestSession(next http.Handler) http.Handler {
	withSession := h.sessions.Middleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.FromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		withSession.ServeHTTP(w, r)
	})
}

func guestFromContext(ctx context.Context) auth.Principal {
	sess := session.FromContext(ctx)
	if sess == nil {
		return auth.Principal{}
	}
	return auth.Principal{ID: sess.ID, Role: auth.RoleGuest}
}
