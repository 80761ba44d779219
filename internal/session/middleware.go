package session

import (
	"context"
	"net/http"
)

type contextKey struct{}

// Middleware attaches the guest session to the request, creating it when the
// client has none. If the store fails the request proceeds without one.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := m.Ensure(r.Context(), w, r)
		if err == nil {
			r = r.WithContext(context.WithValue(r.Context(), contextKey{}, data))
		}
		next.ServeHTTP(w, r)
	})
}

// FromContext retrieves the guest session attached by Middleware.
func FromContext(ctx context.Context) *Data {
	if ctx == nil {
		return nil
	}
	data, _ := ctx.Value(contextKey{}).(*Data)
	return data
}
