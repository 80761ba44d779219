// Package session issues the anonymous cart session that lets guests keep a
// cart before they sign in.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gitshopapp/commerce/internal/cache"
)

const (
	CookieName = "commerce_cart_session"
	defaultTTL = 7 * 24 * time.Hour
)

// Data is what the store keeps per guest session.
type Data struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	LastSeen  int64  `json:"last_seen"`
}

// Manager resolves the session cookie against a cache.Provider.
type Manager struct {
	store  cache.Provider
	secure bool
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(store cache.Provider, secure bool, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{
		store:  store,
		secure: secure,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns the session named by the request cookie, sliding its expiry.
func (m *Manager) Get(ctx context.Context, r *http.Request) (*Data, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, fmt.Errorf("no session cookie found: %w", err)
	}
	if _, err := uuid.Parse(cookie.Value); err != nil {
		return nil, fmt.Errorf("malformed session cookie")
	}

	raw, err := m.store.Get(ctx, cache.SessionKey(cookie.Value))
	if err != nil {
		return nil, fmt.Errorf("session not found or expired: %w", err)
	}

	var data Data
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}

	data.LastSeen = m.now().Unix()
	if err := m.save(ctx, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Ensure returns the request's session, creating one and setting the cookie
// when none is valid.
func (m *Manager) Ensure(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Data, error) {
	// A missing, expired or unreadable session is replaced, never trusted.
	if data, err := m.Get(ctx, r); err == nil {
		return data, nil
	}

	now := m.now().Unix()
	data := &Data{ID: uuid.NewString(), CreatedAt: now, LastSeen: now}
	if err := m.save(ctx, data); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    data.ID,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return data, nil
}

// Destroy forgets the session and clears the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if cookie, err := r.Cookie(CookieName); err == nil {
		if err := m.store.Delete(ctx, cache.SessionKey(cookie.Value)); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) save(ctx context.Context, data *Data) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.Set(ctx, cache.SessionKey(data.ID), string(payload), m.ttl); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}
