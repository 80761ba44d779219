package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gitshopapp/commerce/internal/cache"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := cache.NewMemoryProvider(0)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	return NewManager(store, false, time.Hour)
}

func TestEnsureCreatesAndReusesSession(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	ctx := t.Context()

	rec := httptest.NewRecorder()
	first, err := m.Ensure(ctx, rec, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName || cookies[0].Value != first.ID {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	second, err := m.Ensure(ctx, rec, req)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected session reuse, got %s and %s", first.ID, second.ID)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("expected no new cookie for an existing session")
	}
}

func TestEnsureReplacesUnknownSession(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-uuid"})

	rec := httptest.NewRecorder()
	data, err := m.Ensure(t.Context(), rec, req)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if data.ID == "not-a-uuid" {
		t.Fatal("malformed session id must not be adopted")
	}
}

func TestMiddlewareAndDestroy(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	var seen *Data
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if seen == nil {
		t.Fatal("expected session in context")
	}

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	if err := m.Destroy(t.Context(), httptest.NewRecorder(), req); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := m.Get(t.Context(), req); err == nil {
		t.Fatal("expected destroyed session to be gone")
	}
}
