package cache

import (
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderExpiry(t *testing.T) {
	t.Parallel()

	m, err := NewMemoryProvider(0)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := t.Context()
	if err := m.Set(ctx, WebhookKey("mock", "evt_1"), "processed", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, err := m.Get(ctx, WebhookKey("mock", "evt_1")); err != nil || got != "processed" {
		t.Fatalf("get = %q, %v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.Get(ctx, WebhookKey("mock", "evt_1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

func TestMemoryProviderSetIfAbsent(t *testing.T) {
	t.Parallel()

	m, err := NewMemoryProvider(0)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := t.Context()

	stored, err := m.SetIfAbsent(ctx, SessionKey("s1"), "a", time.Hour)
	if err != nil || !stored {
		t.Fatalf("first SetIfAbsent = %v, %v", stored, err)
	}
	stored, err = m.SetIfAbsent(ctx, SessionKey("s1"), "b", time.Hour)
	if err != nil || stored {
		t.Fatalf("second SetIfAbsent = %v, %v", stored, err)
	}
	if got, _ := m.Get(ctx, SessionKey("s1")); got != "a" {
		t.Fatalf("value overwritten: %q", got)
	}
}

func TestMemoryProviderEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	m, err := NewMemoryProvider(2)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := t.Context()
	_ = m.Set(ctx, "a", "1", time.Hour)
	_ = m.Set(ctx, "b", "2", time.Hour)
	_, _ = m.Get(ctx, "a")
	_ = m.Set(ctx, "c", "3", time.Hour)

	if _, err := m.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected b to be evicted")
	}
	if _, err := m.Get(ctx, "a"); err != nil {
		t.Fatalf("expected a to survive: %v", err)
	}
}

func TestNewProviderRejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := NewProvider(t.Context(), Config{Provider: "memcached"}); err == nil {
		t.Fatal("expected error")
	}
}
