package auth

import (
	"errors"
	"testing"
	"time"
)

func TestVerifyRoundTrip(t *testing.T) {
	t.Parallel()

	v := NewVerifier("test-secret-test-secret-test-secret", "identity")
	token, err := v.Issue(Principal{ID: "user-1", Role: RoleAdmin, Email: "a@example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	p, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.ID != "user-1" || !p.IsAdmin() || p.Email != "a@example.com" {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestVerifyRejects(t *testing.T) {
	t.Parallel()

	v := NewVerifier("test-secret-test-secret-test-secret", "identity")
	other := NewVerifier("other-secret-other-secret-other-secret", "identity")
	wrongIssuer := NewVerifier("test-secret-test-secret-test-secret", "someone-else")

	expired := NewVerifier("test-secret-test-secret-test-secret", "identity")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	mustIssue := func(v *Verifier, p Principal) string {
		t.Helper()
		token, err := v.Issue(p, time.Hour)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		return token
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong key", token: mustIssue(other, Principal{ID: "u1", Role: RoleCustomer})},
		{name: "wrong issuer", token: mustIssue(wrongIssuer, Principal{ID: "u1", Role: RoleCustomer})},
		{name: "expired", token: mustIssue(expired, Principal{ID: "u1", Role: RoleCustomer})},
		{name: "guest role", token: mustIssue(v, Principal{ID: "u1", Role: RoleGuest})},
		{name: "unknown role", token: mustIssue(v, Principal{ID: "u1", Role: Role("owner")})},
		{name: "missing subject", token: mustIssue(v, Principal{Role: RoleCustomer})},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := v.Verify(tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestOwnerKey(t *testing.T) {
	t.Parallel()

	if got := (Principal{ID: "abc", Role: RoleGuest}).OwnerKey(); got != "guest:abc" {
		t.Fatalf("guest owner key = %q", got)
	}
	if got := (Principal{ID: "abc", Role: RoleCustomer}).OwnerKey(); got != "abc" {
		t.Fatalf("customer owner key = %q", got)
	}
}
