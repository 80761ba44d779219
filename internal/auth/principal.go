// Package auth verifies upstream-issued bearer tokens and carries the
// resulting principal through request contexts.
package auth

import "context"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleGuest    Role = "guest"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleAdmin, RoleGuest:
		return true
	}
	return false
}

// Principal is the caller a request acts on behalf of.
type Principal struct {
	ID    string
	Role  Role
	Email string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p Principal) IsGuest() bool {
	return p.Role == RoleGuest
}

// OwnerKey identifies the principal's cart. Guests are namespaced so a guest
// session id can never collide with a user id.
func (p Principal) OwnerKey() string {
	if p.IsGuest() {
		return "guest:" + p.ID
	}
	return p.ID
}

type principalContextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok && p.ID != ""
}
