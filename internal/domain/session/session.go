package session

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrUnauthenticated is returned when an operation requires a signed-in
// shopper and none is present.
var ErrUnauthenticated = errors.New("sign in required")

// RoleAdmin marks identities allowed to manage the catalogue and orders.
const RoleAdmin = "admin"

// Identity is a signed-in shopper as vouched for by the identity provider.
type Identity struct {
	ID    string
	Email string
	Name  string
	Role  string
}

// IsAdmin reports whether the identity may use admin operations.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Scope selects which cart is authoritative for a request: the cart of a
// signed-in identity, or the cart of an anonymous visitor keyed by a
// client-held guest id.
type Scope struct {
	Identity *Identity
	GuestID  string
}

// Guest returns the anonymous scope for guestID.
func Guest(guestID string) Scope {
	return Scope{GuestID: guestID}
}

// User returns the identity scope for id.
func User(id Identity) Scope {
	return Scope{Identity: &id}
}

// Authenticated reports whether the scope belongs to a signed-in identity.
func (s Scope) Authenticated() bool {
	return s.Identity != nil && s.Identity.ID != ""
}

// OwnerID returns the identity id, or an empty string for guests.
func (s Scope) OwnerID() string {
	if !s.Authenticated() {
		return ""
	}
	return s.Identity.ID
}

// Key is the local cart key of the scope: "cart_<uid>" for identities,
// "cart_guest" or "cart_guest:<guestID>" for visitors.
func (s Scope) Key() string {
	if s.Authenticated() {
		return "cart_" + s.Identity.ID
	}
	if s.GuestID == "" {
		return "cart_guest"
	}
	return "cart_guest:" + s.GuestID
}

// Acquired describes a login transition: the visitor holding GuestID is now
// signed in as Identity.
type Acquired struct {
	Identity Identity
	GuestID  string
}

// AcquiredFunc handles a login transition.
type AcquiredFunc func(ctx context.Context, ev Acquired) error

// Provider resolves session tokens into identities and notifies listeners
// when a visitor signs in.
type Provider interface {
	// Identify returns the identity behind token. A blank or invalid token
	// yields ErrUnauthenticated.
	Identify(ctx context.Context, token string) (*Identity, error)
	// OnIdentityAcquired registers fn to run on each guest to user transition.
	OnIdentityAcquired(fn AcquiredFunc)
}

type scopeKey struct{}

// WithScope stores the request scope in ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope stored in ctx, or an anonymous scope without a
// guest id.
func ScopeFrom(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

// CurrentIdentity returns the signed-in identity of the request.
func CurrentIdentity(ctx context.Context) (*Identity, error) {
	s := ScopeFrom(ctx)
	if !s.Authenticated() {
		return nil, ErrUnauthenticated
	}
	return s.Identity, nil
}
