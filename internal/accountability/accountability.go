package accountability

import (
	"context"

	"github.com/google/uuid"

	"strata-backend/internal/policy"
)

// Accountability is the immutable per-request identity bundle: who is
// calling, under which role and tenant, with which resolved policy, from
// which address. Built once per request and discarded at request end.
type Accountability struct {
	UserID   *uuid.UUID             // nil for anonymous callers
	Role     *policy.Role
	TenantID *uuid.UUID
	Policy   *policy.ResolvedPolicy
	IP       string
}

// IsAuthenticated reports whether the request carried a valid session.
func (a *Accountability) IsAuthenticated() bool {
	return a.UserID != nil
}

// IsAdmin reports whether the caller holds the built-in admin role.
func (a *Accountability) IsAdmin() bool {
	return a.Policy != nil && a.Policy.IsAdmin()
}

type contextKey struct{}

var accountabilityKey = &contextKey{}

// WithContext returns a context carrying the accountability value.
func (a *Accountability) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, accountabilityKey, a)
}

// FromContext retrieves the accountability from the context, or nil.
func FromContext(ctx context.Context) *Accountability {
	a, _ := ctx.Value(accountabilityKey).(*Accountability)
	return a
}
