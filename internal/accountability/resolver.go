package accountability

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"strata-backend/internal/policy"
	"strata-backend/internal/session"
)

// Resolver turns a session token into an Accountability. Any failure along
// the way, a missing or expired session, a vanished user, a storage error,
// degrades to the anonymous accountability instead of surfacing an error:
// at this layer a bad credential must look exactly like no credential.
type Resolver struct {
	sessions *session.Manager
	policies *policy.Cache
	log      *logrus.Entry

	mu         sync.Mutex
	publicRole *policy.Role
}

func NewResolver(sessions *session.Manager, policies *policy.Cache, log *logrus.Entry) *Resolver {
	return &Resolver{
		sessions: sessions,
		policies: policies,
		log:      log.WithField("component", "accountability"),
	}
}

// Resolve builds the accountability for a request. Never returns an error;
// the zero credential path is the anonymous accountability.
func (r *Resolver) Resolve(ctx context.Context, token string, tenantHint *uuid.UUID, ip string) *Accountability {
	if token == "" {
		return r.Anonymous(ctx, ip)
	}

	sess, err := r.sessions.Validate(ctx, token)
	if err != nil {
		if err != session.ErrNotFound {
			r.log.WithError(err).Warn("session validation failed, degrading to anonymous")
		}
		return r.Anonymous(ctx, ip)
	}

	user, err := r.policies.Store().User(ctx, sess.UserID)
	if err != nil || !user.Active {
		return r.Anonymous(ctx, ip)
	}

	role, err := r.policies.Store().Role(ctx, user.RoleID)
	if err != nil {
		r.log.WithError(err).Warn("role lookup failed, degrading to anonymous")
		return r.Anonymous(ctx, ip)
	}

	resolved, err := r.policies.Resolve(ctx, role.ID)
	if err != nil {
		r.log.WithError(err).Warn("policy resolution failed, degrading to anonymous")
		return r.Anonymous(ctx, ip)
	}

	tenantID := sess.TenantID
	if tenantID == nil && role.TenantSpecific {
		if user.TenantID != nil {
			tenantID = user.TenantID
		} else {
			tenantID = tenantHint
		}
	}

	userID := user.ID
	return &Accountability{
		UserID:   &userID,
		Role:     role,
		TenantID: tenantID,
		Policy:   resolved,
		IP:       ip,
	}
}

// Anonymous returns the accountability for an unauthenticated caller,
// carrying the public role's policy. If even that cannot be resolved the
// policy is empty, which denies everything downstream.
func (r *Resolver) Anonymous(ctx context.Context, ip string) *Accountability {
	role := r.lookupPublicRole(ctx)
	if role == nil {
		return &Accountability{
			Policy: &policy.ResolvedPolicy{RoleName: "public", Grants: map[string]policy.Grant{}},
			IP:     ip,
		}
	}

	resolved, err := r.policies.Resolve(ctx, role.ID)
	if err != nil {
		r.log.WithError(err).Warn("public policy resolution failed")
		resolved = &policy.ResolvedPolicy{RoleID: role.ID, RoleName: role.Name, Grants: map[string]policy.Grant{}}
	}
	return &Accountability{Role: role, Policy: resolved, IP: ip}
}

// lookupPublicRole caches the public role row; the row itself never changes
// identity, only its permissions do, and those live in the policy cache.
func (r *Resolver) lookupPublicRole(ctx context.Context) *policy.Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publicRole != nil {
		return r.publicRole
	}
	role, err := r.policies.Store().RoleByName(ctx, "public")
	if err != nil {
		r.log.WithError(err).Error("public role lookup failed")
		return nil
	}
	r.publicRole = role
	return role
}
