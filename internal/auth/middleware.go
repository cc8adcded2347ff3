package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"strata-backend/internal/accountability"
	"strata-backend/internal/query"
)

// Middleware resolves the caller's accountability for every request and
// stores it in Locals. Resolution never fails: a missing or invalid
// credential degrades to the anonymous accountability, and the permission
// layer decides what anonymous callers may do.
func Middleware(resolver *accountability.Resolver, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var sessionToken string
		if raw := bearerToken(c); raw != "" {
			if claims, err := ParseCredential(raw, secret); err == nil {
				sessionToken = claims.Subject
			}
		}

		var tenantHint *uuid.UUID
		if t := c.Get("X-Tenant-ID"); t != "" {
			if id, err := uuid.Parse(t); err == nil {
				tenantHint = &id
			}
		}

		acc := resolver.Resolve(c.Context(), sessionToken, tenantHint, c.IP())
		c.Locals("accountability", acc)
		return c.Next()
	}
}

// RequireAdmin gates admin endpoints on the built-in admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		acc := GetAccountability(c)
		if acc == nil || !acc.IsAuthenticated() {
			return query.UnauthorizedError("Missing auth token")
		}
		if !acc.IsAdmin() {
			return query.ForbiddenError("Admin access required")
		}
		return c.Next()
	}
}

// GetAccountability extracts the resolved accountability from a request.
func GetAccountability(c *fiber.Ctx) *accountability.Accountability {
	acc, _ := c.Locals("accountability").(*accountability.Accountability)
	return acc
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
