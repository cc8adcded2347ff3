package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"strata-backend/internal/policy"
	"strata-backend/internal/query"
	"strata-backend/internal/session"
)

// AuthHandler handles the authentication endpoints.
type AuthHandler struct {
	policies  *policy.Cache
	sessions  *session.Manager
	jwtSecret string
}

func NewAuthHandler(policies *policy.Cache, sessions *session.Manager, jwtSecret string) *AuthHandler {
	return &AuthHandler{policies: policies, sessions: sessions, jwtSecret: jwtSecret}
}

// Login handles POST /api/auth/login. A successful login creates a session
// row and returns a signed credential wrapping its token.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Type     string `json:"type"`
		TenantID string `json:"tenant_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return query.InvalidPayloadError("Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return query.UnauthorizedError("Email and password are required")
	}

	ctx := c.Context()

	user, err := h.policies.Store().UserByEmail(ctx, body.Email)
	if err != nil {
		return query.UnauthorizedError("Invalid email or password")
	}
	if !user.Active {
		return query.UnauthorizedError("Account is disabled")
	}
	if !CheckPassword(body.Password, user.PasswordHash) {
		return query.UnauthorizedError("Invalid email or password")
	}

	role, err := h.policies.Store().Role(ctx, user.RoleID)
	if err != nil {
		return query.UnauthorizedError("Invalid email or password")
	}

	tenantID := user.TenantID
	if tenantID == nil && body.TenantID != "" {
		if id, err := uuid.Parse(body.TenantID); err == nil {
			tenantID = &id
		}
	}

	sess, err := h.sessions.Create(ctx, user.ID, tenantID, body.Type, role.Name)
	if err != nil {
		if errors.Is(err, session.ErrLimitExceeded) {
			return query.NewAppError("SESSION_LIMIT_EXCEEDED", 403, "Too many active sessions of this type")
		}
		return err
	}

	credential, err := GenerateCredential(sess.Token, sess.Type, sess.ExpiresAt, h.jwtSecret)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"data": fiber.Map{
		"access_token": credential,
		"expires_at":   sess.ExpiresAt,
	}})
}

// Logout handles POST /api/auth/logout. Deleting the session row invalidates
// every copy of the credential immediately.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	header := bearerToken(c)
	if header == "" {
		return query.UnauthorizedError("Missing auth token")
	}
	claims, err := ParseCredential(header, h.jwtSecret)
	if err != nil {
		return query.UnauthorizedError("Invalid or expired token")
	}
	if err := h.sessions.Delete(c.Context(), claims.Subject); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"logged_out": true}})
}

// RegisterAuthRoutes mounts the auth endpoints. Login is unauthenticated by
// nature; logout parses its own credential.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	api := app.Group("/api/auth")
	api.Post("/login", h.Login)
	api.Post("/logout", h.Logout)
}
