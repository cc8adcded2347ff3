package admin

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"strata-backend/internal/policy"
	"strata-backend/internal/query"
	"strata-backend/internal/store"
)

// Handler serves the role and permission management endpoints. All
// mutations go through the policy cache so invalidation cannot be skipped.
type Handler struct {
	policies *policy.Cache
	log      *logrus.Entry
}

func NewHandler(policies *policy.Cache, log *logrus.Entry) *Handler {
	return &Handler{policies: policies, log: log.WithField("component", "admin")}
}

// ListRoles handles GET /api/admin/roles
func (h *Handler) ListRoles(c *fiber.Ctx) error {
	roles, err := h.policies.Store().Roles(c.Context())
	if err != nil {
		return err
	}
	if roles == nil {
		roles = []policy.Role{}
	}
	return c.JSON(fiber.Map{"data": roles})
}

// GetRole handles GET /api/admin/roles/:id, returning the role with its
// resolved policy.
func (h *Handler) GetRole(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return query.InvalidPayloadError("Invalid role id")
	}
	role, err := h.policies.Store().Role(c.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return query.NotFoundError("role", c.Params("id"))
		}
		return err
	}
	resolved, err := h.policies.Resolve(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"role": role, "policy": resolved}})
}

// CreateRole handles POST /api/admin/roles
func (h *Handler) CreateRole(c *fiber.Ctx) error {
	var body policy.Role
	if err := c.BodyParser(&body); err != nil {
		return query.InvalidPayloadError("Invalid request body")
	}
	if body.Name == "" {
		return query.InvalidPayloadError("Role name is required")
	}
	if err := h.policies.CreateRole(c.Context(), &body); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return query.NewAppError("DUPLICATE_ROLE", 409, "Role name already exists")
		}
		return err
	}
	h.log.WithField("role", body.Name).Info("role created")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": body})
}

// DeleteRole handles DELETE /api/admin/roles/:id
func (h *Handler) DeleteRole(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return query.InvalidPayloadError("Invalid role id")
	}
	if err := h.policies.DeleteRole(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return query.NotFoundError("role", c.Params("id"))
		}
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpsertPermission handles PUT /api/admin/permissions. The
// (role, collection, action) triple is the natural key; posting an existing
// triple replaces the row.
func (h *Handler) UpsertPermission(c *fiber.Ctx) error {
	var body policy.Permission
	if err := c.BodyParser(&body); err != nil {
		return query.InvalidPayloadError("Invalid request body")
	}
	if body.RoleID == uuid.Nil || body.Collection == "" {
		return query.InvalidPayloadError("role_id and collection are required")
	}
	switch body.Action {
	case policy.ActionCreate, policy.ActionRead, policy.ActionUpdate, policy.ActionDelete:
	default:
		return query.InvalidPayloadError("action must be create, read, update or delete")
	}
	if err := h.policies.UpsertPermission(c.Context(), &body); err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{
		"role":       body.RoleID,
		"collection": body.Collection,
		"action":     body.Action,
	}).Info("permission upserted")
	return c.JSON(fiber.Map{"data": body})
}

// DeletePermission handles DELETE /api/admin/permissions/:id
func (h *Handler) DeletePermission(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return query.InvalidPayloadError("Invalid permission id")
	}
	if err := h.policies.DeletePermission(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return query.NotFoundError("permission", c.Params("id"))
		}
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, mw ...fiber.Handler) {
	api := app.Group("/api/admin", mw...)

	api.Get("/roles", h.ListRoles)
	api.Get("/roles/:id", h.GetRole)
	api.Post("/roles", h.CreateRole)
	api.Delete("/roles/:id", h.DeleteRole)
	api.Put("/permissions", h.UpsertPermission)
	api.Delete("/permissions/:id", h.DeletePermission)
}
