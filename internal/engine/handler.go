package engine

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"strata-backend/internal/accountability"
	"strata-backend/internal/auth"
	"strata-backend/internal/policy"
	"strata-backend/internal/query"
	"strata-backend/internal/store"
)

type Handler struct {
	db       *store.Store
	compiler *query.Compiler
	log      *logrus.Entry
}

func NewHandler(db *store.Store, compiler *query.Compiler, log *logrus.Entry) *Handler {
	return &Handler{db: db, compiler: compiler, log: log.WithField("component", "engine")}
}

// List handles GET /api/items/:collection
func (h *Handler) List(c *fiber.Ctx) error {
	collection := c.Params("collection")
	acc := auth.GetAccountability(c)

	opts, err := ParseReadOptions(c)
	if err != nil {
		return err
	}

	compiled, err := h.compiler.CompileRead(acc, collection, opts)
	if err != nil {
		return err
	}

	rows, err := store.QueryRows(c.Context(), h.db.DB, compiled.Data.SQL, compiled.Data.Params...)
	if err != nil {
		return fmt.Errorf("list %s: %w", collection, err)
	}
	countRow, err := store.QueryRow(c.Context(), h.db.DB, compiled.Count.SQL, compiled.Count.Params...)
	if err != nil {
		return fmt.Errorf("count %s: %w", collection, err)
	}

	if rows == nil {
		rows = []map[string]any{}
	}
	// echo the clamped values the query ran with, not the raw caller input
	page := 1
	if compiled.Limit > 0 {
		page = compiled.Offset/compiled.Limit + 1
	}
	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"total":  countRow["count"],
			"limit":  compiled.Limit,
			"page":   page,
			"offset": compiled.Offset,
		},
	})
}

// GetByID handles GET /api/items/:collection/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	collection := c.Params("collection")
	id := c.Params("id")
	acc := auth.GetAccountability(c)

	opts, err := ParseReadOptions(c)
	if err != nil {
		return err
	}
	row, err := h.fetchOne(c, acc, collection, id, opts)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /api/items/:collection
func (h *Handler) Create(c *fiber.Ctx) error {
	collection := c.Params("collection")
	acc := auth.GetAccountability(c)

	var payload map[string]any
	if err := c.BodyParser(&payload); err != nil {
		return query.InvalidPayloadError("Invalid request body")
	}

	compiled, err := h.compiler.CompileWrite(acc, collection, policy.ActionCreate, nil, payload)
	if err != nil {
		return err
	}
	if _, err := store.Exec(c.Context(), h.db.DB, compiled.Query.SQL, compiled.Query.Params...); err != nil {
		return h.db.Dialect.MapError(err)
	}

	row, err := h.fetchOne(c, acc, collection, fmt.Sprintf("%v", compiled.ID), nil)
	if err != nil {
		// created but not readable under the caller's own read grant
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{
			"id": compiled.ID, "applied_defaults": compiled.AppliedDefaults,
		}})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": row})
}

// Update handles PATCH /api/items/:collection/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	collection := c.Params("collection")
	id := c.Params("id")
	acc := auth.GetAccountability(c)

	var payload map[string]any
	if err := c.BodyParser(&payload); err != nil {
		return query.InvalidPayloadError("Invalid request body")
	}

	compiled, err := h.compiler.CompileWrite(acc, collection, policy.ActionUpdate, id, payload)
	if err != nil {
		return err
	}
	affected, err := store.Exec(c.Context(), h.db.DB, compiled.Query.SQL, compiled.Query.Params...)
	if err != nil {
		return h.db.Dialect.MapError(err)
	}
	if affected == 0 {
		return query.NotFoundError(collection, id)
	}

	row, err := h.fetchOne(c, acc, collection, id, nil)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": row})
}

// Delete handles DELETE /api/items/:collection/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	collection := c.Params("collection")
	id := c.Params("id")
	acc := auth.GetAccountability(c)

	compiled, err := h.compiler.CompileWrite(acc, collection, policy.ActionDelete, id, nil)
	if err != nil {
		return err
	}
	affected, err := store.Exec(c.Context(), h.db.DB, compiled.Query.SQL, compiled.Query.Params...)
	if err != nil {
		return h.db.Dialect.MapError(err)
	}
	if affected == 0 {
		return query.NotFoundError(collection, id)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// fetchOne reads a single record through the full compile path so the
// permission conditions and the field allow-list apply to single-record
// reads exactly as to lists.
func (h *Handler) fetchOne(c *fiber.Ctx, acc *accountability.Accountability, collection, id string, opts *query.ReadOptions) (map[string]any, error) {
	if opts == nil {
		opts = &query.ReadOptions{}
	}
	pk := h.compiler.PrimaryKeyField(collection)
	if pk == "" {
		return nil, query.UnknownCollectionError(collection)
	}
	filter := map[string]any{pk: map[string]any{"_eq": id}}
	if len(opts.Filter) > 0 {
		filter = map[string]any{"_and": []any{opts.Filter, filter}}
	}
	scoped := *opts
	scoped.Filter = filter
	scoped.Limit = 1

	compiled, err := h.compiler.CompileRead(acc, collection, &scoped)
	if err != nil {
		return nil, err
	}
	rows, err := store.QueryRows(c.Context(), h.db.DB, compiled.Data.SQL, compiled.Data.Params...)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	if len(rows) == 0 {
		return nil, query.NotFoundError(collection, id)
	}
	return rows[0], nil
}
