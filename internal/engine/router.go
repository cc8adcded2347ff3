package engine

import "github.com/gofiber/fiber/v2"

func RegisterItemRoutes(app *fiber.App, h *Handler, mw ...fiber.Handler) {
	api := app.Group("/api/items", mw...)

	api.Get("/:collection", h.List)
	api.Get("/:collection/:id", h.GetByID)
	api.Post("/:collection", h.Create)
	api.Patch("/:collection/:id", h.Update)
	api.Delete("/:collection/:id", h.Delete)
}
