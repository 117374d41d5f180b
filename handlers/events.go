package handlers

import (
	"scorekeeper/middleware"
	"scorekeeper/models"
	"scorekeeper/services"

	"github.com/gofiber/fiber/v2"
)

func SetupEventRoutes(app *fiber.App, resolver *services.Resolver, events *services.EventService) {
	api := app.Group("/api/v1")

	// 🔓 Anyone may create an event; the response carries its tokens.
	api.Post("/events", createEvent(events))

	public := middleware.RequireCapability(resolver, services.TierPublic)
	admin := middleware.RequireCapability(resolver, services.TierAdmin)

	api.Get("/events/:id", public, getEvent(events))
	api.Get("/events/:id/days", public, listDays(events))

	api.Patch("/events/:id/status", admin, transitionStatus(events))
	api.Post("/events/:id/days/:day/lock", admin, setDayLock(events, true))
	api.Post("/events/:id/days/:day/unlock", admin, setDayLock(events, false))
	api.Patch("/events/:id/days/:day", admin, renameDay(events))
	api.Post("/events/:id/tokens/:tier/regenerate", admin, regenerateToken(events))
	api.Get("/events/:id/audit", admin, auditLog(events))
}

func createEvent(events *services.EventService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req services.CreateEventInput
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		created, err := events.CreateEvent(c.UserContext(), req)
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(created)
	}
}

func getEvent(events *services.EventService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		view, err := events.GetEvent(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"))
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(view)
	}
}

func listDays(events *services.EventService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		days, err := events.ListDays(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"))
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(fiber.Map{"days": days})
	}
}

type transitionRequest struct {
	Status models.EventStatus `json:"status"`
}

func transitionStatus(events *services.EventService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req transitionRequest
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		event, err := events.TransitionStatus(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), req.Status)
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(fiber.Map{
			"message": "status updated",
			"event":   event,
		})
	}
}

func setDayLock(events *services.EventService, lock bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dayNumber, err := c.ParamsInt("day")
		if err != nil || dayNumber < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "day must be a positive integer", "code": "validation_error"})
		}
		capab := middleware.CapabilityFrom(c)
		var day *models.EventDay
		if lock {
			day, err = events.LockDay(c.UserContext(), capab, c.Params("id"), dayNumber)
		} else {
			day, err = events.UnlockDay(c.UserContext(), capab, c.Params("id"), dayNumber)
		}
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(fiber.Map{"day": day})
	}
}

type renameDayRequest struct {
	Label string `json:"label"`
}

func renameDay(events *services.EventService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		dayNumber, err := c.ParamsInt("day")
		if err != nil || dayNumber < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "day must be a positive integer", "code": "validation_error"})
		}
		var req renameDayRequest
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		day, err := events.RenameDay(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), dayNumber, req.Label)
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(fiber.Map{"day": day})
	}
}

func regenerateToken(events *services.EventService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tier, ok := services.ParseTier(c.Params("tier"))
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tier must be one of: admin, scorer, public", "code": "validation_error"})
		}
		out, err := events.RegenerateToken(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), tier)
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(out)
	}
}

func auditLog(events *services.EventService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		entries, err := events.AuditLog(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), c.QueryInt("limit", 200))
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(fiber.Map{"entries": entries})
	}
}

func badJSON(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "invalid JSON",
		"code":    "validation_error",
		"details": err.Error(),
	})
}
