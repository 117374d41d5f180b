package handlers

import (
	"time"

	"scorekeeper/middleware"
	"scorekeeper/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func SetupScoreRoutes(app *fiber.App, resolver *services.Resolver, ledger *services.Ledger, submitsPerMinute int) {
	api := app.Group("/api/v1")

	public := middleware.RequireCapability(resolver, services.TierPublic)
	scorer := middleware.RequireCapability(resolver, services.TierScorer)
	admin := middleware.RequireCapability(resolver, services.TierAdmin)

	throttle := limiter.New(limiter.Config{
		Max:        submitsPerMinute,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many score submissions, slow down",
				"code":  "rate_limited",
			})
		},
	})

	api.Post("/events/:id/scores", throttle, scorer, submitScore(ledger))
	api.Post("/events/:id/scores/batch", throttle, scorer, submitBatch(ledger))
	api.Get("/events/:id/scores", public, listScores(ledger))
	api.Delete("/events/:id/scores/:score_id", admin, deleteScore(ledger))
	api.Get("/events/:id/leaderboard", public, leaderboard(ledger))
}

func submitScore(ledger *services.Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req services.SubmitInput
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		res, err := ledger.Submit(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), req)
		if err != nil {
			return services.RespondError(c, err)
		}
		status := fiber.StatusOK
		if res.Created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(res)
	}
}

func submitBatch(ledger *services.Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req services.BatchInput
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		res, err := ledger.SubmitBatch(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), req)
		if err != nil {
			return services.RespondError(c, err)
		}
		status := fiber.StatusOK
		for _, item := range res.Items {
			if item.Created {
				status = fiber.StatusCreated
				break
			}
		}
		return c.Status(status).JSON(res)
	}
}

func listScores(ledger *services.Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter := services.ScoreFilter{TeamID: c.Query("team_id")}
		if raw := c.Query("day"); raw != "" {
			day := c.QueryInt("day", 0)
			if day < 1 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "day must be a positive integer", "code": "validation_error"})
			}
			filter.DayNumber = &day
		}
		scores, err := ledger.ListScores(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), filter)
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(fiber.Map{"scores": scores})
	}
}

func deleteScore(ledger *services.Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		team, err := ledger.DeleteScore(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), c.Params("score_id"))
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(fiber.Map{
			"message": "score deleted",
			"team":    team,
		})
	}
}

func leaderboard(ledger *services.Ledger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		entries, err := ledger.Leaderboard(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"))
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(fiber.Map{"leaderboard": entries})
	}
}
