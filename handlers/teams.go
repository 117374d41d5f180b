package handlers

import (
	"scorekeeper/middleware"
	"scorekeeper/services"

	"github.com/gofiber/fiber/v2"
)

func SetupTeamRoutes(app *fiber.App, resolver *services.Resolver, teams *services.TeamService) {
	api := app.Group("/api/v1")

	public := middleware.RequireCapability(resolver, services.TierPublic)
	scorer := middleware.RequireCapability(resolver, services.TierScorer)
	admin := middleware.RequireCapability(resolver, services.TierAdmin)

	api.Get("/events/:id/teams", public, listTeams(teams))
	// Scorers may add teams to quick events; the service enforces admin for the other modes.
	api.Post("/events/:id/teams", scorer, createTeam(teams))
	api.Patch("/events/:id/teams/:team_id", admin, updateTeam(teams))
	api.Post("/events/:id/teams/:team_id/disable", admin, disableTeam(teams))
	api.Post("/events/:id/teams/:team_id/avatar", scorer, uploadAvatar(teams))
}

func listTeams(teams *services.TeamService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		list, err := teams.ListTeams(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"))
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(fiber.Map{"teams": list})
	}
}

func createTeam(teams *services.TeamService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req services.CreateTeamInput
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		team, err := teams.CreateTeam(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), req)
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(team)
	}
}

func updateTeam(teams *services.TeamService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req services.UpdateTeamInput
		if err := c.BodyParser(&req); err != nil {
			return badJSON(c, err)
		}
		team, err := teams.UpdateTeam(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), c.Params("team_id"), req)
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(team)
	}
}

func disableTeam(teams *services.TeamService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		team, err := teams.DisableTeam(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), c.Params("team_id"))
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(team)
	}
}

func uploadAvatar(teams *services.TeamService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		file, err := c.FormFile("avatar")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "avatar file is required", "code": "validation_error"})
		}
		team, err := teams.UploadAvatar(c.UserContext(), middleware.CapabilityFrom(c), c.Params("id"), c.Params("team_id"), file)
		if err != nil {
			return services.RespondError(c, err)
		}
		return c.JSON(team)
	}
}
