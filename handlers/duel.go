package handlers

import (
	"time"

	"code-duel-backend/middleware"
	"code-duel-backend/services"

	"github.com/gofiber/fiber/v2"
)

// Topics is the static list of duel topics offered to clients.
var Topics = []string{
	"algorithms",
	"data-structures",
	"javascript",
	"python",
	"react",
	"databases",
	"system-design",
	"web-development",
}

func SetupDuelRoutes(app *fiber.App, matchmaking *services.MatchmakingService, duels *services.DuelService, auth *services.AuthService) {
	// Public routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "CodeDuel API is running"})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "timestamp": time.Now().UTC()})
	})
	app.Get("/api/topics", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"topics": Topics})
	})

	// Secured routes: bearer token required
	secured := app.Group("/", middleware.AuthMiddleware(auth))

	secured.Post("/api/duel/match", matchmaking.JoinQueueHandler)
	secured.Post("/api/duel/cancel", matchmaking.CancelQueueHandler)
	secured.Get("/api/duel/:duel_id", duels.GetDuelHandler)
	secured.Get("/api/user/active-duel", duels.ActiveDuelHandler)
}
