package handlers

import (
	"code-duel-backend/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAuthRoutes(app *fiber.App, authService *services.AuthService) {
	app.Post("/api/auth/guest", authService.GuestHandler)
	app.Post("/api/auth/refresh", authService.RefreshHandler)
}
