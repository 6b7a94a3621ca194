package middleware

import (
	"log"
	"strings"

	"code-duel-backend/services"

	"github.com/gofiber/fiber/v2"
)

// AuthMiddleware verifies the Bearer token and attaches the user id to the
// request context for handlers.
func AuthMiddleware(auth *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer token",
			})
		}

		userID, err := auth.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			log.Printf("❌ [AUTH] Invalid token on %s: %v", c.Path(), err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid or expired token",
			})
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}
