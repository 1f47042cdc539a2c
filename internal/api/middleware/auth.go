package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// APIKeyAuth validates the X-API-Key header (or an Authorization: Bearer
// token) against apiKey. The health check is exempt.
func APIKeyAuth(apiKey string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if strings.HasPrefix(c.Path(), "/health") {
			return c.Next()
		}

		key := c.Get("X-API-Key")
		if key == "" {
			auth := c.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if key != apiKey {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid or missing API key",
			})
		}

		return c.Next()
	}
}
