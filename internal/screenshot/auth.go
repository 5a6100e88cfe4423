package screenshot

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/creatorstation/capture/internal/capture"
)

// RequireAPIKey accepts the key from the X-API-Key header or the api_key
// query parameter. An empty key disables the check.
func RequireAPIKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" {
			return c.Next()
		}

		provided := c.Get("X-API-Key")
		if provided == "" {
			provided = c.Query("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
				"code":  capture.KindAuth.String(),
			})
		}
		return c.Next()
	}
}
