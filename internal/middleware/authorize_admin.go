package middleware

import (
	"crypto/subtle"

	"propshare-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const adminKeyHeader = "X-Admin-Key"

// RequireAdminKey guards operator endpoints with the shared admin key, sent
// as the X-Admin-Key header or the "key" query parameter. An empty
// configured key disables the endpoints.
func RequireAdminKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get(adminKeyHeader)
		if got == "" {
			got = c.Query("key")
		}
		if key == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			return response.Error(c, "User is Forbidden from performing this action", fiber.StatusForbidden, nil)
		}
		return c.Next()
	}
}
