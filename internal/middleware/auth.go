package middleware

import (
	"propshare-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// RequireAuth ensures an investor is in the session. Returns 401 with standard error format if not.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetInvestor(c) == nil {
			return response.Unauthorized(c, "Unauthorized")
		}
		return c.Next()
	}
}

// GetInvestor returns the session investor (nil if anonymous).
func GetInvestor(c *fiber.Ctx) *SessionInvestor {
	inv, _ := c.Locals(investorLocal).(*SessionInvestor)
	return inv
}
