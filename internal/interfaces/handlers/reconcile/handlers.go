package reconcile

import (
	"context"

	reconsvc "propshare-backend/internal/application/reconcile"
	"propshare-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type Sweeper interface {
	Sweep(ctx context.Context) (reconsvc.SweepReport, error)
}

type Handlers struct {
	Engine Sweeper
}

// POST /api/v1/reconcile/sweep runs one sweep synchronously and returns its
// report. Mount behind middleware.RequireAdminKey.
func (h *Handlers) Sweep(c *fiber.Ctx) error {
	report, err := h.Engine.Sweep(c.UserContext())
	if err != nil {
		return response.Error(c, err.Error(), fiber.StatusServiceUnavailable, fiber.Map{"report": report})
	}
	return response.Success(c, "Sweep completed", report, nil)
}
