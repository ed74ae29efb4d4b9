package investments

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"propshare-backend/internal/application/readcache"
	"propshare-backend/internal/application/reconcile"
	"propshare-backend/internal/domain"
	"propshare-backend/internal/middleware"
	"propshare-backend/internal/pkg/response"
	"propshare-backend/internal/pkg/sharemath"
	"propshare-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Submitter starts reconciling a contribution.
type Submitter interface {
	Submit(ctx context.Context, req reconcile.SubmitRequest) (*domain.Contribution, error)
	Track(ctx context.Context, req reconcile.TrackRequest) (*domain.Contribution, error)
}

type Handlers struct {
	Engine Submitter
	Cache  *readcache.Service
}

type submitBody struct {
	PropertyID      string `json:"property_id" validate:"required"`
	WalletAddress   string `json:"wallet_address" validate:"omitempty,wallet"`
	Amount          string `json:"amount" validate:"required_without=AmountDisplay,omitempty,baseunits"`
	AmountDisplay   string `json:"amount_display" validate:"omitempty,excluded_with=Amount,displayunits"`
	TransactionHash string `json:"transaction_hash" validate:"omitempty,txhash"`
}

func (b submitBody) amount() (*big.Int, error) {
	if b.Amount != "" {
		return sharemath.ParseBaseUnits(b.Amount)
	}
	return sharemath.ParseUnits(b.AmountDisplay)
}

// POST /api/v1/investments: 202 with the PENDING contribution. With a
// transaction_hash the contribution was broadcast by the investor's wallet
// and is only tracked. A wallet_address must match the session's wallet when
// the session carries one.
func (h *Handlers) Submit(c *fiber.Ctx) error {
	inv := middleware.GetInvestor(c)
	var body submitBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if err := validation.Struct(body); err != nil {
		return response.FromError(c, err)
	}
	amount, err := body.amount()
	if err != nil {
		return response.FromError(c, err)
	}
	wallet := inv.WalletAddress
	if body.WalletAddress != "" {
		if wallet != "" && !strings.EqualFold(wallet, body.WalletAddress) {
			return response.FromError(c, fmt.Errorf("%w: %w: wallet_address does not match the session wallet", domain.ErrValidation, domain.ErrWalletMismatch))
		}
		wallet = body.WalletAddress
	}

	var contribution *domain.Contribution
	if body.TransactionHash != "" {
		contribution, err = h.Engine.Track(c.UserContext(), reconcile.TrackRequest{
			PropertyID:      body.PropertyID,
			InvestorID:      inv.InvestorID,
			WalletAddress:   wallet,
			Amount:          amount,
			TransactionHash: body.TransactionHash,
		})
	} else {
		contribution, err = h.Engine.Submit(c.UserContext(), reconcile.SubmitRequest{
			PropertyID:    body.PropertyID,
			InvestorID:    inv.InvestorID,
			WalletAddress: wallet,
			Amount:        amount,
		})
	}
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, "Investment submitted", contribution, fiber.Map{
		"amount_display": sharemath.FormatUnits(amount),
	})
}

// GET /api/v1/investments
func (h *Handlers) List(c *fiber.Ctx) error {
	inv := middleware.GetInvestor(c)
	rows, err := h.Cache.ListInvestments(c.UserContext(), inv.InvestorID)
	if err != nil {
		return err
	}
	return response.Success(c, "Investments fetched successfully", rows, fiber.Map{"count": len(rows)})
}

// GET /api/v1/investments/contributions/:id. Another investor's contribution
// is reported as not found.
func (h *Handlers) GetContribution(c *fiber.Ctx) error {
	inv := middleware.GetInvestor(c)
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "Invalid contribution id format", fiber.StatusBadRequest, nil)
	}
	contribution, err := h.Cache.GetContribution(c.UserContext(), id)
	if err != nil {
		return response.FromError(c, err)
	}
	if contribution.InvestorID != inv.InvestorID {
		return response.FromError(c, domain.ErrContributionNotFound)
	}
	return response.Success(c, "Contribution fetched successfully", contribution, nil)
}
