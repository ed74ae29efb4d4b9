package properties

import (
	"fmt"
	"math/big"
	"strconv"

	propsvc "propshare-backend/internal/application/properties"
	"propshare-backend/internal/application/readcache"
	"propshare-backend/internal/domain"
	"propshare-backend/internal/pkg/response"
	"propshare-backend/internal/pkg/sharemath"
	"propshare-backend/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Service *propsvc.Service
}

// propertyView adds display amounts to the cached row. Amounts stay exact
// base-unit strings; the display fields are for people.
type propertyView struct {
	*domain.Property
	ValueDisplay         string `json:"property_value_display"`
	MinInvestmentDisplay string `json:"min_investment_display"`
	SharePrice           string `json:"share_price,omitempty"`
	SharesSold           int64  `json:"shares_sold"`
}

func viewOf(p *domain.Property) propertyView {
	v := propertyView{
		Property:             p,
		ValueDisplay:         sharemath.FormatUnits(p.Value.BigInt()),
		MinInvestmentDisplay: sharemath.FormatUnits(p.MinInvestment.BigInt()),
		SharesSold:           p.TotalShares - p.AvailableShares,
	}
	if price, err := sharemath.SharePrice(p.Value.BigInt(), big.NewInt(p.TotalShares)); err == nil {
		v.SharePrice = price.String()
	}
	return v
}

// GET /api/v1/properties?page=&limit=
func (h *Handlers) List(c *fiber.Ctx) error {
	page, err := queryInt(c, "page", 1)
	if err != nil || page < 1 {
		return response.Error(c, "page must be a positive integer", fiber.StatusBadRequest, nil)
	}
	limit, err := queryInt(c, "limit", readcache.DefaultPageLimit)
	if err != nil || limit < 1 {
		return response.Error(c, "limit must be a positive integer", fiber.StatusBadRequest, nil)
	}
	if limit > readcache.MaxPageLimit {
		limit = readcache.MaxPageLimit
	}

	rows, hasMore, err := h.Service.List(c.UserContext(), page, limit)
	if err != nil {
		return err
	}
	views := make([]propertyView, 0, len(rows))
	for i := range rows {
		views = append(views, viewOf(&rows[i]))
	}
	meta := response.PageMeta{Page: page, Limit: limit, Count: len(views), HasMore: hasMore}
	return response.Success(c, "Properties fetched successfully", views, meta)
}

// GET /api/v1/properties/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	p, err := h.Service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Property fetched successfully", viewOf(p), nil)
}

type importBody struct {
	LedgerID       *uint64 `json:"ledger_id" validate:"required"`
	Location       string  `json:"location" validate:"max=255"`
	Description    string  `json:"description"`
	Image          string  `json:"image" validate:"omitempty,url"`
	RiskLevel      string  `json:"risk_level" validate:"omitempty,oneof=low medium high"`
	ExpectedReturn string  `json:"expected_return" validate:"max=32"`
}

// POST /api/v1/properties/import: 201 when a new mapping was registered,
// 200 when the ledger id was already imported.
func (h *Handlers) Import(c *fiber.Ctx) error {
	var body importBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	if err := validation.Struct(body); err != nil {
		return response.FromError(c, err)
	}

	p, created, err := h.Service.Import(c.UserContext(), *body.LedgerID, readcache.PropertyDetails{
		Location:       body.Location,
		Description:    body.Description,
		Image:          body.Image,
		RiskLevel:      body.RiskLevel,
		ExpectedReturn: body.ExpectedReturn,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	if created {
		return response.SuccessCreated(c, "Property imported successfully", viewOf(p), nil)
	}
	return response.Success(c, "Property already imported", viewOf(p), nil)
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	s := c.Query(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
