package response

import (
	"errors"

	"propshare-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
)

type errorClass struct {
	target error
	code   int
	kind   string
}

// Order matters: leaf errors are wrapped under their class, so the more
// specific entries come first.
var errorClasses = []errorClass{
	{domain.ErrWalletDeclined, fiber.StatusPaymentRequired, "wallet_declined"},
	{domain.ErrValidation, fiber.StatusBadRequest, "validation"},
	{domain.ErrIdentifierUnresolved, fiber.StatusNotFound, "identifier_unresolved"},
	{domain.ErrPropertyNotFound, fiber.StatusNotFound, "property_not_found"},
	{domain.ErrContributionNotFound, fiber.StatusNotFound, "contribution_not_found"},
	{domain.ErrIdentifierConflict, fiber.StatusConflict, "identifier_conflict"},
	{domain.ErrLedgerRejected, fiber.StatusConflict, "ledger_rejected"},
	{domain.ErrLedgerUnavailable, fiber.StatusServiceUnavailable, "ledger_unavailable"},
	{domain.ErrConfirmationTimeout, fiber.StatusGatewayTimeout, "confirmation_timeout"},
}

// StatusFor maps an error to its HTTP status, a stable kind for clients and
// the message safe to return. Unclassified errors are 500 with a generic message.
func StatusFor(err error) (int, string, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, "http", fe.Message
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c.code, c.kind, err.Error()
		}
	}
	if errors.Is(err, domain.ErrDataIntegrity) {
		return fiber.StatusInternalServerError, "data_integrity", "Data integrity fault"
	}
	return fiber.StatusInternalServerError, "internal", "Internal Server Error"
}

// FromError sends err in the standard error format.
func FromError(c *fiber.Ctx, err error) error {
	code, kind, msg := StatusFor(err)
	return Error(c, msg, code, map[string]interface{}{"kind": kind})
}
