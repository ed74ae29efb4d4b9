package response

import (
	"errors"
	"fmt"
	"testing"

	"propshare-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
		kind string
	}{
		{fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrInsufficientContribution), 400, "validation"},
		{fmt.Errorf("%w: %w", domain.ErrLedgerRejected, domain.ErrWalletDeclined), 402, "wallet_declined"},
		{domain.ErrWalletDeclined, 402, "wallet_declined"},
		{fmt.Errorf("%w: x", domain.ErrIdentifierUnresolved), 404, "identifier_unresolved"},
		{domain.ErrPropertyNotFound, 404, "property_not_found"},
		{fmt.Errorf("%w: %w", domain.ErrLedgerRejected, domain.ErrFundingComplete), 409, "ledger_rejected"},
		{fmt.Errorf("send: %w", domain.ErrLedgerUnavailable), 503, "ledger_unavailable"},
		{fiber.NewError(fiber.StatusMethodNotAllowed, "nope"), 405, "http"},
		{errors.New("boom"), 500, "internal"},
	}
	for _, tc := range cases {
		code, kind, _ := StatusFor(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
		assert.Equal(t, tc.kind, kind, tc.err.Error())
	}
}

func TestStatusFor_HidesInternalMessages(t *testing.T) {
	_, _, msg := StatusFor(fmt.Errorf("%w: row 7 has zero shares", domain.ErrDataIntegrity))
	assert.Equal(t, "Data integrity fault", msg)

	_, _, msg = StatusFor(errors.New("dial tcp 10.0.0.1:5432: refused"))
	assert.Equal(t, "Internal Server Error", msg)
}
