package sharemath

import (
	"fmt"
	"math/big"
	"strings"

	"propshare-backend/internal/domain"

	"github.com/shopspring/decimal"
)

// Decimals is the display precision of the ledger currency (wei -> ether).
const Decimals = 18

// FormatUnits renders a base-unit amount as a display string with Decimals
// fractional digits trimmed of trailing zeros. Display only.
func FormatUnits(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -Decimals).String()
}

// ParseUnits converts a display string into base units. Inputs carrying more
// precision than one base unit are rejected rather than rounded.
func ParseUnits(display string) (*big.Int, error) {
	s := strings.TrimSpace(display)
	if s == "" {
		return nil, fmt.Errorf("%w: %w: empty amount", domain.ErrValidation, domain.ErrMalformedAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %q", domain.ErrValidation, domain.ErrMalformedAmount, display)
	}
	scaled := d.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %w: %q has more than %d decimals", domain.ErrValidation, domain.ErrMalformedAmount, display, Decimals)
	}
	if scaled.Sign() < 0 {
		return nil, fmt.Errorf("%w: %w: %q is negative", domain.ErrValidation, domain.ErrMalformedAmount, display)
	}
	return scaled.BigInt(), nil
}

// ParseBaseUnits parses a plain non-negative integer string of base units.
func ParseBaseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %w: %q", domain.ErrValidation, domain.ErrMalformedAmount, s)
	}
	return v, nil
}

// ToDecimal and FromDecimal move integer amounts in and out of numeric columns.
func ToDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

func FromDecimal(d decimal.Decimal) (*big.Int, error) {
	if !d.Equal(d.Truncate(0)) {
		return nil, fmt.Errorf("%w: stored amount %s is not an integer", domain.ErrDataIntegrity, d)
	}
	return d.BigInt(), nil
}
