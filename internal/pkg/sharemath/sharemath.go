// Package sharemath computes share prices, share allocations and ownership
// fractions from integer base-unit amounts. Every division truncates toward
// zero exactly like the ledger's uint256 arithmetic; nothing here touches
// floating point.
package sharemath

import (
	"fmt"
	"math/big"

	"propshare-backend/internal/domain"
)

// BasisPoints is the denominator of an ownership fraction (100% = 10000).
const BasisPoints = 10000

var bpsDenominator = big.NewInt(BasisPoints)

// Terms are the immutable economic parameters of a property.
type Terms struct {
	Value         *big.Int
	TotalShares   *big.Int
	MinInvestment *big.Int
}

// Allocation is the outcome of pricing a contribution against Terms.
type Allocation struct {
	SharePrice *big.Int
	Shares     *big.Int
}

// SharePrice returns value / totalShares. A zero share count, or a value too
// small to price one share, is a data-integrity fault.
func SharePrice(value, totalShares *big.Int) (*big.Int, error) {
	if totalShares == nil || totalShares.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total shares must be positive, got %v", domain.ErrDataIntegrity, totalShares)
	}
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: property value must be non-negative, got %v", domain.ErrDataIntegrity, value)
	}
	price := new(big.Int).Quo(value, totalShares)
	if price.Sign() == 0 {
		return nil, fmt.Errorf("%w: share price truncates to zero (value %s, shares %s)", domain.ErrDataIntegrity, value, totalShares)
	}
	return price, nil
}

// SharesFor returns contribution / sharePrice.
func SharesFor(contribution, sharePrice *big.Int) (*big.Int, error) {
	if sharePrice == nil || sharePrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: share price must be positive", domain.ErrDataIntegrity)
	}
	if contribution == nil || contribution.Sign() < 0 {
		return nil, fmt.Errorf("%w: %w: contribution must be non-negative", domain.ErrValidation, domain.ErrMalformedAmount)
	}
	return new(big.Int).Quo(contribution, sharePrice), nil
}

// OwnershipBasisPoints returns (cumulativeShares * 10000) / totalShares.
func OwnershipBasisPoints(cumulativeShares, totalShares *big.Int) (*big.Int, error) {
	if totalShares == nil || totalShares.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total shares must be positive, got %v", domain.ErrDataIntegrity, totalShares)
	}
	n := new(big.Int).Mul(cumulativeShares, bpsDenominator)
	return n.Quo(n, totalShares), nil
}

// Allocate prices a contribution and checks it against the minimum investment
// and the shares still available.
func Allocate(t Terms, contribution, available *big.Int) (Allocation, error) {
	if contribution == nil || contribution.Sign() <= 0 {
		return Allocation{}, fmt.Errorf("%w: %w: contribution must be positive", domain.ErrValidation, domain.ErrMalformedAmount)
	}
	if t.MinInvestment != nil && contribution.Cmp(t.MinInvestment) < 0 {
		return Allocation{}, fmt.Errorf("%w: %w: %s < %s", domain.ErrValidation, domain.ErrInsufficientContribution, contribution, t.MinInvestment)
	}
	price, err := SharePrice(t.Value, t.TotalShares)
	if err != nil {
		return Allocation{}, err
	}
	shares, err := SharesFor(contribution, price)
	if err != nil {
		return Allocation{}, err
	}
	if shares.Sign() == 0 {
		return Allocation{}, fmt.Errorf("%w: %w: contribution buys no whole share at price %s", domain.ErrValidation, domain.ErrInsufficientContribution, price)
	}
	if available != nil && shares.Cmp(available) > 0 {
		return Allocation{}, fmt.Errorf("%w: %w: %s requested, %s available", domain.ErrValidation, domain.ErrInsufficientSharesAvailable, shares, available)
	}
	return Allocation{SharePrice: price, Shares: shares}, nil
}
