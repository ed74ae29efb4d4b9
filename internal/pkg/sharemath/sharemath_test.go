package sharemath

import (
	"math/big"
	"testing"

	"propshare-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func terms(value, total, min int64) Terms {
	return Terms{Value: big.NewInt(value), TotalShares: big.NewInt(total), MinInvestment: big.NewInt(min)}
}

func TestAllocate_ScenarioA(t *testing.T) {
	a, err := Allocate(terms(1000, 1000, 10), big.NewInt(50), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.SharePrice.Int64())
	assert.Equal(t, int64(50), a.Shares.Int64())
}

func TestAllocate_InsufficientSharesAvailable(t *testing.T) {
	_, err := Allocate(terms(1000, 1000, 10), big.NewInt(50), big.NewInt(30))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientSharesAvailable)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAllocate_ExactlyAvailable(t *testing.T) {
	a, err := Allocate(terms(1000, 1000, 10), big.NewInt(50), big.NewInt(50))
	require.NoError(t, err)
	assert.Equal(t, int64(50), a.Shares.Int64())
}

func TestAllocate_BelowMinimum(t *testing.T) {
	_, err := Allocate(terms(1000, 1000, 10), big.NewInt(9), big.NewInt(1000))
	assert.ErrorIs(t, err, domain.ErrInsufficientContribution)
}

func TestAllocate_TruncatesPriceAndShares(t *testing.T) {
	// 3.5 ether over 1000 shares: price truncates to 3.5e15 exactly; 0.01 ether buys 2 shares (2.857 floored).
	value, _ := new(big.Int).SetString("3500000000000000000", 10)
	price, err := SharePrice(value, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "3500000000000000", price.String())

	shares, err := SharesFor(big.NewInt(10_000_000_000_000_000), price)
	require.NoError(t, err)
	assert.Equal(t, int64(2), shares.Int64())

	// 1000 over 3 shares: price 333, 1000 buys 3 shares
	price, err = SharePrice(big.NewInt(1000), big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, int64(333), price.Int64())
	shares, _ = SharesFor(big.NewInt(1000), price)
	assert.Equal(t, int64(3), shares.Int64())
}

func TestAllocate_FloorProperty(t *testing.T) {
	for value := int64(1); value <= 60; value += 7 {
		for total := int64(1); total <= value; total += 3 {
			for contribution := int64(1); contribution <= 90; contribution += 11 {
				a, err := Allocate(terms(value, total, 0), big.NewInt(contribution), nil)
				price := value / total
				want := contribution / price
				if want == 0 {
					assert.ErrorIs(t, err, domain.ErrInsufficientContribution)
					continue
				}
				require.NoError(t, err)
				assert.Equal(t, want, a.Shares.Int64(), "value=%d total=%d contribution=%d", value, total, contribution)
			}
		}
	}
}

func TestSharePrice_ZeroSharesFailsLoudly(t *testing.T) {
	_, err := SharePrice(big.NewInt(1000), big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)

	_, err = SharePrice(big.NewInt(5), big.NewInt(10))
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
}

func TestOwnershipBasisPoints(t *testing.T) {
	bps, err := OwnershipBasisPoints(big.NewInt(50), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(500), bps.Int64())

	bps, err = OwnershipBasisPoints(big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3333), bps.Int64())

	_, err = OwnershipBasisPoints(big.NewInt(1), big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrDataIntegrity)
}
