package sharemath

import (
	"math/big"
	"testing"

	"propshare-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("0.05")
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", v.String())

	v, err = ParseUnits("3.5")
	require.NoError(t, err)
	assert.Equal(t, "3500000000000000000", v.String())

	_, err = ParseUnits("0.0000000000000000001")
	assert.ErrorIs(t, err, domain.ErrMalformedAmount)

	_, err = ParseUnits("abc")
	assert.ErrorIs(t, err, domain.ErrMalformedAmount)

	_, err = ParseUnits("-1")
	assert.ErrorIs(t, err, domain.ErrMalformedAmount)
}

func TestFormatUnits(t *testing.T) {
	v, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, "1.5", FormatUnits(v))
	assert.Equal(t, "0", FormatUnits(nil))
}

func TestParseBaseUnits(t *testing.T) {
	v, err := ParseBaseUnits(" 50 ")
	require.NoError(t, err)
	assert.Equal(t, int64(50), v.Int64())

	_, err = ParseBaseUnits("1.5")
	assert.ErrorIs(t, err, domain.ErrMalformedAmount)
}

func TestDecimalRoundTrip(t *testing.T) {
	v, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	back, err := FromDecimal(ToDecimal(v))
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(back))
}
