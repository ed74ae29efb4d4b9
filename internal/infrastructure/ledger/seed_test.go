package ledger

import (
	"context"
	"strings"
	"testing"

	"propshare-backend/internal/pkg/sharemath"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedFile_ListsFixture(t *testing.T) {
	sim := NewSimulated()
	ctx := context.Background()

	ids, err := sim.SeedFile("testdata/seed.json")
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1}, ids)

	lofts, err := sim.PropertyDetails(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "Harbor Lofts", lofts.Name)
	assert.Equal(t, int64(1000), lofts.AvailableShares)
	minimum, _ := sharemath.ParseUnits("0.01")
	assert.Equal(t, minimum.String(), lofts.MinInvestment.String())

	canal, err := sim.PropertyDetails(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(120), canal.AvailableShares)
	value, _ := sharemath.ParseUnits("0.5")
	assert.Equal(t, value.String(), canal.Value.String())
	assert.Equal(t, "0", canal.MinInvestment.String())
}

func TestSeed_InvalidEntryListsNothing(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"name":`,
		"bad value":          `[{"name":"A","value":"1","total_shares":10},{"name":"B","value":"abc","total_shares":10}]`,
		"zero value":         `[{"name":"A","value":"0","total_shares":10}]`,
		"too many available": `[{"name":"A","value":"1","total_shares":10,"available_shares":11}]`,
		"no shares":          `[{"name":"A","value":"1","total_shares":0}]`,
	}
	for name, body := range cases {
		sim := NewSimulated()
		_, err := sim.Seed(strings.NewReader(body))
		assert.Error(t, err, name)
		n, err := sim.PropertyCount(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n, name)
	}
}

func TestSeedFile_Missing(t *testing.T) {
	_, err := NewSimulated().SeedFile("testdata/nope.json")
	assert.Error(t, err)
}
