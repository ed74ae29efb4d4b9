package properties

import (
	"context"
	"math/big"
	"testing"
	"time"

	"propshare-backend/internal/application/idmap"
	"propshare-backend/internal/application/readcache"
	"propshare-backend/internal/domain"
	"propshare-backend/internal/infrastructure/ledger"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupPropertiesTest(t *testing.T) (*Service, *ledger.Simulated) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Property{}, &domain.IdentifierMapping{}))

	ids := &idmap.Service{DB: db}
	sim := ledger.NewSimulated()
	gw := ledger.NewGateway(sim, ids, ledger.Options{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	return &Service{DB: db, Cache: &readcache.Service{DB: db}, IDs: ids, Ledger: gw}, sim
}

func createOnLedger(sim *ledger.Simulated, name string) uint64 {
	return sim.CreateProperty(ledger.PropertyParams{
		Name:          name,
		Symbol:        "PRP",
		Value:         big.NewInt(500_000),
		TotalShares:   500,
		MinInvestment: big.NewInt(1000),
		MetadataURI:   "ipfs://meta",
	})
}

func TestImport_RegistersMappingAndCachesSnapshot(t *testing.T) {
	svc, sim := setupPropertiesTest(t)
	ctx := context.Background()
	ledgerID := createOnLedger(sim, "Canal House")

	p, created, err := svc.Import(ctx, ledgerID, readcache.PropertyDetails{Location: "Lisbon", RiskLevel: "low"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ledgerID, p.LedgerID)
	assert.Equal(t, "Canal House", p.Name)
	assert.Equal(t, "Lisbon", p.Location)
	assert.Equal(t, int64(500), p.AvailableShares)
	assert.False(t, p.FundingComplete)
	assert.Equal(t, sim.BlockNumber(), p.ObservedBlock)

	resolved, err := svc.IDs.Resolve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerID, resolved)
}

func TestImport_IsIdempotent(t *testing.T) {
	svc, sim := setupPropertiesTest(t)
	ctx := context.Background()
	ledgerID := createOnLedger(sim, "Canal House")

	first, created, err := svc.Import(ctx, ledgerID, readcache.PropertyDetails{})
	require.NoError(t, err)
	require.True(t, created)
	calls := sim.Calls(ledger.OpPropertyDetails)

	again, created, err := svc.Import(ctx, ledgerID, readcache.PropertyDetails{Location: "ignored"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, calls, sim.Calls(ledger.OpPropertyDetails), "no ledger read for a mapped id")

	var n int64
	require.NoError(t, svc.DB.Model(&domain.Property{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestImport_UnknownLedgerID(t *testing.T) {
	svc, _ := setupPropertiesTest(t)
	_, _, err := svc.Import(context.Background(), 42, readcache.PropertyDetails{})
	assert.ErrorIs(t, err, domain.ErrPropertyNotOnLedger)

	var n int64
	require.NoError(t, svc.DB.Model(&domain.IdentifierMapping{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestListAndGet(t *testing.T) {
	svc, sim := setupPropertiesTest(t)
	ctx := context.Background()
	for _, name := range []string{"One", "Two", "Three"} {
		_, _, err := svc.Import(ctx, createOnLedger(sim, name), readcache.PropertyDetails{})
		require.NoError(t, err)
	}

	rows, hasMore, err := svc.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.True(t, hasMore)

	got, err := svc.Get(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, rows[0].Name, got.Name)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPropertyNotFound)
}
