package investments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"propshare-backend/internal/application/idmap"
	"propshare-backend/internal/application/readcache"
	"propshare-backend/internal/application/reconcile"
	"propshare-backend/internal/domain"
	"propshare-backend/internal/infrastructure/ledger"
	"propshare-backend/internal/middleware"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	aliceWallet = "0x1111111111111111111111111111111111111111"
	bobWallet   = "0x2222222222222222222222222222222222222222"
)

type fixture struct {
	app    *fiber.App
	engine *reconcile.Engine
	sim    *ledger.Simulated
	cache  *readcache.Service
	ids    *idmap.Service
	mr     *miniredis.Miniredis
}

type noopNotifier struct{}

func (noopNotifier) ContributionChanged(context.Context, *domain.Contribution) {}

func setupInvestmentsTest(t *testing.T) *fixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Property{}, &domain.Investment{}, &domain.Contribution{}, &domain.IdentifierMapping{}))
	cache := &readcache.Service{DB: db}
	require.NoError(t, cache.Migrate(context.Background()))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ids := &idmap.Service{DB: db}
	sim := ledger.NewSimulated()
	gw := ledger.NewGateway(sim, ids, ledger.Options{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		PollInterval:   time.Millisecond,
	})
	engine := reconcile.NewEngine(gw, cache, ids, noopNotifier{}, reconcile.Options{ConfirmTimeout: time.Second})
	t.Cleanup(engine.Wait)

	h := &Handlers{Engine: engine, Cache: cache}
	app := fiber.New()
	app.Use(middleware.Session(rdb))
	grp := app.Group("/investments", middleware.RequireAuth())
	grp.Post("/", h.Submit)
	grp.Get("/", h.List)
	grp.Get("/contributions/:id", h.GetContribution)

	f := &fixture{app: app, engine: engine, sim: sim, cache: cache, ids: ids, mr: mr}
	f.login(t, "alice-session", "alice", aliceWallet)
	f.login(t, "bob-session", "bob", bobWallet)
	return f
}

func (f *fixture) login(t *testing.T, sid, investorID, wallet string) {
	payload := fmt.Sprintf(`{"investor":{"investor_id":%q,"wallet_address":%q}}`, investorID, wallet)
	require.NoError(t, f.mr.Set(middleware.SessionRedisPrefix+sid, payload))
}

// list creates a property priced at 1 base unit per share and imports it.
func (f *fixture) list(t *testing.T) string {
	ledgerID := f.sim.CreateProperty(ledger.PropertyParams{
		Name:          "Harbor Lofts",
		Symbol:        "HRB",
		Value:         big.NewInt(1000),
		TotalShares:   1000,
		MinInvestment: big.NewInt(10),
	})
	snap, err := f.sim.PropertyDetails(context.Background(), ledgerID)
	require.NoError(t, err)
	durable := uuid.NewString()
	require.NoError(t, f.cache.DB.Transaction(func(tx *gorm.DB) error {
		if err := f.ids.RegisterWith(tx, durable, ledgerID); err != nil {
			return err
		}
		_, err := f.cache.CreatePropertyWith(tx, durable, snap, readcache.PropertyDetails{})
		return err
	}))
	return durable
}

func (f *fixture) do(t *testing.T, method, path, sid string, body interface{}) (int, map[string]interface{}) {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: sid})
	}
	resp, err := f.app.Test(req, 5000)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestSubmit_AcceptedThenCompleted(t *testing.T) {
	f := setupInvestmentsTest(t)
	prop := f.list(t)

	code, out := f.do(t, "POST", "/investments", "alice-session", map[string]interface{}{
		"property_id": prop,
		"amount":      "100",
	})
	require.Equal(t, 202, code, out)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "PENDING", data["status"])
	assert.NotEmpty(t, data["transaction_hash"])
	assert.Equal(t, aliceWallet, data["wallet_address"])
	contributionID := data["id"].(string)

	f.engine.Wait()

	code, out = f.do(t, "GET", "/investments/contributions/"+contributionID, "alice-session", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, "COMPLETED", out["data"].(map[string]interface{})["status"])

	code, out = f.do(t, "GET", "/investments", "alice-session", nil)
	assert.Equal(t, 200, code)
	rows := out["data"].([]interface{})
	require.Len(t, rows, 1)
	row := rows[0].(map[string]interface{})
	assert.Equal(t, "COMPLETED", row["status"])
	assert.Equal(t, float64(100), row["shares"])
	assert.Equal(t, prop, row["property"].(map[string]interface{})["id"])
}

func TestSubmit_DisplayAmount(t *testing.T) {
	f := setupInvestmentsTest(t)
	prop := f.list(t)

	// 0.00000000000000005 ether is 50 base units
	code, out := f.do(t, "POST", "/investments", "alice-session", map[string]interface{}{
		"property_id":    prop,
		"amount_display": "0.00000000000000005",
	})
	require.Equal(t, 202, code, out)
	assert.Equal(t, "50", out["data"].(map[string]interface{})["amount"])
	assert.Equal(t, aliceWallet, out["data"].(map[string]interface{})["wallet_address"])
}

func TestSubmit_RejectsForeignWallet(t *testing.T) {
	f := setupInvestmentsTest(t)
	prop := f.list(t)

	code, out := f.do(t, "POST", "/investments", "alice-session", map[string]interface{}{
		"property_id":    prop,
		"amount":         "50",
		"wallet_address": bobWallet,
	})
	assert.Equal(t, 400, code, out)
	assert.Equal(t, "error", out["status"])

	// naming the session's own wallet is fine
	code, out = f.do(t, "POST", "/investments", "alice-session", map[string]interface{}{
		"property_id":    prop,
		"amount":         "50",
		"wallet_address": aliceWallet,
	})
	require.Equal(t, 202, code, out)

	var n int64
	require.NoError(t, f.cache.DB.Model(&domain.Contribution{}).Where("wallet_address = ?", bobWallet).Count(&n).Error)
	assert.Zero(t, n)
}

func TestSubmit_Rejections(t *testing.T) {
	f := setupInvestmentsTest(t)
	prop := f.list(t)

	cases := []struct {
		name string
		body map[string]interface{}
		code int
	}{
		{"below minimum", map[string]interface{}{"property_id": prop, "amount": "5"}, 400},
		{"more than available", map[string]interface{}{"property_id": prop, "amount": "5000"}, 400},
		{"no amount", map[string]interface{}{"property_id": prop}, 400},
		{"both amounts", map[string]interface{}{"property_id": prop, "amount": "10", "amount_display": "1"}, 400},
		{"too precise display", map[string]interface{}{"property_id": prop, "amount_display": "0.0000000000000000001"}, 400},
		{"bad wallet", map[string]interface{}{"property_id": prop, "amount": "10", "wallet_address": "0x12"}, 400},
		{"unknown property", map[string]interface{}{"property_id": "nope", "amount": "10"}, 404},
	}
	for _, tc := range cases {
		code, out := f.do(t, "POST", "/investments", "alice-session", tc.body)
		assert.Equal(t, tc.code, code, tc.name)
		assert.Equal(t, "error", out["status"], tc.name)
	}

	var n int64
	require.NoError(t, f.cache.DB.Model(&domain.Contribution{}).Count(&n).Error)
	assert.Zero(t, n, "rejected submissions leave no rows")
}

func TestSubmit_RequiresSession(t *testing.T) {
	f := setupInvestmentsTest(t)
	code, _ := f.do(t, "POST", "/investments", "", map[string]interface{}{"property_id": "x", "amount": "10"})
	assert.Equal(t, 401, code)
}

func TestTrack_SameHashTwice(t *testing.T) {
	f := setupInvestmentsTest(t)
	prop := f.list(t)
	ledgerID, err := f.ids.Resolve(context.Background(), prop)
	require.NoError(t, err)
	receipt, err := f.sim.InvestDirect(ledgerID, common.HexToAddress(aliceWallet), big.NewInt(20))
	require.NoError(t, err)

	body := map[string]interface{}{"property_id": prop, "amount": "20", "transaction_hash": receipt.TxHash.Hex()}
	code, first := f.do(t, "POST", "/investments", "alice-session", body)
	require.Equal(t, 202, code, first)
	code, second := f.do(t, "POST", "/investments", "alice-session", body)
	require.Equal(t, 202, code, second)
	assert.Equal(t, first["data"].(map[string]interface{})["id"], second["data"].(map[string]interface{})["id"])

	code, _ = f.do(t, "POST", "/investments", "alice-session", map[string]interface{}{"property_id": prop, "amount": "20", "transaction_hash": "0xabc"})
	assert.Equal(t, 400, code)
}

func TestTrack_MismatchedTransactionRejected(t *testing.T) {
	f := setupInvestmentsTest(t)
	prop := f.list(t)
	ledgerID, err := f.ids.Resolve(context.Background(), prop)
	require.NoError(t, err)
	receipt, err := f.sim.InvestDirect(ledgerID, common.HexToAddress(aliceWallet), big.NewInt(20))
	require.NoError(t, err)

	// alice claims more than she sent
	code, out := f.do(t, "POST", "/investments", "alice-session", map[string]interface{}{"property_id": prop, "amount": "500", "transaction_hash": receipt.TxHash.Hex()})
	assert.Equal(t, 400, code, out)
	// bob claims alice's transaction
	code, out = f.do(t, "POST", "/investments", "bob-session", map[string]interface{}{"property_id": prop, "amount": "20", "transaction_hash": receipt.TxHash.Hex()})
	assert.Equal(t, 400, code, out)

	var n int64
	require.NoError(t, f.cache.DB.Model(&domain.Contribution{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestGetContribution_OtherInvestorIsNotFound(t *testing.T) {
	f := setupInvestmentsTest(t)
	prop := f.list(t)
	code, out := f.do(t, "POST", "/investments", "alice-session", map[string]interface{}{"property_id": prop, "amount": "10"})
	require.Equal(t, 202, code, out)
	id := out["data"].(map[string]interface{})["id"].(string)

	code, _ = f.do(t, "GET", "/investments/contributions/"+id, "bob-session", nil)
	assert.Equal(t, 404, code)
	code, _ = f.do(t, "GET", "/investments/contributions/not-a-uuid", "bob-session", nil)
	assert.Equal(t, 400, code)
}
