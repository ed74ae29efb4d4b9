package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"propshare-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:            "test",
		DatabaseURL:    "sqlite::memory:",
		HealthAdminKey: "admin",
		Ledger: config.LedgerConfig{
			Mode:           config.LedgerModeSimulated,
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
			PollInterval:   time.Millisecond,
		},
		Reconcile: config.ReconcileConfig{ConfirmTimeout: time.Second, SweepConcurrency: 1},
	}
}

func setupRouterTest(t *testing.T) *App {
	a, err := CreateApp(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Engine.Wait()
		a.Close()
	})
	return a
}

func TestCreateApp_RequiresDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.DatabaseURL = ""
	_, err := CreateApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestCreateApp_Routes(t *testing.T) {
	a := setupRouterTest(t)

	cases := []struct {
		method string
		path   string
		code   int
	}{
		{"GET", "/health/json", 200},
		{"GET", "/", 200},
		{"GET", "/api/v1/properties", 200},
		{"GET", "/api/v1/properties/unknown", 404},
		{"GET", "/api/v1/investments", 401},
		{"POST", "/api/v1/reconcile/sweep", 403},
		{"POST", "/api/v1/reconcile/sweep?key=admin", 200},
		{"POST", "/api/v1/properties/import", 403},
	}
	for _, tc := range cases {
		resp, err := a.Fiber.Test(httptest.NewRequest(tc.method, tc.path, nil), 5000)
		require.NoError(t, err)
		assert.Equal(t, tc.code, resp.StatusCode, tc.method+" "+tc.path)
		assert.NotEmpty(t, resp.Header.Get("X-Trace-Id"), tc.path)
	}
}

func TestCreateApp_HealthReportsSimulatedLedger(t *testing.T) {
	a := setupRouterTest(t)

	resp, err := a.Fiber.Test(httptest.NewRequest("GET", "/health/json", nil))
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	deps := out["dependencies"].(map[string]interface{})
	assert.Equal(t, "connected", deps["database"].(map[string]interface{})["status"])
	assert.Equal(t, "disabled", deps["redis"].(map[string]interface{})["status"])
	assert.Equal(t, "reachable", deps["ledger"].(map[string]interface{})["status"])
}

func TestCreateApp_ExposesMetrics(t *testing.T) {
	a := setupRouterTest(t)

	// a sweep touches the sweep histogram
	_, err := a.Fiber.Test(httptest.NewRequest("POST", "/api/v1/reconcile/sweep?key=admin", nil))
	require.NoError(t, err)

	resp, err := a.Fiber.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "propshare_sweep_duration_seconds")
}

func TestCreateApp_SeedsSimulatedLedger(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.SeedFile = "../../infrastructure/ledger/testdata/seed.json"
	a, err := CreateApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		a.Engine.Wait()
		a.Close()
	})

	req := httptest.NewRequest("POST", "/api/v1/properties/import?key=admin", strings.NewReader(`{"ledger_id":1}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.Fiber.Test(req, 5000)
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	data := out["data"].(map[string]interface{})
	assert.Equal(t, "Canal Works", data["name"])
}

func TestCreateApp_BadSeedFile(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.SeedFile = "does-not-exist.json"
	_, err := CreateApp(context.Background(), cfg)
	assert.Error(t, err)
}
