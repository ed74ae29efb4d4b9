package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	reconsvc "propshare-backend/internal/application/reconcile"
	"propshare-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sweeperStub struct {
	report reconsvc.SweepReport
	err    error
	calls  int
}

func (s *sweeperStub) Sweep(context.Context) (reconsvc.SweepReport, error) {
	s.calls++
	return s.report, s.err
}

func setupSweepTest(stub *sweeperStub) *fiber.App {
	h := &Handlers{Engine: stub}
	app := fiber.New()
	app.Post("/sweep", middleware.RequireAdminKey("admin"), h.Sweep)
	return app
}

func TestSweep_ReturnsReport(t *testing.T) {
	stub := &sweeperStub{report: reconsvc.SweepReport{Properties: 3, Applied: 1, Unmapped: []uint64{7}}}
	app := setupSweepTest(stub)

	req := httptest.NewRequest("POST", "/sweep", nil)
	req.Header.Set("X-Admin-Key", "admin")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	data := out["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["properties"])
	assert.Equal(t, []interface{}{float64(7)}, data["unmapped"])
}

func TestSweep_RequiresAdminKey(t *testing.T) {
	stub := &sweeperStub{}
	app := setupSweepTest(stub)

	resp, err := app.Test(httptest.NewRequest("POST", "/sweep", nil))
	require.NoError(t, err)
	assert.Equal(t, 403, resp.StatusCode)
	assert.Zero(t, stub.calls)
}

func TestSweep_FailureIs503(t *testing.T) {
	stub := &sweeperStub{err: errors.New("ledger unavailable")}
	app := setupSweepTest(stub)

	req := httptest.NewRequest("POST", "/sweep?key=admin", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
}
