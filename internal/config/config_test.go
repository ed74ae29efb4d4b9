package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)
	t.Setenv("NODE_ENV", "")
	t.Setenv("APP_ENV", "")
	t.Setenv("LEDGER_MODE", "")
	t.Setenv("LEDGER_SEED_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, LedgerModeSimulated, cfg.Ledger.Mode)
	assert.Equal(t, uint(4), cfg.Ledger.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Ledger.InitialBackoff)
	assert.Equal(t, 2*time.Second, cfg.Ledger.PollInterval)
	assert.Empty(t, cfg.Ledger.SeedFile)
	assert.Equal(t, 90*time.Second, cfg.Reconcile.ConfirmTimeout)
	assert.Equal(t, "0 */1 * * * *", cfg.Reconcile.SweepSchedule)
	assert.Equal(t, 4, cfg.Reconcile.SweepConcurrency)
	assert.Equal(t, time.Hour, cfg.Reconcile.PendingExpiry)
}

func TestLoad_EnvSelectsDatabaseAndLedger(t *testing.T) {
	resetViper(t)
	t.Setenv("NODE_ENV", "test")
	t.Setenv("DATABASE_URL_TEST", "sqlite:file::memory:")
	t.Setenv("LEDGER_MODE", "RPC")
	t.Setenv("LEDGER_RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("LEDGER_FACTORY_ADDRESS", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	t.Setenv("LEDGER_SIGNER_KEYS", " aa , ,bb")
	t.Setenv("CONFIRM_TIMEOUT", "5s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite:file::memory:", cfg.DatabaseURL)
	assert.Equal(t, LedgerModeRPC, cfg.Ledger.Mode)
	assert.Equal(t, []string{"aa", "bb"}, cfg.Ledger.SignerKeys)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.ConfirmTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_RPCModeRequiresEndpoint(t *testing.T) {
	resetViper(t)
	t.Setenv("LEDGER_MODE", "rpc")
	t.Setenv("LEDGER_RPC_URL", "")
	t.Setenv("LEDGER_FACTORY_ADDRESS", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_UnknownLedgerMode(t *testing.T) {
	resetViper(t)
	t.Setenv("LEDGER_MODE", "carrier-pigeon")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_LedgerSeedFile(t *testing.T) {
	resetViper(t)
	t.Setenv("LEDGER_MODE", "simulated")
	t.Setenv("LEDGER_SEED_FILE", "seed/properties.json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "seed/properties.json", cfg.Ledger.SeedFile)
}
