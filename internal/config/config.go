package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	LedgerModeSimulated = "simulated"
	LedgerModeRPC       = "rpc"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	LogLevel            string
	SessionSecret       string
	DatabaseURL         string // "sqlite:<path>" selects the embedded driver
	RedisURL            string
	FrontendURLEndsWith string
	DevPassword         string
	AllowCrossSiteDev   bool
	HealthAdminKey      string

	Ledger    LedgerConfig
	Reconcile ReconcileConfig
}

// LedgerConfig selects and tunes the ledger backend.
type LedgerConfig struct {
	Mode           string
	RPCURL         string
	FactoryAddress string
	ChainID        int64 // 0 asks the node
	SignerKeys     []string
	MaxAttempts    uint
	InitialBackoff time.Duration
	PollInterval   time.Duration
	SeedFile       string // JSON fixture listed into the simulated ledger at start
}

type ReconcileConfig struct {
	ConfirmTimeout   time.Duration
	SweepSchedule    string
	SweepConcurrency int
	PendingExpiry    time.Duration
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LEDGER_MODE", LedgerModeSimulated)
	viper.SetDefault("LEDGER_MAX_ATTEMPTS", 4)
	viper.SetDefault("LEDGER_INITIAL_BACKOFF", "200ms")
	viper.SetDefault("LEDGER_POLL_INTERVAL", "2s")
	viper.SetDefault("CONFIRM_TIMEOUT", "90s")
	viper.SetDefault("SWEEP_SCHEDULE", "0 */1 * * * *")
	viper.SetDefault("SWEEP_CONCURRENCY", 4)
	viper.SetDefault("PENDING_EXPIRY", "1h")

	env := viper.GetString("NODE_ENV")
	if env == "" {
		env = viper.GetString("APP_ENV")
	}
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL_DEV")
	}

	cfg := &Config{
		Env:                 env,
		Port:                viper.GetString("PORT"),
		LogLevel:            strings.ToLower(viper.GetString("LOG_LEVEL")),
		SessionSecret:       viper.GetString("SESSION_SECRET"),
		DatabaseURL:         dbURL,
		RedisURL:            viper.GetString("REDIS_URL"),
		FrontendURLEndsWith: viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         viper.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:   strings.EqualFold(viper.GetString("ALLOW_CROSS_SITE_DEV"), "true"),
		HealthAdminKey:      viper.GetString("HEALTH_ADMIN_KEY"),
		Ledger: LedgerConfig{
			Mode:           strings.ToLower(viper.GetString("LEDGER_MODE")),
			RPCURL:         viper.GetString("LEDGER_RPC_URL"),
			FactoryAddress: viper.GetString("LEDGER_FACTORY_ADDRESS"),
			ChainID:        viper.GetInt64("LEDGER_CHAIN_ID"),
			SignerKeys:     splitList(viper.GetString("LEDGER_SIGNER_KEYS")),
			MaxAttempts:    viper.GetUint("LEDGER_MAX_ATTEMPTS"),
			InitialBackoff: viper.GetDuration("LEDGER_INITIAL_BACKOFF"),
			PollInterval:   viper.GetDuration("LEDGER_POLL_INTERVAL"),
			SeedFile:       viper.GetString("LEDGER_SEED_FILE"),
		},
		Reconcile: ReconcileConfig{
			ConfirmTimeout:   viper.GetDuration("CONFIRM_TIMEOUT"),
			SweepSchedule:    viper.GetString("SWEEP_SCHEDULE"),
			SweepConcurrency: viper.GetInt("SWEEP_CONCURRENCY"),
			PendingExpiry:    viper.GetDuration("PENDING_EXPIRY"),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Ledger.Mode {
	case LedgerModeSimulated:
	case LedgerModeRPC:
		if c.Ledger.RPCURL == "" || c.Ledger.FactoryAddress == "" {
			return fmt.Errorf("LEDGER_MODE=rpc requires LEDGER_RPC_URL and LEDGER_FACTORY_ADDRESS")
		}
	default:
		return fmt.Errorf("unknown LEDGER_MODE %q", c.Ledger.Mode)
	}
	if c.Ledger.MaxAttempts == 0 {
		return fmt.Errorf("LEDGER_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
