package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	healthsvc "propshare-backend/internal/application/health"
	"propshare-backend/internal/application/idmap"
	propsvc "propshare-backend/internal/application/properties"
	"propshare-backend/internal/application/readcache"
	reconsvc "propshare-backend/internal/application/reconcile"
	"propshare-backend/internal/config"
	"propshare-backend/internal/infrastructure/database"
	"propshare-backend/internal/infrastructure/ledger"
	"propshare-backend/internal/infrastructure/notify"
	healthhandler "propshare-backend/internal/interfaces/handlers/health"
	invhandler "propshare-backend/internal/interfaces/handlers/investments"
	prophandler "propshare-backend/internal/interfaces/handlers/properties"
	reconhandler "propshare-backend/internal/interfaces/handlers/reconcile"
	"propshare-backend/internal/middleware"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// App is the wired service: the HTTP app plus what main needs to schedule
// sweeps and shut down cleanly.
type App struct {
	Fiber  *fiber.App
	DB     *gorm.DB
	Rdb    *redis.Client
	Engine *reconsvc.Engine

	closers []func()
}

// Close releases the ledger connection, Redis and the database. Call after
// the HTTP server and the engine's workers have stopped.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func CreateApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("no database configured (DATABASE_URL_DEV|PROD|TEST)")
	}
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := database.AutoMigrate(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.Rdb = redis.NewClient(opt)
		a.closers = append(a.closers, func() { _ = a.Rdb.Close() })
	} else {
		log.Warn().Msg("REDIS_URL not set; sessions, health counters and status events are disabled")
	}

	backend, closeBackend, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeBackend)

	ids := &idmap.Service{DB: db, Rdb: a.Rdb}
	cache := &readcache.Service{DB: db}
	gw := ledger.NewGateway(backend, ids, ledger.Options{
		MaxAttempts:    cfg.Ledger.MaxAttempts,
		InitialBackoff: cfg.Ledger.InitialBackoff,
		PollInterval:   cfg.Ledger.PollInterval,
	})
	a.Engine = reconsvc.NewEngine(gw, cache, ids, &notify.Publisher{Rdb: a.Rdb}, reconsvc.Options{
		ConfirmTimeout:   cfg.Reconcile.ConfirmTimeout,
		PendingExpiry:    cfg.Reconcile.PendingExpiry,
		SweepConcurrency: cfg.Reconcile.SweepConcurrency,
	})

	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler(a.Rdb),
		EnableTrustedProxyCheck: true,
	})
	a.Fiber = app

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))
	app.Use(middleware.Tracing())
	app.Use(middleware.Session(a.Rdb))
	app.Use(middleware.HealthMarker(a.Rdb))
	app.Use(middleware.RouteLogger())

	hh := &healthhandler.Handlers{Deps: healthsvc.Dependencies{
		Rdb:        a.Rdb,
		DB:         &gormDBPinger{db: db},
		Ledger:     gw,
		LedgerMode: cfg.Ledger.Mode,
	}}
	app.Get("/", hh.Dashboard)
	app.Get("/reset", middleware.RequireAdminKey(cfg.HealthAdminKey), hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")

	ph := &prophandler.Handlers{Service: &propsvc.Service{DB: db, Cache: cache, IDs: ids, Ledger: gw}}
	pg := api.Group("/properties")
	pg.Get("/", ph.List)
	pg.Post("/import", middleware.RequireAdminKey(cfg.HealthAdminKey), ph.Import)
	pg.Get("/:id", ph.Get)

	ih := &invhandler.Handlers{Engine: a.Engine, Cache: cache}
	ig := api.Group("/investments", middleware.RequireAuth())
	ig.Post("/", ih.Submit)
	ig.Get("/", ih.List)
	ig.Get("/contributions/:id", ih.GetContribution)

	rh := &reconhandler.Handlers{Engine: a.Engine}
	api.Post("/reconcile/sweep", middleware.RequireAdminKey(cfg.HealthAdminKey), rh.Sweep)

	ok = true
	return a, nil
}

// openLedger builds the configured ledger backend and its closer.
func openLedger(ctx context.Context, cfg config.LedgerConfig) (ledger.Backend, func(), error) {
	switch cfg.Mode {
	case config.LedgerModeRPC:
		var chainID *big.Int
		if cfg.ChainID > 0 {
			chainID = big.NewInt(cfg.ChainID)
		}
		rpc, err := ledger.DialRPC(ctx, ledger.RPCConfig{
			URL:        cfg.RPCURL,
			Factory:    common.HexToAddress(cfg.FactoryAddress),
			ChainID:    chainID,
			SignerKeys: cfg.SignerKeys,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dial ledger: %w", err)
		}
		log.Info().Str("rpc", cfg.RPCURL).Str("factory", cfg.FactoryAddress).Int("signers", len(cfg.SignerKeys)).Msg("Ledger RPC connected")
		return rpc, rpc.Close, nil
	default:
		log.Warn().Msg("Using the in-memory simulated ledger; state is lost on restart")
		sim := ledger.NewSimulated()
		if cfg.SeedFile != "" {
			if _, err := sim.SeedFile(cfg.SeedFile); err != nil {
				return nil, nil, err
			}
		}
		return sim, func() {}, nil
	}
}
