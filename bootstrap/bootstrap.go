package bootstrap

import (
	"context"

	"propshare-backend/internal/config"
	"propshare-backend/internal/interfaces/router"
)

// New creates the app for serverless hosting (the api handler imports this
// package, not internal). There is no scheduler in that mode: an external
// cron calls POST /api/v1/reconcile/sweep instead.
func New(ctx context.Context) (*router.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return router.CreateApp(ctx, cfg)
}
