package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/shayan-deriv/multi-touch-attribution/internal/store"
)

// initStore opens the configured journey store. Callers own Close and are
// expected to run Migrate before first use.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "mta.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
