// Package backend opens the ledger store named by a DB config.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/davidahmann/canon/internal/config"
	"github.com/davidahmann/canon/internal/ledger"
	"github.com/davidahmann/canon/internal/ledger/pgstore"
	"github.com/davidahmann/canon/internal/ledger/redisstore"
	"github.com/davidahmann/canon/internal/ledger/sqlstore"
)

type Store interface {
	ledger.Store
	io.Closer
}

// Open returns a migrated, ready store for cfg. The caller owns Close.
func Open(ctx context.Context, cfg config.DBConfig) (Store, error) {
	switch driver := cfg.DriverOrDefault(); driver {
	case config.DriverMemory:
		return ledger.NewInMemoryStore(), nil
	case config.DriverSQLite:
		s, err := sqlstore.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, ledger.Wrap("open", fmt.Errorf("sqlite: %w", err))
		}
		return s, nil
	case config.DriverPostgres:
		s, err := pgstore.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, ledger.Wrap("open", fmt.Errorf("postgres: %w", err))
		}
		return s, nil
	case config.DriverRedis:
		s, err := redisstore.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, ledger.Wrap("open", fmt.Errorf("redis: %w", err))
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}
}
