package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"crypto-etl/internal/config"
)

// Open connects the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Backend, error) {
	if !cfg.Configured() {
		return nil, ErrNotConfigured
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("driver", cfg.Driver).Str("host", cfg.Host).Str("database", cfg.Name).Msg("postgres pool ready")
		return NewPostgres(pool), nil
	case config.DriverSQLite:
		backend, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("driver", cfg.Driver).Str("path", cfg.Path).Msg("sqlite database ready")
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := cfg.PostgresDSN()
	if dsn == "" {
		return nil, ErrNotConfigured
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
