// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store owns the PostgreSQL schema and connection pool shared by the
// identity and permission repositories.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// PoolConfig tunes the pgx pool. Zero values keep pgx defaults.
type PoolConfig struct {
	URL             string        `koanf:"url" json:"url,omitempty"`
	MaxConns        int32         `koanf:"max_conns" json:"max_conns,omitempty"`
	MinConns        int32         `koanf:"min_conns" json:"min_conns,omitempty"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime" json:"max_conn_lifetime,omitempty"`
	// ConnectAttempts bounds startup pings while the database comes up.
	ConnectAttempts uint64 `koanf:"connect_attempts" json:"connect_attempts,omitempty"`
}

// ParsePoolConfig validates cfg and converts it to a pgxpool config.
func ParsePoolConfig(cfg PoolConfig) (*pgxpool.Config, error) {
	if cfg.URL == "" {
		return nil, oops.Code("STORE_INVALID_CONFIG").Errorf("database url is required")
	}
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("STORE_INVALID_CONFIG").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	return pc, nil
}

// OpenPool connects and pings, retrying with backoff up to
// cfg.ConnectAttempts times.
func OpenPool(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := ParsePoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").Wrap(err)
	}

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(attempts-1, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if perr := pool.Ping(ctx); perr != nil {
			logger.WarnContext(ctx, "database not reachable yet", "error", perr)
			return retry.RetryableError(perr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("attempts", attempts).Wrap(err)
	}
	return pool, nil
}
