// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// DatabaseOpener connects to PostgreSQL.
	// Default: store.OpenPool
	DatabaseOpener func(ctx context.Context, cfg store.PoolConfig, logger *slog.Logger) (Database, error)

	// CacheOpener opens the session cache.
	// Default: openCache
	CacheOpener func(ctx context.Context, cfg config.CacheConfig) (cache.Store, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, opts ...observability.Option) ObservabilityServer

	// ListenerFactory creates the API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer
}

// Database is the pgx pool surface the repositories and readiness check use.
type Database interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.DatabaseOpener == nil {
		out.DatabaseOpener = func(ctx context.Context, cfg store.PoolConfig, logger *slog.Logger) (Database, error) {
			return store.OpenPool(ctx, cfg, logger)
		}
	}
	if out.CacheOpener == nil {
		out.CacheOpener = openCache
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, opts ...observability.Option) ObservabilityServer {
			return observability.NewServer(addr, opts...)
		}
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = net.Listen
	}
	if out.LogWriter == nil {
		out.LogWriter = os.Stderr
	}
	return &out
}

// openCache opens the configured cache driver.
func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	if cfg.Driver == config.CacheDriverRedis {
		return cache.NewRedisStore(ctx, cache.RedisOptions{
			URL:       cfg.RedisURL,
			DB:        -1,
			PoolSize:  cfg.PoolSize,
			OpTimeout: cfg.OpTimeout,
		})
	}
	return cache.NewMemoryStore(cfg.MemorySize), nil
}
