// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/cache"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/events"
	"github.com/holomush/authcore/internal/httpapi"
	"github.com/holomush/authcore/internal/identity"
	identitypg "github.com/holomush/authcore/internal/identity/postgres"
	"github.com/holomush/authcore/internal/identity/provider"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/permission"
	permissionpg "github.com/holomush/authcore/internal/permission/postgres"
	authtls "github.com/holomush/authcore/internal/tls"
	"github.com/holomush/authcore/internal/token"
	"github.com/holomush/authcore/internal/verification"
	"github.com/holomush/authcore/internal/xdg"
	"github.com/holomush/authcore/pkg/errutil"
)

const serviceName = "authcore"

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the metrics/health server",
		Long: `Start the authentication API. Configuration comes from --config, the
flags below and the DATABASE_URL, REDIS_URL and AUTHCORE_JWT_SECRET
environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// components are the wired services behind the API.
type components struct {
	tokens     *token.Service
	assembler  *permission.Assembler
	writer     *permission.MenuWriter
	service    *auth.Service
	dispatcher *events.Dispatcher
}

// runServeWithDeps runs the service until ctx is cancelled or a server
// fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, deps.LogWriter)
	slog.SetDefault(logger)
	logger.Info("starting authcore",
		"http_addr", cfg.HTTP.Addr,
		"cache_driver", cfg.Cache.Driver,
		"providers", len(cfg.Providers))

	db, err := deps.DatabaseOpener(ctx, cfg.Database, logger)
	if err != nil {
		return oops.With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	sessions, err := deps.CacheOpener(ctx, cfg.Cache)
	if err != nil {
		return oops.With("operation", "open cache").Wrap(err)
	}
	defer func() {
		if cerr := sessions.Close(); cerr != nil {
			errutil.LogError(logger, "closing cache", cerr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr,
			observability.WithLogger(logger),
			observability.WithCheck("database", db.Ping),
			observability.WithCheck("cache", sessions.Ping))
		metrics = obsServer.Metrics()
	}

	c, err := buildComponents(ctx, cfg, db, sessions, metrics, logger)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.Options{
		Auth:        c.service,
		Tokens:      c.tokens,
		Permissions: c.assembler,
		Grants:      c.writer,
		Metrics:     metrics,
		Logger:      logger,
		CORSOrigins: cfg.HTTP.CORSOrigins,
	})
	httpServer := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	var tlsConfig *cryptotls.Config
	if cfg.HTTP.TLS.Enabled() {
		if tlsConfig, err = apiTLSConfig(cfg.HTTP.TLS); err != nil {
			return err
		}
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	if tlsConfig != nil {
		listener = cryptotls.NewListener(listener, tlsConfig)
	}

	httpErrs := make(chan error, 1)
	go func() {
		defer close(httpErrs)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrs <- serveErr
		}
	}()
	logger.Info("http api listening", "addr", listener.Addr().String(), "tls", tlsConfig != nil)

	if obsServer != nil {
		obsErrs, err := obsServer.Start()
		if err != nil {
			shutdownHTTP(httpServer, cfg.HTTP.ShutdownTimeout, logger)
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrs, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	cmd.Println("authcore started")

	var runErr error
	select {
	case err, ok := <-httpErrs:
		if ok && err != nil {
			runErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownHTTP(httpServer, cfg.HTTP.ShutdownTimeout, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			errutil.LogError(logger, "stopping observability server", err)
		}
	}
	if err := c.dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("event deliveries still pending at shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

// buildComponents wires repositories, caches and services.
func buildComponents(ctx context.Context, cfg config.Config, db Database, sessions cache.Store, metrics *observability.Metrics, logger *slog.Logger) (*components, error) {
	dispatcher, err := events.NewDispatcher(events.NewLogSink(logger), cfg.Events.DeliveryTimeout, logger,
		events.WithMaxInFlight(cfg.Events.MaxInFlight))
	if err != nil {
		return nil, err
	}

	providers, err := provider.NewRegistry(ctx, cfg.Providers)
	if err != nil {
		return nil, err
	}

	var sequence identity.HandleSequence = identitypg.NewHandleSequence(db)
	if cfg.Identity.HandleSequence == config.SequenceCache {
		sequence = identity.NewCacheSequence(sessions, identity.DefaultHandleBase)
	}

	accounts := identitypg.NewAccountRepository(db)
	hasher := identity.NewArgon2idHasher()
	resolver, err := identity.NewResolver(identity.ResolverDeps{
		Accounts: accounts,
		Bindings: identitypg.NewBindingRepository(db),
		Sequence: sequence,
		Hasher:   hasher,
		Unions:   providers,
		Events:   dispatcher,
		Logger:   logger,
	}, identity.ResolverConfig{
		DefaultAvatarURL: cfg.Identity.DefaultAvatarURL,
		RaceRetries:      cfg.Identity.RaceRetries,
	})
	if err != nil {
		return nil, err
	}

	grants := permissionpg.NewStore(db)
	assembler, err := permission.NewAssembler(grants, sessions,
		permission.WithSnapshotTTL(cfg.Permission.SnapshotTTL),
		permission.WithLogger(logger),
		permission.WithRecorder(metrics))
	if err != nil {
		return nil, err
	}
	writer, err := permission.NewMenuWriter(grants, assembler)
	if err != nil {
		return nil, err
	}

	principals, err := auth.NewPrincipalLoader(accounts, assembler)
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewService(sessions, token.Config{
		Secret:     []byte(cfg.Token.Secret),
		Issuer:     cfg.Token.Issuer,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
	}, token.WithInvalidator(assembler),
		token.WithPrincipalLoader(principals),
		token.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	gate, err := verification.NewGate(sessions,
		verification.WithTTL(cfg.Verification.CodeTTL),
		verification.WithLength(cfg.Verification.CodeLength),
		verification.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	service, err := auth.NewService(auth.Deps{
		Accounts:    accounts,
		Resolver:    resolver,
		Tokens:      tokens,
		Codes:       gate,
		Permissions: assembler,
		Providers:   providers,
		Store:       sessions,
		Hasher:      hasher,
		Notifier:    auth.NewLogNotifier(logger),
		Events:      dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	}, auth.Config{
		AuthRequestTTL:    cfg.Auth.AuthRequestTTL,
		LoginExchangeTTL:  cfg.Auth.LoginExchangeTTL,
		PasswordResetTTL:  cfg.Auth.PasswordResetTTL,
		RedirectAllowlist: cfg.Auth.RedirectAllowlist,
		DefaultRedirect:   cfg.Auth.DefaultRedirect,
	})
	if err != nil {
		return nil, err
	}

	return &components{
		tokens:     tokens,
		assembler:  assembler,
		writer:     writer,
		service:    service,
		dispatcher: dispatcher,
	}, nil
}

// apiTLSConfig loads the configured certificate, generating a development
// certificate under the XDG config directory when self-signed.
func apiTLSConfig(c config.TLSConfig) (*cryptotls.Config, error) {
	certFile, keyFile := c.CertFile, c.KeyFile
	if c.SelfSigned {
		dir, err := xdg.CertsDir()
		if err != nil {
			return nil, err
		}
		if err := xdg.EnsureDir(dir); err != nil {
			return nil, err
		}
		if certFile, keyFile, err = authtls.EnsureSelfSigned(dir, "api", c.Hosts); err != nil {
			return nil, err
		}
	}
	return authtls.ServerConfig(certFile, keyFile)
}

func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		errutil.LogError(logger, "stopping http api", err)
	}
}

// monitorServerErrors cancels ctx when a background server fails. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
