// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authcore configuration from built-in defaults, an
// optional YAML file and command-line flags, in that order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/identity/provider"
	"github.com/holomush/authcore/internal/store"
	"github.com/holomush/authcore/internal/token"
)

// Environment variables that override file and flag values for secrets and
// connection strings.
const (
	EnvDatabaseURL = "DATABASE_URL"
	EnvRedisURL    = "REDIS_URL"
	EnvJWTSecret   = "AUTHCORE_JWT_SECRET"
)

// Cache drivers.
const (
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
)

// Handle sequence backends.
const (
	SequencePostgres = "postgres"
	SequenceCache    = "cache"
)

// Config is the complete runtime configuration.
type Config struct {
	Log          LogConfig          `koanf:"log" json:"log"`
	HTTP         HTTPConfig         `koanf:"http" json:"http"`
	Metrics      MetricsConfig      `koanf:"metrics" json:"metrics"`
	Database     store.PoolConfig   `koanf:"database" json:"database"`
	Cache        CacheConfig        `koanf:"cache" json:"cache"`
	Token        TokenConfig        `koanf:"token" json:"token"`
	Verification VerificationConfig `koanf:"verification" json:"verification"`
	Permission   PermissionConfig   `koanf:"permission" json:"permission"`
	Identity     IdentityConfig     `koanf:"identity" json:"identity"`
	Auth         AuthConfig         `koanf:"auth" json:"auth"`
	Events       EventsConfig       `koanf:"events" json:"events"`
	Providers    []provider.Config  `koanf:"providers" json:"providers,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string `koanf:"format" json:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" json:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	// CORSOrigins enables CORS for the listed origins; wildcards such as
	// "https://*.example.com" are allowed.
	CORSOrigins []string  `koanf:"cors_origins" json:"cors_origins,omitempty"`
	TLS         TLSConfig `koanf:"tls" json:"tls"`
}

// TLSConfig enables HTTPS on the API listener. Either name a certificate
// and key, or set SelfSigned to generate a development certificate under
// the XDG config directory.
type TLSConfig struct {
	CertFile   string   `koanf:"cert_file" json:"cert_file,omitempty"`
	KeyFile    string   `koanf:"key_file" json:"key_file,omitempty"`
	SelfSigned bool     `koanf:"self_signed" json:"self_signed,omitempty"`
	Hosts      []string `koanf:"hosts" json:"hosts,omitempty"`
}

// Enabled reports whether the API serves HTTPS.
func (t TLSConfig) Enabled() bool {
	return t.SelfSigned || t.CertFile != ""
}

// MetricsConfig configures the metrics and health listener. An empty
// address disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr"`
}

// CacheConfig selects and tunes the session cache.
type CacheConfig struct {
	Driver     string        `koanf:"driver" json:"driver" jsonschema:"enum=memory,enum=redis"`
	RedisURL   string        `koanf:"redis_url" json:"redis_url,omitempty"`
	PoolSize   int           `koanf:"pool_size" json:"pool_size,omitempty"`
	MemorySize int           `koanf:"memory_size" json:"memory_size,omitempty"`
	OpTimeout  time.Duration `koanf:"op_timeout" json:"op_timeout"`
}

// TokenConfig configures access and refresh tokens.
type TokenConfig struct {
	Secret     string        `koanf:"secret" json:"secret,omitempty"`
	Issuer     string        `koanf:"issuer" json:"issuer"`
	AccessTTL  time.Duration `koanf:"access_ttl" json:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl" json:"refresh_ttl"`
}

// VerificationConfig configures one-time codes.
type VerificationConfig struct {
	CodeTTL    time.Duration `koanf:"code_ttl" json:"code_ttl"`
	CodeLength int           `koanf:"code_length" json:"code_length"`
}

// PermissionConfig configures the permission snapshot cache.
type PermissionConfig struct {
	SnapshotTTL time.Duration `koanf:"snapshot_ttl" json:"snapshot_ttl"`
}

// IdentityConfig configures account creation.
type IdentityConfig struct {
	DefaultAvatarURL string `koanf:"default_avatar_url" json:"default_avatar_url,omitempty"`
	HandleSequence   string `koanf:"handle_sequence" json:"handle_sequence" jsonschema:"enum=postgres,enum=cache"`
	RaceRetries      uint64 `koanf:"race_retries" json:"race_retries"`
}

// AuthConfig configures the login flows.
type AuthConfig struct {
	AuthRequestTTL   time.Duration `koanf:"auth_request_ttl" json:"auth_request_ttl"`
	LoginExchangeTTL time.Duration `koanf:"login_exchange_ttl" json:"login_exchange_ttl"`
	PasswordResetTTL time.Duration `koanf:"password_reset_ttl" json:"password_reset_ttl"`
	// RedirectAllowlist holds glob patterns for post-login redirect URIs.
	RedirectAllowlist []string `koanf:"redirect_allowlist" json:"redirect_allowlist,omitempty"`
	// DefaultRedirect receives the exchange code when a login request
	// names no redirect URI.
	DefaultRedirect string `koanf:"default_redirect" json:"default_redirect,omitempty"`
}

// EventsConfig configures event delivery.
type EventsConfig struct {
	DeliveryTimeout time.Duration `koanf:"delivery_timeout" json:"delivery_timeout"`
	MaxInFlight     int           `koanf:"max_in_flight" json:"max_in_flight"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Log:     LogConfig{Format: "json", Level: "info"},
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8080", ReadTimeout: 10 * time.Second, WriteTimeout: 15 * time.Second, ShutdownTimeout: 10 * time.Second},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: store.PoolConfig{
			ConnectAttempts: 5,
		},
		Cache: CacheConfig{Driver: CacheDriverMemory, MemorySize: 100_000, OpTimeout: 500 * time.Millisecond},
		Token: TokenConfig{
			Issuer:     token.DefaultIssuer,
			AccessTTL:  token.DefaultAccessTTL,
			RefreshTTL: token.DefaultRefreshTTL,
		},
		Verification: VerificationConfig{CodeTTL: 5 * time.Minute, CodeLength: 6},
		Permission:   PermissionConfig{SnapshotTTL: 30 * time.Minute},
		Identity:     IdentityConfig{HandleSequence: SequencePostgres, RaceRetries: 3},
		Auth: AuthConfig{
			AuthRequestTTL:   10 * time.Minute,
			LoginExchangeTTL: 5 * time.Minute,
			PasswordResetTTL: time.Hour,
		},
		Events: EventsConfig{DeliveryTimeout: 5 * time.Second, MaxInFlight: 256},
	}
}

// ApplyEnv overlays secrets and connection strings from the environment.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		c.Database.URL = v
	}
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		c.Cache.RedisURL = v
		if c.Cache.Driver == "" || c.Cache.Driver == CacheDriverMemory {
			c.Cache.Driver = CacheDriverRedis
		}
	}
	if v, ok := lookup(EnvJWTSecret); ok && v != "" {
		c.Token.Secret = v
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	fail := func(field, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("field", field).Errorf(format, args...)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fail("log.format", "log format must be json or text, got %q", c.Log.Format)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fail("log.level", "unknown log level %q", c.Log.Level)
	}
	if c.HTTP.Addr == "" {
		return fail("http.addr", "http address is required")
	}
	if (c.HTTP.TLS.CertFile == "") != (c.HTTP.TLS.KeyFile == "") {
		return fail("http.tls", "cert_file and key_file must be set together")
	}
	if c.HTTP.TLS.SelfSigned && c.HTTP.TLS.CertFile != "" {
		return fail("http.tls", "self_signed cannot be combined with cert_file")
	}
	if c.Database.URL == "" {
		return fail("database.url", "database url is required (set %s)", EnvDatabaseURL)
	}

	switch c.Cache.Driver {
	case CacheDriverMemory:
		if c.Cache.MemorySize <= 0 {
			return fail("cache.memory_size", "memory cache size must be positive")
		}
	case CacheDriverRedis:
		if c.Cache.RedisURL == "" {
			return fail("cache.redis_url", "redis url is required for the redis driver (set %s)", EnvRedisURL)
		}
	default:
		return fail("cache.driver", "unknown cache driver %q", c.Cache.Driver)
	}

	if c.Token.Secret == "" {
		return fail("token.secret", "jwt secret is required (set %s)", EnvJWTSecret)
	}
	if len(c.Token.Secret) < token.MinSecretLength {
		return fail("token.secret", "jwt secret must be at least %d bytes", token.MinSecretLength)
	}

	durations := map[string]time.Duration{
		"token.access_ttl":        c.Token.AccessTTL,
		"token.refresh_ttl":       c.Token.RefreshTTL,
		"verification.code_ttl":   c.Verification.CodeTTL,
		"permission.snapshot_ttl": c.Permission.SnapshotTTL,
		"auth.auth_request_ttl":   c.Auth.AuthRequestTTL,
		"auth.login_exchange_ttl": c.Auth.LoginExchangeTTL,
		"auth.password_reset_ttl": c.Auth.PasswordResetTTL,
		"cache.op_timeout":        c.Cache.OpTimeout,
		"events.delivery_timeout": c.Events.DeliveryTimeout,
		"http.shutdown_timeout":   c.HTTP.ShutdownTimeout,
	}
	for field, d := range durations {
		if d <= 0 {
			return fail(field, "%s must be positive", field)
		}
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return fail("token.refresh_ttl", "refresh ttl must exceed access ttl")
	}
	if c.Verification.CodeLength < 4 || c.Verification.CodeLength > 10 {
		return fail("verification.code_length", "code length must be between 4 and 10")
	}

	if c.Events.MaxInFlight <= 0 {
		return fail("events.max_in_flight", "max in-flight deliveries must be positive")
	}

	switch c.Identity.HandleSequence {
	case SequencePostgres, SequenceCache:
	default:
		return fail("identity.handle_sequence", "unknown handle sequence %q", c.Identity.HandleSequence)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		resolved, err := p.Resolve()
		if err != nil {
			return oops.With("field", "providers").With("index", i).Wrap(err)
		}
		if err := resolved.Validate(); err != nil {
			return oops.With("field", "providers").With("index", i).Wrap(err)
		}
		name := strings.ToLower(resolved.Name)
		if seen[name] {
			return fail("providers", "duplicate provider %q", name)
		}
		seen[name] = true
	}
	return nil
}
