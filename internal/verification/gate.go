// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package verification issues and checks short-lived one-time codes that
// prove ownership of a phone number or mailbox.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/cache"
)

// Channel is the out-of-band medium a code travels over.
type Channel string

// Supported channels.
const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelEmail
}

// Code defaults.
const (
	DefaultCodeLength = 6
	DefaultCodeTTL    = 5 * time.Minute
)

// ErrVerificationFailed is returned by Require when the code does not match
// or no code is pending.
var ErrVerificationFailed = oops.Code("VERIFICATION_FAILED").Errorf("verification code is invalid or expired")

// Generator produces a numeric code of the given length.
type Generator func(length int) (string, error)

// RandomDigits is the default Generator, backed by crypto/rand.
func RandomDigits(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	ten := big.NewInt(10)
	for range length {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", oops.Code("VERIFICATION_GENERATE_FAILED").With("operation", "crypto/rand.Int").Wrap(err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// Gate stores one pending code per (channel, destination).
type Gate struct {
	store    cache.Store
	ttl      time.Duration
	length   int
	generate Generator
	logger   *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithTTL sets how long an issued code stays valid.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithLength sets the number of digits in a code.
func WithLength(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.length = n
		}
	}
}

// WithGenerator replaces the code generator.
func WithGenerator(gen Generator) Option {
	return func(g *Gate) {
		if gen != nil {
			g.generate = gen
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate creates a Gate over store.
func NewGate(store cache.Store, opts ...Option) (*Gate, error) {
	if store == nil {
		return nil, oops.Code("VERIFICATION_INVALID_CONFIG").Errorf("cache store is required")
	}
	g := &Gate{
		store:    store,
		ttl:      DefaultCodeTTL,
		length:   DefaultCodeLength,
		generate: RandomDigits,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NormalizeDestination canonicalises a destination so the same mailbox or
// number always maps to one key.
func NormalizeDestination(channel Channel, destination string) string {
	destination = strings.TrimSpace(destination)
	if channel == ChannelEmail {
		return strings.ToLower(destination)
	}
	return strings.ReplaceAll(destination, " ", "")
}

func (g *Gate) key(channel Channel, destination string) (string, error) {
	if !channel.Valid() {
		return "", oops.Code("VERIFICATION_CHANNEL_INVALID").With("channel", string(channel)).Errorf("unsupported channel")
	}
	destination = NormalizeDestination(channel, destination)
	if destination == "" {
		return "", oops.Code("VERIFICATION_DESTINATION_INVALID").Errorf("destination cannot be empty")
	}
	return cache.VerificationCodeKey(string(channel), destination), nil
}

// Issue generates a code for (channel, destination) and stores it,
// replacing any code still pending.
func (g *Gate) Issue(ctx context.Context, channel Channel, destination string) (string, error) {
	key, err := g.key(channel, destination)
	if err != nil {
		return "", err
	}

	code, err := g.generate(g.length)
	if err != nil {
		return "", err
	}

	if err := g.store.Set(ctx, key, code, g.ttl); err != nil {
		return "", oops.Code("CACHE_UNAVAILABLE").
			With("operation", "store verification code").
			With("channel", string(channel)).
			Wrap(err)
	}

	g.logger.DebugContext(ctx, "verification code issued", "channel", string(channel), "ttl", g.ttl)
	return code, nil
}

// Verify reports whether code matches the pending code for
// (channel, destination). A match consumes the code; a mismatch leaves it in
// place. A cache failure is returned as an error and never as a match.
func (g *Gate) Verify(ctx context.Context, channel Channel, destination, code string) (bool, error) {
	key, err := g.key(channel, destination)
	if err != nil {
		return false, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	ok, err := g.store.CompareAndDelete(ctx, key, code)
	if err != nil {
		return false, oops.Code("CACHE_UNAVAILABLE").
			With("operation", "verify code").
			With("channel", string(channel)).
			Wrap(err)
	}
	return ok, nil
}

// Require is Verify that turns a non-match into ErrVerificationFailed.
func (g *Gate) Require(ctx context.Context, channel Channel, destination, code string) error {
	ok, err := g.Verify(ctx, channel, destination, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVerificationFailed
	}
	return nil
}

// Clear drops any pending code for (channel, destination).
func (g *Gate) Clear(ctx context.Context, channel Channel, destination string) error {
	key, err := g.key(channel, destination)
	if err != nil {
		return err
	}
	if err := g.store.Delete(ctx, key); err != nil {
		return oops.Code("CACHE_UNAVAILABLE").With("operation", "clear code").Wrap(err)
	}
	return nil
}

// Pending reports whether a code is waiting for (channel, destination).
func (g *Gate) Pending(ctx context.Context, channel Channel, destination string) (bool, error) {
	key, err := g.key(channel, destination)
	if err != nil {
		return false, err
	}
	_, err = g.store.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, oops.Code("CACHE_UNAVAILABLE").With("operation", "check pending code").Wrap(err)
	}
	return true, nil
}
