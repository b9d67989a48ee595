// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package events

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"

	"github.com/holomush/authcore/pkg/errutil"
)

// Dispatcher defaults.
const (
	DefaultDeliveryTimeout = 5 * time.Second
	DefaultMaxInFlight     = 256
)

// Dispatcher publishes events on background goroutines. Publish never blocks
// on the sink; delivery failures and panics are logged and dropped. At most
// maxInFlight deliveries run at once; events published past that are dropped.
type Dispatcher struct {
	sink     Sink
	timeout  time.Duration
	logger   *slog.Logger
	inFlight *semaphore.Weighted
	wg       sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxInFlight caps concurrent deliveries. Non-positive values keep
// DefaultMaxInFlight.
func WithMaxInFlight(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.inFlight = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewDispatcher creates a Dispatcher. A non-positive timeout uses
// DefaultDeliveryTimeout and a nil logger uses slog.Default().
func NewDispatcher(sink Sink, timeout time.Duration, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	if sink == nil {
		return nil, oops.Code("EVENTS_INVALID_CONFIG").Errorf("event sink is required")
	}
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:     sink,
		timeout:  timeout,
		logger:   logger,
		inFlight: semaphore.NewWeighted(DefaultMaxInFlight),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Publish hands e to the sink asynchronously. The caller's cancellation does
// not abort delivery; the delivery timeout does. When the in-flight limit is
// reached the event is logged and dropped.
func (d *Dispatcher) Publish(ctx context.Context, e Event) {
	if !d.inFlight.TryAcquire(1) {
		d.logger.WarnContext(ctx, "dropping auth event, too many deliveries in flight",
			"kind", string(e.Kind),
			"event_id", e.ID.String())
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inFlight.Release(1)

		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				d.logger.ErrorContext(deliverCtx, "panic delivering auth event",
					"kind", string(e.Kind),
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
		}()

		if err := d.sink.Deliver(deliverCtx, e); err != nil {
			errutil.LogErrorContext(deliverCtx, d.logger, "auth event delivery failed",
				oops.With("kind", string(e.Kind)).With("event_id", e.ID.String()).Wrap(err))
		}
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.With("operation", "wait for event deliveries").Wrap(ctx.Err())
	}
}
