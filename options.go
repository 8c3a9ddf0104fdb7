package idrange

import (
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRoundTimeout bounds how long a request round waits for responses.
const DefaultRoundTimeout = 50000 * time.Millisecond

// options configures a Session and the Node running it (internal only).
type options struct {
	roundTimeout    time.Duration
	tickInterval    time.Duration
	now             func() time.Time
	logger          *slog.Logger
	registerer      prometheus.Registerer
	allocateRetries uint64
	retryInterval   time.Duration
	store           AllocationStore
}

// defaultOptions returns sensible defaults.
func defaultOptions() options {
	return options{
		roundTimeout:  DefaultRoundTimeout,
		tickInterval:  100 * time.Millisecond,
		now:           time.Now,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		retryInterval: 250 * time.Millisecond,
	}
}

// Option is a functional option for configuring a Session or Node.
type Option func(*options)

// WithRoundTimeout sets how long a request round waits before proceeding
// with the responses it has.
// DEFAULT: 50s
func WithRoundTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.roundTimeout = timeout
	}
}

// WithTickInterval sets how often a Node checks its rounds for timeouts.
func WithTickInterval(interval time.Duration) Option {
	return func(o *options) {
		o.tickInterval = interval
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger for the session.
// If the logger is nil, the session will use a no-op logger.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}

// WithRegisterer registers the session metrics with a prometheus registry.
// DEFAULT: metrics are collected but not registered
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = registerer
	}
}

// WithAllocateRetries makes Node.Allocate re-issue a failed negotiation up
// to maxRetries more times, backing off exponentially from interval.
// DEFAULT: no retries
func WithAllocateRetries(maxRetries uint64, interval time.Duration) Option {
	return func(o *options) {
		o.allocateRetries = maxRetries
		o.retryInterval = interval
	}
}

// WithAllocationStore records every committed allocation of a Node.
func WithAllocationStore(store AllocationStore) Option {
	return func(o *options) {
		o.store = store
	}
}
