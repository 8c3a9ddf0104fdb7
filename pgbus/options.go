package pgbus

import (
	"io"
	"log/slog"
	"time"
)

// options configures a Bus (internal only).
type options struct {
	leaseTTL          time.Duration
	heartbeatInterval time.Duration
	refreshInterval   time.Duration
	notifyTimeout     time.Duration
	inboxSize         int
	logger            *slog.Logger
}

// defaultOptions returns sensible defaults.
func defaultOptions() options {
	return options{
		leaseTTL:          10 * time.Second,
		heartbeatInterval: 3 * time.Second,
		refreshInterval:   time.Second,
		notifyTimeout:     5 * time.Second,
		inboxSize:         1024,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option is a functional option for configuring a Bus.
type Option func(*options)

// WithLeaseTTL sets how long a participant counts as live without a heartbeat.
// The heartbeat interval is set to a third of the TTL.
// DEFAULT: 10s
func WithLeaseTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.leaseTTL = ttl
		o.heartbeatInterval = ttl / 3
	}
}

// WithRefreshInterval sets how often the participant count is re-read.
// DEFAULT: 1s
func WithRefreshInterval(interval time.Duration) Option {
	return func(o *options) {
		o.refreshInterval = interval
	}
}

// WithNotifyTimeout bounds a single broadcast.
// DEFAULT: 5s
func WithNotifyTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.notifyTimeout = timeout
	}
}

// WithInboxSize sets how many received events may wait for the node.
// DEFAULT: 1024
func WithInboxSize(size int) Option {
	return func(o *options) {
		o.inboxSize = size
	}
}

// WithLogger sets the logger for the bus.
// If the logger is nil, the bus will use a no-op logger.
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
