package registry

import (
	"log/slog"
	"time"
)

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithEvictionInterval configures how often the [JANITOR] process runs
// to reclaim empty room cells. Zero disables the janitor.
func WithEvictionInterval(d time.Duration) Option {
	return func(h *Hub) {
		h.config.evictionInterval = d
	}
}

// WithIdleTimeout defines the [QUIET_PERIOD] after which a room cell
// without subscribers is eligible for eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.config.idleTimeout = d
	}
}

// WithOutboundBuffer sets the [BACKPRESSURE] threshold: the number of data
// events each connection may have queued before the oldest is shed.
func WithOutboundBuffer(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.config.outboundBuffer = size
		}
	}
}

// WithPresence mirrors online users into the given tracker.
func WithPresence(p PresenceTracker) Option {
	return func(h *Hub) {
		h.presence = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}
