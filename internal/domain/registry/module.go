package registry

import (
	"context"
	"log/slog"

	"github.com/loopfund/community-live/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(cfg *config.Config, membership Membership, presence PresenceTracker, logger *slog.Logger) *Hub {
			return NewHub(membership,
				WithEvictionInterval(cfg.Hub.EvictionInterval),
				WithIdleTimeout(cfg.Hub.IdleTimeout),
				WithOutboundBuffer(cfg.Hub.OutboundBuffer),
				WithPresence(presence),
				WithLogger(logger.With("component", "hub")),
			)
		},
		fx.Annotate(
			func(h *Hub) *Hub { return h },
			fx.As(new(Hubber)),
		),
		func(h *Hub, logger *slog.Logger) *Broadcaster {
			return NewBroadcaster(h, logger.With("component", "fanout"))
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown() // [GRACEFUL_SHUTDOWN] Close every live connection
				return nil
			},
		})
	}),
)
