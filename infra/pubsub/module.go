package pubsub

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/loopfund/community-live/config"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		func(logger *slog.Logger) watermill.LoggerAdapter {
			return watermill.NewSlogLogger(logger.With("component", "watermill"))
		},
		func(cfg *config.Config, wl watermill.LoggerAdapter, logger *slog.Logger) Provider {
			if !cfg.Broker.Enabled {
				logger.Info("BROKER_DISABLED: using in-process pub/sub")
				return NewChannelProvider(wl)
			}
			return NewAMQPProvider(cfg.Broker.AMQPURI, wl)
		},
		NewRouter,
	),
	fx.Invoke(func(lc fx.Lifecycle, p Provider) {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return p.Close() },
		})
	}),
)

// NewRouter builds the watermill router and ties it to the app lifecycle.
// Handlers are registered by the consumers before the app starts.
func NewRouter(lc fx.Lifecycle, wl watermill.LoggerAdapter, logger *slog.Logger) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 15 * time.Second}, wl)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				// [BACKGROUND_RUN] Run blocks until the router is closed.
				if err := router.Run(context.Background()); err != nil {
					logger.Error("ROUTER_STOPPED", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			return router.Close()
		},
	})
	return router, nil
}
