package pubsub

import (
	"context"
	"log/slog"

	"github.com/loopfund/community-live/config"
	"github.com/loopfund/community-live/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pubsub-adapter",
	fx.Provide(
		NewPublisherProvider,
		NewSubscriberProvider,
		func(cfg *config.Config, pp *PublisherProvider) (EventDispatcher, error) {
			pub, err := pp.Build(cfg.Broker.EventsExchange)
			if err != nil {
				return nil, err
			}
			return NewEventDispatcher(pub, cfg.Service.NodeID), nil
		},
		func(lc fx.Lifecycle, cfg *config.Config, d EventDispatcher, logger *slog.Logger) service.Exporter {
			exp := NewAsyncExporter(d, cfg.Gateway.ExportQueue, logger.With("component", "exporter"))
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					exp.Start()
					return nil
				},
				OnStop: exp.Stop,
			})
			return exp
		},
	),
)
