package amqp

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/loopfund/community-live/internal/adapter/pubsub"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		NewMessageHandler,
	),

	fx.Invoke(func(h *MessageHandler, router *message.Router, sub *pubsub.SubscriberProvider) error {
		return h.RegisterHandlers(router, sub)
	}),
)
