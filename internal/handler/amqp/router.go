package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/loopfund/community-live/config"
	"github.com/loopfund/community-live/internal/adapter/pubsub"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/registry"
	"github.com/loopfund/community-live/internal/service"
)

const (
	// ------------------- TOPICS (ROUTING KEYS) -----------------
	TopicRoomEvents = "community_live.v1.#"

	// ------------------- QUEUES (CONSUMERS) --------------------
	ContributionQueueSuffix = "contributions.v1"
	PeerEventsQueueSuffix   = "peer-events.v1"
	PoisonTopic             = "community_live.poison.v1"
)

// Observer accepts events committed elsewhere for local delivery.
type Observer interface {
	Observe(ctx context.Context, ev *event.Canonical) error
}

type MessageHandler struct {
	hub        registry.Hubber
	logger     *slog.Logger
	applier    service.Applier
	observer   Observer
	dispatcher pubsub.EventDispatcher
	broker     config.BrokerConfig
	nodeID     string
}

func NewMessageHandler(cfg *config.Config, hub registry.Hubber, applier service.Applier, gateway *service.Gateway, dispatcher pubsub.EventDispatcher, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		hub:        hub,
		logger:     logger,
		applier:    applier,
		observer:   gateway,
		dispatcher: dispatcher,
		broker:     cfg.Broker,
		nodeID:     cfg.Service.NodeID,
	}
}

// [REGISTRATION_PIPELINE]
func (h *MessageHandler) RegisterHandlers(router *message.Router, subProvider *pubsub.SubscriberProvider) error {
	if !h.broker.Enabled {
		h.logger.Info("AMQP_PIPELINE_DISABLED")
		return nil
	}

	poison, err := middleware.PoisonQueue(h.dispatcher.Publisher(), PoisonTopic)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name     string
		exchange string
		topic    string
		queue    string
		durable  bool
		handler  message.NoPublishHandlerFunc
	}{
		// [SHARED_QUEUE] Every node competes for contributions; each is applied once.
		{
			name:     "ON_CONTRIBUTION_RECORDED",
			exchange: h.broker.SavingsExchange,
			topic:    h.broker.ContributionTopic,
			queue:    fmt.Sprintf("%s.%s", h.broker.QueuePrefix, ContributionQueueSuffix),
			durable:  true,
			handler:  Bind(h, h.OnContributionRecordedV1),
		},
		// [UNIQUE_HANDLER_QUEUE] Each node sees every peer event.
		// Format: community-live.peer-events.v1.{node_id}
		{
			name:     "ON_PEER_EVENT",
			exchange: h.broker.EventsExchange,
			topic:    TopicRoomEvents,
			queue:    fmt.Sprintf("%s.%s.%s", h.broker.QueuePrefix, PeerEventsQueueSuffix, h.nodeID),
			durable:  false,
			handler:  Bind(h, h.OnRemoteEventV1),
		},
	}

	for _, c := range configs {
		sub, err := subProvider.Build(c.queue, c.exchange, c.durable)
		if err != nil {
			return err
		}

		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TracingMiddleware,
			LoggingMiddleware(h.logger),
			NewRetryMiddleware(h.logger).Middleware,
			poison,
			middleware.NewThrottle(h.broker.ThrottlePerSecond, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	h.logger.Info("AMQP_PIPELINE_READY", "node_id", h.nodeID, "handlers", len(configs))
	return nil
}
