package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/loopfund/community-live/internal/domain/event"
)

// Metadata stamped on every exported event.
const (
	// NodeIDMetadataKey carries the ID of the node that committed the event.
	NodeIDMetadataKey = "node_id"
	RoomIDMetadataKey = "room_id"
	SeqMetadataKey    = "seq"
)

// EventDispatcher defines the high-level contract for outgoing events.
// This allows callers to stay agnostic of the transport implementation.
type EventDispatcher interface {
	Publish(ctx context.Context, ev event.Eventer) error
	Publisher() message.Publisher
}

// eventDispatcher is the concrete implementation (private).
type eventDispatcher struct {
	publisher message.Publisher
	nodeID    string
}

// NewEventDispatcher returns the interface instead of the pointer to the struct.
// nodeID stamps every message so the publishing node can skip its own events.
func NewEventDispatcher(pub message.Publisher, nodeID string) EventDispatcher {
	return &eventDispatcher{
		publisher: pub,
		nodeID:    nodeID,
	}
}

// Publish sends ev to the bus under its routing key. Events that are not
// exportable, or have no routing key, are skipped.
func (d *eventDispatcher) Publish(ctx context.Context, ev event.Eventer) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}
	exp, ok := ev.(event.Exportable)
	if !ok || exp.GetRoutingKey() == "" {
		return nil
	}
	topic := exp.GetRoutingKey()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_id", ev.GetID())
	msg.Metadata.Set("kind", ev.GetKind().String())
	msg.Metadata.Set(RoomIDMetadataKey, ev.GetRoomID())
	msg.Metadata.Set(SeqMetadataKey, strconv.FormatUint(ev.GetSeq(), 10))
	msg.Metadata.Set(NodeIDMetadataKey, d.nodeID)

	if err := d.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
