package amqp

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/loopfund/community-live/internal/adapter/pubsub"
	"github.com/loopfund/community-live/internal/service/dto"
	"github.com/loopfund/community-live/internal/service/mapper"
)

// [ON_CONTRIBUTION_RECORDED]
// Announces a recorded contribution in its group chat through the gateway.
// The contribution ID is the idempotency key, so redeliveries are replays.
func (h *MessageHandler) OnContributionRecordedV1(ctx context.Context, _ *message.Message, raw *dto.ContributionV1) error {
	m, err := mapper.ContributionToMutation(raw)
	if err != nil {
		return err
	}

	ev, err := h.applier.Apply(ctx, m)
	if err != nil {
		return fmt.Errorf("announce contribution %s: %w", raw.ContributionID, err)
	}

	h.logger.Debug("CONTRIBUTION_ANNOUNCED",
		"room_id", m.RoomID,
		"contribution_id", raw.ContributionID,
		"seq", ev.Seq,
		"replayed", ev.Replayed())
	return nil
}

// [ON_REMOTE_EVENT]
// Delivers events committed by peer nodes to this node's subscribers.
func (h *MessageHandler) OnRemoteEventV1(ctx context.Context, msg *message.Message, raw *dto.EventV1) error {
	// [SELF_FILTER] Our own events were delivered locally at commit time.
	if msg.Metadata.Get(pubsub.NodeIDMetadataKey) == h.nodeID {
		return nil
	}

	// [LOCALITY_FILTER] Nobody here is watching the room.
	if len(h.hub.SubscribersOf(raw.RoomID)) == 0 {
		return nil
	}

	ev, err := mapper.EventV1ToCanonical(raw)
	if err != nil {
		return err
	}
	if err := h.observer.Observe(ctx, ev); err != nil {
		return fmt.Errorf("observe %s#%d: %w", ev.RoomID, ev.Seq, err)
	}
	return nil
}
