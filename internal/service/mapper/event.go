package mapper

import (
	"fmt"

	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/service/dto"
)

// EventV1ToCanonical rebuilds an event exported by another node. The payload
// stays in its encoded form and is forwarded to clients as is.
func EventV1ToCanonical(raw *dto.EventV1) (*event.Canonical, error) {
	kind := event.EventKind(raw.Kind)
	if !kind.Sequenced() || raw.RoomID == "" || raw.Seq == 0 {
		return nil, fmt.Errorf("%w: not a sequenced room event", model.ErrInvalidPayload)
	}
	return &event.Canonical{
		ID:             raw.ID,
		Kind:           kind,
		RoomID:         raw.RoomID,
		RoomKind:       model.RoomKind(raw.RoomKind),
		Seq:            raw.Seq,
		ActorID:        raw.ActorID,
		IdempotencyKey: raw.IdempotencyKey,
		OccurredAt:     raw.OccurredAt,
		Payload:        raw.Payload,
	}, nil
}
