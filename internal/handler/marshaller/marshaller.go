package marshaller

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/pkg/protocol"
)

// replayer is implemented by events that answer a repeated mutation.
type replayer interface {
	Replayed() bool
}

// frame is the cached, recipient-independent encoding of one event.
type frame struct {
	event protocol.Event
	bytes []byte
}

// ToEvent maps a domain event onto its wire form as seen by connection
// connID. The idempotency key is kept only for the originating connection.
func ToEvent(ev event.Eventer, connID uuid.UUID) (protocol.Event, error) {
	f, err := shared(ev)
	if err != nil {
		return protocol.Event{}, err
	}
	out := f.event
	if isOrigin(ev, connID) {
		out.IdempotencyKey = ev.GetIdempotencyKey()
		if r, ok := ev.(replayer); ok {
			out.Replayed = r.Replayed()
		}
	}
	return out, nil
}

// Marshal encodes ev for connID. Every recipient except the origin shares
// one encoding, computed once per event.
func Marshal(ev event.Eventer, connID uuid.UUID) ([]byte, error) {
	f, err := shared(ev)
	if err != nil {
		return nil, err
	}
	if !isOrigin(ev, connID) {
		return f.bytes, nil
	}
	out, err := ToEvent(ev, connID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// MarshalBatch encodes events for the long-poll transport.
func MarshalBatch(events []event.Eventer, connID uuid.UUID) ([]byte, error) {
	batch := protocol.Batch{Events: make([]protocol.Event, 0, len(events))}
	for _, ev := range events {
		out, err := ToEvent(ev, connID)
		if err != nil {
			return nil, err
		}
		batch.Events = append(batch.Events, out)
	}
	return json.Marshal(batch)
}

func isOrigin(ev event.Eventer, connID uuid.UUID) bool {
	return ev.GetIdempotencyKey() != "" && connID != uuid.Nil && ev.GetOriginConnID() == connID
}

func shared(ev event.Eventer) (*frame, error) {
	// Return the cached encoding if a previous recipient computed it.
	if cached, ok := ev.GetCached().(*frame); ok {
		return cached, nil
	}

	payload, err := json.Marshal(mapPayload(ev.GetPayload()))
	if err != nil {
		return nil, err
	}
	f := &frame{event: protocol.Event{
		ID:         ev.GetID(),
		Kind:       protocol.Kind(ev.GetKind()),
		RoomID:     ev.GetRoomID(),
		Seq:        ev.GetSeq(),
		ActorID:    actorOf(ev),
		OccurredAt: ev.GetOccurredAt(),
		Payload:    payload,
	}}
	if f.bytes, err = json.Marshal(f.event); err != nil {
		return nil, err
	}

	ev.SetCached(f)
	return f, nil
}

func actorOf(ev event.Eventer) string {
	if c, ok := ev.(*event.Canonical); ok {
		return c.ActorID
	}
	return ""
}
