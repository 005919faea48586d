package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/model"
)

var (
	_ Eventer    = (*Canonical)(nil)
	_ Exportable = (*Canonical)(nil)
)

// Canonical is the single authoritative representation of a room state change.
//
// Seq is assigned by the gateway under the room lock. For ephemeral kinds it
// equals the room head at emission time and does not advance it.
type Canonical struct {
	ID             uuid.UUID      `json:"id"`
	Kind           EventKind      `json:"kind"`
	RoomID         string         `json:"room_id"`
	RoomKind       model.RoomKind `json:"room_kind"`
	Seq            uint64         `json:"seq"`
	ActorID        string         `json:"actor_id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	OriginConnID   uuid.UUID      `json:"-"`
	OccurredAt     int64          `json:"occurred_at"`
	Payload        any            `json:"payload"`

	replayed bool
	cache    wireCache
}

// NewCanonical builds an event stamped with the current time.
func NewCanonical(kind EventKind, room *model.Room, seq uint64, m model.Mutation, payload any) *Canonical {
	return &Canonical{
		ID:             uuid.New(),
		Kind:           kind,
		RoomID:         room.ID,
		RoomKind:       room.Kind,
		Seq:            seq,
		ActorID:        m.ActorID,
		IdempotencyKey: m.IdempotencyKey,
		OriginConnID:   m.OriginConnID,
		OccurredAt:     time.Now().UnixMilli(),
		Payload:        payload,
	}
}

func (e *Canonical) GetID() string              { return e.ID.String() }
func (e *Canonical) GetKind() EventKind         { return e.Kind }
func (e *Canonical) GetRoomID() string          { return e.RoomID }
func (e *Canonical) GetSeq() uint64             { return e.Seq }
func (e *Canonical) GetOccurredAt() int64       { return e.OccurredAt }
func (e *Canonical) GetPayload() any            { return e.Payload }
func (e *Canonical) GetIdempotencyKey() string  { return e.IdempotencyKey }
func (e *Canonical) GetOriginConnID() uuid.UUID { return e.OriginConnID }
func (e *Canonical) GetCached() any             { return e.cache.get() }
func (e *Canonical) SetCached(v any)            { e.cache.set(v) }

func (e *Canonical) GetPriority() EventPriority {
	if e.Kind.Sequenced() {
		return PriorityHigh
	}
	return PriorityLow
}

// Replayed reports whether this event is a cached answer to a repeated mutation.
func (e *Canonical) Replayed() bool { return e.replayed }

// Replay returns a copy flagged as a replay of e, addressed to origin.
func (e *Canonical) Replay(origin uuid.UUID) *Canonical {
	return &Canonical{
		ID:             e.ID,
		Kind:           e.Kind,
		RoomID:         e.RoomID,
		RoomKind:       e.RoomKind,
		Seq:            e.Seq,
		ActorID:        e.ActorID,
		IdempotencyKey: e.IdempotencyKey,
		OriginConnID:   origin,
		OccurredAt:     e.OccurredAt,
		Payload:        e.Payload,
		replayed:       true,
	}
}

// GetRoutingKey generates the bus topic.
// [PATTERN] community_live.v1.{room_kind}.{room_id}.{kind}
func (e *Canonical) GetRoutingKey() string {
	if !e.Kind.Sequenced() {
		return ""
	}
	return fmt.Sprintf("community_live.v1.%s.%s.%s", e.RoomKind, e.RoomID, e.Kind)
}
