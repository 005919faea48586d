package event

import (
	"sync"

	"github.com/google/uuid"
)

type EventKind string

const (
	Connected       EventKind = "connected"    // [SYSTEM]
	Disconnected    EventKind = "disconnected" // [SYSTEM]
	ResyncRequired  EventKind = "resync_required"
	RoomDeleted     EventKind = "room_deleted"
	PresenceChanged EventKind = "presence_changed"
	TypingState     EventKind = "typing_state"
	Snapshot        EventKind = "snapshot"
	Subscribed      EventKind = "subscribed"
	Unsubscribed    EventKind = "unsubscribed"
	Failure         EventKind = "error"

	MessageCreated EventKind = "message_created" // [BUSINESS]
	MessageEdited  EventKind = "message_edited"
	MessageDeleted EventKind = "message_deleted"
	PostCreated    EventKind = "post_created"
	LikeToggled    EventKind = "like_toggled"
	CommentAdded   EventKind = "comment_added"
	ViewRecorded   EventKind = "view_recorded"
)

func (k EventKind) String() string { return string(k) }

// Sequenced reports whether events of this kind advance the room sequence and
// take part in gap detection.
func (k EventKind) Sequenced() bool {
	switch k {
	case MessageCreated, MessageEdited, MessageDeleted, PostCreated,
		LikeToggled, CommentAdded, ViewRecorded:
		return true
	}
	return false
}

type EventPriority int32

const (
	PriorityLow    EventPriority = 10
	PriorityNormal EventPriority = 20
	PriorityHigh   EventPriority = 30
)

// Eventer defines the contract for all data packets flowing through the Hub.
type Eventer interface {
	GetID() string
	GetKind() EventKind
	GetRoomID() string
	GetSeq() uint64
	GetPriority() EventPriority
	GetOccurredAt() int64
	GetPayload() any
	// GetIdempotencyKey is echoed only to the connection that originated the mutation.
	GetIdempotencyKey() string
	GetOriginConnID() uuid.UUID
	GetCached() any
	SetCached(any)
}

// Exportable defines an event that should be re-published to the message bus.
type Exportable interface {
	// We return the key only if the event is ready to be exported.
	// If it returns an empty string, the binder will skip publishing.
	GetRoutingKey() string
}

// IsEphemeral reports whether ev may be dropped silently.
func IsEphemeral(ev Eventer) bool {
	k := ev.GetKind()
	return k == TypingState || k == PresenceChanged
}

// CarriesState reports whether losing ev leaves the client's view of its
// room stale.
func CarriesState(ev Eventer) bool {
	return ev.GetRoomID() != "" && (ev.GetKind().Sequenced() || ev.GetKind() == Snapshot)
}

// wireCache holds the transport encoding shared by every recipient.
type wireCache struct {
	mu sync.Mutex
	v  any
}

func (c *wireCache) get() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *wireCache) set(v any) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}
