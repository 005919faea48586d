package model

import (
	"slices"
	"time"
)

// RoomKind scopes subscription, access control and allowed mutations.
type RoomKind string

const (
	RoomGroupChat  RoomKind = "group_chat"
	RoomPublicFeed RoomKind = "public_feed"
	RoomChallenge  RoomKind = "challenge"
)

// Valid reports whether k is one of the known room kinds.
func (k RoomKind) Valid() bool {
	switch k {
	case RoomGroupChat, RoomPublicFeed, RoomChallenge:
		return true
	}
	return false
}

// [ROOM] A chat group, challenge or feed scope. Sequencing is per room.
type Room struct {
	ID        string    `json:"id"`
	Kind      RoomKind  `json:"kind"`
	Members   []string  `json:"members,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IsOpen reports whether any verified user may subscribe without membership.
func (r *Room) IsOpen() bool {
	return r.Kind == RoomPublicFeed
}

// HasMember checks the static member set carried by the room.
func (r *Room) HasMember(userID string) bool {
	return slices.Contains(r.Members, userID)
}

// AllowsChat reports whether chat messages may be sent into the room.
func (r *Room) AllowsChat() bool {
	return r.Kind == RoomGroupChat || r.Kind == RoomChallenge
}

// AllowsPosts reports whether feed posts may be created in the room.
func (r *Room) AllowsPosts() bool {
	return r.Kind == RoomPublicFeed
}
