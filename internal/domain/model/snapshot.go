package model

// Snapshot is the full state of a room at head sequence Seq.
// Events with seq <= Seq are already reflected in it.
type Snapshot struct {
	RoomID     string        `json:"room_id"`
	Kind       RoomKind      `json:"kind"`
	Seq        uint64        `json:"seq"`
	Messages   []*Message    `json:"messages,omitempty"`
	Posts      []*Post       `json:"posts,omitempty"`
	Engagement []*Engagement `json:"engagement,omitempty"`
	Comments   []*Comment    `json:"comments,omitempty"`
	Online     []string      `json:"online,omitempty"`
}
