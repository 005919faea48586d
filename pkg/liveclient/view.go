package liveclient

import (
	"github.com/loopfund/community-live/pkg/protocol"
)

type MessageView struct {
	protocol.Message
	TempID  TempID
	Pending bool
}

type PostView struct {
	protocol.Post
	TempID  TempID
	Pending bool
}

type CommentView struct {
	protocol.Comment
	TempID  TempID
	Pending bool
}

type EngagementView struct {
	protocol.Engagement
	LikedByMe bool
}

// RoomView is a copy of one room's rendered state.
type RoomView struct {
	RoomID string
	Kind   string
	Seq    uint64
	Loaded bool
	Stale  bool

	Messages   []MessageView
	Posts      []PostView
	Engagement map[string]EngagementView // by target key
	Comments   map[string][]CommentView  // by target key
	Online     []string
	Typing     []string
}

// Room returns a copy of the room state.
func (m *Model) Room(roomID string) (RoomView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return RoomView{}, false
	}

	v := RoomView{
		RoomID:     r.id,
		Kind:       r.kind,
		Seq:        r.seq,
		Loaded:     r.loaded,
		Stale:      r.stale,
		Messages:   make([]MessageView, 0, len(r.messages)),
		Posts:      make([]PostView, 0, len(r.posts)),
		Engagement: make(map[string]EngagementView, len(r.engagement)),
		Comments:   make(map[string][]CommentView, len(r.comments)),
		Online:     sortedKeys(r.online),
		Typing:     sortedKeys(r.typing),
	}
	for _, e := range r.messages {
		v.Messages = append(v.Messages, MessageView{Message: e.msg, TempID: e.temp, Pending: e.pending})
	}
	for _, e := range r.posts {
		v.Posts = append(v.Posts, PostView{Post: e.post, TempID: e.temp, Pending: e.pending})
	}
	for k, e := range r.engagement {
		eng, mine := e.display()
		v.Engagement[k] = EngagementView{Engagement: eng, LikedByMe: mine}
	}
	for k, list := range r.comments {
		out := make([]CommentView, 0, len(list))
		for _, c := range list {
			out = append(out, CommentView{Comment: c.comment, TempID: c.temp, Pending: c.pending})
		}
		v.Comments[k] = out
	}
	return v, true
}
