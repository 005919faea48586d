package liveclient

import (
	"slices"

	"github.com/loopfund/community-live/pkg/protocol"
)

type messageEntry struct {
	msg     protocol.Message
	temp    TempID
	pending bool
}

type postEntry struct {
	post    protocol.Post
	temp    TempID
	pending bool
}

// engagementEntry keeps the last authoritative counters apart from the
// effects of our own mutations still in flight. Server events replace the
// base; rollbacks and confirmations remove only their own delta.
type engagementEntry struct {
	eng  protocol.Engagement
	mine bool

	toggling bool // one like toggle of ours is in flight
	comments int
	views    int
}

// display is the engagement as rendered: base plus pending deltas.
func (e *engagementEntry) display() (protocol.Engagement, bool) {
	out, mine := e.eng, e.mine
	if e.toggling {
		if mine {
			out.Likes = max(out.Likes-1, 0)
		} else {
			out.Likes++
		}
		mine = !mine
	}
	out.Comments += e.comments
	out.Views += e.views
	return out, mine
}

type commentEntry struct {
	comment protocol.Comment
	temp    TempID
	pending bool
}

// roomState is the rendered state of one room. seq is the last applied
// sequence number.
type roomState struct {
	id   string
	kind string
	seq  uint64

	loaded          bool
	stale           bool
	resyncRequested bool

	messages   []*messageEntry
	posts      []*postEntry
	engagement map[string]*engagementEntry
	comments   map[string][]*commentEntry
	online     map[string]struct{}
	typing     map[string]struct{}
}

func newRoomState(id string) *roomState {
	return &roomState{
		id:         id,
		engagement: make(map[string]*engagementEntry),
		comments:   make(map[string][]*commentEntry),
		online:     make(map[string]struct{}),
		typing:     make(map[string]struct{}),
	}
}

func (r *roomState) messageByID(id string) *messageEntry {
	for _, e := range r.messages {
		if e.msg.ID == id {
			return e
		}
	}
	return nil
}

func (r *roomState) messageByTemp(t TempID) *messageEntry {
	for _, e := range r.messages {
		if e.temp == t {
			return e
		}
	}
	return nil
}

func (r *roomState) removeMessage(t TempID) {
	r.messages = slices.DeleteFunc(r.messages, func(e *messageEntry) bool { return e.temp == t })
}

func (r *roomState) postByID(id string) *postEntry {
	for _, e := range r.posts {
		if e.post.ID == id {
			return e
		}
	}
	return nil
}

func (r *roomState) postByTemp(t TempID) *postEntry {
	for _, e := range r.posts {
		if e.temp == t {
			return e
		}
	}
	return nil
}

func (r *roomState) removePost(t TempID) {
	r.posts = slices.DeleteFunc(r.posts, func(e *postEntry) bool { return e.temp == t })
}

// eng returns the engagement entry for target, creating an empty one.
func (r *roomState) eng(t protocol.Target) *engagementEntry {
	key := t.Key()
	e, ok := r.engagement[key]
	if !ok {
		e = &engagementEntry{eng: protocol.Engagement{Target: t}}
		r.engagement[key] = e
	}
	return e
}

func (r *roomState) commentByTemp(target string, t TempID) *commentEntry {
	for _, e := range r.comments[target] {
		if e.temp == t {
			return e
		}
	}
	return nil
}

func (r *roomState) hasComment(target, id string) bool {
	return slices.ContainsFunc(r.comments[target], func(e *commentEntry) bool { return e.comment.ID == id })
}

func (r *roomState) removeComment(target string, t TempID) {
	r.comments[target] = slices.DeleteFunc(r.comments[target], func(e *commentEntry) bool { return e.temp == t })
}

// upsertMessage replaces the message with the same ID in place, or appends it.
func (r *roomState) upsertMessage(m protocol.Message) {
	if e := r.messageByID(m.ID); e != nil {
		e.msg, e.pending = m, false
		return
	}
	r.messages = append(r.messages, &messageEntry{msg: m})
}

func (r *roomState) upsertPost(p protocol.Post) {
	if e := r.postByID(p.ID); e != nil {
		e.post, e.pending = p, false
		return
	}
	r.posts = append(r.posts, &postEntry{post: p})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
