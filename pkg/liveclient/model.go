// Package liveclient is the client side of the live protocol: a Model that
// renders optimistic mutations immediately and reconciles them with the
// authoritative event stream, and a websocket Session that drives it.
package liveclient

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loopfund/community-live/pkg/protocol"
)

// TempID identifies an optimistic entry until its canonical event arrives.
type TempID string

// Outcome describes what Reconcile did with an event.
type Outcome int

const (
	// OutcomeApplied: the event changed room state.
	OutcomeApplied Outcome = iota
	// OutcomeConfirmed: the event confirmed one of our optimistic entries,
	// which was replaced in place.
	OutcomeConfirmed
	// OutcomeIgnored: already reflected, or the room is not loaded.
	OutcomeIgnored
	// OutcomeResync: local state is stale; the room must be refetched.
	OutcomeResync
	// OutcomeRolledBack: the server rejected one of our mutations.
	OutcomeRolledBack
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeResync:
		return "resync"
	case OutcomeRolledBack:
		return "rolled_back"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is returned by Reconcile.
type Result struct {
	Outcome Outcome
	RoomID  string
	TempID  TempID
	Err     error
}

// ServerError is a mutation rejection reported by the hub.
type ServerError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *ServerError) Error() string { return e.Code + ": " + e.Message }

var ErrUnknownTempID = errors.New("unknown temp id")

// LocalMutation is a user action to render before the server confirms it.
// An empty IdempotencyKey is generated.
type LocalMutation struct {
	Kind           protocol.Kind
	RoomID         string
	IdempotencyKey string
	Payload        protocol.MutationPayload
}

type pending struct {
	key    string
	temp   TempID
	roomID string
	kind   protocol.Kind
	// likeKey is set for toggles; one toggle per target may be in flight.
	likeKey string
	undo    func(*roomState)

	// msg, post and comment keep the optimistic entity so it can be
	// rendered again on top of a snapshot.
	msg     *protocol.Message
	post    *protocol.Post
	comment *protocol.Comment
}

// Model holds the client view of every room. Safe for concurrent use.
type Model struct {
	mu     sync.Mutex
	userID string
	rooms  map[string]*roomState

	pending   map[string]*pending // by idempotency key
	byTemp    map[TempID]string
	likesBusy map[string]TempID
	now       func() time.Time
}

func NewModel(userID string) *Model {
	return &Model{
		userID:    userID,
		rooms:     make(map[string]*roomState),
		pending:   make(map[string]*pending),
		byTemp:    make(map[TempID]string),
		likesBusy: make(map[string]TempID),
		now:       time.Now,
	}
}

func (m *Model) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// SetUserID records the identity reported by the connected handshake.
func (m *Model) SetUserID(id string) {
	m.mu.Lock()
	m.userID = id
	m.mu.Unlock()
}

func (m *Model) room(id string) *roomState {
	r, ok := m.rooms[id]
	if !ok {
		r = newRoomState(id)
		m.rooms[id] = r
	}
	return r
}

// ApplyOptimistic renders lm immediately and returns its temporary ID. The
// bool reports whether the mutation must be sent; a toggle on a target whose
// previous toggle is still in flight is absorbed and not rendered again.
// A generated idempotency key is written back into lm.
func (m *Model) ApplyOptimistic(lm *LocalMutation) (TempID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lm.IdempotencyKey == "" {
		lm.IdempotencyKey = uuid.NewString()
	}
	if lm.Kind == protocol.Typing {
		return "", true
	}
	if p, ok := m.pending[lm.IdempotencyKey]; ok {
		// Resending a mutation still in flight renders nothing new.
		return p.temp, true
	}

	p := &pending{
		key:    lm.IdempotencyKey,
		temp:   TempID("tmp:" + lm.IdempotencyKey),
		roomID: lm.RoomID,
		kind:   lm.Kind,
	}
	if lm.Kind == protocol.ToggleLike && lm.Payload.Target != nil {
		p.likeKey = lm.RoomID + "|" + lm.Payload.Target.Key()
		if busy, ok := m.likesBusy[p.likeKey]; ok {
			return busy, false
		}
	}

	r := m.room(lm.RoomID)
	p.undo = m.render(r, p, lm)

	m.pending[p.key] = p
	m.byTemp[p.temp] = p.key
	if p.likeKey != "" {
		m.likesBusy[p.likeKey] = p.temp
	}
	return p.temp, true
}

// render applies the optimistic effect of lm and returns its inverse.
// Engagement effects are deltas on top of the server counters, so the
// inverse removes only what this mutation added.
func (m *Model) render(r *roomState, p *pending, lm *LocalMutation) func(*roomState) {
	pl := lm.Payload
	nowMs := m.now().UnixMilli()

	switch lm.Kind {
	case protocol.SendMessage:
		typ := pl.Type
		if typ == "" {
			typ = "text"
		}
		p.msg = &protocol.Message{
			ID:        string(p.temp),
			RoomID:    r.id,
			AuthorID:  m.userID,
			Type:      typ,
			Body:      pl.Body,
			Metadata:  pl.Metadata,
			CreatedAt: nowMs,
			ClientKey: p.key,
		}
		r.messages = append(r.messages, &messageEntry{msg: *p.msg, temp: p.temp, pending: true})
		return func(r *roomState) { r.removeMessage(p.temp) }

	case protocol.CreatePost:
		p.post = &protocol.Post{
			ID:        string(p.temp),
			RoomID:    r.id,
			AuthorID:  m.userID,
			Title:     pl.Title,
			Content:   pl.Content,
			Tags:      pl.Tags,
			CreatedAt: nowMs,
			ClientKey: p.key,
		}
		r.posts = append(r.posts, &postEntry{post: *p.post, temp: p.temp, pending: true})
		return func(r *roomState) { r.removePost(p.temp) }

	case protocol.EditMessage, protocol.DeleteMessage:
		e := r.messageByID(pl.MessageID)
		if e == nil {
			return func(*roomState) {}
		}
		prev, prevPending := e.msg, e.pending
		if lm.Kind == protocol.EditMessage {
			e.msg.Body = pl.Body
			e.msg.Edited = true
		} else {
			e.msg.Body = deletedBody
			e.msg.Deleted = true
			e.msg.Metadata = nil
		}
		e.msg.UpdatedAt = nowMs
		e.pending = true
		return func(r *roomState) {
			if e := r.messageByID(prev.ID); e != nil {
				e.msg, e.pending = prev, prevPending
			}
		}

	case protocol.ToggleLike:
		if pl.Target == nil {
			return func(*roomState) {}
		}
		target := *pl.Target
		r.eng(target).toggling = true
		return func(r *roomState) { r.eng(target).toggling = false }

	case protocol.AddComment:
		if pl.Target == nil {
			return func(*roomState) {}
		}
		target := *pl.Target
		p.comment = &protocol.Comment{
			ID:        string(p.temp),
			Target:    target,
			AuthorID:  m.userID,
			Body:      pl.Body,
			CreatedAt: nowMs,
			ClientKey: p.key,
		}
		renderComment(r, p)
		return func(r *roomState) {
			if r.commentByTemp(target.Key(), p.temp) == nil {
				return
			}
			r.removeComment(target.Key(), p.temp)
			e := r.eng(target)
			e.comments = max(e.comments-1, 0)
		}

	case protocol.RecordView:
		if pl.Target == nil {
			return func(*roomState) {}
		}
		target := *pl.Target
		r.eng(target).views++
		return func(r *roomState) {
			e := r.eng(target)
			e.views = max(e.views-1, 0)
		}
	}
	return func(*roomState) {}
}

func renderComment(r *roomState, p *pending) {
	key := p.comment.Target.Key()
	r.comments[key] = append(r.comments[key], &commentEntry{comment: *p.comment, temp: p.temp, pending: true})
	r.eng(p.comment.Target).comments++
}

// Rollback restores the state from before the optimistic mutation. cause is
// kept for the caller; the model only needs to undo.
func (m *Model) Rollback(id TempID, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byTemp[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTempID, id)
	}
	m.rollbackLocked(m.pending[key])
	return cause
}

func (m *Model) rollbackLocked(p *pending) {
	if r, ok := m.rooms[p.roomID]; ok {
		p.undo(r)
	}
	m.forget(p)
}

func (m *Model) forget(p *pending) {
	delete(m.pending, p.key)
	delete(m.byTemp, p.temp)
	if p.likeKey != "" && m.likesBusy[p.likeKey] == p.temp {
		delete(m.likesBusy, p.likeKey)
	}
}

// Reconcile merges one server event into the model.
func (m *Model) Reconcile(ev protocol.Event) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := Result{RoomID: ev.RoomID}

	switch ev.Kind {
	case protocol.Connected:
		var p protocol.ConnectedPayload
		if err := ev.Decode(&p); err == nil && p.UserID != "" {
			m.userID = p.UserID
		}
		res.Outcome = OutcomeApplied
		return res

	case protocol.SnapshotKind:
		var snap protocol.Snapshot
		if err := ev.Decode(&snap); err != nil {
			res.Outcome, res.Err = OutcomeResync, err
			m.markStale(ev.RoomID)
			return res
		}
		m.loadSnapshotLocked(snap)
		res.Outcome = OutcomeApplied
		return res

	case protocol.ResyncRequired:
		m.markStale(ev.RoomID)
		res.Outcome = OutcomeResync
		return res

	case protocol.RoomDeleted:
		m.dropRoom(ev.RoomID)
		res.Outcome = OutcomeApplied
		return res

	case protocol.Failure:
		return m.reconcileFailure(ev)

	case protocol.TypingState, protocol.PresenceChanged:
		return m.reconcileEphemeral(ev)
	}

	if !ev.Kind.Sequenced() {
		res.Outcome = OutcomeIgnored
		return res
	}

	r, ok := m.rooms[ev.RoomID]
	if !ok || !r.loaded {
		// Waiting for the subscription snapshot.
		res.Outcome = OutcomeIgnored
		return res
	}
	if ev.Seq <= r.seq {
		if own := m.pending[ev.IdempotencyKey]; ev.IdempotencyKey != "" && own != nil && own.roomID == r.id {
			// Replayed answer to a resent mutation. The event is already
			// reflected; only our optimistic entry is left to resolve.
			m.settleReflected(r, ev, own)
			m.forget(own)
			res.Outcome, res.TempID = OutcomeConfirmed, own.temp
			return res
		}
		res.Outcome = OutcomeIgnored
		return res
	}
	if r.stale {
		res.Outcome = OutcomeResync
		return res
	}
	if ev.Seq != r.seq+1 {
		// [GAP] Never apply across a hole.
		m.markStale(r.id)
		res.Outcome = OutcomeResync
		return res
	}

	var own *pending
	if ev.IdempotencyKey != "" {
		own = m.pending[ev.IdempotencyKey]
	}
	if err := m.applyEvent(r, ev, own); err != nil {
		m.markStale(r.id)
		res.Outcome, res.Err = OutcomeResync, err
		return res
	}
	r.seq = ev.Seq

	if own != nil {
		m.forget(own)
		res.Outcome, res.TempID = OutcomeConfirmed, own.temp
		return res
	}
	res.Outcome = OutcomeApplied
	return res
}

// applyEvent merges a sequenced event. own is the optimistic mutation it
// confirms, if any.
func (m *Model) applyEvent(r *roomState, ev protocol.Event, own *pending) error {
	switch ev.Kind {
	case protocol.MessageCreated:
		var msg protocol.Message
		if err := ev.Decode(&msg); err != nil {
			return err
		}
		if own != nil {
			if e := r.messageByTemp(own.temp); e != nil {
				// [IN_PLACE] Same slot, canonical content.
				e.msg, e.temp, e.pending = msg, "", false
				return nil
			}
		}
		r.upsertMessage(msg)

	case protocol.MessageEdited, protocol.MessageDeleted:
		var msg protocol.Message
		if err := ev.Decode(&msg); err != nil {
			return err
		}
		r.upsertMessage(msg)

	case protocol.PostCreated:
		var post protocol.Post
		if err := ev.Decode(&post); err != nil {
			return err
		}
		if own != nil {
			if e := r.postByTemp(own.temp); e != nil {
				e.post, e.temp, e.pending = post, "", false
				return nil
			}
		}
		r.upsertPost(post)

	case protocol.LikeToggled:
		var p protocol.LikePayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		e := r.eng(p.Target)
		e.eng.Likes = p.Likes
		if ev.ActorID == m.userID {
			e.mine = p.Liked
		}
		if own != nil {
			own.undo(r)
		}

	case protocol.CommentAdded:
		var p protocol.CommentPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		key := p.Comment.Target.Key()
		e := r.eng(p.Comment.Target)
		e.eng.Comments = p.Comments
		if own != nil {
			if c := r.commentByTemp(key, own.temp); c != nil {
				c.comment, c.temp, c.pending = p.Comment, "", false
				e.comments = max(e.comments-1, 0)
				return nil
			}
		}
		r.comments[key] = append(r.comments[key], &commentEntry{comment: p.Comment})

	case protocol.ViewRecorded:
		var p protocol.ViewPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		r.eng(p.Target).eng.Views = p.Views
		if own != nil {
			own.undo(r)
		}
	}
	return nil
}

// settleReflected resolves own against an event the room state already
// reflects. A created entity missing from the state takes the place of its
// optimistic entry; everything else is undone.
func (m *Model) settleReflected(r *roomState, ev protocol.Event, own *pending) {
	switch ev.Kind {
	case protocol.MessageCreated:
		var msg protocol.Message
		if ev.Decode(&msg) == nil && r.messageByID(msg.ID) == nil {
			if e := r.messageByTemp(own.temp); e != nil {
				e.msg, e.temp, e.pending = msg, "", false
				return
			}
		}
	case protocol.PostCreated:
		var post protocol.Post
		if ev.Decode(&post) == nil && r.postByID(post.ID) == nil {
			if e := r.postByTemp(own.temp); e != nil {
				e.post, e.temp, e.pending = post, "", false
				return
			}
		}
	case protocol.CommentAdded:
		var p protocol.CommentPayload
		if ev.Decode(&p) == nil {
			key := p.Comment.Target.Key()
			if c := r.commentByTemp(key, own.temp); c != nil && !r.hasComment(key, p.Comment.ID) {
				c.comment, c.temp, c.pending = p.Comment, "", false
				e := r.eng(p.Comment.Target)
				e.comments = max(e.comments-1, 0)
				return
			}
		}
	}
	own.undo(r)
}

func (m *Model) reconcileFailure(ev protocol.Event) Result {
	res := Result{RoomID: ev.RoomID, Outcome: OutcomeIgnored}

	var p protocol.ErrorPayload
	if err := ev.Decode(&p); err != nil {
		res.Err = err
		return res
	}
	res.Err = &ServerError{Code: p.Code, Message: p.Message, Retryable: p.Retryable}

	own, ok := m.pending[p.IdempotencyKey]
	if p.IdempotencyKey == "" || !ok {
		return res
	}
	m.rollbackLocked(own)
	res.Outcome, res.TempID = OutcomeRolledBack, own.temp
	return res
}

// reconcileEphemeral applies typing and presence signals. They carry no
// sequence of their own and never trigger a resync.
func (m *Model) reconcileEphemeral(ev protocol.Event) Result {
	res := Result{RoomID: ev.RoomID, Outcome: OutcomeIgnored}
	r, ok := m.rooms[ev.RoomID]
	if !ok || !r.loaded {
		return res
	}

	switch ev.Kind {
	case protocol.TypingState:
		var p protocol.TypingPayload
		if ev.Decode(&p) != nil || p.UserID == m.userID {
			return res
		}
		if p.Typing {
			r.typing[p.UserID] = struct{}{}
		} else {
			delete(r.typing, p.UserID)
		}
	case protocol.PresenceChanged:
		var p protocol.PresencePayload
		if ev.Decode(&p) != nil {
			return res
		}
		if p.Online {
			r.online[p.UserID] = struct{}{}
		} else {
			delete(r.online, p.UserID)
			delete(r.typing, p.UserID)
		}
	}
	res.Outcome = OutcomeApplied
	return res
}

// LoadSnapshot replaces the room state. Pending sends, posts and comments
// found in the snapshot by client key are resolved; the others stay
// rendered. Pending likes, views, edits and deletes are superseded by the
// snapshot.
func (m *Model) LoadSnapshot(snap protocol.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadSnapshotLocked(snap)
}

func (m *Model) loadSnapshotLocked(snap protocol.Snapshot) {
	r := newRoomState(snap.RoomID)
	r.kind = snap.Kind
	r.seq = snap.Seq
	r.loaded = true

	landed := make(map[string]struct{})
	for _, msg := range snap.Messages {
		r.messages = append(r.messages, &messageEntry{msg: msg})
		if msg.ClientKey != "" {
			landed[msg.ClientKey] = struct{}{}
		}
	}
	for _, post := range snap.Posts {
		r.posts = append(r.posts, &postEntry{post: post})
		if post.ClientKey != "" {
			landed[post.ClientKey] = struct{}{}
		}
	}
	for _, e := range snap.Engagement {
		r.engagement[e.Target.Key()] = &engagementEntry{eng: e, mine: slices.Contains(e.LikedBy, m.userID)}
	}
	for _, c := range snap.Comments {
		key := c.Target.Key()
		r.comments[key] = append(r.comments[key], &commentEntry{comment: c})
		if c.ClientKey != "" {
			landed[c.ClientKey] = struct{}{}
		}
	}
	for _, u := range snap.Online {
		r.online[u] = struct{}{}
	}
	m.rooms[snap.RoomID] = r

	for _, p := range m.pendingOf(snap.RoomID) {
		if _, ok := landed[p.key]; ok {
			m.forget(p)
			continue
		}
		switch p.kind {
		case protocol.SendMessage, protocol.CreatePost, protocol.AddComment:
			// Still in flight: render again on top of the fresh state.
			m.rerender(r, p)
		default:
			m.forget(p)
		}
	}
}

func (m *Model) rerender(r *roomState, p *pending) {
	switch {
	case p.msg != nil:
		r.messages = append(r.messages, &messageEntry{msg: *p.msg, temp: p.temp, pending: true})
	case p.post != nil:
		r.posts = append(r.posts, &postEntry{post: *p.post, temp: p.temp, pending: true})
	case p.comment != nil:
		renderComment(r, p)
	}
}

func (m *Model) pendingOf(roomID string) []*pending {
	var out []*pending
	for _, p := range m.pending {
		if p.roomID == roomID {
			out = append(out, p)
		}
	}
	return out
}

func (m *Model) markStale(roomID string) {
	if r, ok := m.rooms[roomID]; ok {
		r.stale = true
	}
}

func (m *Model) dropRoom(roomID string) {
	delete(m.rooms, roomID)
	for _, p := range m.pendingOf(roomID) {
		m.forget(p)
	}
}

// NeedsResync reports whether a resync request should be sent for roomID.
// It returns true once per stale period.
func (m *Model) NeedsResync(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok || !r.stale || r.resyncRequested {
		return false
	}
	r.resyncRequested = true
	return true
}

// PendingCount is the number of optimistic mutations awaiting an outcome.
func (m *Model) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

const deletedBody = "This message was deleted"
