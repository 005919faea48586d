package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/adapter/store/memory"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/domain/registry"
	"github.com/loopfund/community-live/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder collects emitted and exported events in order.
type recorder struct {
	mu       sync.Mutex
	emitted  []event.Eventer
	exported []*event.Canonical
}

var (
	_ registry.Emitter = (*recorder)(nil)
	_ service.Exporter = (*recorder)(nil)
)

func (r *recorder) Emit(ev event.Eventer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitted = append(r.emitted, ev)
}

func (r *recorder) Export(ev *event.Canonical) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exported = append(r.exported, ev)
}

func (r *recorder) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.emitted))
	for _, ev := range r.emitted {
		out = append(out, ev.GetSeq())
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.emitted)
}

// flakyStore fails the next n message writes.
type flakyStore struct {
	service.Store
	mu    sync.Mutex
	fails int
}

func (s *flakyStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return errFlaky
	}
	s.mu.Unlock()
	return s.Store.CreateMessage(ctx, msg)
}

type fixture struct {
	store *memory.Store
	rec   *recorder
	gw    *service.Gateway
}

func newFixture(t *testing.T, wrap func(service.Store) service.Store) *fixture {
	t.Helper()
	ctx := context.Background()

	st := memory.New()
	require.NoError(t, st.SaveRoom(ctx, &model.Room{ID: "chat", Kind: model.RoomGroupChat, Members: []string{"alice", "bob"}}))
	require.NoError(t, st.SaveRoom(ctx, &model.Room{ID: "feed", Kind: model.RoomPublicFeed}))

	var store service.Store = st
	if wrap != nil {
		store = wrap(st)
	}
	rec := &recorder{}
	gw := service.NewGateway(store, rec, rec, service.GatewayConfig{}, nil)
	return &fixture{store: st, rec: rec, gw: gw}
}

func send(room, actor, key, body string) model.Mutation {
	return model.Mutation{
		Kind:           model.MutationSendMessage,
		RoomID:         room,
		ActorID:        actor,
		IdempotencyKey: key,
		Payload:        model.MutationPayload{Body: body},
	}
}

func (f *fixture) head(t *testing.T, roomID string) uint64 {
	t.Helper()
	h, err := f.store.HeadSeq(context.Background(), roomID)
	require.NoError(t, err)
	return h
}

func TestGateway_SendMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	origin := uuid.New()

	m := send("chat", "alice", "k1", "  hello  ")
	m.OriginConnID = origin
	ev, err := f.gw.Apply(ctx, m)
	require.NoError(t, err)

	assert.Equal(t, event.MessageCreated, ev.Kind)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.Equal(t, "k1", ev.IdempotencyKey)
	assert.Equal(t, origin, ev.OriginConnID)
	assert.False(t, ev.Replayed())

	msg := ev.Payload.(*model.Message)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, model.MessageText, msg.Type)
	assert.Equal(t, "k1", msg.ClientKey)

	assert.Equal(t, []uint64{1}, f.rec.seqs())
	assert.Len(t, f.rec.exported, 1)
	assert.Equal(t, uint64(1), f.head(t, "chat"))
}

func TestGateway_SequenceIsGapFreeUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			actor := "alice"
			if i%2 == 0 {
				actor = "bob"
			}
			_, err := f.gw.Apply(ctx, send("chat", actor, fmt.Sprintf("k%d", i), "hi"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	want := make([]uint64, n)
	for i := range want {
		want[i] = uint64(i + 1)
	}
	// Emission happens under the room lock, so the order is the seq order.
	assert.Equal(t, want, f.rec.seqs())
	assert.Equal(t, uint64(n), f.head(t, "chat"))
}

func TestGateway_Idempotency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.gw.Apply(ctx, send("chat", "alice", "dup", "hello"))
	require.NoError(t, err)

	retryConn := uuid.New()
	m := send("chat", "alice", "dup", "hello")
	m.OriginConnID = retryConn
	again, err := f.gw.Apply(ctx, m)
	require.NoError(t, err)

	assert.True(t, again.Replayed())
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.Seq, again.Seq)
	assert.Equal(t, retryConn, again.OriginConnID)
	assert.Equal(t, 1, f.rec.count())
	assert.Equal(t, uint64(1), f.head(t, "chat"))

	// Keys are scoped to the actor.
	other, err := f.gw.Apply(ctx, send("chat", "bob", "dup", "hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), other.Seq)
}

func TestGateway_Rejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		m    model.Mutation
		want error
	}{
		{name: "non member", m: send("chat", "mallory", "k", "hi"), want: model.ErrNotAuthorized},
		{name: "unknown room", m: send("nope", "alice", "k", "hi"), want: model.ErrRoomNotFound},
		{name: "empty body", m: send("chat", "alice", "k", "   "), want: model.ErrInvalidPayload},
		{name: "missing key", m: send("chat", "alice", "", "hi"), want: model.ErrInvalidPayload},
		{name: "missing actor", m: send("chat", "", "k", "hi"), want: model.ErrInvalidPayload},
		{name: "chat in feed", m: send("feed", "alice", "k", "hi"), want: model.ErrInvalidPayload},
		{
			name: "post in chat",
			m: model.Mutation{Kind: model.MutationCreatePost, RoomID: "chat", ActorID: "alice", IdempotencyKey: "k",
				Payload: model.MutationPayload{Content: "post"}},
			want: model.ErrInvalidPayload,
		},
		{
			name: "contribution without amount",
			m: model.Mutation{Kind: model.MutationSendMessage, RoomID: "chat", ActorID: "alice", IdempotencyKey: "k",
				Payload: model.MutationPayload{Type: model.MessageContribution, Body: "saved"}},
			want: model.ErrInvalidPayload,
		},
		{
			name: "system message from client",
			m: model.Mutation{Kind: model.MutationSendMessage, RoomID: "chat", ActorID: "alice", IdempotencyKey: "k",
				Payload: model.MutationPayload{Type: model.MessageSystem, Body: "x"}},
			want: model.ErrInvalidPayload,
		},
		{
			name: "edit unknown message",
			m: model.Mutation{Kind: model.MutationEditMessage, RoomID: "chat", ActorID: "alice", IdempotencyKey: "k",
				Payload: model.MutationPayload{MessageID: uuid.New(), Body: "x"}},
			want: model.ErrNotFound,
		},
		{
			name: "like unknown post",
			m: model.Mutation{Kind: model.MutationToggleLike, RoomID: "feed", ActorID: "alice", IdempotencyKey: "k",
				Payload: model.MutationPayload{Target: model.TargetRef{Kind: model.TargetPost, ID: uuid.New()}}},
			want: model.ErrNotFound,
		},
		{
			name: "unknown kind",
			m:    model.Mutation{Kind: "shout", RoomID: "chat", ActorID: "alice", IdempotencyKey: "k"},
			want: model.ErrInvalidPayload,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.gw.Apply(ctx, tt.m)
			require.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.rec.count())
			if tt.m.RoomID != "nope" {
				assert.Zero(t, f.head(t, tt.m.RoomID))
			}
		})
	}
}

func TestGateway_EditAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	created, err := f.gw.Apply(ctx, send("chat", "alice", "k1", "hello"))
	require.NoError(t, err)
	id := created.Payload.(*model.Message).ID

	edit := func(actor, key string) model.Mutation {
		return model.Mutation{Kind: model.MutationEditMessage, RoomID: "chat", ActorID: actor, IdempotencyKey: key,
			Payload: model.MutationPayload{MessageID: id, Body: "hello, world"}}
	}
	del := func(actor, key string) model.Mutation {
		return model.Mutation{Kind: model.MutationDeleteMessage, RoomID: "chat", ActorID: actor, IdempotencyKey: key,
			Payload: model.MutationPayload{MessageID: id}}
	}

	t.Run("only the author edits", func(t *testing.T) {
		_, err := f.gw.Apply(ctx, edit("bob", "k2"))
		assert.ErrorIs(t, err, model.ErrForbidden)
		assert.Equal(t, uint64(1), f.head(t, "chat"))
	})

	t.Run("edit keeps identity", func(t *testing.T) {
		ev, err := f.gw.Apply(ctx, edit("alice", "k3"))
		require.NoError(t, err)
		msg := ev.Payload.(*model.Message)
		assert.Equal(t, event.MessageEdited, ev.Kind)
		assert.Equal(t, id, msg.ID)
		assert.True(t, msg.Edited)
		assert.Equal(t, "hello, world", msg.Body)
		assert.Equal(t, uint64(2), ev.Seq)
	})

	t.Run("only the author deletes", func(t *testing.T) {
		_, err := f.gw.Apply(ctx, del("bob", "k4"))
		assert.ErrorIs(t, err, model.ErrForbidden)
	})

	t.Run("delete leaves a tombstone", func(t *testing.T) {
		ev, err := f.gw.Apply(ctx, del("alice", "k5"))
		require.NoError(t, err)
		msg := ev.Payload.(*model.Message)
		assert.Equal(t, event.MessageDeleted, ev.Kind)
		assert.True(t, msg.Deleted)
		assert.Equal(t, model.DeletedBody, msg.Body)

		stored, err := f.store.GetMessage(ctx, "chat", id)
		require.NoError(t, err)
		assert.True(t, stored.Deleted)
	})

	t.Run("deleted message cannot be edited", func(t *testing.T) {
		_, err := f.gw.Apply(ctx, edit("alice", "k6"))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestGateway_ToggleLike(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	post, err := f.gw.Apply(ctx, model.Mutation{Kind: model.MutationCreatePost, RoomID: "feed", ActorID: "alice",
		IdempotencyKey: "p1", Payload: model.MutationPayload{Title: " Week 1 ", Content: "Saved $20", Tags: []string{"wins", " "}}})
	require.NoError(t, err)
	p := post.Payload.(*model.Post)
	assert.Equal(t, "Week 1", p.Title)
	assert.Equal(t, []string{"wins"}, p.Tags)
	target := model.TargetRef{Kind: model.TargetPost, ID: p.ID}

	like := func(actor, key string) model.Mutation {
		return model.Mutation{Kind: model.MutationToggleLike, RoomID: "feed", ActorID: actor, IdempotencyKey: key,
			Payload: model.MutationPayload{Target: target}}
	}

	t.Run("concurrent likes from distinct users all count", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.gw.Apply(ctx, like(fmt.Sprintf("user-%d", i), "like"))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		eng, err := f.store.Engagement(ctx, "feed", []model.TargetRef{target})
		require.NoError(t, err)
		assert.Equal(t, 20, eng[0].Likes)
	})

	t.Run("second toggle unlikes", func(t *testing.T) {
		ev, err := f.gw.Apply(ctx, like("user-0", "unlike"))
		require.NoError(t, err)
		res := ev.Payload.(*model.LikeResult)
		assert.False(t, res.Liked)
		assert.Equal(t, 19, res.Likes)
	})

	t.Run("retry with the same key does not flip again", func(t *testing.T) {
		ev, err := f.gw.Apply(ctx, like("user-0", "unlike"))
		require.NoError(t, err)
		assert.True(t, ev.Replayed())
		assert.Equal(t, 19, ev.Payload.(*model.LikeResult).Likes)
	})
}

func TestGateway_CommentAndView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	created, err := f.gw.Apply(ctx, send("chat", "alice", "k1", "hello"))
	require.NoError(t, err)
	target := model.TargetRef{Kind: model.TargetMessage, ID: created.Payload.(*model.Message).ID}

	ev, err := f.gw.Apply(ctx, model.Mutation{Kind: model.MutationAddComment, RoomID: "chat", ActorID: "bob",
		IdempotencyKey: "c1", Payload: model.MutationPayload{Target: target, Body: "nice"}})
	require.NoError(t, err)
	cp := ev.Payload.(*model.CommentPayload)
	assert.Equal(t, 1, cp.Comments)
	assert.Equal(t, "nice", cp.Comment.Body)
	assert.Equal(t, uint64(2), ev.Seq)

	ev, err = f.gw.Apply(ctx, model.Mutation{Kind: model.MutationRecordView, RoomID: "chat", ActorID: "bob",
		IdempotencyKey: "v1", Payload: model.MutationPayload{Target: target}})
	require.NoError(t, err)
	assert.Equal(t, event.ViewRecorded, ev.Kind)
	assert.Equal(t, 1, ev.Payload.(*model.ViewPayload).Views)
	assert.Equal(t, uint64(3), ev.Seq)
}

func TestGateway_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyStore
	f := newFixture(t, func(s service.Store) service.Store {
		flaky = &flakyStore{Store: s, fails: 1}
		return flaky
	})

	_, err := f.gw.Apply(ctx, send("chat", "alice", "k1", "hello"))
	require.ErrorIs(t, err, model.ErrStoreUnavailable)
	assert.True(t, model.Retryable(err))
	assert.Zero(t, f.rec.count())
	assert.Zero(t, f.head(t, "chat"))

	// The retry lands on the next free seq, no gap.
	ev, err := f.gw.Apply(ctx, send("chat", "alice", "k1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq)
	assert.False(t, ev.Replayed())
}

// Two gateways over one store behave like two nodes. Each caches the head
// and learns about the other's writes only from the store.
func TestGateway_LaggingHeadIsReloaded(t *testing.T) {
	ctx := context.Background()

	t.Run("message", func(t *testing.T) {
		f := newFixture(t, nil)
		other := service.NewGateway(f.store, &recorder{}, nil, service.GatewayConfig{}, testLogger())

		_, err := f.gw.Apply(ctx, send("chat", "alice", "k1", "one"))
		require.NoError(t, err)
		_, err = other.Apply(ctx, send("chat", "bob", "k1", "two"))
		require.NoError(t, err)

		ev, err := f.gw.Apply(ctx, send("chat", "alice", "k2", "three"))
		require.NoError(t, err)
		assert.Equal(t, uint64(3), ev.Seq)
		assert.Equal(t, []uint64{1, 3}, f.rec.seqs())

		msgs, err := f.store.ListMessages(ctx, "chat", 0)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "three", msgs[2].Body)
	})

	t.Run("like after views on another node", func(t *testing.T) {
		f := newFixture(t, nil)
		otherRec := &recorder{}
		other := service.NewGateway(f.store, otherRec, nil, service.GatewayConfig{}, testLogger())

		created, err := f.gw.Apply(ctx, model.Mutation{Kind: model.MutationCreatePost, RoomID: "feed", ActorID: "alice",
			IdempotencyKey: "p1", Payload: model.MutationPayload{Content: "Saved $20"}})
		require.NoError(t, err)
		target := model.TargetRef{Kind: model.TargetPost, ID: created.Payload.(*model.Post).ID}

		for _, key := range []string{"v1", "v2"} {
			_, err := other.Apply(ctx, model.Mutation{Kind: model.MutationRecordView, RoomID: "feed", ActorID: "bob",
				IdempotencyKey: key, Payload: model.MutationPayload{Target: target}})
			require.NoError(t, err)
		}

		ev, err := f.gw.Apply(ctx, model.Mutation{Kind: model.MutationToggleLike, RoomID: "feed", ActorID: "carol",
			IdempotencyKey: "l1", Payload: model.MutationPayload{Target: target}})
		require.NoError(t, err)
		assert.Equal(t, uint64(4), ev.Seq)
		assert.Equal(t, &model.LikeResult{Target: target, Liked: true, Likes: 1}, ev.Payload)

		assert.Equal(t, []uint64{1, 4}, f.rec.seqs())
		assert.Equal(t, []uint64{2, 3}, otherRec.seqs())
		assert.Equal(t, uint64(4), f.head(t, "feed"))
		eng, err := f.store.Engagement(ctx, "feed", []model.TargetRef{target})
		require.NoError(t, err)
		assert.Equal(t, &model.Engagement{Target: target, Likes: 1, Views: 2, LikedBy: []string{"carol"}}, eng[0])
	})
}

func TestGateway_Typing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.gw.Apply(ctx, send("chat", "alice", "k1", "hello"))
	require.NoError(t, err)

	typing := func(on bool) model.Mutation {
		return model.Mutation{Kind: model.MutationTyping, RoomID: "chat", ActorID: "bob",
			Payload: model.MutationPayload{Typing: on}}
	}

	ev, err := f.gw.Apply(ctx, typing(true))
	require.NoError(t, err)
	assert.Equal(t, event.TypingState, ev.Kind)
	assert.Equal(t, uint64(1), ev.Seq, "typing carries the head")
	assert.Empty(t, ev.GetRoutingKey())

	_, err = f.gw.Apply(ctx, typing(true))
	assert.ErrorIs(t, err, service.ErrCoalesced)

	_, err = f.gw.Apply(ctx, typing(false))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), f.head(t, "chat"))
	assert.Len(t, f.rec.exported, 1)
	assert.Equal(t, 3, f.rec.count())
}

func TestGateway_Observe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.gw.Apply(ctx, send("chat", "alice", "k1", "hello"))
	require.NoError(t, err)

	room := &model.Room{ID: "chat", Kind: model.RoomGroupChat}
	stale := event.NewCanonical(event.MessageCreated, room, 1, model.Mutation{ActorID: "bob"}, &model.Message{})
	require.NoError(t, f.gw.Observe(ctx, stale))
	assert.Equal(t, 1, f.rec.count())

	fresh := event.NewCanonical(event.MessageCreated, room, 2, model.Mutation{ActorID: "bob"}, &model.Message{})
	require.NoError(t, f.gw.Observe(ctx, fresh))
	require.NoError(t, f.gw.Observe(ctx, fresh))
	assert.Equal(t, []uint64{1, 2}, f.rec.seqs())
	assert.Len(t, f.rec.exported, 1, "observed events are not re-exported")
}
