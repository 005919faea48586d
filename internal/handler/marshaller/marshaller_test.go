package marshaller

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func created(origin uuid.UUID) *event.Canonical {
	room := &model.Room{ID: "r1", Kind: model.RoomGroupChat}
	msg := &model.Message{ID: uuid.New(), RoomID: "r1", AuthorID: "alice", Type: model.MessageText, Body: "hello", Seq: 1, ClientKey: "k1"}
	return event.NewCanonical(event.MessageCreated, room, 1, model.Mutation{
		ActorID:        "alice",
		IdempotencyKey: "k1",
		OriginConnID:   origin,
	}, msg)
}

func decode(t *testing.T, raw []byte) protocol.Event {
	t.Helper()
	var ev protocol.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func TestMarshal_IdempotencyKeyOnlyForOrigin(t *testing.T) {
	origin, other := uuid.New(), uuid.New()
	ev := created(origin)

	toOrigin, err := Marshal(ev, origin)
	require.NoError(t, err)
	toOther, err := Marshal(ev, other)
	require.NoError(t, err)
	toNobody, err := Marshal(ev, uuid.Nil)
	require.NoError(t, err)

	o := decode(t, toOrigin)
	assert.Equal(t, "k1", o.IdempotencyKey)
	assert.Equal(t, protocol.MessageCreated, o.Kind)
	assert.Equal(t, uint64(1), o.Seq)
	assert.Equal(t, "alice", o.ActorID)

	var msg protocol.Message
	require.NoError(t, o.Decode(&msg))
	assert.Equal(t, "hello", msg.Body)

	assert.Empty(t, decode(t, toOther).IdempotencyKey)
	assert.Empty(t, decode(t, toNobody).IdempotencyKey)
}

func TestMarshal_SharedEncodingIsCached(t *testing.T) {
	ev := created(uuid.New())

	a, err := Marshal(ev, uuid.New())
	require.NoError(t, err)
	b, err := Marshal(ev, uuid.New())
	require.NoError(t, err)

	assert.Same(t, &a[0], &b[0], "recipients share one encoding")
	assert.IsType(t, &frame{}, ev.GetCached())
}

func TestToEvent_Replayed(t *testing.T) {
	first := created(uuid.New())
	retry := uuid.New()
	replay := first.Replay(retry)

	out, err := ToEvent(replay, retry)
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Equal(t, "k1", out.IdempotencyKey)

	out, err = ToEvent(replay, uuid.New())
	require.NoError(t, err)
	assert.False(t, out.Replayed)
}

func TestMarshalBatch(t *testing.T) {
	origin := uuid.New()
	events := []event.Eventer{
		event.NewConnectedEvent(origin, "alice"),
		created(origin),
		event.NewFailureEvent("r1", model.ErrForbidden, "k2"),
	}

	raw, err := MarshalBatch(events, origin)
	require.NoError(t, err)

	var batch protocol.Batch
	require.NoError(t, json.Unmarshal(raw, &batch))
	require.Len(t, batch.Events, 3)
	assert.Equal(t, protocol.Connected, batch.Events[0].Kind)
	assert.Equal(t, "k1", batch.Events[1].IdempotencyKey)

	var failure protocol.ErrorPayload
	require.NoError(t, batch.Events[2].Decode(&failure))
	assert.Equal(t, protocol.ErrorPayload{Code: protocol.CodeForbidden, Message: "forbidden", IdempotencyKey: "k2"}, failure)
}

func TestMapPayload(t *testing.T) {
	target := model.TargetRef{Kind: model.TargetPost, ID: uuid.New()}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{
			name: "like",
			in:   &model.LikeResult{Target: target, Liked: true, Likes: 3},
			want: &protocol.LikePayload{Target: protocol.Target{Kind: "post", ID: target.ID.String()}, Liked: true, Likes: 3},
		},
		{
			name: "view",
			in:   &model.ViewPayload{Target: target, Views: 9},
			want: &protocol.ViewPayload{Target: protocol.Target{Kind: "post", ID: target.ID.String()}, Views: 9},
		},
		{
			name: "typing without target",
			in:   &model.TypingPayload{UserID: "bob", Typing: true},
			want: &protocol.TypingPayload{UserID: "bob", Typing: true},
		},
		{
			name: "room deleted",
			in:   &model.RoomDeletedPayload{RoomID: "r1"},
			want: &protocol.RoomPayload{RoomID: "r1"},
		},
		{
			name: "passthrough",
			in:   json.RawMessage(`{"x":1}`),
			want: json.RawMessage(`{"x":1}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mapPayload(tt.in))
		})
	}
}

func TestToMutation(t *testing.T) {
	conn := uuid.New()
	msgID := uuid.New()

	t.Run("decodes payload", func(t *testing.T) {
		in, err := protocol.NewInbound(protocol.EditMessage, "r1", "k1", protocol.MutationPayload{
			MessageID: msgID.String(),
			Body:      "fixed",
		})
		require.NoError(t, err)

		m, err := ToMutation(in, "alice", conn)
		require.NoError(t, err)
		assert.Equal(t, model.MutationEditMessage, m.Kind)
		assert.Equal(t, "alice", m.ActorID)
		assert.Equal(t, conn, m.OriginConnID)
		assert.Equal(t, msgID, m.Payload.MessageID)
		assert.Equal(t, "fixed", m.Payload.Body)
	})

	t.Run("decodes target", func(t *testing.T) {
		in, err := protocol.NewInbound(protocol.ToggleLike, "r1", "k2", protocol.MutationPayload{
			Target: &protocol.Target{Kind: "message", ID: msgID.String()},
		})
		require.NoError(t, err)

		m, err := ToMutation(in, "alice", conn)
		require.NoError(t, err)
		assert.Equal(t, model.TargetRef{Kind: model.TargetMessage, ID: msgID}, m.Payload.Target)
	})

	invalid := []struct {
		name string
		in   protocol.Inbound
	}{
		{name: "unknown kind", in: protocol.Inbound{Kind: "shout", RoomID: "r1"}},
		{name: "subscribe is not a mutation", in: protocol.Inbound{Kind: protocol.Subscribe, RoomID: "r1"}},
		{name: "missing room", in: protocol.Inbound{Kind: protocol.SendMessage}},
		{name: "bad json", in: protocol.Inbound{Kind: protocol.SendMessage, RoomID: "r1", Payload: json.RawMessage(`[`)}},
		{name: "bad message id", in: protocol.Inbound{Kind: protocol.EditMessage, RoomID: "r1", Payload: json.RawMessage(`{"message_id":"nope"}`)}},
		{name: "bad target id", in: protocol.Inbound{Kind: protocol.ToggleLike, RoomID: "r1", Payload: json.RawMessage(`{"target":{"kind":"post","id":"x"}}`)}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToMutation(tt.in, "alice", conn)
			assert.ErrorIs(t, err, model.ErrInvalidPayload)
		})
	}
}
