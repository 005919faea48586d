package pubsub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRoom = &model.Room{ID: "r1", Kind: model.RoomGroupChat}

func canonical(kind event.EventKind, seq uint64) *event.Canonical {
	return event.NewCanonical(kind, testRoom, seq, model.Mutation{ActorID: "alice", IdempotencyKey: "k"}, &model.Message{Body: "hi", Seq: seq})
}

func newBus(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	bus := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
		return nil
	}
}

func TestEventDispatcher_Publish(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	d := NewEventDispatcher(bus, "node-a")

	ev := canonical(event.MessageCreated, 7)
	msgs, err := bus.Subscribe(ctx, ev.GetRoutingKey())
	require.NoError(t, err)

	require.NoError(t, d.Publish(ctx, ev))
	msg := receive(t, msgs)

	assert.Equal(t, "community_live.v1.group_chat.r1.message_created", ev.GetRoutingKey())
	assert.Equal(t, "node-a", msg.Metadata.Get(NodeIDMetadataKey))
	assert.Equal(t, "7", msg.Metadata.Get("seq"))
	assert.Equal(t, "r1", msg.Metadata.Get("room_id"))
	assert.Equal(t, ev.GetID(), msg.Metadata.Get("event_id"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &body))
	assert.Equal(t, "message_created", body["kind"])
	assert.Equal(t, float64(7), body["seq"])
	assert.Equal(t, "group_chat", body["room_kind"])
}

func TestEventDispatcher_SkipsLocalOnlyEvents(t *testing.T) {
	d := NewEventDispatcher(newBus(t), "node-a")

	assert.NoError(t, d.Publish(context.Background(), canonical(event.TypingState, 1)))
	assert.NoError(t, d.Publish(context.Background(), event.NewPresenceEvent("r1", "alice", true)))
	assert.Error(t, d.Publish(context.Background(), nil))
}

func TestAsyncExporter(t *testing.T) {
	ctx := context.Background()
	bus := newBus(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := canonical(event.MessageCreated, 1)
	msgs, err := bus.Subscribe(ctx, first.GetRoutingKey())
	require.NoError(t, err)

	exp := NewAsyncExporter(NewEventDispatcher(bus, "node-a"), 8, logger)
	exp.Start()

	for seq := uint64(1); seq <= 3; seq++ {
		exp.Export(canonical(event.MessageCreated, seq))
	}
	exp.Export(canonical(event.TypingState, 3))

	for want := uint64(1); want <= 3; want++ {
		msg := receive(t, msgs)
		assert.Equal(t, want, mustSeq(t, msg))
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, exp.Stop(stopCtx))
	require.NoError(t, exp.Stop(stopCtx))
	assert.Zero(t, exp.Dropped())
}

func TestAsyncExporter_FullQueueDrops(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Not started: nothing drains the queue.
	exp := NewAsyncExporter(NewEventDispatcher(newBus(t), "node-a"), 2, logger)

	for seq := uint64(1); seq <= 5; seq++ {
		exp.Export(canonical(event.MessageCreated, seq))
	}
	assert.Equal(t, uint64(3), exp.Dropped())
}

func mustSeq(t *testing.T, msg *message.Message) uint64 {
	t.Helper()
	var ev struct {
		Seq uint64 `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	return ev.Seq
}
