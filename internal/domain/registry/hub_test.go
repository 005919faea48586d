package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticMembership admits the listed users per room.
type staticMembership struct {
	rooms map[string][]string
	err   error
}

func (m staticMembership) CanJoin(_ context.Context, userID, roomID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	for _, u := range m.rooms[roomID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

type presenceCall struct {
	roomID, userID string
	online         bool
}

type recordingPresence struct {
	mu    sync.Mutex
	calls []presenceCall
}

func (p *recordingPresence) Online(_ context.Context, roomID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, presenceCall{roomID, userID, true})
	return nil
}

func (p *recordingPresence) Offline(_ context.Context, roomID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, presenceCall{roomID, userID, false})
	return nil
}

func newTestHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	members := staticMembership{rooms: map[string][]string{
		"r1": {"alice", "bob"},
		"r2": {"alice"},
	}}
	h := NewHub(members, append([]Option{WithEvictionInterval(0)}, opts...)...)
	t.Cleanup(h.Shutdown)
	return h
}

func connectUser(h *Hub, userID string) Connector {
	c := NewConnector(context.Background(), userID, h.OutboundBuffer(), ConnectMetadata{Transport: "test"})
	h.Register(c)
	return c
}

func TestHub_Subscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("member joins", func(t *testing.T) {
		h := newTestHub(t)
		c := connectUser(h, "alice")

		require.NoError(t, h.Subscribe(ctx, c.GetID(), "r1"))
		assert.Equal(t, []string{"alice"}, mustOnline(t, h, "r1"))
		assert.Contains(t, h.SubscribersOf("r1"), c.GetID())
	})

	t.Run("non member is rejected", func(t *testing.T) {
		h := newTestHub(t)
		c := connectUser(h, "bob")

		err := h.Subscribe(ctx, c.GetID(), "r2")
		assert.ErrorIs(t, err, model.ErrNotAuthorized)
		assert.Empty(t, h.SubscribersOf("r2"))
	})

	t.Run("unknown connection", func(t *testing.T) {
		h := newTestHub(t)
		c := NewConnector(ctx, "alice", 4, ConnectMetadata{})

		assert.ErrorIs(t, h.Subscribe(ctx, c.GetID(), "r1"), model.ErrConnectionNotFound)
	})

	t.Run("membership failure is surfaced", func(t *testing.T) {
		boom := errors.New("boom")
		h := NewHub(staticMembership{err: boom}, WithEvictionInterval(0))
		defer h.Shutdown()
		c := connectUser(h, "alice")

		assert.ErrorIs(t, h.Subscribe(ctx, c.GetID(), "r1"), boom)
	})

	t.Run("repeated subscribe is a no-op", func(t *testing.T) {
		h := newTestHub(t)
		c := connectUser(h, "alice")

		require.NoError(t, h.Subscribe(ctx, c.GetID(), "r1"))
		require.NoError(t, h.Subscribe(ctx, c.GetID(), "r1"))
		assert.Len(t, h.SubscribersOf("r1"), 1)
	})
}

func mustOnline(t *testing.T, h *Hub, roomID string) []string {
	t.Helper()
	users, err := h.OnlineUsers(context.Background(), roomID)
	require.NoError(t, err)
	return users
}

func TestHub_Presence(t *testing.T) {
	ctx := context.Background()
	presence := &recordingPresence{}
	h := newTestHub(t, WithPresence(presence))

	observer := connectUser(h, "bob")
	require.NoError(t, h.Subscribe(ctx, observer.GetID(), "r1"))
	observer.Drain(0)

	first := connectUser(h, "alice")
	second := connectUser(h, "alice")
	require.NoError(t, h.Subscribe(ctx, first.GetID(), "r1"))
	require.NoError(t, h.Subscribe(ctx, second.GetID(), "r1"))

	// Only the first connection of a user announces presence.
	evs := observer.Drain(0)
	require.Len(t, evs, 1)
	assert.Equal(t, event.PresenceChanged, evs[0].GetKind())
	assert.Equal(t, &model.PresencePayload{UserID: "alice", Online: true}, evs[0].GetPayload())

	h.Deregister(first.GetID())
	assert.Empty(t, observer.Drain(0))
	assert.Equal(t, []string{"alice", "bob"}, mustOnline(t, h, "r1"))

	h.Deregister(second.GetID())
	evs = observer.Drain(0)
	require.Len(t, evs, 1)
	assert.Equal(t, &model.PresencePayload{UserID: "alice", Online: false}, evs[0].GetPayload())
	assert.Equal(t, []string{"bob"}, mustOnline(t, h, "r1"))

	presence.mu.Lock()
	defer presence.mu.Unlock()
	assert.Equal(t, []presenceCall{
		{"r1", "bob", true},
		{"r1", "alice", true},
		{"r1", "alice", false},
	}, presence.calls)
}

func TestHub_Deregister(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t)
	c := connectUser(h, "alice")
	require.NoError(t, h.Subscribe(ctx, c.GetID(), "r1"))
	require.NoError(t, h.Subscribe(ctx, c.GetID(), "r2"))
	assert.True(t, h.IsConnected("alice"))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Deregister(c.GetID())
		}()
	}
	wg.Wait()

	assert.Empty(t, h.SubscribersOf("r1"))
	assert.Empty(t, h.SubscribersOf("r2"))
	assert.False(t, h.IsConnected("alice"))
	_, ok := h.Connection(c.GetID())
	assert.False(t, ok)
	assert.False(t, c.Send(seqEvent("r1", 1)))
}

func TestHub_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t)
	c := connectUser(h, "alice")
	require.NoError(t, h.Subscribe(ctx, c.GetID(), "r1"))

	h.Unsubscribe(c.GetID(), "r1")
	h.Unsubscribe(c.GetID(), "r1")
	assert.Empty(t, h.SubscribersOf("r1"))
	assert.True(t, h.IsConnected("alice"))
}

func TestHub_CloseRoom(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t)
	c := connectUser(h, "alice")
	require.NoError(t, h.Subscribe(ctx, c.GetID(), "r1"))
	c.Drain(0)

	h.CloseRoom("r1")

	evs := c.Drain(0)
	require.Len(t, evs, 1)
	assert.Equal(t, event.RoomDeleted, evs[0].GetKind())
	assert.Empty(t, h.SubscribersOf("r1"))

	// The connection stays usable for its other rooms.
	require.NoError(t, h.Subscribe(ctx, c.GetID(), "r2"))
}

func TestHub_Stats(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(t)
	a := connectUser(h, "alice")
	b := connectUser(h, "bob")
	require.NoError(t, h.Subscribe(ctx, a.GetID(), "r1"))
	require.NoError(t, h.Subscribe(ctx, b.GetID(), "r1"))

	st := h.Stats()
	assert.Equal(t, 2, st.TotalConnections)
	assert.Equal(t, 2, st.TotalUsers)
	assert.Equal(t, 1, st.TotalRooms)
	require.Len(t, st.Rooms, 1)
	assert.Equal(t, model.RoomStats{RoomID: "r1", Subscribers: 2, Users: 2}, st.Rooms[0])
}

func TestHub_Shutdown(t *testing.T) {
	h := NewHub(staticMembership{}, WithEvictionInterval(0))
	c := connectUser(h, "alice")

	h.Shutdown()
	h.Shutdown()

	<-c.Done()
	assert.Zero(t, h.Stats().TotalConnections)
}
