package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
)

// DefaultOutboundBuffer is the per-connection queue capacity used when none is configured.
const DefaultOutboundBuffer = 256

// Membership decides whether a user may subscribe to a room.
type Membership interface {
	CanJoin(ctx context.Context, userID, roomID string) (bool, error)
}

// PresenceTracker mirrors per-room online users into shared storage.
type PresenceTracker interface {
	Online(ctx context.Context, roomID, userID string) error
	Offline(ctx context.Context, roomID, userID string) error
}

// Hubber defines the gateway for connection management and room routing.
type Hubber interface {
	Register(conn Connector)
	Subscribe(ctx context.Context, connID uuid.UUID, roomID string) error
	Unsubscribe(connID uuid.UUID, roomID string)
	Deregister(connID uuid.UUID)
	SubscribersOf(roomID string) []uuid.UUID
	OnlineUsers(ctx context.Context, roomID string) ([]string, error)
	Connection(connID uuid.UUID) (Connector, bool)
	IsConnected(userID string) bool
	CloseRoom(roomID string)
	Stats() model.HubStats
	OutboundBuffer() int
	Shutdown()
}

// session is the registry's record of one connection and its rooms.
type session struct {
	conn  Connector
	rooms map[string]struct{}
}

// Hub implements the Connection Registry using the Room Cell pattern.
type Hub struct {
	// rooms stores Map[string]*roomCell. Optimized for [READ_HEAVY] workloads.
	rooms sync.Map
	// conns stores Map[uuid.UUID]*session.
	conns sync.Map

	// mu serializes every write to rooms, conns and users.
	mu    sync.Mutex
	users map[string]int

	membership Membership
	presence   PresenceTracker
	logger     *slog.Logger
	config     hubConfig
	startedAt  time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

type hubConfig struct {
	evictionInterval time.Duration
	idleTimeout      time.Duration
	outboundBuffer   int
	presenceTimeout  time.Duration
}

func NewHub(membership Membership, opts ...Option) *Hub {
	h := &Hub{
		users:      make(map[string]int),
		membership: membership,
		logger:     slog.Default(),
		startedAt:  time.Now(),
		stopCh:     make(chan struct{}),
		config: hubConfig{
			evictionInterval: time.Minute,
			idleTimeout:      5 * time.Minute,
			outboundBuffer:   DefaultOutboundBuffer,
			presenceTimeout:  2 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.config.evictionInterval > 0 {
		go h.janitor()
	}
	return h
}

// OutboundBuffer is the queue capacity transports should give new connectors.
func (h *Hub) OutboundBuffer() int { return h.config.outboundBuffer }

// Register makes conn known to the registry. It receives nothing until it subscribes.
func (h *Hub) Register(conn Connector) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, loaded := h.conns.LoadOrStore(conn.GetID(), &session{conn: conn, rooms: make(map[string]struct{})}); loaded {
		return
	}
	h.users[conn.GetUserID()]++
}

// Subscribe attaches a registered connection to roomID after the membership check.
func (h *Hub) Subscribe(ctx context.Context, connID uuid.UUID, roomID string) error {
	val, ok := h.conns.Load(connID)
	if !ok {
		return model.ErrConnectionNotFound
	}
	userID := val.(*session).conn.GetUserID()

	// [ACCESS_CONTROL] Performed outside the registry lock; may hit the network.
	allowed, err := h.membership.CanJoin(ctx, userID, roomID)
	if err != nil {
		return fmt.Errorf("membership check for room %s: %w", roomID, err)
	}
	if !allowed {
		return model.ErrNotAuthorized
	}

	h.mu.Lock()
	val, ok = h.conns.Load(connID)
	if !ok {
		// Deregistered while the membership check was in flight.
		h.mu.Unlock()
		return model.ErrConnectionNotFound
	}
	s := val.(*session)

	cellVal, _ := h.rooms.LoadOrStore(roomID, newRoomCell(roomID))
	cell := cellVal.(*roomCell)
	first, added := cell.attach(s.conn)
	s.rooms[roomID] = struct{}{}
	h.mu.Unlock()

	if added && first {
		h.announce(roomID, userID, true)
	}
	return nil
}

// Unsubscribe detaches connID from roomID. Unknown pairs are ignored.
func (h *Hub) Unsubscribe(connID uuid.UUID, roomID string) {
	h.mu.Lock()
	val, ok := h.conns.Load(connID)
	if !ok {
		h.mu.Unlock()
		return
	}
	s := val.(*session)
	if _, ok := s.rooms[roomID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(s.rooms, roomID)
	last := h.detachLocked(roomID, connID)
	h.mu.Unlock()

	if last {
		h.announce(roomID, s.conn.GetUserID(), false)
	}
}

// Deregister removes the connection from every room and closes it.
// Idempotent and safe to call while a broadcast to the same connection is in flight.
func (h *Hub) Deregister(connID uuid.UUID) {
	h.mu.Lock()
	val, ok := h.conns.LoadAndDelete(connID)
	if !ok {
		h.mu.Unlock()
		return
	}
	s := val.(*session)
	userID := s.conn.GetUserID()

	var left []string
	for roomID := range s.rooms {
		if h.detachLocked(roomID, connID) {
			left = append(left, roomID)
		}
	}
	if h.users[userID]--; h.users[userID] <= 0 {
		delete(h.users, userID)
	}
	h.mu.Unlock()

	// [RESOURCE_RECLAMATION] A closed connector rejects every further Send.
	s.conn.Close()

	for _, roomID := range left {
		h.announce(roomID, userID, false)
	}
}

// detachLocked removes connID from the room cell. Caller holds h.mu.
func (h *Hub) detachLocked(roomID string, connID uuid.UUID) (lastForUser bool) {
	val, ok := h.rooms.Load(roomID)
	if !ok {
		return false
	}
	cell := val.(*roomCell)
	last, empty := cell.detach(connID)
	if empty {
		h.rooms.CompareAndDelete(roomID, cell)
	}
	return last
}

// SubscribersOf returns the IDs of the connections subscribed to roomID.
func (h *Hub) SubscribersOf(roomID string) []uuid.UUID {
	if val, ok := h.rooms.Load(roomID); ok {
		return val.(*roomCell).subscriberIDs()
	}
	return nil
}

// OnlineUsers lists the users with at least one connection subscribed to
// roomID on this node.
func (h *Hub) OnlineUsers(_ context.Context, roomID string) ([]string, error) {
	if val, ok := h.rooms.Load(roomID); ok {
		users := val.(*roomCell).userIDs()
		slices.Sort(users)
		return users, nil
	}
	return []string{}, nil
}

func (h *Hub) Connection(connID uuid.UUID) (Connector, bool) {
	if val, ok := h.conns.Load(connID); ok {
		return val.(*session).conn, true
	}
	return nil, false
}

func (h *Hub) IsConnected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.users[userID] > 0
}

// deliver routes ev to the room's current subscribers.
func (h *Hub) deliver(ev event.Eventer) Delivery {
	if val, ok := h.rooms.Load(ev.GetRoomID()); ok {
		return val.(*roomCell).deliver(ev)
	}
	return Delivery{}
}

// CloseRoom notifies subscribers that roomID is gone and drops its subscriptions.
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	val, ok := h.rooms.LoadAndDelete(roomID)
	if !ok {
		h.mu.Unlock()
		return
	}
	cell := val.(*roomCell)
	conns := cell.connectors()
	for _, conn := range conns {
		if sv, ok := h.conns.Load(conn.GetID()); ok {
			delete(sv.(*session).rooms, roomID)
		}
	}
	h.mu.Unlock()

	ev := event.NewRoomDeletedEvent(roomID)
	for _, conn := range conns {
		conn.Send(ev)
	}
	h.logger.Info("ROOM_CLOSED", "room_id", roomID, "subscribers", len(conns))
}

// announce emits a best-effort presence change. It is not ordered with
// sequenced room events.
func (h *Hub) announce(roomID, userID string, online bool) {
	if h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.config.presenceTimeout)
		var err error
		if online {
			err = h.presence.Online(ctx, roomID, userID)
		} else {
			err = h.presence.Offline(ctx, roomID, userID)
		}
		cancel()
		if err != nil {
			h.logger.Warn("PRESENCE_SYNC_FAILED", "room_id", roomID, "user_id", userID, "err", err)
		}
	}
	h.deliver(event.NewPresenceEvent(roomID, userID, online))
}

func (h *Hub) Stats() model.HubStats {
	st := model.HubStats{Uptime: time.Since(h.startedAt)}

	h.mu.Lock()
	st.TotalUsers = len(h.users)
	h.mu.Unlock()

	h.conns.Range(func(_, v any) bool {
		st.TotalConnections++
		st.DroppedEvents += v.(*session).conn.Dropped()
		return true
	})
	h.rooms.Range(func(k, v any) bool {
		subs, users := v.(*roomCell).counts()
		st.TotalRooms++
		st.Rooms = append(st.Rooms, model.RoomStats{RoomID: k.(string), Subscribers: subs, Users: users})
		return true
	})
	return st
}

// janitor reclaims empty room cells left behind by racing subscribe/detach paths.
func (h *Hub) janitor() {
	ticker := time.NewTicker(h.config.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.mu.Lock()
			h.rooms.Range(func(k, v any) bool {
				if v.(*roomCell).IsIdle(h.config.idleTimeout) {
					h.rooms.CompareAndDelete(k, v)
				}
				return true
			})
			h.mu.Unlock()
		}
	}
}

// Shutdown stops the janitor and closes every live connection.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.stopCh)

		var ids []uuid.UUID
		h.conns.Range(func(k, _ any) bool {
			ids = append(ids, k.(uuid.UUID))
			return true
		})
		// Transports observe Done() and send their own termination frame.
		for _, id := range ids {
			h.Deregister(id)
		}
		h.logger.Info("HUB_STOPPED", "connections", len(ids))
	})
}
