package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/domain/registry"
	"golang.org/x/sync/errgroup"
)

// [LIVE_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (WebSocket/long-poll/REST)
type Deliverer interface {
	Connect(ctx context.Context, userID string, meta registry.ConnectMetadata) registry.Connector
	Disconnect(connID uuid.UUID)
	Subscribe(ctx context.Context, connID uuid.UUID, roomID string) error
	Unsubscribe(connID uuid.UUID, roomID string)
	Resync(ctx context.Context, connID uuid.UUID, roomID string) error
	Apply(ctx context.Context, m model.Mutation) (*event.Canonical, error)
	Snapshot(ctx context.Context, roomID, userID string) (*model.Snapshot, error)
	Online(ctx context.Context, roomID, userID string) ([]string, error)
	PutRoom(ctx context.Context, room *model.Room) error
	DeleteRoom(ctx context.Context, roomID string) error
	Stats() model.HubStats
}

type LiveService struct {
	hub     registry.Hubber
	gateway *Gateway
	applier Applier
	store   Store
	online  OnlineLister
	logger  *slog.Logger

	snapshotLimit int
}

// NewLiveService wires the transports to the registry and the gateway.
// applier is the (possibly decorated) entry point into gateway.
func NewLiveService(hub registry.Hubber, gateway *Gateway, applier Applier, store Store, online OnlineLister, snapshotLimit int, logger *slog.Logger) *LiveService {
	if applier == nil {
		applier = gateway
	}
	if snapshotLimit <= 0 {
		snapshotLimit = 50
	}
	return &LiveService{
		hub:           hub,
		gateway:       gateway,
		applier:       applier,
		store:         store,
		online:        online,
		logger:        logger,
		snapshotLimit: snapshotLimit,
	}
}

// [CONNECT] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *LiveService) Connect(ctx context.Context, userID string, meta registry.ConnectMetadata) registry.Connector {
	// [STRATEGY] Buffer size could later depend on platform from meta.
	conn := registry.NewConnector(ctx, userID, s.hub.OutboundBuffer(), meta)
	s.hub.Register(conn)
	conn.Send(event.NewConnectedEvent(conn.GetID(), userID))

	s.logger.Debug("CONNECTION_OPENED", "conn_id", conn.GetID(), "user_id", userID, "transport", meta.Transport)
	return conn
}

// [DISCONNECT] TRIGGERS SUBSCRIPTION TEARDOWN
func (s *LiveService) Disconnect(connID uuid.UUID) {
	s.hub.Deregister(connID)
}

// Subscribe attaches the connection to roomID and queues a snapshot behind
// the subscription acknowledgement. Events committed after the snapshot
// follow it in the same queue.
func (s *LiveService) Subscribe(ctx context.Context, connID uuid.UUID, roomID string) error {
	if err := s.hub.Subscribe(ctx, connID, roomID); err != nil {
		return err
	}
	conn, ok := s.hub.Connection(connID)
	if !ok {
		return model.ErrConnectionNotFound
	}
	conn.Send(event.NewSubscribedEvent(roomID))
	return s.pushSnapshot(ctx, conn, roomID)
}

func (s *LiveService) Unsubscribe(connID uuid.UUID, roomID string) {
	s.hub.Unsubscribe(connID, roomID)
	if conn, ok := s.hub.Connection(connID); ok {
		conn.Send(event.NewUnsubscribedEvent(roomID))
	}
}

// Resync answers a client that detected a gap: the current room state is
// queued for the connection.
func (s *LiveService) Resync(ctx context.Context, connID uuid.UUID, roomID string) error {
	conn, ok := s.hub.Connection(connID)
	if !ok {
		return model.ErrConnectionNotFound
	}
	if !s.isSubscribed(connID, roomID) {
		return fmt.Errorf("%w: not subscribed to room %s", model.ErrNotAuthorized, roomID)
	}
	return s.pushSnapshot(ctx, conn, roomID)
}

func (s *LiveService) isSubscribed(connID uuid.UUID, roomID string) bool {
	for _, id := range s.hub.SubscribersOf(roomID) {
		if id == connID {
			return true
		}
	}
	return false
}

// pushSnapshot builds the snapshot inside the room lock and enqueues it
// there, so no event of the room can slip in between.
func (s *LiveService) pushSnapshot(ctx context.Context, conn registry.Connector, roomID string) error {
	online := s.onlineUsers(ctx, roomID)
	return s.gateway.WithRoomLock(ctx, roomID, func(head uint64) error {
		snap, err := s.loadSnapshot(ctx, roomID, head)
		if err != nil {
			return err
		}
		snap.Online = online
		conn.Send(event.NewSnapshotEvent(snap))
		return nil
	})
}

func (s *LiveService) Apply(ctx context.Context, m model.Mutation) (*event.Canonical, error) {
	return s.applier.Apply(ctx, m)
}

// Snapshot returns the room state at its current head for a reader.
func (s *LiveService) Snapshot(ctx context.Context, roomID, userID string) (*model.Snapshot, error) {
	if _, err := s.gateway.access.Authorize(ctx, roomID, userID); err != nil {
		return nil, err
	}
	online := s.onlineUsers(ctx, roomID)

	var snap *model.Snapshot
	err := s.gateway.WithRoomLock(ctx, roomID, func(head uint64) error {
		var err error
		snap, err = s.loadSnapshot(ctx, roomID, head)
		return err
	})
	if err != nil {
		return nil, err
	}
	snap.Online = online
	return snap, nil
}

// loadSnapshot reads the room state. The caller holds the room lock.
func (s *LiveService) loadSnapshot(ctx context.Context, roomID string, head uint64) (*model.Snapshot, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, storeErr(err)
	}
	snap := &model.Snapshot{RoomID: room.ID, Kind: room.Kind, Seq: head}

	// [CONCURRENCY_OPTIMIZATION] Messages and posts load in parallel.
	g, gCtx := errgroup.WithContext(ctx)
	if room.AllowsChat() {
		g.Go(func() error {
			var err error
			snap.Messages, err = s.store.ListMessages(gCtx, roomID, s.snapshotLimit)
			return err
		})
	}
	if room.AllowsPosts() {
		g.Go(func() error {
			var err error
			snap.Posts, err = s.store.ListPosts(gCtx, roomID, s.snapshotLimit)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storeErr(fmt.Errorf("load snapshot of room %s: %w", roomID, err))
	}

	targets := make([]model.TargetRef, 0, len(snap.Messages)+len(snap.Posts))
	for _, m := range snap.Messages {
		if !m.Deleted {
			targets = append(targets, model.TargetRef{Kind: model.TargetMessage, ID: m.ID})
		}
	}
	for _, p := range snap.Posts {
		targets = append(targets, model.TargetRef{Kind: model.TargetPost, ID: p.ID})
	}
	if len(targets) == 0 {
		return snap, nil
	}

	g, gCtx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Engagement, err = s.store.Engagement(gCtx, roomID, targets)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Comments, err = s.store.ListComments(gCtx, roomID, targets, s.snapshotLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, storeErr(fmt.Errorf("load engagement of room %s: %w", roomID, err))
	}
	return snap, nil
}

// onlineUsers is best effort; presence never fails a snapshot.
func (s *LiveService) onlineUsers(ctx context.Context, roomID string) []string {
	if s.online == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	users, err := s.online.OnlineUsers(ctx, roomID)
	if err != nil {
		s.logger.Warn("PRESENCE_LOOKUP_FAILED", "room_id", roomID, "err", err)
		return nil
	}
	return users
}

func (s *LiveService) Online(ctx context.Context, roomID, userID string) ([]string, error) {
	if _, err := s.gateway.access.Authorize(ctx, roomID, userID); err != nil {
		return nil, err
	}
	if s.online == nil {
		return []string{}, nil
	}
	return s.online.OnlineUsers(ctx, roomID)
}

// PutRoom creates or replaces a room definition.
func (s *LiveService) PutRoom(ctx context.Context, room *model.Room) error {
	if room.ID == "" || !room.Kind.Valid() {
		return invalid("room id and a known kind are required")
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	if err := s.store.SaveRoom(ctx, room); err != nil {
		return storeErr(err)
	}
	s.logger.Info("ROOM_SAVED", "room_id", room.ID, "kind", room.Kind, "members", len(room.Members))
	return nil
}

// DeleteRoom removes the room and notifies its subscribers. No mutation of
// the room commits after the deletion.
func (s *LiveService) DeleteRoom(ctx context.Context, roomID string) error {
	if _, err := s.store.GetRoom(ctx, roomID); err != nil {
		return storeErr(err)
	}
	err := s.gateway.WithRoomLock(ctx, roomID, func(uint64) error {
		if err := s.store.DeleteRoom(ctx, roomID); err != nil && !errors.Is(err, model.ErrRoomNotFound) {
			return storeErr(err)
		}
		s.hub.CloseRoom(roomID)
		return nil
	})
	if err != nil {
		return err
	}
	s.gateway.ForgetRoom(roomID)
	return nil
}

func (s *LiveService) Stats() model.HubStats {
	return s.hub.Stats()
}
