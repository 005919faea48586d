package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/domain/registry"
)

// ErrCoalesced is returned for a typing signal that repeats the current state.
// Callers treat it as success.
var ErrCoalesced = errors.New("typing signal coalesced")

// Applier is the single write path for room state.
type Applier interface {
	Apply(ctx context.Context, m model.Mutation) (*event.Canonical, error)
}

// Exporter forwards committed events to other nodes. Export must not block.
type Exporter interface {
	Export(ev *event.Canonical)
}

type GatewayConfig struct {
	Limits               Limits
	IdempotencyCacheSize int
	TypingWindow         time.Duration
}

// Gateway validates mutations, persists them, assigns room sequence numbers
// and hands the resulting canonical events to the fan-out stage.
type Gateway struct {
	store    Store
	access   *RoomAccess
	emitter  registry.Emitter
	exporter Exporter
	seq      *sequencer
	check    validator
	typing   *typingLimiter
	replays  *lru.Cache[string, *event.Canonical]
	logger   *slog.Logger
	now      func() time.Time
}

func NewGateway(store Store, emitter registry.Emitter, exporter Exporter, cfg GatewayConfig, logger *slog.Logger) *Gateway {
	size := cfg.IdempotencyCacheSize
	if size <= 0 {
		size = 50000
	}
	// [MEMORY_MANAGEMENT] Bounded replay window; older keys are re-applied.
	replays, _ := lru.New[string, *event.Canonical](size)
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	return &Gateway{
		store:    store,
		access:   NewRoomAccess(store),
		emitter:  emitter,
		exporter: exporter,
		seq:      newSequencer(store),
		check:    validator{limits: cfg.Limits},
		typing:   newTypingLimiter(cfg.TypingWindow),
		replays:  replays,
		logger:   logger,
		now:      time.Now,
	}
}

// Apply runs one mutation end to end. On error nothing was persisted or
// emitted and the room head is unchanged. A repeated idempotency key returns
// the original event flagged as replayed.
func (g *Gateway) Apply(ctx context.Context, m model.Mutation) (*event.Canonical, error) {
	if m.RoomID == "" || m.ActorID == "" {
		return nil, invalid("room and actor are required")
	}

	room, err := g.access.Authorize(ctx, m.RoomID, m.ActorID)
	if err != nil {
		return nil, err
	}
	if err := g.check.validate(room, &m); err != nil {
		return nil, err
	}

	if !m.Kind.Sequenced() {
		return g.applyTyping(ctx, room, m)
	}

	key := replayKey(m)
	if ev, ok := g.replays.Get(key); ok {
		return ev.Replay(m.OriginConnID), nil
	}

	rs, err := g.seq.acquire(ctx, room.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rs.release()

	// A concurrent duplicate may have committed while we waited for the lock.
	if ev, ok := g.replays.Get(key); ok {
		return ev.Replay(m.OriginConnID), nil
	}

	seq := rs.next()
	kind, payload, err := g.mutate(ctx, room, m, seq)
	if errors.Is(err, model.ErrSeqConflict) {
		// The cached head lags behind writes of another node. Nothing landed.
		g.logger.Debug("ROOM_HEAD_STALE", "room_id", room.ID, "seq", seq)
		if err = g.seq.reload(ctx, room.ID, rs); err == nil {
			seq = rs.next()
			kind, payload, err = g.mutate(ctx, room, m, seq)
		}
	}
	if err != nil {
		err = storeErr(err)
		if model.Retryable(err) {
			// The write may or may not have landed.
			rs.invalidate()
		}
		return nil, err
	}
	rs.commit(seq)

	ev := event.NewCanonical(kind, room, seq, m, payload)
	g.replays.Add(key, ev)

	// [ORDERING] Local fan-out happens inside the room lock, so every
	// subscriber observes events in seq order.
	g.emitter.Emit(ev)
	if g.exporter != nil {
		g.exporter.Export(ev)
	}
	return ev, nil
}

func (g *Gateway) applyTyping(ctx context.Context, room *model.Room, m model.Mutation) (*event.Canonical, error) {
	if !g.typing.allow(room.ID, m.ActorID, m.Payload.Typing) {
		return nil, ErrCoalesced
	}

	rs, err := g.seq.acquire(ctx, room.ID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rs.release()

	var target *model.TargetRef
	if m.Payload.Target.Valid() {
		t := m.Payload.Target
		target = &t
	}
	// Ephemeral: carries the head, never advances it.
	ev := event.NewCanonical(event.TypingState, room, rs.head, m, &model.TypingPayload{
		UserID: m.ActorID,
		Typing: m.Payload.Typing,
		Target: target,
	})
	g.emitter.Emit(ev)
	return ev, nil
}

// mutate performs the store write for m at seq.
func (g *Gateway) mutate(ctx context.Context, room *model.Room, m model.Mutation, seq uint64) (event.EventKind, any, error) {
	p := m.Payload
	now := g.now()

	switch m.Kind {
	case model.MutationSendMessage:
		msg := &model.Message{
			ID:        uuid.New(),
			RoomID:    room.ID,
			AuthorID:  m.ActorID,
			Type:      p.Type,
			Body:      p.Body,
			Metadata:  p.Metadata,
			CreatedAt: now.UnixMilli(),
			Seq:       seq,
			ClientKey: m.IdempotencyKey,
		}
		if err := g.store.CreateMessage(ctx, msg); err != nil {
			return "", nil, err
		}
		return event.MessageCreated, msg, nil

	case model.MutationEditMessage:
		msg, err := g.ownMessage(ctx, room.ID, p.MessageID, m.ActorID)
		if err != nil {
			return "", nil, err
		}
		msg.Body = p.Body
		msg.Edited = true
		msg.UpdatedAt = now.UnixMilli()
		if err := g.store.UpdateMessage(ctx, msg, seq); err != nil {
			return "", nil, err
		}
		return event.MessageEdited, msg, nil

	case model.MutationDeleteMessage:
		msg, err := g.ownMessage(ctx, room.ID, p.MessageID, m.ActorID)
		if err != nil {
			return "", nil, err
		}
		msg.Tombstone(now)
		if err := g.store.UpdateMessage(ctx, msg, seq); err != nil {
			return "", nil, err
		}
		return event.MessageDeleted, msg, nil

	case model.MutationCreatePost:
		post := &model.Post{
			ID:        uuid.New(),
			RoomID:    room.ID,
			AuthorID:  m.ActorID,
			Title:     p.Title,
			Content:   p.Content,
			Tags:      p.Tags,
			CreatedAt: now.UnixMilli(),
			Seq:       seq,
			ClientKey: m.IdempotencyKey,
		}
		if err := g.store.CreatePost(ctx, post); err != nil {
			return "", nil, err
		}
		return event.PostCreated, post, nil

	case model.MutationToggleLike:
		if err := g.targetExists(ctx, room.ID, p.Target); err != nil {
			return "", nil, err
		}
		res, err := g.store.ToggleLike(ctx, room.ID, p.Target, m.ActorID, seq)
		if err != nil {
			return "", nil, err
		}
		return event.LikeToggled, &res, nil

	case model.MutationAddComment:
		if err := g.targetExists(ctx, room.ID, p.Target); err != nil {
			return "", nil, err
		}
		c := &model.Comment{
			ID:        uuid.New(),
			RoomID:    room.ID,
			Target:    p.Target,
			AuthorID:  m.ActorID,
			Body:      p.Body,
			CreatedAt: now.UnixMilli(),
			Seq:       seq,
			ClientKey: m.IdempotencyKey,
		}
		count, err := g.store.AddComment(ctx, c)
		if err != nil {
			return "", nil, err
		}
		return event.CommentAdded, &model.CommentPayload{Comment: c, Comments: count}, nil

	case model.MutationRecordView:
		if err := g.targetExists(ctx, room.ID, p.Target); err != nil {
			return "", nil, err
		}
		views, err := g.store.RecordView(ctx, room.ID, p.Target, seq)
		if err != nil {
			return "", nil, err
		}
		return event.ViewRecorded, &model.ViewPayload{Target: p.Target, Views: views}, nil
	}
	return "", nil, invalid("unsupported mutation kind %q", m.Kind)
}

// ownMessage returns a live message written by actorID.
func (g *Gateway) ownMessage(ctx context.Context, roomID string, id uuid.UUID, actorID string) (*model.Message, error) {
	msg, err := g.store.GetMessage(ctx, roomID, id)
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}
	if msg.AuthorID != actorID {
		return nil, fmt.Errorf("message %s: %w", id, model.ErrForbidden)
	}
	return msg, nil
}

func (g *Gateway) targetExists(ctx context.Context, roomID string, t model.TargetRef) error {
	switch t.Kind {
	case model.TargetMessage:
		msg, err := g.store.GetMessage(ctx, roomID, t.ID)
		if err != nil {
			return err
		}
		if msg.Deleted {
			return fmt.Errorf("%s: %w", t, model.ErrNotFound)
		}
	case model.TargetPost:
		if _, err := g.store.GetPost(ctx, roomID, t.ID); err != nil {
			return err
		}
	default:
		return invalid("target kind %q", t.Kind)
	}
	return nil
}

// WithRoomLock runs fn inside the room's critical section with the current
// head. No mutation of the room commits while fn runs.
func (g *Gateway) WithRoomLock(ctx context.Context, roomID string, fn func(head uint64) error) error {
	rs, err := g.seq.acquire(ctx, roomID)
	if err != nil {
		return storeErr(err)
	}
	defer rs.release()
	return fn(rs.head)
}

// Observe hands an event committed by another node to local subscribers.
// Events at or below the local head are already reflected and skipped.
func (g *Gateway) Observe(ctx context.Context, ev *event.Canonical) error {
	rs, err := g.seq.acquire(ctx, ev.RoomID)
	if err != nil {
		return storeErr(err)
	}
	defer rs.release()

	if ev.Seq <= rs.head {
		return nil
	}
	rs.commit(ev.Seq)
	g.emitter.Emit(ev)
	return nil
}

// ForgetRoom drops cached sequencing state of a deleted room.
func (g *Gateway) ForgetRoom(roomID string) {
	g.seq.forget(roomID)
}

func replayKey(m model.Mutation) string {
	return m.ActorID + "\x00" + m.RoomID + "\x00" + m.IdempotencyKey
}

// storeErr keeps domain errors and classifies everything else as a
// transient store failure.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrRoomNotFound),
		errors.Is(err, model.ErrForbidden),
		errors.Is(err, model.ErrInvalidPayload),
		errors.Is(err, model.ErrNotAuthorized),
		errors.Is(err, model.ErrStoreUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
}
