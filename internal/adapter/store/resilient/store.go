// Package resilient decorates a Store with bounded retries and a circuit
// breaker. Infrastructure failures leave it as model.ErrStoreUnavailable.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/service"
	"github.com/sony/gobreaker"
)

var _ service.Store = (*Store)(nil)

type Config struct {
	Retries      uint
	RetryBackoff time.Duration
	OpTimeout    time.Duration

	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	FailureThreshold   uint32
}

type Store struct {
	next   service.Store
	cb     *gobreaker.CircuitBreaker
	cfg    Config
	logger *slog.Logger
}

func New(next service.Store, cfg Config, logger *slog.Logger) *Store {
	if cfg.Retries == 0 {
		cfg.Retries = 1
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	s := &Store{next: next, cfg: cfg, logger: logger}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Domain outcomes prove the store is reachable.
		IsSuccessful: func(err error) bool {
			return err == nil || isDomain(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("CIRCUIT_STATE_CHANGED", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return s
}

// isDomain reports errors that describe data, not infrastructure. They are
// never retried.
func isDomain(err error) bool {
	return errors.Is(err, model.ErrNotFound) ||
		errors.Is(err, model.ErrRoomNotFound) ||
		errors.Is(err, model.ErrSeqConflict) ||
		errors.Is(err, model.ErrInvalidPayload) ||
		errors.Is(err, model.ErrForbidden)
}

// call runs fn through the breaker with bounded exponential retries.
// Sequenced writes are safe to retry because every store accepts an exact
// repeat of its last applied write (same entity or actor at the same seq)
// without applying it twice.
func call[T any](ctx context.Context, s *Store, op string, fn func(context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		res, err := s.cb.Execute(func() (any, error) {
			opCtx, cancel := s.opContext(ctx)
			defer cancel()
			return fn(opCtx)
		})
		if err != nil {
			var zero T
			if isDomain(err) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
				return zero, backoff.Permanent(err)
			}
			return zero, err
		}
		return res.(T), nil
	}

	b := backoff.NewExponentialBackOff()
	if s.cfg.RetryBackoff > 0 {
		b.InitialInterval = s.cfg.RetryBackoff
	}
	res, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.Retries),
	)
	if err != nil {
		if isDomain(err) {
			return res, err
		}
		s.logger.Warn("STORE_CALL_FAILED", "op", op, "err", err)
		return res, fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
	return res, nil
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// exec adapts calls without a result.
func exec(ctx context.Context, s *Store, op string, fn func(context.Context) error) error {
	_, err := call(ctx, s, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*model.Room, error) {
	return call(ctx, s, "get_room", func(ctx context.Context) (*model.Room, error) {
		return s.next.GetRoom(ctx, roomID)
	})
}

func (s *Store) SaveRoom(ctx context.Context, room *model.Room) error {
	return exec(ctx, s, "save_room", func(ctx context.Context) error {
		return s.next.SaveRoom(ctx, room)
	})
}

func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	return exec(ctx, s, "delete_room", func(ctx context.Context) error {
		return s.next.DeleteRoom(ctx, roomID)
	})
}

func (s *Store) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	return call(ctx, s, "is_member", func(ctx context.Context) (bool, error) {
		return s.next.IsMember(ctx, roomID, userID)
	})
}

func (s *Store) HeadSeq(ctx context.Context, roomID string) (uint64, error) {
	return call(ctx, s, "head_seq", func(ctx context.Context) (uint64, error) {
		return s.next.HeadSeq(ctx, roomID)
	})
}

func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	return exec(ctx, s, "create_message", func(ctx context.Context) error {
		return s.next.CreateMessage(ctx, msg)
	})
}

func (s *Store) GetMessage(ctx context.Context, roomID string, id uuid.UUID) (*model.Message, error) {
	return call(ctx, s, "get_message", func(ctx context.Context) (*model.Message, error) {
		return s.next.GetMessage(ctx, roomID, id)
	})
}

func (s *Store) UpdateMessage(ctx context.Context, msg *model.Message, seq uint64) error {
	return exec(ctx, s, "update_message", func(ctx context.Context) error {
		return s.next.UpdateMessage(ctx, msg, seq)
	})
}

func (s *Store) ListMessages(ctx context.Context, roomID string, limit int) ([]*model.Message, error) {
	return call(ctx, s, "list_messages", func(ctx context.Context) ([]*model.Message, error) {
		return s.next.ListMessages(ctx, roomID, limit)
	})
}

func (s *Store) CreatePost(ctx context.Context, post *model.Post) error {
	return exec(ctx, s, "create_post", func(ctx context.Context) error {
		return s.next.CreatePost(ctx, post)
	})
}

func (s *Store) GetPost(ctx context.Context, roomID string, id uuid.UUID) (*model.Post, error) {
	return call(ctx, s, "get_post", func(ctx context.Context) (*model.Post, error) {
		return s.next.GetPost(ctx, roomID, id)
	})
}

func (s *Store) ListPosts(ctx context.Context, roomID string, limit int) ([]*model.Post, error) {
	return call(ctx, s, "list_posts", func(ctx context.Context) ([]*model.Post, error) {
		return s.next.ListPosts(ctx, roomID, limit)
	})
}

func (s *Store) AddComment(ctx context.Context, c *model.Comment) (int, error) {
	return call(ctx, s, "add_comment", func(ctx context.Context) (int, error) {
		return s.next.AddComment(ctx, c)
	})
}

func (s *Store) ListComments(ctx context.Context, roomID string, targets []model.TargetRef, limit int) ([]*model.Comment, error) {
	return call(ctx, s, "list_comments", func(ctx context.Context) ([]*model.Comment, error) {
		return s.next.ListComments(ctx, roomID, targets, limit)
	})
}

func (s *Store) ToggleLike(ctx context.Context, roomID string, target model.TargetRef, userID string, seq uint64) (model.LikeResult, error) {
	return call(ctx, s, "toggle_like", func(ctx context.Context) (model.LikeResult, error) {
		return s.next.ToggleLike(ctx, roomID, target, userID, seq)
	})
}

func (s *Store) RecordView(ctx context.Context, roomID string, target model.TargetRef, seq uint64) (int, error) {
	return call(ctx, s, "record_view", func(ctx context.Context) (int, error) {
		return s.next.RecordView(ctx, roomID, target, seq)
	})
}

func (s *Store) Engagement(ctx context.Context, roomID string, targets []model.TargetRef) ([]*model.Engagement, error) {
	return call(ctx, s, "engagement", func(ctx context.Context) ([]*model.Engagement, error) {
		return s.next.Engagement(ctx, roomID, targets)
	})
}

// State exposes the breaker state for diagnostics.
func (s *Store) State() gobreaker.State {
	return s.cb.State()
}
