package liveclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loopfund/community-live/pkg/protocol"
)

const writeWait = 10 * time.Second

// Session drives a Model from a websocket connection to the hub. It sends
// resync requests on detected gaps and rolls back mutations whose frames
// could not be written.
type Session struct {
	conn   *websocket.Conn
	model  *Model
	logger *slog.Logger

	writeMu  sync.Mutex
	onUpdate func(Result)
}

type SessionOption func(*Session)

// WithUpdateHook is called after every reconciled event, outside the model lock.
func WithUpdateHook(fn func(Result)) SessionOption {
	return func(s *Session) { s.onUpdate = fn }
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// Dial opens a session. endpoint is the hub websocket URL, e.g.
// ws://host/v1/ws; rooms are subscribed during the handshake.
func Dial(ctx context.Context, endpoint, token string, model *Model, rooms []string, opts ...SessionOption) (*Session, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if len(rooms) > 0 {
		q := u.Query()
		q.Set("rooms", strings.Join(rooms, ","))
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", u.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	s := &Session{conn: conn, model: model, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) Model() *Model { return s.model }

// Run reads events until the connection closes or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		var ev protocol.Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		res := s.model.Reconcile(ev)
		if res.Outcome == OutcomeResync && s.model.NeedsResync(res.RoomID) {
			if err := s.send(protocol.Inbound{Kind: protocol.Resync, RoomID: res.RoomID}); err != nil {
				return err
			}
			s.logger.Debug("RESYNC_REQUESTED", "room_id", res.RoomID, "seq", ev.Seq)
		}
		if s.onUpdate != nil {
			s.onUpdate(res)
		}
	}
}

// Mutate renders lm optimistically and sends it. A mutation absorbed by an
// in-flight toggle is not sent.
func (s *Session) Mutate(lm LocalMutation) (TempID, error) {
	temp, send := s.model.ApplyOptimistic(&lm)
	if !send {
		return temp, nil
	}

	in, err := protocol.NewInbound(lm.Kind, lm.RoomID, lm.IdempotencyKey, lm.Payload)
	if err == nil {
		err = s.send(in)
	}
	if err != nil {
		if temp != "" {
			_ = s.model.Rollback(temp, err)
		}
		return temp, err
	}
	return temp, nil
}

func (s *Session) Subscribe(roomID string) error {
	return s.send(protocol.Inbound{Kind: protocol.Subscribe, RoomID: roomID})
}

func (s *Session) Unsubscribe(roomID string) error {
	return s.send(protocol.Inbound{Kind: protocol.Unsubscribe, RoomID: roomID})
}

func (s *Session) send(in protocol.Inbound) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(in)
}

// Close sends a close frame and releases the connection.
func (s *Session) Close() error {
	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()

	return errors.Join(err, s.conn.Close())
}
