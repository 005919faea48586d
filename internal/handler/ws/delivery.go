package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loopfund/community-live/config"
	httpsrv "github.com/loopfund/community-live/infra/server/http"
	"github.com/loopfund/community-live/infra/server/http/interceptors"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/domain/registry"
	"github.com/loopfund/community-live/internal/handler/marshaller"
	"github.com/loopfund/community-live/internal/service"
	"github.com/loopfund/community-live/pkg/protocol"
)

var _ httpsrv.Route = (*WSHandler)(nil)

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	identity  service.IdentityProvider
	upgrader  websocket.Upgrader

	pingPeriod   time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	maxFrame     int64
	writeBatch   int
	applyTimeout time.Duration
}

func NewWSHandler(cfg *config.Config, deliverer service.Deliverer, identity service.IdentityProvider, logger *slog.Logger) *WSHandler {
	origins := cfg.HTTP.AllowedOrigins
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		identity:  identity,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || httpsrv.OriginAllowed(origins, origin)
			},
		},
		pingPeriod:   cfg.Hub.PingPeriod,
		pongWait:     cfg.Hub.PongWait,
		writeWait:    cfg.Hub.WriteWait,
		maxFrame:     cfg.Hub.MaxFrameBytes,
		writeBatch:   cfg.Hub.WriteBatch,
		applyTimeout: cfg.HTTP.WriteTimeout,
	}
}

func (h *WSHandler) Register(r chi.Router) {
	r.With(interceptors.NewAuthMiddleware(h.identity)).Get("/v1/ws", h.ServeHTTP)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. IDENTITY (verified by the auth middleware)
	userID, ok := interceptors.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	// 2. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS_UPGRADE_FAILED", "user_id", userID, "err", err)
		return
	}
	defer ws.Close()

	// 3. REGISTER THROUGH THE SAME SERVICE AS EVERY TRANSPORT
	conn := h.deliverer.Connect(r.Context(), userID, registry.ConnectMetadata{
		Transport: "ws",
		Platform:  r.URL.Query().Get("platform"),
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	defer h.deliverer.Disconnect(conn.GetID())

	h.logger.Info("WS_OPENED", "user_id", userID, "conn_id", conn.GetID())

	// [INITIAL_ROOMS] ?rooms=a,b subscribes before the first client frame.
	for _, roomID := range splitRooms(r.URL.Query().Get("rooms")) {
		if err := h.deliverer.Subscribe(r.Context(), conn.GetID(), roomID); err != nil {
			conn.Send(event.NewFailureEvent(roomID, err, ""))
		}
	}

	// 4. PUMPS: writer in the background, reader on this goroutine.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, conn)
	}()

	h.readPump(r.Context(), ws, conn)

	// [TEARDOWN] Closing the connector stops the writer.
	conn.Close()
	<-writerDone
	h.logger.Info("WS_CLOSED", "user_id", userID, "conn_id", conn.GetID(), "dropped", conn.Dropped())
}

func (h *WSHandler) readPump(ctx context.Context, ws *websocket.Conn, conn registry.Connector) {
	ws.SetReadLimit(h.maxFrame)
	_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("WS_READ_FAILED", "conn_id", conn.GetID(), "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))

		var in protocol.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			conn.Send(event.NewFailureEvent("", fmt.Errorf("%w: malformed frame: %v", model.ErrInvalidPayload, err), ""))
			continue
		}
		h.dispatch(ctx, conn, in)
	}
}

// dispatch handles one client frame. Frames of one connection are processed
// in arrival order.
func (h *WSHandler) dispatch(ctx context.Context, conn registry.Connector, in protocol.Inbound) {
	connID := conn.GetID()

	switch in.Kind {
	case protocol.Subscribe:
		if err := h.deliverer.Subscribe(ctx, connID, in.RoomID); err != nil {
			conn.Send(event.NewFailureEvent(in.RoomID, err, ""))
		}
	case protocol.Unsubscribe:
		h.deliverer.Unsubscribe(connID, in.RoomID)
	case protocol.Resync:
		if err := h.deliverer.Resync(ctx, connID, in.RoomID); err != nil {
			conn.Send(event.NewFailureEvent(in.RoomID, err, ""))
		}
	default:
		h.applyMutation(ctx, conn, in)
	}
}

func (h *WSHandler) applyMutation(ctx context.Context, conn registry.Connector, in protocol.Inbound) {
	m, err := marshaller.ToMutation(in, conn.GetUserID(), conn.GetID())
	if err != nil {
		conn.Send(event.NewFailureEvent(in.RoomID, err, in.IdempotencyKey))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.applyTimeout)
	defer cancel()

	ev, err := h.deliverer.Apply(ctx, m)
	switch {
	case errors.Is(err, service.ErrCoalesced):
	case err != nil:
		conn.Send(event.NewFailureEvent(in.RoomID, err, in.IdempotencyKey))
	case ev.Replayed():
		// [REPLAY] Not broadcast again; only the sender learns the outcome.
		conn.Send(ev)
	}
}

func (h *WSHandler) writePump(ws *websocket.Conn, conn registry.Connector) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Ready():
			for _, ev := range conn.Drain(h.writeBatch) {
				data, err := marshaller.Marshal(ev, conn.GetID())
				if err != nil {
					h.logger.Error("WS_MARSHAL_FAILED", "conn_id", conn.GetID(), "kind", ev.GetKind().String(), "err", err)
					continue
				}
				_ = ws.SetWriteDeadline(time.Now().Add(h.writeWait))
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					h.logger.Debug("WS_WRITE_FAILED", "conn_id", conn.GetID(), "err", err)
					conn.Close()
					return
				}
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}

		case <-conn.Done():
			// [GOODBYE] Best effort; the peer may already be gone.
			if data, err := marshaller.Marshal(event.NewDisconnectedEvent("connection closed", "CLOSED"), uuid.Nil); err == nil {
				_ = ws.SetWriteDeadline(time.Now().Add(h.writeWait))
				_ = ws.WriteMessage(websocket.TextMessage, data)
			}
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeWait))
			return
		}
	}
}

func splitRooms(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
