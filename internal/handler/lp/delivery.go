package lp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/loopfund/community-live/config"
	httpsrv "github.com/loopfund/community-live/infra/server/http"
	"github.com/loopfund/community-live/infra/server/http/interceptors"
	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/domain/registry"
	"github.com/loopfund/community-live/internal/handler/marshaller"
	"github.com/loopfund/community-live/internal/handler/rest"
	"github.com/loopfund/community-live/internal/service"
	"github.com/loopfund/community-live/pkg/protocol"
)

var _ httpsrv.Route = (*LPHandler)(nil)

// LPHandler is the long-poll fallback for clients that cannot keep a
// websocket open. A session owns one registered connector; it expires when
// the client stops polling for longer than poll.session_ttl.
type LPHandler struct {
	deliverer service.Deliverer
	identity  service.IdentityProvider
	logger    *slog.Logger
	sessions  *expirable.LRU[uuid.UUID, registry.Connector]

	maxWait  time.Duration
	maxBatch int
}

type openRequest struct {
	Rooms []string `json:"rooms"`
}

type openResponse struct {
	ConnectionID string                           `json:"connection_id"`
	Failures     map[string]protocol.ErrorPayload `json:"failures,omitempty"`
}

func NewLPHandler(cfg *config.Config, deliverer service.Deliverer, identity service.IdentityProvider, logger *slog.Logger) *LPHandler {
	h := &LPHandler{
		deliverer: deliverer,
		identity:  identity,
		logger:    logger,
		maxWait:   cfg.Poll.MaxWait,
		maxBatch:  cfg.Poll.MaxBatch,
	}
	// [EXPIRY] Evicted or expired sessions release their registry slot.
	h.sessions = expirable.NewLRU[uuid.UUID, registry.Connector](cfg.Poll.MaxSessions,
		func(id uuid.UUID, _ registry.Connector) {
			deliverer.Disconnect(id)
		}, cfg.Poll.SessionTTL)
	return h
}

func (h *LPHandler) Register(r chi.Router) {
	r.Route("/v1/poll/sessions", func(r chi.Router) {
		r.Use(interceptors.NewAuthMiddleware(h.identity))
		r.Post("/", h.Open)
		r.Get("/{connID}", h.Poll)
		r.Post("/{connID}/frames", h.Frame)
		r.Delete("/{connID}", h.Close)
	})
}

// Open registers a polling connection and subscribes it to the requested rooms.
func (h *LPHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID, _ := interceptors.UserFromContext(r.Context())

	var req openRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed body", http.StatusBadRequest)
			return
		}
	}

	// [DETACHED_CONTEXT] The session outlives this request.
	conn := h.deliverer.Connect(context.Background(), userID, registry.ConnectMetadata{
		Transport: "long_poll",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	h.sessions.Add(conn.GetID(), conn)

	resp := openResponse{ConnectionID: conn.GetID().String()}
	for _, roomID := range req.Rooms {
		if err := h.deliverer.Subscribe(r.Context(), conn.GetID(), roomID); err != nil {
			if resp.Failures == nil {
				resp.Failures = make(map[string]protocol.ErrorPayload)
			}
			resp.Failures[roomID] = rest.ErrorBody(err, "")
		}
	}

	h.logger.Info("POLL_SESSION_OPENED", "user_id", userID, "conn_id", conn.GetID())
	rest.WriteJSON(w, http.StatusCreated, resp)
}

// Poll holds the request until events are queued or the wait elapses.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.session(w, r)
	if !ok {
		return
	}

	wait := h.maxWait
	if v, err := time.ParseDuration(r.URL.Query().Get("wait")); err == nil && v > 0 && v < wait {
		wait = v
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-r.Context().Done():
		return
	case <-conn.Done():
		http.Error(w, "session closed", http.StatusGone)
		return
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
		return
	case <-conn.Ready():
	}

	// [BATCHING] Everything queued so far, up to the batch limit.
	events := conn.Drain(h.maxBatch)
	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	data, err := marshaller.MarshalBatch(events, conn.GetID())
	if err != nil {
		h.logger.Error("POLL_MARSHAL_FAILED", "conn_id", conn.GetID(), "err", err)
		http.Error(w, "marshal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Dropped-Events", strconv.FormatUint(conn.Dropped(), 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Frame accepts one inbound frame for the session. Mutation outcomes are
// delivered through the poll stream; errors are returned directly.
func (h *LPHandler) Frame(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.session(w, r)
	if !ok {
		return
	}

	var in protocol.Inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "malformed frame", http.StatusBadRequest)
		return
	}

	var err error
	switch in.Kind {
	case protocol.Subscribe:
		err = h.deliverer.Subscribe(r.Context(), conn.GetID(), in.RoomID)
	case protocol.Unsubscribe:
		h.deliverer.Unsubscribe(conn.GetID(), in.RoomID)
	case protocol.Resync:
		err = h.deliverer.Resync(r.Context(), conn.GetID(), in.RoomID)
	default:
		m, mErr := marshaller.ToMutation(in, conn.GetUserID(), conn.GetID())
		if mErr != nil {
			err = mErr
			break
		}
		var ev *event.Canonical
		if ev, err = h.deliverer.Apply(r.Context(), m); err == nil && ev.Replayed() {
			conn.Send(ev)
		}
	}

	if err != nil && !errors.Is(err, service.ErrCoalesced) {
		rest.WriteError(w, err, in.IdempotencyKey)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *LPHandler) Close(w http.ResponseWriter, r *http.Request) {
	conn, ok := h.session(w, r)
	if !ok {
		return
	}
	// Remove triggers the eviction callback which deregisters the connector.
	h.sessions.Remove(conn.GetID())
	w.WriteHeader(http.StatusNoContent)
}

// session resolves the path session for the caller and refreshes its TTL.
func (h *LPHandler) session(w http.ResponseWriter, r *http.Request) (registry.Connector, bool) {
	userID, _ := interceptors.UserFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "connID"))
	if err != nil {
		http.Error(w, "invalid connection id", http.StatusBadRequest)
		return nil, false
	}
	conn, ok := h.sessions.Get(id)
	if !ok || conn.GetUserID() != userID {
		http.Error(w, "unknown session", http.StatusNotFound)
		return nil, false
	}
	h.sessions.Add(id, conn)
	return conn, true
}
