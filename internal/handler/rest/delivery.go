package rest

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/loopfund/community-live/config"
	httpsrv "github.com/loopfund/community-live/infra/server/http"
	"github.com/loopfund/community-live/infra/server/http/interceptors"
	"github.com/loopfund/community-live/internal/domain/model"
	"github.com/loopfund/community-live/internal/handler/marshaller"
	"github.com/loopfund/community-live/internal/service"
	"github.com/loopfund/community-live/pkg/protocol"
)

var _ httpsrv.Route = (*RESTHandler)(nil)

// RESTHandler serves request/response access to the live service: the
// mutation endpoint used by non-realtime callers, room reads, and the
// internal room lifecycle hooks.
type RESTHandler struct {
	deliverer     service.Deliverer
	identity      service.IdentityProvider
	logger        *slog.Logger
	timeout       time.Duration
	internalToken string
}

type roomRequest struct {
	Kind    model.RoomKind `json:"kind"`
	Members []string       `json:"members"`
}

func NewRESTHandler(cfg *config.Config, deliverer service.Deliverer, identity service.IdentityProvider, logger *slog.Logger) *RESTHandler {
	return &RESTHandler{
		deliverer:     deliverer,
		identity:      identity,
		logger:        logger,
		timeout:       cfg.HTTP.WriteTimeout,
		internalToken: cfg.HTTP.InternalToken,
	}
}

func (h *RESTHandler) Register(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/v1/rooms/{roomID}", func(r chi.Router) {
		r.Use(middleware.Timeout(h.timeout))
		r.Use(interceptors.NewAuthMiddleware(h.identity))
		r.Post("/mutations", h.Mutate)
		r.Get("/snapshot", h.Snapshot)
		r.Get("/online", h.Online)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.Timeout(h.timeout))
		r.Use(interceptors.NewInternalGuard(h.internalToken))
		r.Put("/rooms/{roomID}", h.PutRoom)
		r.Delete("/rooms/{roomID}", h.DeleteRoom)
		r.Get("/stats", h.Stats)
	})
}

func (h *RESTHandler) Health(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Mutate applies one mutation on behalf of the caller. The resulting event
// is broadcast to live subscribers and returned in the response.
func (h *RESTHandler) Mutate(w http.ResponseWriter, r *http.Request) {
	userID, _ := interceptors.UserFromContext(r.Context())

	var in protocol.Inbound
	if err := decode(r, &in); err != nil {
		WriteError(w, err, "")
		return
	}
	in.RoomID = chi.URLParam(r, "roomID")

	m, err := marshaller.ToMutation(in, userID, uuid.Nil)
	if err != nil {
		WriteError(w, err, in.IdempotencyKey)
		return
	}
	ev, err := h.deliverer.Apply(r.Context(), m)
	switch {
	case errors.Is(err, service.ErrCoalesced):
		w.WriteHeader(http.StatusNoContent)
		return
	case err != nil:
		WriteError(w, err, in.IdempotencyKey)
		return
	}

	out, err := marshaller.ToEvent(ev, uuid.Nil)
	if err != nil {
		WriteError(w, err, in.IdempotencyKey)
		return
	}
	// The caller is the origin here; echo its key.
	out.IdempotencyKey = ev.IdempotencyKey
	out.Replayed = ev.Replayed()

	status := http.StatusCreated
	if ev.Replayed() {
		status = http.StatusOK
	}
	WriteJSON(w, status, out)
}

func (h *RESTHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	userID, _ := interceptors.UserFromContext(r.Context())
	snap, err := h.deliverer.Snapshot(r.Context(), chi.URLParam(r, "roomID"), userID)
	if err != nil {
		WriteError(w, err, "")
		return
	}
	WriteJSON(w, http.StatusOK, marshaller.MapSnapshot(snap))
}

func (h *RESTHandler) Online(w http.ResponseWriter, r *http.Request) {
	userID, _ := interceptors.UserFromContext(r.Context())
	roomID := chi.URLParam(r, "roomID")
	users, err := h.deliverer.Online(r.Context(), roomID, userID)
	if err != nil {
		WriteError(w, err, "")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"room_id": roomID, "online": users})
}

// PutRoom is called by the group service when a room is created or its
// membership changes.
func (h *RESTHandler) PutRoom(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err, "")
		return
	}
	room := &model.Room{ID: chi.URLParam(r, "roomID"), Kind: req.Kind, Members: req.Members}
	if err := h.deliverer.PutRoom(r.Context(), room); err != nil {
		WriteError(w, err, "")
		return
	}
	WriteJSON(w, http.StatusOK, room)
}

func (h *RESTHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if err := h.deliverer.DeleteRoom(r.Context(), roomID); err != nil {
		WriteError(w, err, "")
		return
	}
	h.logger.Info("ROOM_DELETED", "room_id", roomID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *RESTHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.deliverer.Stats())
}
