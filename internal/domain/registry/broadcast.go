package registry

import (
	"log/slog"
	"sync/atomic"

	"github.com/loopfund/community-live/internal/domain/event"
)

// Emitter receives canonical events as they are committed.
type Emitter interface {
	Emit(ev event.Eventer)
}

// Broadcaster is the fan-out stage: it resolves a room's subscribers through
// the Hub and pushes the event to each of them without blocking.
type Broadcaster struct {
	hub    *Hub
	logger *slog.Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewBroadcaster(hub *Hub, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{hub: hub, logger: logger}
}

// Broadcast pushes ev to every live subscriber of its room.
func (b *Broadcaster) Broadcast(ev event.Eventer) Delivery {
	d := b.hub.deliver(ev)

	b.delivered.Add(uint64(d.Delivered))
	b.dropped.Add(uint64(d.Dropped))

	if d.Dropped > 0 && !event.IsEphemeral(ev) {
		b.logger.Debug("[FANOUT] event rejected by closed connections",
			"room_id", ev.GetRoomID(),
			"kind", ev.GetKind().String(),
			"seq", ev.GetSeq(),
			"dropped", d.Dropped,
		)
	}
	return d
}

// Emit implements Emitter.
func (b *Broadcaster) Emit(ev event.Eventer) {
	b.Broadcast(ev)
}

// Totals reports lifetime delivery counters.
func (b *Broadcaster) Totals() (delivered, dropped uint64) {
	return b.delivered.Load(), b.dropped.Load()
}
