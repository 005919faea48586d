package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loopfund/community-live/internal/domain/event"
	"github.com/loopfund/community-live/internal/service"
)

var _ service.Exporter = (*AsyncExporter)(nil)

const publishTimeout = 5 * time.Second

// AsyncExporter decouples the room critical section from the broker: Export
// enqueues and returns, a single worker publishes in commit order.
type AsyncExporter struct {
	dispatcher EventDispatcher
	logger     *slog.Logger
	queue      chan *event.Canonical

	dropped atomic.Uint64
	stopCh  chan struct{}
	done    sync.WaitGroup
	once    sync.Once
}

func NewAsyncExporter(dispatcher EventDispatcher, size int, logger *slog.Logger) *AsyncExporter {
	if size <= 0 {
		size = 1024
	}
	return &AsyncExporter{
		dispatcher: dispatcher,
		logger:     logger,
		queue:      make(chan *event.Canonical, size),
		stopCh:     make(chan struct{}),
	}
}

// Export never blocks. When the queue is full the event is dropped for the
// bus only; local subscribers already have it.
func (e *AsyncExporter) Export(ev *event.Canonical) {
	if ev.GetRoutingKey() == "" {
		return
	}
	select {
	case e.queue <- ev:
	default:
		if n := e.dropped.Add(1); n == 1 || n%100 == 0 {
			e.logger.Warn("EXPORT_QUEUE_FULL", "room_id", ev.RoomID, "seq", ev.Seq, "dropped_total", n)
		}
	}
}

func (e *AsyncExporter) Start() {
	e.done.Add(1)
	go e.run()
}

func (e *AsyncExporter) run() {
	defer e.done.Done()
	for {
		select {
		case ev := <-e.queue:
			e.publish(ev)
		case <-e.stopCh:
			// [DRAIN] Flush what is already queued.
			for {
				select {
				case ev := <-e.queue:
					e.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *AsyncExporter) publish(ev *event.Canonical) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := e.dispatcher.Publish(ctx, ev); err != nil {
		e.logger.Error("EVENT_EXPORT_FAILED", "room_id", ev.RoomID, "seq", ev.Seq, "kind", ev.Kind.String(), "err", err)
	}
}

// Stop drains the queue and waits for the worker.
func (e *AsyncExporter) Stop(ctx context.Context) error {
	e.once.Do(func() { close(e.stopCh) })

	finished := make(chan struct{})
	go func() {
		e.done.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *AsyncExporter) Dropped() uint64 { return e.dropped.Load() }
