package store

import (
	"context"
	"sync"
	"time"

	"github.com/signalsfoundry/airline-simulator/internal/logging"
)

// DropRecorder counts write-backs discarded because the queue was full.
type DropRecorder interface {
	IncStoreWriteDropped()
}

type writeOp struct {
	aircraftID string
	routeID    string
	last, next time.Time
}

// AsyncWriter queues tick-time departure write-backs and applies them on its own
// goroutine so the tick loop never waits on storage I/O. The queue is
// bounded; when it is full the write is dropped with a warning.
type AsyncWriter struct {
	store   Store
	queue   chan writeOp
	log     logging.Logger
	drops   DropRecorder
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncWriter starts a writer over s with room for size pending writes.
// drops may be nil.
func NewAsyncWriter(s Store, size int, log logging.Logger, drops DropRecorder) *AsyncWriter {
	if size <= 0 {
		size = 256
	}
	if log == nil {
		log = logging.Noop()
	}
	w := &AsyncWriter{
		store:   s,
		queue:   make(chan writeOp, size),
		log:     log,
		drops:   drops,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// SetNextDeparture queues a departure timestamp update.
func (w *AsyncWriter) SetNextDeparture(aircraftID, routeID string, last, next time.Time) {
	w.enqueue(writeOp{aircraftID: aircraftID, routeID: routeID, last: last, next: next})
}

func (w *AsyncWriter) enqueue(op writeOp) {
	select {
	case w.queue <- op:
	default:
		w.log.Warn(context.Background(), "store write queue full; dropping write-back",
			logging.String("aircraft_id", op.aircraftID),
			logging.String("route_id", op.routeID),
		)
		if w.drops != nil {
			w.drops.IncStoreWriteDropped()
		}
	}
}

func (w *AsyncWriter) loop() {
	defer close(w.done)
	for op := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := w.store.SetNextDeparture(ctx, op.aircraftID, op.routeID, op.last, op.next)
		cancel()
		if err != nil {
			w.log.Warn(context.Background(), "store write-back failed",
				logging.String("aircraft_id", op.aircraftID),
				logging.String("route_id", op.routeID),
				logging.Err(err),
			)
		}
	}
}

// Close stops accepting writes and waits for queued ones to drain. No
// enqueue may happen after Close.
func (w *AsyncWriter) Close() {
	w.closeOnce.Do(func() { close(w.queue) })
	<-w.done
}
