package publish

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/airline-simulator/internal/logging"
)

// HubMetrics receives publisher counters. *observability.SimCollector
// satisfies it.
type HubMetrics interface {
	IncPublished()
	IncDropped()
	SetSubscribers(n int)
}

// Hub fans snapshots out to subscribers. Every queue in the hub holds a single
// slot and a newer snapshot replaces an unconsumed one, so neither Publish
// nor the fan-out ever waits on a slow reader.
type Hub struct {
	inbox chan Snapshot
	// pubMu serialises the drain-and-replace in Publish.
	pubMu sync.Mutex

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	latest atomic.Pointer[Snapshot]

	log     logging.Logger
	metrics HubMetrics
}

// HubOption customises Hub construction.
type HubOption func(*Hub)

// WithHubMetrics attaches a metrics sink.
func WithHubMetrics(m HubMetrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub builds an idle hub; call Run to start delivery.
func NewHub(log logging.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	h := &Hub{
		inbox: make(chan Snapshot, 1),
		subs:  make(map[uint64]*Subscription),
		log:   log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish hands snap to the hub without blocking.
func (h *Hub) Publish(snap Snapshot) {
	s := snap
	h.latest.Store(&s)
	if h.metrics != nil {
		h.metrics.IncPublished()
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	if replaceLatest(h.inbox, snap) && h.metrics != nil {
		h.metrics.IncDropped()
	}
}

// Latest returns the most recently published snapshot.
func (h *Hub) Latest() (Snapshot, bool) {
	p := h.latest.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}

// Run delivers snapshots until ctx is done, then closes every subscription.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-h.inbox:
			h.fanOut(snap)
		}
	}
}

func (h *Hub) fanOut(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		if replaceLatest(sub.ch, snap) && h.metrics != nil {
			h.metrics.IncDropped()
		}
	}
}

// Subscribe registers an in-process consumer. The newest snapshot, if any,
// is queued immediately.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{id: h.nextID, hub: h, ch: make(chan Snapshot, 1)}
	if h.closed {
		close(sub.ch)
		return sub
	}
	if snap, ok := h.Latest(); ok {
		sub.ch <- snap
	}
	h.subs[sub.id] = sub
	h.setSubscribersLocked()
	return sub
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
	h.setSubscribersLocked()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.setSubscribersLocked()
}

func (h *Hub) setSubscribersLocked() {
	if h.metrics != nil {
		h.metrics.SetSubscribers(len(h.subs))
	}
}

// replaceLatest puts snap into a one-slot channel, discarding whatever was
// waiting. It reports whether a snapshot was discarded. Callers must be the
// only sender on ch.
func replaceLatest(ch chan Snapshot, snap Snapshot) bool {
	select {
	case ch <- snap:
		return false
	default:
	}
	dropped := false
	select {
	case <-ch:
		dropped = true
	default:
	}
	select {
	case ch <- snap:
	default:
	}
	return dropped
}

// Subscription is one consumer's single-slot mailbox.
type Subscription struct {
	id   uint64
	hub  *Hub
	ch   chan Snapshot
	once sync.Once
}

// C yields snapshots. It is closed when the subscription or hub shuts down.
func (s *Subscription) C() <-chan Snapshot { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}
