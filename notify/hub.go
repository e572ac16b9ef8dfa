package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"reviewdesk/logging"
)

const defaultBuffer = 64

// Hub broadcasts events to subscriptions. Publish never blocks: a
// subscriber whose buffer is full misses the event and is marked lagged.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	next   uint64
	closed bool
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]*Subscription),
		logger: logging.OrDefault(logger).With("component", "notify"),
	}
}

// Subscribe registers interest in one table. The caller must Unsubscribe.
func (h *Hub) Subscribe(table string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	sub := &Subscription{
		id:     h.next,
		table:  table,
		events: make(chan Event, buffer),
		hub:    h,
	}
	if h.closed {
		close(sub.events)
		sub.done = true
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers ev to every subscription on ev.Table. Resync events go
// to every subscription.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if ev.Op != OpResync && sub.table != ev.Table {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			if !sub.lagged.Swap(true) {
				h.logger.Warn("subscriber lagging, dropping events", "subscription", sub.id, "table", sub.table, "request_id", ev.ID)
			}
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later Subscribe calls get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		close(sub.events)
		sub.done = true
		delete(h.subs, id)
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.done {
		return
	}
	sub.done = true
	delete(h.subs, sub.id)
	close(sub.events)
}

// Subscription is a live registration with a Hub.
type Subscription struct {
	id     uint64
	table  string
	events chan Event
	lagged atomic.Bool
	hub    *Hub
	done   bool // guarded by hub.mu
}

// Events is closed after Unsubscribe or Hub.Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Lagged reports and clears whether events were dropped since the last call.
func (s *Subscription) Lagged() bool {
	return s.lagged.Swap(false)
}

// Unsubscribe is idempotent.
func (s *Subscription) Unsubscribe() {
	s.hub.remove(s)
}
