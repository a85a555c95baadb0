// Package sink is the status/event stream. The Hub is the single ordered
// publish point; forwarders (stdout, webhook, callback, journal) drain it.
package sink

import (
	"log/slog"
	"sync"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/metrics"
)

// DefaultReplay is the number of recent events handed to late subscribers.
const DefaultReplay = 50

// DefaultBuffer is the live buffer of a subscription beyond its replay.
const DefaultBuffer = 256

// Hub fans events out to subscribers in emission order. Emit never blocks:
// a subscriber whose buffer is full is disconnected instead of stalling the
// producer or seeing a reordered stream.
type Hub struct {
	mu     sync.Mutex
	ring   []event.Event
	next   int
	full   bool
	subs   map[*Subscription]struct{}
	closed bool
	logger *slog.Logger
}

// NewHub creates a Hub keeping the last replay events (DefaultReplay if <= 0).
func NewHub(replay int, logger *slog.Logger) *Hub {
	if replay <= 0 {
		replay = DefaultReplay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		ring:   make([]event.Event, replay),
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription is one subscriber's ordered view of the stream. Its channel
// is closed when the subscriber is dropped, unsubscribes or the hub closes.
type Subscription struct {
	hub *Hub
	ch  chan event.Event
}

// Events returns the subscriber's channel.
func (s *Subscription) Events() <-chan event.Event { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.detachLocked(s)
}

// Emit publishes e to the replay ring and every subscriber.
func (h *Hub) Emit(e event.Event) {
	metrics.Events.WithLabelValues(string(e.Type), string(e.Level)).Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = e
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
	for s := range h.subs {
		select {
		case s.ch <- e:
		default:
			h.logger.Warn("sink: subscriber too slow, dropping", "buffer", cap(s.ch))
			metrics.DroppedSubscribers.Inc()
			h.detachLocked(s)
		}
	}
}

// Subscribe attaches a subscriber whose channel starts with the replay
// followed by live events, with no gap and no duplicates between them.
func (h *Hub) Subscribe(buffer int) *Subscription {
	return h.subscribe(buffer, true)
}

// SubscribeLive attaches a subscriber that only sees events emitted after
// the call.
func (h *Hub) SubscribeLive(buffer int) *Subscription {
	return h.subscribe(buffer, false)
}

func (h *Hub) subscribe(buffer int, replay bool) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var recent []event.Event
	if replay {
		recent = h.recentLocked()
	}
	s := &Subscription{hub: h, ch: make(chan event.Event, len(recent)+buffer)}
	for _, e := range recent {
		s.ch <- e
	}
	if h.closed {
		close(s.ch)
		return s
	}
	h.subs[s] = struct{}{}
	metrics.Subscribers.Inc()
	return s
}

// Recent returns a copy of the replay, oldest first.
func (h *Hub) Recent() []event.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recentLocked()
}

// Close disconnects every subscriber. Events emitted afterwards still reach
// the replay ring.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		h.detachLocked(s)
	}
}

func (h *Hub) recentLocked() []event.Event {
	if !h.full {
		return append([]event.Event(nil), h.ring[:h.next]...)
	}
	out := make([]event.Event, 0, len(h.ring))
	out = append(out, h.ring[h.next:]...)
	return append(out, h.ring[:h.next]...)
}

func (h *Hub) detachLocked(s *Subscription) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
	metrics.Subscribers.Dec()
}

// Info emits an info status.
func (h *Hub) Info(msg string) { h.Emit(event.Status(event.LevelInfo, msg)) }

// Warn emits a warning status.
func (h *Hub) Warn(msg string) { h.Emit(event.Status(event.LevelWarn, msg)) }

// Error emits an error status.
func (h *Hub) Error(msg string) { h.Emit(event.Status(event.LevelError, msg)) }
