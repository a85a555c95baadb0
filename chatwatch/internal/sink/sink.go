package sink

import (
	"context"
	"log/slog"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/metrics"
)

// Sink is an output backend. Implementations deliver events to stdout, a
// webhook, an in-process callback or the journal.
type Sink interface {
	Deliver(ctx context.Context, e event.Event) error
	Close() error
}

// Forward drains live events from hub into s until ctx is done. A failed
// delivery is logged and counted; it never stops the stream. When the hub
// drops the forwarder for falling behind, it reattaches and logs the gap.
func Forward(ctx context.Context, hub *Hub, s Sink, name string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		sub := hub.SubscribeLive(DefaultBuffer)
		dropped := drain(ctx, sub, s, name, logger)
		sub.Close()
		if !dropped || ctx.Err() != nil {
			return
		}
		logger.Warn("sink: forwarder fell behind, events lost", "sink", name)
	}
}

// drain reports true when the subscription was closed by the hub.
func drain(ctx context.Context, sub *Subscription, s Sink, name string, logger *slog.Logger) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-sub.Events():
			if !ok {
				return ctx.Err() == nil && !sub.hub.isClosed()
			}
			if err := s.Deliver(ctx, e); err != nil {
				metrics.SinkErrors.WithLabelValues(name).Inc()
				logger.Warn("sink: deliver failed", "sink", name, "error", err)
			}
		}
	}
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
