package sink

import (
	"context"
	"log/slog"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
)

// Router fans events out to all configured sinks. One sink error does not
// block the others; errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

func (r *Router) Deliver(ctx context.Context, e event.Event) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Deliver(ctx, e); err != nil {
			r.logger.Warn("sink: deliver failed", "type", e.Type, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Only wraps s so that it receives events of type t only.
func Only(t event.Type, s Sink) Sink {
	return &only{t: t, next: s}
}

type only struct {
	t    event.Type
	next Sink
}

func (o *only) Deliver(ctx context.Context, e event.Event) error {
	if e.Type != o.t {
		return nil
	}
	return o.next.Deliver(ctx, e)
}

func (o *only) Close() error { return o.next.Close() }
