package sink

import (
	"context"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
)

// EventFunc is called for each event, in process, without serialisation.
type EventFunc func(ctx context.Context, e event.Event) error

// Callback delivers events through a Go function call. It is how a host
// program embedding the watcher receives messages.
type Callback struct {
	fn   EventFunc
	only event.Type
}

// NewCallback creates a Callback sink. A nil fn discards everything.
func NewCallback(fn EventFunc) *Callback {
	return &Callback{fn: fn}
}

// NewMessageCallback creates a Callback that only sees message events.
func NewMessageCallback(fn EventFunc) *Callback {
	return &Callback{fn: fn, only: event.TypeMessage}
}

func (c *Callback) Deliver(ctx context.Context, e event.Event) error {
	if c.fn == nil || (c.only != "" && e.Type != c.only) {
		return nil
	}
	return c.fn(ctx, e)
}

func (c *Callback) Close() error { return nil }
