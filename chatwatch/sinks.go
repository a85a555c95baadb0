package chatwatch

import (
	"io"
	"log/slog"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/sink"
)

// Sink is the output interface for chatwatch events.
type Sink = sink.Sink

// EventFunc is called for each event delivered to a callback sink.
type EventFunc = sink.EventFunc

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, retries int, backoff time.Duration, logger *slog.Logger) Sink {
	return sink.NewWebhook(url,
		sink.WithWebhookRetries(retries),
		sink.WithWebhookBackoff(backoff),
		sink.WithWebhookLogger(logger))
}

// NewNATSSink creates a sink publishing on <prefix>.status and
// <prefix>.message.
func NewNATSSink(url, prefix string, logger *slog.Logger) (Sink, error) {
	return sink.NewNATS(url, prefix, logger)
}

// NewCallbackSink creates an in-process sink receiving every event.
func NewCallbackSink(fn EventFunc) Sink {
	return sink.NewCallback(fn)
}

// NewMessageSink creates an in-process sink receiving only new messages.
func NewMessageSink(fn EventFunc) Sink {
	return sink.NewMessageCallback(fn)
}

// OnlyType restricts s to events of type t.
func OnlyType(t event.Type, s Sink) Sink {
	return sink.Only(t, s)
}
