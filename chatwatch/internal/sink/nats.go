package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "chatwatch"

// NATS publishes every event as JSON on <prefix>.<type>, so consumers can
// subscribe to chatwatch.message alone or to chatwatch.> for everything.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

// NewNATS connects to url. The connection is retried in the background
// when the server is not reachable yet; events published meanwhile are
// buffered by the client.
func NewNATS(url, prefix string, logger *slog.Logger) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("chatwatch"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("sink: nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("sink: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("sink: nats connect: %w", err)
	}
	return &NATS{conn: conn, prefix: prefix}, nil
}

// Deliver publishes e.
func (n *NATS) Deliver(_ context.Context, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("sink: nats marshal: %w", err)
	}
	if err := n.conn.Publish(subjectFor(n.prefix, e.Type), data); err != nil {
		return fmt.Errorf("sink: nats publish: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the connection.
func (n *NATS) Close() error {
	var err error
	if n.conn.IsConnected() {
		err = n.conn.FlushTimeout(2 * time.Second)
	}
	n.conn.Close()
	if err != nil {
		return fmt.Errorf("sink: nats flush: %w", err)
	}
	return nil
}

func subjectFor(prefix string, t event.Type) string {
	return prefix + "." + string(t)
}
