// Package health probes an external endpoint (the tunnel's public address)
// on its own timer and reports only changes of its health.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/metrics"
)

// Config configures a Monitor.
type Config struct {
	URL      string
	Interval time.Duration // default 30s
	Timeout  time.Duration // default 10s
	Client   *http.Client
	Emit     func(event.Event)
	Logger   *slog.Logger
}

// Monitor polls Config.URL. A 2xx/3xx answer is healthy.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	known   bool
	healthy bool
	detail  string
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	if cfg.Emit == nil {
		cfg.Emit = func(event.Event) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Monitor{cfg: cfg, logger: cfg.Logger}
}

// Run probes immediately and then every Interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("health: monitor started", "url", m.cfg.URL, "interval", m.cfg.Interval)
	for {
		m.Check(ctx)
		select {
		case <-ctx.Done():
			m.logger.Info("health: monitor stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check probes once and emits a status if health changed. It returns the
// current health.
func (m *Monitor) Check(ctx context.Context) bool {
	ok, detail := m.probe(ctx)
	if ctx.Err() != nil {
		return m.Healthy()
	}

	m.mu.Lock()
	changed := !m.known || ok != m.healthy
	m.known, m.healthy, m.detail = true, ok, detail
	m.mu.Unlock()

	if ok {
		metrics.HealthUp.Set(1)
	} else {
		metrics.HealthUp.Set(0)
	}
	if !changed {
		return ok
	}
	if ok {
		m.cfg.Emit(event.Status(event.LevelInfo, "public endpoint reachable: "+m.cfg.URL))
	} else {
		m.logger.Warn("health: endpoint unreachable", "url", m.cfg.URL, "detail", detail)
		m.cfg.Emit(event.Status(event.LevelWarn, fmt.Sprintf("public endpoint unreachable: %s (%s)", m.cfg.URL, detail)))
	}
	return ok
}

// Healthy reports the last known health; false before the first probe.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.healthy
}

func (m *Monitor) probe(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.URL, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := m.cfg.Client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, resp.Status
	}
	return true, resp.Status
}
