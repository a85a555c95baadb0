// Package chatwatch watches one conversation of the Avito messenger in a
// driven browser and streams its new messages, together with the
// watcher's own status, to sinks.
//
// The watcher never gives up: every failure is reported once on the status
// stream and followed by a fresh browser session after a cooldown. Which
// conversation to watch is decided by a binding that an operator sets from
// the CLI, the HTTP API or the open browser window.
package chatwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/api"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/auth"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/binding"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/browser"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/config"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/diag"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/health"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/journal"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/observer"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/sink"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/supervisor"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/target"
)

// Binding is the persisted watch target.
type Binding = binding.Binding

// Status is a point-in-time view of the watcher.
type Status = supervisor.Status

// Subscription receives events from the watcher's stream.
type Subscription = sink.Subscription

// flushTimeout bounds how long sinks may keep delivering after stop.
const flushTimeout = 10 * time.Second

type namedSink struct {
	name string
	sink Sink
}

// Watcher is the top-level orchestrator. It owns the supervisor, the
// event hub, the sinks and the optional journal, health monitor and API.
type Watcher struct {
	cfg     *config.Config
	logger  *slog.Logger
	hub     *sink.Hub
	store   *binding.Store
	sup     *supervisor.Supervisor
	sinks   []namedSink
	journal *journal.Journal
	health  *health.Monitor
	api     *api.Server
}

// New creates a Watcher from configuration. Extra sinks (for example a
// callback into the host program) receive events alongside the configured
// ones.
func New(cfg *Config, logger *slog.Logger, extra ...Sink) (*Watcher, error) {
	return newWatcher(cfg, logger, nil, extra...)
}

// dialNATS connects a NATS sink. Tests replace it.
var dialNATS = func(url, prefix string, logger *slog.Logger) (Sink, error) {
	return sink.NewNATS(url, prefix, logger)
}

// newWatcher lets tests replace the browser launcher. Sinks built here are
// closed again when a later step fails; extra sinks stay with the caller.
func newWatcher(cfg *Config, logger *slog.Logger, launch surface.Launcher, extra ...Sink) (_ *Watcher, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var built []namedSink
	defer func() {
		if err == nil {
			return
		}
		for _, ns := range built {
			if cerr := ns.sink.Close(); cerr != nil {
				logger.Warn("chatwatch: close sink", "sink", ns.name, "error", cerr)
			}
		}
	}()

	cls, err := target.New(cfg.Origin, target.WithLoginPatterns(cfg.Auth.LoginPatterns))
	if err != nil {
		return nil, fmt.Errorf("chatwatch: %w", err)
	}
	filter, err := observer.NewFilter(cfg.Watch.Noise, cfg.Watch.NoisePatterns, cfg.Watch.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("chatwatch: %w", err)
	}

	w := &Watcher{
		cfg:    cfg,
		logger: logger,
		hub:    sink.NewHub(cfg.HTTP.Replay, logger),
		store:  binding.NewStore(cfg.BindFile, cls, logger),
	}

	if launch == nil {
		launch = browser.NewLauncher(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Headful:          !cfg.Browser.HeadlessMode(),
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			UserDataDir:      cfg.Browser.UserDataDir,
			Bin:              cfg.Browser.Bin,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			TitleSelector:    cfg.Browser.TitleSelector,
			NavigateTimeout:  cfg.Browser.NavigateTimeout,
			SettleDelay:      cfg.Browser.Settle(),
			CloseGrace:       cfg.Browser.CloseGrace,
			Logger:           logger,
		})
	}

	authenticator := auth.New(auth.Config{
		Classifier:         cls,
		Login:              cfg.Auth.Login,
		Password:           cfg.Auth.Password,
		CookiesPath:        cfg.Auth.CookiesFile,
		VerifyTimeout:      cfg.Auth.VerifyTimeout,
		InteractiveTimeout: cfg.Auth.InteractiveTimeout,
		CheckInterval:      cfg.Auth.CheckInterval,
		Emit:               w.hub.Emit,
		Logger:             logger,
	})

	w.sup, err = supervisor.New(supervisor.Config{
		Target:              cfg.Target,
		AutoBindOpenChannel: cfg.Supervisor.AutoBindOpenChannel,
		GenericTitles:       cfg.GenericTitles,
		ResolveRetry:        cfg.Supervisor.ResolveRetry,
		Cooldown:            cfg.Supervisor.Cooldown,
		Selectors:           cfg.Watch.Selectors,
		Filter:              filter,
		PollInterval:        cfg.Watch.PollInterval,
		Grace:               cfg.Watch.GracePeriod(),
		AuthCheckInterval:   cfg.Watch.AuthCheckInterval,
		ForcePolling:        cfg.Watch.ForcePolling,
		Logger:              logger,
	}, supervisor.Deps{
		Launch:     launch,
		Auth:       authenticator,
		Classifier: cls,
		Store:      w.store,
		Hub:        w.hub,
		Diag:       diag.New(cfg.DebugDir, logger),
	})
	if err != nil {
		return nil, err
	}

	for i, sc := range cfg.Sinks {
		var s Sink
		switch sc.Type {
		case "stdout":
			s = NewStdoutSink(os.Stdout)
		case "webhook":
			s = NewWebhookSink(sc.URL, sc.Retries, sc.Backoff, logger)
		case "nats":
			n, err := dialNATS(sc.URL, sc.SubjectPrefix, logger)
			if err != nil {
				return nil, err
			}
			s = n
		}
		if sc.Only != "" {
			s = OnlyType(event.Type(sc.Only), s)
		}
		built = append(built, namedSink{name: fmt.Sprintf("%s-%d", sc.Type, i), sink: s})
	}
	w.sinks = append(w.sinks, built...)
	for i, s := range extra {
		w.sinks = append(w.sinks, namedSink{name: fmt.Sprintf("extra-%d", i), sink: s})
	}

	if cfg.Journal.Path != "" {
		w.journal, err = journal.Open(cfg.Journal.Path, w.sup.RunID())
		if err != nil {
			return nil, err
		}
		built = append(built, namedSink{name: "journal", sink: w.journal})
		w.sinks = append(w.sinks, built[len(built)-1])
	}

	if cfg.Health.URL != "" {
		w.health = health.New(health.Config{
			URL:      cfg.Health.URL,
			Interval: cfg.Health.Interval,
			Timeout:  cfg.Health.Timeout,
			Emit:     w.hub.Emit,
			Logger:   logger,
		})
	}

	if cfg.HTTP.Addr != "" {
		var healthy func() bool
		if w.health != nil {
			healthy = w.health.Healthy
		}
		w.api = api.New(api.Config{
			Controller: w.sup,
			Hub:        w.hub,
			TokenHash:  cfg.HTTP.TokenHash,
			Healthy:    healthy,
			Logger:     logger,
		})
	}
	return w, nil
}

// Run watches until ctx is done. Sinks are given a bounded time to flush
// the final events before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	if w.journal != nil {
		if n, err := w.journal.Prune(ctx, time.Now().Add(-w.cfg.Journal.Retention)); err != nil {
			w.logger.Warn("chatwatch: journal prune", "error", err)
		} else if n > 0 {
			w.logger.Info("chatwatch: journal pruned", "rows", n)
		}
	}

	sinkCtx, cancelSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelSinks()
	var fwd sync.WaitGroup
	for _, ns := range w.sinks {
		fwd.Add(1)
		go func() {
			defer fwd.Done()
			sink.Forward(sinkCtx, w.hub, ns.sink, ns.name, w.logger)
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.sup.Run(gctx) })
	if w.health != nil {
		g.Go(func() error {
			w.health.Run(gctx)
			return nil
		})
	}
	if w.api != nil {
		srv := &http.Server{Addr: w.cfg.HTTP.Addr, Handler: w.api.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			w.logger.Info("chatwatch: api listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("chatwatch: api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	err := g.Wait()

	// Closing the hub ends every forwarder once its buffer is delivered.
	w.hub.Close()
	flushed := make(chan struct{})
	go func() {
		fwd.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(flushTimeout):
		w.logger.Warn("chatwatch: sinks did not flush in time")
		cancelSinks()
		<-flushed
	}
	for _, ns := range w.sinks {
		if cerr := ns.sink.Close(); cerr != nil {
			w.logger.Warn("chatwatch: close sink", "sink", ns.name, "error", cerr)
		}
	}
	return err
}

// Bind sets the watch target. An empty location binds whatever the
// browser currently shows.
func (w *Watcher) Bind(location string) (*Binding, error) { return w.sup.Bind(location) }

// Unbind clears the watch target.
func (w *Watcher) Unbind() error { return w.sup.Unbind() }

// Status returns the current state of the watcher.
func (w *Watcher) Status() Status { return w.sup.Status() }

// Subscribe returns a subscription replaying recent events and then
// following the live stream. Close it when done.
func (w *Watcher) Subscribe() *Subscription { return w.hub.Subscribe(sink.DefaultBuffer) }

// Handler returns the operator API handler, or nil when the API is
// disabled.
func (w *Watcher) Handler() http.Handler {
	if w.api == nil {
		return nil
	}
	return w.api.Handler()
}
