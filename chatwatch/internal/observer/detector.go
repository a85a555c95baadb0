// Package observer is the change detector. It captures a baseline of the
// open conversation, then reports new messages through an injected
// MutationObserver or, when that cannot be installed, by polling the
// message region.
package observer

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/fault"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/metrics"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/target"
)

//go:embed observer.js
var observerJS string

// BindingName is the page-side function the injected observer calls.
const BindingName = "__chatwatch_sink"

// maxReadFailures is how many consecutive region reads may fail before
// polling gives up and hands the error to the supervisor.
const maxReadFailures = 3

// Mode is the active detection mechanism of a watch.
type Mode string

const (
	ModeIdle Mode = "idle"
	ModePush Mode = "push"
	ModePoll Mode = "poll"
)

// Config configures a Detector.
type Config struct {
	Surface    surface.Surface
	Emit       func(event.Event)
	Location   string // the watched channel
	Classifier *target.Classifier
	Selectors  Selectors
	Filter     *Filter

	PollInterval      time.Duration // default 3s
	Grace             time.Duration // payloads this soon after install are ignored
	AuthCheckInterval time.Duration // default 5s
	ForcePolling      bool

	// Alive reports whether the rendering engine is still connected. Nil
	// means always.
	Alive func() bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.Grace < 0 {
		c.Grace = 0
	}
	if c.AuthCheckInterval <= 0 {
		c.AuthCheckInterval = 5 * time.Second
	}
	if c.Emit == nil {
		c.Emit = func(event.Event) {}
	}
	if c.Alive == nil {
		c.Alive = func() bool { return true }
	}
	c.Selectors = c.Selectors.withDefaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Detector watches one conversation. It is single use: create a new one
// for every watch.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	mode Mode

	// Owned by the Watch goroutine.
	floor       string
	baselined   bool
	installedAt time.Time
	failures    int
}

// New creates a Detector.
func New(cfg Config) (*Detector, error) {
	cfg.defaults()
	if cfg.Surface == nil || cfg.Classifier == nil {
		return nil, fmt.Errorf("observer: surface and classifier are required")
	}
	if cfg.Filter == nil {
		f, err := NewFilter(nil, nil, 0)
		if err != nil {
			return nil, err
		}
		cfg.Filter = f
	}
	return &Detector{cfg: cfg, logger: cfg.Logger, mode: ModeIdle}, nil
}

// Mode returns the active mechanism. It is idle before installation has
// been attempted and after Watch returns.
func (d *Detector) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *Detector) setMode(m Mode) {
	d.mu.Lock()
	d.mode = m
	d.mu.Unlock()
	if m == ModeIdle {
		metrics.SetMode("")
	} else {
		metrics.SetMode(string(m))
	}
}

type payload struct {
	data string
	at   time.Time
}

// Watch runs until ctx is done or the session is lost. It returns
// fault.ErrSessionLost when the engine disconnects,
// fault.ErrSessionExpired when the page lands on the login view and
// fault.ErrTargetInvalid when it leaves the watched conversation.
//
// In push mode the page observer is checked on every location check; a
// reload drops it, so it is re-installed over a fresh baseline.
func (d *Detector) Watch(ctx context.Context) error {
	defer d.setMode(ModeIdle)

	if err := d.baseline(ctx); err != nil {
		return err
	}
	payloads, pollC, stop := d.arm(ctx)
	defer func() { stop() }()

	check := time.NewTicker(d.cfg.AuthCheckInterval)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-payloads:
			d.onPayload(p)
		case <-pollC:
			if err := d.poll(ctx); err != nil {
				return err
			}
		case <-check.C:
			if err := d.checkLocation(); err != nil {
				return err
			}
			if d.Mode() != ModePush || d.observerPresent(ctx) {
				continue
			}
			d.logger.Warn("observer: page observer gone, reinstalling", "url", d.cfg.Location)
			metrics.ObserverReinstalls.Inc()
			stop()
			stop = func() {}
			if err := d.baseline(ctx); err != nil {
				return err
			}
			payloads, pollC, stop = d.arm(ctx)
		}
	}
}

func (d *Detector) baseline(ctx context.Context) error {
	markup, err := d.cfg.Surface.HTML(ctx, d.cfg.Selectors.Region)
	if err != nil {
		return fmt.Errorf("observer: baseline: %w", err)
	}
	d.setBaseline(markup)
	return nil
}

// arm installs the push observer, or starts polling when that fails.
// Exactly one of the returned channels is non-nil; stop releases it.
func (d *Detector) arm(ctx context.Context) (<-chan payload, <-chan time.Time, func()) {
	payloads, stop, err := d.install(ctx)
	if err == nil {
		d.setMode(ModePush)
		d.logger.Info("observer: push observer installed", "url", d.cfg.Location)
		return payloads, nil, stop
	}
	d.logger.Warn("observer: push observer unavailable, polling", "url", d.cfg.Location, "error", err)
	d.cfg.Emit(event.Status(event.LevelWarn,
		fmt.Sprintf("push observer unavailable, polling every %s", d.cfg.PollInterval)))
	d.setMode(ModePoll)
	poll := time.NewTicker(d.cfg.PollInterval)
	return nil, poll.C, poll.Stop
}

const presentJS = `() => !!window.__chatwatchObserver`

// observerPresent reports whether the injected observer still exists in
// the page. Only an explicit false counts as gone; a failed or empty
// answer is left to the location check.
func (d *Detector) observerPresent(ctx context.Context) bool {
	raw, err := d.cfg.Surface.Eval(ctx, presentJS)
	if err != nil {
		d.logger.Debug("observer: presence check", "error", err)
		return true
	}
	var present *bool
	if err := json.Unmarshal(raw, &present); err != nil || present == nil {
		return true
	}
	return *present
}

// install registers the page binding and injects the observer script. On
// failure the binding is removed again so nothing stays attached.
func (d *Detector) install(ctx context.Context) (<-chan payload, func(), error) {
	if d.cfg.ForcePolling {
		return nil, nil, fmt.Errorf("%w: polling forced by configuration", fault.ErrObserverInstall)
	}
	ch := make(chan payload, 256)
	unbind, err := d.cfg.Surface.ExposeBinding(ctx, BindingName, func(data string) {
		select {
		case ch <- payload{data: data, at: time.Now()}:
		default:
			d.logger.Warn("observer: payload buffer full, dropping", "url", d.cfg.Location)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: expose binding: %w", fault.ErrObserverInstall, err)
	}
	sel := d.cfg.Selectors
	if _, err := d.cfg.Surface.Eval(ctx, observerJS, sel.Region, sel.Item, sel.Author, sel.Text, BindingName); err != nil {
		unbind()
		return nil, nil, fmt.Errorf("%w: inject: %w", fault.ErrObserverInstall, err)
	}
	d.installedAt = time.Now()

	stop := func() {
		unbind()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if _, err := d.cfg.Surface.Eval(dctx, disconnectJS); err != nil {
			d.logger.Debug("observer: disconnect", "error", err)
		}
	}
	return ch, stop, nil
}

const disconnectJS = `() => {
  if (window.__chatwatchObserver) {
    window.__chatwatchObserver.disconnect();
    delete window.__chatwatchObserver;
  }
}`

func (d *Detector) onPayload(p payload) {
	if p.at.Before(d.installedAt.Add(d.cfg.Grace)) {
		d.logger.Debug("observer: mutation inside grace period ignored")
		return
	}
	var msg struct {
		From string `json:"from"`
		Text string `json:"text"`
		TS   int64  `json:"ts"`
	}
	if err := json.Unmarshal([]byte(p.data), &msg); err != nil {
		d.logger.Warn("observer: parse binding payload", "error", err)
		return
	}
	text, ok := d.cfg.Filter.Accept(msg.Text)
	if !ok {
		d.logger.Debug("observer: noise discarded", "text", msg.Text)
		return
	}
	d.offer(d.cfg.Filter.Normalize(msg.From), text)
}

func (d *Detector) poll(ctx context.Context) error {
	markup, err := d.cfg.Surface.HTML(ctx, d.cfg.Selectors.Region)
	if err != nil {
		d.failures++
		if d.failures >= maxReadFailures {
			return fmt.Errorf("observer: read region: %w", err)
		}
		d.logger.Warn("observer: read region", "attempt", d.failures, "error", err)
		return nil
	}
	d.failures = 0
	if !d.baselined {
		d.setBaseline(markup)
		return nil
	}
	if from, text, ok := LastMessage(markup, d.cfg.Selectors, d.cfg.Filter); ok {
		d.offer(from, text)
	}
	return nil
}

// setBaseline records the newest existing message as the suppression
// floor. An empty region means the list has not rendered yet; the first
// non-empty read becomes the baseline instead.
func (d *Detector) setBaseline(markup string) {
	if strings.TrimSpace(markup) == "" {
		d.logger.Debug("observer: message region not rendered yet", "url", d.cfg.Location)
		return
	}
	d.baselined = true
	if from, text, ok := LastMessage(markup, d.cfg.Selectors, d.cfg.Filter); ok {
		d.floor = event.Fingerprint(from, text)
	}
	d.logger.Debug("observer: baseline", "url", d.cfg.Location, "floor", d.floor)
}

// offer emits an accepted message unless it repeats the previous one.
func (d *Detector) offer(from, text string) {
	fp := event.Fingerprint(from, text)
	if fp == d.floor {
		return
	}
	d.floor = fp
	d.cfg.Emit(event.Message(from, text))
}

func (d *Detector) checkLocation() error {
	if !d.cfg.Alive() {
		return fmt.Errorf("%w: engine disconnected while watching %s", fault.ErrSessionLost, d.cfg.Location)
	}
	loc := d.cfg.Surface.Location()
	if d.cfg.Classifier.LoginLocation(loc) {
		return fmt.Errorf("%w: redirected to %s", fault.ErrSessionExpired, loc)
	}
	if !d.cfg.Classifier.SameChannel(loc, d.cfg.Location) {
		return fmt.Errorf("%w: conversation left for %s", fault.ErrTargetInvalid, loc)
	}
	return nil
}
