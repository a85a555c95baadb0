// Package supervisor owns the rendering session and drives the watcher
// through Starting, Authenticating, Resolving, Watching and Recovering.
// Every failure takes the same path: diagnostics, one error status,
// teardown, cooldown, fresh start.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/binding"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/diag"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/fault"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/metrics"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/observer"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/resolver"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/sink"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/target"
)

// State is a supervisor state.
type State string

const (
	StateStarting       State = "starting"
	StateAuthenticating State = "authenticating"
	StateResolving      State = "resolving"
	StateWatching       State = "watching"
	StateRecovering     State = "recovering"
	StateStopped        State = "stopped"
)

var allStates = []string{
	string(StateStarting), string(StateAuthenticating), string(StateResolving),
	string(StateWatching), string(StateRecovering), string(StateStopped),
}

// Config tunes the supervisor and the detectors it creates.
type Config struct {
	// Target is a statically configured conversation that always wins
	// over the bind file.
	Target string

	// AutoBindOpenChannel binds whatever conversation the browser already
	// shows when nothing else is bound.
	AutoBindOpenChannel bool

	// GenericTitles extends target.DefaultGenericTitles.
	GenericTitles []string

	ResolveRetry time.Duration // wait between resolution attempts; default 5s
	Cooldown     time.Duration // wait before restarting after a failure; default 10s

	Selectors         observer.Selectors
	Filter            *observer.Filter
	PollInterval      time.Duration
	Grace             time.Duration
	AuthCheckInterval time.Duration
	ForcePolling      bool

	// OnTransition, when set, is called on every state change.
	OnTransition func(from, to State)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ResolveRetry <= 0 {
		c.ResolveRetry = 5 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 10 * time.Second
	}
	c.GenericTitles = append(append([]string(nil), target.DefaultGenericTitles...), c.GenericTitles...)
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Authenticator brings a fresh session to a logged-in state.
type Authenticator interface {
	Ensure(ctx context.Context, s surface.Session) error
}

// Deps are the collaborators of the supervisor.
type Deps struct {
	Launch     surface.Launcher
	Auth       Authenticator
	Classifier *target.Classifier
	Store      *binding.Store
	Hub        *sink.Hub
	Diag       *diag.Capturer
}

// Supervisor runs the watcher loop. Create one with New and call Run once.
type Supervisor struct {
	cfg      Config
	deps     Deps
	resolver *resolver.Resolver
	logger   *slog.Logger
	runID    string

	// kick wakes Resolving and Watching when the binding may have changed.
	kick chan struct{}

	mu       sync.Mutex
	state    State
	session  surface.Session
	location string
	detector *observer.Detector

	// Owned by the Run goroutine.
	lastWarn string
}

// New creates a Supervisor.
func New(cfg Config, deps Deps) (*Supervisor, error) {
	cfg.defaults()
	if deps.Launch == nil || deps.Auth == nil || deps.Classifier == nil || deps.Store == nil || deps.Hub == nil {
		return nil, errors.New("supervisor: launcher, authenticator, classifier, store and hub are required")
	}
	runID := uuid.NewString()
	if id, err := uuid.NewV7(); err == nil {
		runID = id.String()
	}
	s := &Supervisor{
		cfg:    cfg,
		deps:   deps,
		logger: cfg.Logger.With("run", runID),
		runID:  runID,
		kick:   make(chan struct{}, 1),
		state:  StateStopped,
	}
	strategies := []resolver.Strategy{
		resolver.Override(cfg.Target, deps.Classifier),
		resolver.Persisted(deps.Store),
	}
	if cfg.AutoBindOpenChannel {
		strategies = append(strategies, resolver.OpenChannel(s.CurrentLocation, deps.Classifier))
	}
	s.resolver = resolver.New(s.logger, strategies...)
	return s, nil
}

// RunID identifies this process's run in logs, dumps and the journal.
func (s *Supervisor) RunID() string { return s.runID }

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Watching reports whether a conversation is being watched.
func (s *Supervisor) Watching() bool { return s.State() == StateWatching }

// Location returns the conversation being watched, or "".
func (s *Supervisor) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateWatching {
		return ""
	}
	return s.location
}

// CurrentLocation returns the live location of the session, or "" when
// there is no session.
func (s *Supervisor) CurrentLocation() string {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return ""
	}
	return sess.Location()
}

// Mode returns the active detection mode.
func (s *Supervisor) Mode() observer.Mode {
	s.mu.Lock()
	d := s.detector
	s.mu.Unlock()
	if d == nil {
		return observer.ModeIdle
	}
	return d.Mode()
}

// Notify tells the supervisor the binding may have changed.
func (s *Supervisor) Notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	from := s.state
	s.state = st
	s.mu.Unlock()
	if from == st {
		return
	}
	metrics.SetState(allStates, string(st))
	s.logger.Debug("supervisor: state", "from", from, "to", st)
	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, st)
	}
}

// Run drives the loop until ctx is done. It only returns after the
// session and every listener it owns are released.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		s.teardown()
		s.setState(StateStopped)
	}()

	if changes, err := s.deps.Store.Watch(ctx); err != nil {
		s.logger.Warn("supervisor: bind file not watched, relying on retries", "error", err)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range changes {
				s.Notify()
			}
		}()
	}

	s.logger.Info("supervisor: started")
	for {
		err := s.cycle(ctx)
		if ctx.Err() != nil {
			s.logger.Info("supervisor: stopping")
			s.deps.Hub.Info("watcher stopped")
			return nil
		}
		s.recover(ctx, err)
		if ctx.Err() != nil {
			s.deps.Hub.Info("watcher stopped")
			return nil
		}
	}
}

// cycle runs one pass from Starting until an error.
func (s *Supervisor) cycle(ctx context.Context) error {
	s.setState(StateStarting)
	sess, err := s.deps.Launch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", fault.ErrSessionStart, err)
	}
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
	s.deps.Hub.Info("browser session started")

	s.setState(StateAuthenticating)
	if err := s.deps.Auth.Ensure(ctx, sess); err != nil {
		return err
	}
	s.deps.Hub.Info("authenticated")

	for {
		s.setState(StateResolving)
		loc, err := s.resolve(ctx, sess)
		if err != nil {
			return err
		}
		err = s.watch(ctx, sess, loc)
		if errors.Is(err, errRebind) {
			continue
		}
		return err
	}
}

// recover is the single failure path: diagnostics, one error status,
// teardown, cooldown.
func (s *Supervisor) recover(ctx context.Context, err error) {
	failed := s.State()
	s.setState(StateRecovering)
	metrics.Restarts.Inc()
	s.logger.Error("supervisor: cycle failed", "state", failed, "error", err)

	s.mu.Lock()
	sess, loc := s.session, s.location
	s.mu.Unlock()
	var surf surface.Surface
	if sess != nil {
		surf = sess
	}
	s.deps.Diag.Capture(ctx, surf, tagFor(err), diag.Dump{
		RunID:  s.runID,
		State:  string(failed),
		Target: loc,
		Error:  err.Error(),
	})

	s.deps.Hub.Error(describe(err, s.cfg.Cooldown))
	s.teardown()

	select {
	case <-time.After(s.cfg.Cooldown):
	case <-ctx.Done():
	}
}

func (s *Supervisor) teardown() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.location = ""
	s.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		s.logger.Warn("supervisor: close session", "error", err)
	}
}

func tagFor(err error) string {
	switch {
	case errors.Is(err, fault.ErrSessionStart):
		return "session-start"
	case errors.Is(err, fault.ErrAuthRequired):
		return "auth-required"
	case errors.Is(err, fault.ErrAuthTimeout):
		return "auth-timeout"
	case errors.Is(err, fault.ErrSessionExpired):
		return "session-expired"
	case errors.Is(err, fault.ErrSessionLost):
		return "session-lost"
	case errors.Is(err, fault.ErrTargetInvalid):
		return "target-invalid"
	}
	return "failure"
}

func describe(err error, cooldown time.Duration) string {
	if !fault.Recoverable(err) {
		return fmt.Sprintf("%v: provide credentials or cookies, or run with a visible browser; retrying in %s", err, cooldown)
	}
	return fmt.Sprintf("%v; restarting in %s", err, cooldown)
}
