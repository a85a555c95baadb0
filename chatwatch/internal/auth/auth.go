// Package auth brings a fresh rendering session to an authenticated state:
// saved cookies first, then a best-effort form fill with configured
// credentials, then a bounded wait for a human in an interactive browser.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/fault"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/target"
)

// Config configures an Authenticator. Credentials are never logged.
type Config struct {
	Classifier  *target.Classifier
	Login       string
	Password    string
	CookiesPath string

	VerifyTimeout      time.Duration // wait after submitting the form; default 2m
	InteractiveTimeout time.Duration // wait for a human to log in; default 10m
	CheckInterval      time.Duration // default 2s

	Emit   func(event.Event)
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 2 * time.Minute
	}
	if c.InteractiveTimeout <= 0 {
		c.InteractiveTimeout = 10 * time.Minute
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 2 * time.Second
	}
	if c.Emit == nil {
		c.Emit = func(event.Event) {}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Authenticator runs the Authenticating state of the supervisor.
type Authenticator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Authenticator.
func New(cfg Config) *Authenticator {
	cfg.defaults()
	return &Authenticator{cfg: cfg, logger: cfg.Logger}
}

var errNotYet = errors.New("auth: not authenticated yet")

// Ensure returns nil once s shows the messenger while logged in. It
// returns fault.ErrAuthRequired when there is no credential and no human
// can reach the browser, and fault.ErrAuthTimeout when a login attempt
// does not complete in time.
func (a *Authenticator) Ensure(ctx context.Context, s surface.Session) error {
	if err := s.LoadCookies(ctx, a.cfg.CookiesPath); err != nil {
		a.logger.Warn("auth: load cookies", "path", a.cfg.CookiesPath, "error", err)
	}
	if err := s.Navigate(ctx, a.cfg.Classifier.MessengerURL()); err != nil {
		return fmt.Errorf("auth: open messenger: %w", err)
	}
	if a.authenticated(ctx, s) {
		a.logger.Info("auth: session authenticated", "via", "cookies")
		a.saveCookies(ctx, s)
		return nil
	}

	if a.cfg.Login != "" && a.cfg.Password != "" {
		a.cfg.Emit(event.Status(event.LevelInfo, "logging in with configured credentials"))
		if err := a.fillForm(ctx, s); err != nil {
			a.logger.Warn("auth: form fill", "error", err)
		}
		err := a.wait(ctx, s, a.cfg.VerifyTimeout)
		switch {
		case err == nil:
			a.logger.Info("auth: session authenticated", "via", "credentials")
			a.saveCookies(ctx, s)
			return nil
		case !errors.Is(err, errNotYet):
			return err
		case !s.Interactive():
			return fmt.Errorf("%w: login not confirmed within %s", fault.ErrAuthTimeout, a.cfg.VerifyTimeout)
		}
	}

	if !s.Interactive() {
		return fmt.Errorf("%w: no valid cookies, no credentials and no interactive browser", fault.ErrAuthRequired)
	}
	a.cfg.Emit(event.Status(event.LevelWarn, "login required: complete it in the browser window"))
	if err := a.wait(ctx, s, a.cfg.InteractiveTimeout); err != nil {
		if errors.Is(err, errNotYet) {
			return fmt.Errorf("%w: no login within %s", fault.ErrAuthTimeout, a.cfg.InteractiveTimeout)
		}
		return err
	}
	a.logger.Info("auth: session authenticated", "via", "interactive")
	a.saveCookies(ctx, s)
	return nil
}

// wait polls until the session is authenticated, ctx ends or d elapses
// (errNotYet).
func (a *Authenticator) wait(ctx context.Context, s surface.Session, d time.Duration) error {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(a.cfg.CheckInterval)
	defer tick.Stop()
	for {
		if a.authenticated(ctx, s) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errNotYet
		case <-tick.C:
		}
	}
}

const passwordVisibleJS = `() => Array.from(document.querySelectorAll('input[type="password"]'))
  .some((el) => el.offsetParent !== null)`

// authenticated reports whether the page is past the login view: the
// location is not a login location and no password field is visible.
func (a *Authenticator) authenticated(ctx context.Context, s surface.Surface) bool {
	if a.cfg.Classifier.LoginLocation(s.Location()) {
		return false
	}
	raw, err := s.Eval(ctx, passwordVisibleJS)
	if err != nil {
		a.logger.Debug("auth: password probe", "error", err)
		return true
	}
	var visible bool
	if err := json.Unmarshal(raw, &visible); err != nil {
		return true
	}
	return !visible
}

func (a *Authenticator) saveCookies(ctx context.Context, s surface.Session) {
	if err := s.SaveCookies(ctx, a.cfg.CookiesPath); err != nil {
		a.logger.Warn("auth: save cookies", "path", a.cfg.CookiesPath, "error", err)
	}
}
