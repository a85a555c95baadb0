// Package browser is the rod implementation of the rendering session:
// launch (local or remote), stealth page, popup adoption, cookie transfer
// and bounded teardown.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
)

// Config configures a browser session.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headful shows a real window; under Xvfb when no display is set.
	Headful bool

	// XvfbDisplay for headful mode without a display. Default: ":99".
	XvfbDisplay string

	// UserDataDir keeps the profile (cookies, storage) between launches.
	// Empty = a throwaway profile removed on Close.
	UserDataDir string

	// Bin is the Chrome executable. Empty = launcher lookup/download.
	Bin string

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// TitleSelector locates the conversation title. Empty = document title.
	TitleSelector string

	NavigateTimeout time.Duration // default 30s
	SettleDelay     time.Duration // wait after load for client-side redirects; default 1s
	CloseGrace      time.Duration // default 5s

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is one Chrome instance and its active page.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	browser *rod.Browser
	lnch    *launcher.Launcher
	display *virtualDisplay
	router  *rod.HijackRouter

	// ctx bounds every background listener of the session.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	page   *rod.Page
	closed bool
}

var _ surface.Session = (*Session)(nil)

// NewLauncher returns a surface.Launcher creating sessions from cfg.
func NewLauncher(cfg Config) surface.Launcher {
	return func(ctx context.Context) (surface.Session, error) {
		return Launch(ctx, cfg)
	}
}

// Launch starts Chrome (or connects to a remote instance) and opens a
// stealth page. On error everything acquired so far is released.
func Launch(ctx context.Context, cfg Config) (_ *Session, err error) {
	cfg.defaults()
	s := &Session{cfg: cfg, logger: cfg.Logger}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	wsURL := cfg.RemoteURL
	if wsURL != "" {
		s.logger.Info("browser: connecting to remote", "url", wsURL)
	} else {
		if wsURL, err = s.launchLocal(); err != nil {
			return nil, err
		}
	}

	s.browser = rod.New().ControlURL(wsURL).Context(s.ctx)
	if err := s.browser.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := s.browser.IgnoreCertErrors(true); err != nil {
		s.logger.Warn("browser: ignore cert errors failed", "error", err)
	}

	page, err := stealth.Page(s.browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	if len(cfg.ResourceBlocking) > 0 {
		s.router = newBlockList(cfg.ResourceBlocking).route(s.browser)
	}
	s.page = page
	s.watchPopups()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) launchLocal() (string, error) {
	l := launcher.New()
	if s.cfg.Bin != "" {
		l = l.Bin(s.cfg.Bin)
	}
	if s.cfg.UserDataDir != "" {
		l = l.UserDataDir(s.cfg.UserDataDir)
	}
	if s.cfg.Headful {
		l = l.Headless(false)
		if os.Getenv("DISPLAY") == "" {
			d, err := startDisplay(s.cfg.XvfbDisplay, s.logger)
			if err != nil {
				return "", fmt.Errorf("browser: %w", err)
			}
			s.display = d
			l = l.Env(append(os.Environ(), "DISPLAY="+s.cfg.XvfbDisplay)...)
		}
	} else {
		l = l.Headless(true)
	}

	// Anti-detection flags.
	l = l.Set("disable-blink-features", "AutomationControlled")

	u, err := l.Launch()
	if err != nil {
		s.display.stop()
		s.display = nil
		return "", fmt.Errorf("browser: launch: %w", err)
	}
	s.lnch = l
	s.logger.Info("browser: launched local chrome", "url", u, "headful", s.cfg.Headful)
	return u, nil
}

// Adopt makes p the active page. Popups opened by the active page are
// adopted automatically.
func (s *Session) Adopt(p *rod.Page) {
	if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
		s.logger.Debug("browser: stealth on adopted page", "error", err)
	}
	s.mu.Lock()
	old := s.page
	s.page = p
	s.mu.Unlock()
	s.logger.Info("browser: adopted page", "target", p.TargetID, "previous", targetOf(old))
}

func targetOf(p *rod.Page) proto.TargetTargetID {
	if p == nil {
		return ""
	}
	return p.TargetID
}

func (s *Session) watchPopups() {
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(s.browser); err != nil {
		s.logger.Warn("browser: target discovery unavailable, popups not adopted", "error", err)
		return
	}
	wait := s.browser.Context(s.ctx).EachEvent(func(e *proto.TargetTargetCreated) {
		info := e.TargetInfo
		if info == nil || info.Type != proto.TargetTargetInfoTypePage {
			return
		}
		if info.OpenerID == "" || info.OpenerID != targetOf(s.active()) {
			return
		}
		go s.adoptTarget(info.TargetID)
	})
	go wait()
}

func (s *Session) adoptTarget(id proto.TargetTargetID) {
	p, err := s.browser.PageFromTarget(id)
	if err != nil {
		s.logger.Warn("browser: attach popup", "target", id, "error", err)
		return
	}
	s.Adopt(p)
}

func (s *Session) active() *rod.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *Session) pageCtx(ctx context.Context) (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.page == nil {
		return nil, errors.New("browser: session closed")
	}
	return s.page.Context(ctx), nil
}

func (s *Session) Navigate(ctx context.Context, loc string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()
	p, err := s.pageCtx(ctx)
	if err != nil {
		return err
	}
	if err := p.Navigate(loc); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", loc, err)
	}
	if err := p.WaitLoad(); err != nil {
		s.logger.Warn("browser: wait load timeout", "url", loc, "error", err)
	}
	if s.cfg.SettleDelay > 0 {
		select {
		case <-time.After(s.cfg.SettleDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) Location() string {
	p, err := s.pageCtx(s.ctx)
	if err != nil {
		return ""
	}
	info, err := p.Timeout(5 * time.Second).Info()
	if err != nil {
		s.logger.Debug("browser: page info", "error", err)
		return ""
	}
	return info.URL
}

func (s *Session) Title(ctx context.Context) (string, error) {
	p, err := s.pageCtx(ctx)
	if err != nil {
		return "", err
	}
	if s.cfg.TitleSelector != "" {
		has, el, err := p.Has(s.cfg.TitleSelector)
		if err != nil {
			return "", fmt.Errorf("browser: title: %w", err)
		}
		if has {
			return el.Text()
		}
	}
	info, err := p.Info()
	if err != nil {
		return "", fmt.Errorf("browser: title: %w", err)
	}
	return info.Title, nil
}

func (s *Session) HTML(ctx context.Context, selector string) (string, error) {
	p, err := s.pageCtx(ctx)
	if err != nil {
		return "", err
	}
	if selector == "" {
		return p.HTML()
	}
	has, el, err := p.Has(selector)
	if err != nil {
		return "", fmt.Errorf("browser: html %s: %w", selector, err)
	}
	if !has {
		return "", nil
	}
	return el.HTML()
}

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	p, err := s.pageCtx(ctx)
	if err != nil {
		return nil, err
	}
	return p.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
}

func (s *Session) Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	p, err := s.pageCtx(ctx)
	if err != nil {
		return nil, err
	}
	res, err := p.Eval(js, args...)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(res.Value.JSON("", "")), nil
}

// ExposeBinding wires a Runtime binding to fn. The listener lives until
// stop is called or the session closes.
func (s *Session) ExposeBinding(ctx context.Context, name string, fn func(string)) (func(), error) {
	p, err := s.pageCtx(ctx)
	if err != nil {
		return nil, err
	}
	if err := (proto.RuntimeAddBinding{Name: name}).Call(p); err != nil {
		return nil, fmt.Errorf("browser: add binding %s: %w", name, err)
	}
	lctx, cancel := context.WithCancel(s.ctx)
	wait := p.Context(lctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == name {
			fn(e.Payload)
		}
	})
	go wait()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := (proto.RuntimeRemoveBinding{Name: name}).Call(p.Context(s.ctx)); err != nil {
				s.logger.Debug("browser: remove binding", "name", name, "error", err)
			}
		})
	}, nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	p, err := s.pageCtx(ctx)
	if err != nil {
		return err
	}
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (s *Session) Type(ctx context.Context, selector, text string) error {
	p, err := s.pageCtx(ctx)
	if err != nil {
		return err
	}
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		s.logger.Debug("browser: select text", "selector", selector, "error", err)
	}
	return el.Input(text)
}

func (s *Session) Interactive() bool {
	return s.cfg.Headful || s.cfg.RemoteURL != ""
}

func (s *Session) Alive() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.browser == nil {
		return false
	}
	_, err := s.browser.Timeout(5 * time.Second).Version()
	return err == nil
}

// Close releases the page and Chrome. A browser that does not exit within
// CloseGrace is killed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	page := s.page
	s.page = nil
	s.mu.Unlock()

	if s.router != nil {
		if err := s.router.Stop(); err != nil {
			s.logger.Debug("browser: stop hijack router", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if page != nil {
			_ = page.Close()
		}
		if s.browser != nil {
			_ = s.browser.Close()
		}
		if s.lnch != nil && s.cfg.UserDataDir == "" {
			s.lnch.Cleanup()
		}
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.CloseGrace):
		s.logger.Warn("browser: close grace exceeded, killing", "grace", s.cfg.CloseGrace)
		if s.lnch != nil {
			s.lnch.Kill()
		}
	}
	s.cancel()
	s.display.stop()
	s.logger.Info("browser: session closed")
	return nil
}
