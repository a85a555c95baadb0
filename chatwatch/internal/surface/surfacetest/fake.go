// Package surfacetest provides an in-memory rendering session for tests.
package surfacetest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
)

// ErrClosed is returned by every page operation after Close.
var ErrClosed = errors.New("surfacetest: session closed")

// Fake is a scripted Session. The zero value is not usable; call New.
type Fake struct {
	mu          sync.Mutex
	loc         string
	title       string
	markup      map[string]string
	redirects   map[string]string
	bindings    map[string]func(string)
	interactive bool
	alive       bool
	closed      bool

	navigations []string
	clicks      []string
	typed       map[string]string
	screenshots int
	cookiesIn   []string
	cookiesOut  []string

	// Error injection. Set before handing the fake out.
	NavigateErr   error
	TitleErr      error
	HTMLErr       error
	ScreenshotErr error
	ExposeErr     error

	// EvalFunc answers Eval. Nil means Eval returns JSON null.
	EvalFunc func(js string, args []any) (json.RawMessage, error)

	// OnNavigate, when set, runs after every successful navigation with
	// the settled location.
	OnNavigate func(loc string)

	// OnClick, when set, runs after every click.
	OnClick func(selector string)
}

var _ surface.Session = (*Fake)(nil)

// New creates a live, non-interactive fake at about:blank.
func New() *Fake {
	return &Fake{
		loc:       "about:blank",
		markup:    make(map[string]string),
		redirects: make(map[string]string),
		bindings:  make(map[string]func(string)),
		typed:     make(map[string]string),
		alive:     true,
	}
}

// SetLocation moves the page without a navigation, like a client-side
// redirect.
func (f *Fake) SetLocation(loc string) {
	f.mu.Lock()
	f.loc = loc
	f.mu.Unlock()
}

// SetTitle sets what Title returns.
func (f *Fake) SetTitle(title string) {
	f.mu.Lock()
	f.title = title
	f.mu.Unlock()
}

// SetHTML sets the markup returned for selector ("" is the document).
func (f *Fake) SetHTML(selector, html string) {
	f.mu.Lock()
	f.markup[selector] = html
	f.mu.Unlock()
}

// Redirect makes a navigation to from settle on to.
func (f *Fake) Redirect(from, to string) {
	f.mu.Lock()
	f.redirects[from] = to
	f.mu.Unlock()
}

// SetInteractive sets what Interactive returns.
func (f *Fake) SetInteractive(v bool) {
	f.mu.Lock()
	f.interactive = v
	f.mu.Unlock()
}

// Crash marks the engine as disconnected.
func (f *Fake) Crash() {
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
}

// Navigations returns every location passed to Navigate, in order.
func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

// Clicks returns every selector passed to Click, in order.
func (f *Fake) Clicks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clicks...)
}

// Typed returns the text last typed into selector.
func (f *Fake) Typed(selector string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed[selector]
}

// Screenshots returns how many screenshots were taken.
func (f *Fake) Screenshots() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screenshots
}

// CookieLoads and CookieSaves return the paths used for cookie import and
// export.
func (f *Fake) CookieLoads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cookiesIn...)
}

func (f *Fake) CookieSaves() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cookiesOut...)
}

// Bound reports whether a page binding named name is registered.
func (f *Fake) Bound(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bindings[name]
	return ok
}

// Push calls the binding name from the page side. It reports false when no
// such binding is registered.
func (f *Fake) Push(name, payload string) bool {
	f.mu.Lock()
	fn, ok := f.bindings[name]
	f.mu.Unlock()
	if !ok {
		return false
	}
	fn(payload)
	return true
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.closed {
		return ErrClosed
	}
	return nil
}

func (f *Fake) Navigate(ctx context.Context, loc string) error {
	f.mu.Lock()
	if err := f.check(ctx); err != nil {
		f.mu.Unlock()
		return err
	}
	f.navigations = append(f.navigations, loc)
	if f.NavigateErr != nil {
		err := f.NavigateErr
		f.mu.Unlock()
		return err
	}
	if to, ok := f.redirects[loc]; ok {
		loc = to
	}
	f.loc = loc
	hook := f.OnNavigate
	f.mu.Unlock()
	if hook != nil {
		hook(loc)
	}
	return nil
}

func (f *Fake) Location() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loc
}

func (f *Fake) Title(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	if f.TitleErr != nil {
		return "", f.TitleErr
	}
	return f.title, nil
}

func (f *Fake) HTML(ctx context.Context, selector string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	if f.HTMLErr != nil {
		return "", f.HTMLErr
	}
	return f.markup[selector], nil
}

func (f *Fake) Screenshot(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screenshots++
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	if f.ScreenshotErr != nil {
		return nil, f.ScreenshotErr
	}
	// PNG signature only.
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (f *Fake) Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error) {
	f.mu.Lock()
	if err := f.check(ctx); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	fn := f.EvalFunc
	f.mu.Unlock()
	if fn == nil {
		return json.RawMessage("null"), nil
	}
	return fn(js, args)
}

func (f *Fake) ExposeBinding(ctx context.Context, name string, fn func(string)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	if f.ExposeErr != nil {
		return nil, f.ExposeErr
	}
	f.bindings[name] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.bindings, name)
			f.mu.Unlock()
		})
	}, nil
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	f.mu.Lock()
	if err := f.check(ctx); err != nil {
		f.mu.Unlock()
		return err
	}
	f.clicks = append(f.clicks, selector)
	hook := f.OnClick
	f.mu.Unlock()
	if hook != nil {
		hook(selector)
	}
	return nil
}

func (f *Fake) Type(ctx context.Context, selector, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	f.typed[selector] = text
	return nil
}

func (f *Fake) LoadCookies(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookiesIn = append(f.cookiesIn, path)
	return nil
}

func (f *Fake) SaveCookies(_ context.Context, path string) error {
	f.mu.Lock()
	f.cookiesOut = append(f.cookiesOut, path)
	f.mu.Unlock()
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte("[]"), 0o600)
}

func (f *Fake) Interactive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interactive
}

func (f *Fake) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive && !f.closed
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.alive = false
	f.bindings = make(map[string]func(string))
	return nil
}
