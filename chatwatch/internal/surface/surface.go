// Package surface defines the capabilities of the rendering session. The
// supervisor owns the one live Session; every other component is handed the
// narrow Surface it needs as an argument and never keeps it.
package surface

import (
	"context"
	"encoding/json"
)

// Surface is the active page of a rendering session.
type Surface interface {
	// Navigate loads loc and waits for the page to settle.
	Navigate(ctx context.Context, loc string) error

	// Location is the page's current location. It may change after
	// Navigate returns when the site redirects asynchronously.
	Location() string

	// Title reads the human-readable title of the open conversation.
	Title(ctx context.Context) (string, error)

	// HTML returns the outer markup of the first element matching
	// selector, or of the whole document when selector is empty. A
	// selector that matches nothing returns "" and no error.
	HTML(ctx context.Context, selector string) (string, error)

	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Eval runs a JavaScript function expression with args and returns its
	// JSON-encoded result.
	Eval(ctx context.Context, js string, args ...any) (json.RawMessage, error)

	// ExposeBinding registers a named page-side function; every call from
	// the page delivers its string payload to fn. stop removes the binding
	// and its listener.
	ExposeBinding(ctx context.Context, name string, fn func(payload string)) (stop func(), err error)

	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error

	// Type focuses the first element matching selector, clears it and
	// types text.
	Type(ctx context.Context, selector, text string) error
}

// Session is one exclusively owned rendering session.
type Session interface {
	Surface

	// LoadCookies imports cookies saved by SaveCookies. A missing file is
	// not an error.
	LoadCookies(ctx context.Context, path string) error

	// SaveCookies exports the session's cookies to path.
	SaveCookies(ctx context.Context, path string) error

	// Interactive reports whether a human can reach the session (headful
	// or remote), so a login can be completed by hand.
	Interactive() bool

	// Alive reports whether the underlying engine is still connected.
	Alive() bool

	// Close releases the active page and the engine process. It is safe to
	// call more than once.
	Close() error
}

// Launcher acquires a fresh Session.
type Launcher func(ctx context.Context) (Session, error)
