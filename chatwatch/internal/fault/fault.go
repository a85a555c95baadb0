// Package fault holds the watcher's error taxonomy. Components wrap these
// sentinels with context; the supervisor and the status stream match them
// with errors.Is.
package fault

import "errors"

var (
	// ErrSessionStart means the rendering session could not be acquired.
	ErrSessionStart = errors.New("chatwatch: session start failure")

	// ErrAuthRequired means the session is not authenticated and there is
	// neither a credential nor an interactive surface to fix it.
	ErrAuthRequired = errors.New("chatwatch: authentication required")

	// ErrAuthTimeout means a login attempt (automatic or human) did not
	// complete within its bound.
	ErrAuthTimeout = errors.New("chatwatch: authentication timeout")

	// ErrTargetUnresolved means no strategy produced a candidate. It is the
	// expected "not bound yet" state, never fatal.
	ErrTargetUnresolved = errors.New("chatwatch: no target bound")

	// ErrTargetInvalid means a candidate failed channel classification or
	// the conversation-identity guard.
	ErrTargetInvalid = errors.New("chatwatch: target invalid")

	// ErrSessionExpired means authentication was lost while watching.
	ErrSessionExpired = errors.New("chatwatch: session expired")

	// ErrSessionLost means the rendering engine disconnected or crashed.
	ErrSessionLost = errors.New("chatwatch: session lost")

	// ErrObserverInstall means the push observer could not be installed.
	// The change detector falls back to polling.
	ErrObserverInstall = errors.New("chatwatch: observer install failure")

	// ErrPersistence means the bind file could not be written or removed.
	ErrPersistence = errors.New("chatwatch: persistence failure")
)

// Recoverable reports whether err is handled by the supervisor's uniform
// restart policy. Only a missing authentication with no way to proceed is
// surfaced as persistently unresolved; it is still retried, but callers use
// this to keep reporting it as an error on every cycle.
func Recoverable(err error) bool {
	return err != nil && !errors.Is(err, ErrAuthRequired)
}
