package surfacetest

import (
	"context"
	"sync"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
)

// Launcher hands out Fakes and records when each was launched.
type Launcher struct {
	mu       sync.Mutex
	sessions []*Fake
	times    []time.Time

	// Prepare configures every fresh fake; n counts from zero.
	Prepare func(n int, f *Fake)

	// Err, when non-nil, is returned instead of a session for launch n.
	Err func(n int) error
}

// Launch implements surface.Launcher.
func (l *Launcher) Launch(ctx context.Context) (surface.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	n := len(l.times)
	l.times = append(l.times, time.Now())
	l.mu.Unlock()

	if l.Err != nil {
		if err := l.Err(n); err != nil {
			return nil, err
		}
	}
	f := New()
	if l.Prepare != nil {
		l.Prepare(n, f)
	}
	l.mu.Lock()
	l.sessions = append(l.sessions, f)
	l.mu.Unlock()
	return f, nil
}

// Sessions returns every fake handed out, in launch order.
func (l *Launcher) Sessions() []*Fake {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Fake(nil), l.sessions...)
}

// Launches returns the time of every launch attempt, failed ones included.
func (l *Launcher) Launches() []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.times...)
}
