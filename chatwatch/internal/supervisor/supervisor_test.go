package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/auth"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/binding"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/diag"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/fault"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/observer"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/sink"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface/surfacetest"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/target"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	channelA  = "https://www.avito.ru/profile/messenger/channel/abc123"
	channelB  = "https://www.avito.ru/profile/messenger/channel/def456"
	messenger = "https://www.avito.ru/profile/messenger"
	loginPage = "https://www.avito.ru/#login"
)

type fixture struct {
	t        *testing.T
	sup      *Supervisor
	store    *binding.Store
	hub      *sink.Hub
	launcher *surfacetest.Launcher
	debugDir string
	events   *sink.Subscription
	cancel   context.CancelFunc
	done     chan error

	mu          sync.Mutex
	transitions []string
}

type okAuth struct{}

func (okAuth) Ensure(ctx context.Context, s surface.Session) error {
	return s.Navigate(ctx, messenger)
}

func newFixture(t *testing.T, cfg Config, a Authenticator, prepare func(int, *surfacetest.Fake)) *fixture {
	t.Helper()
	cls, err := target.New("")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	fx := &fixture{
		t:        t,
		store:    binding.NewStore(filepath.Join(dir, "bind.json"), cls, nil),
		hub:      sink.NewHub(500, nil),
		launcher: &surfacetest.Launcher{Prepare: prepare},
		debugDir: filepath.Join(dir, "debug"),
		done:     make(chan error, 1),
	}
	fx.events = fx.hub.Subscribe(1000)

	if a == nil {
		a = okAuth{}
	}
	if cfg.ResolveRetry == 0 {
		cfg.ResolveRetry = 20 * time.Millisecond
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 100 * time.Millisecond
	}
	cfg.PollInterval = 10 * time.Millisecond
	cfg.AuthCheckInterval = 10 * time.Millisecond
	cfg.OnTransition = func(_, to State) {
		fx.mu.Lock()
		fx.transitions = append(fx.transitions, string(to))
		fx.mu.Unlock()
	}
	fx.sup, err = New(cfg, Deps{
		Launch:     fx.launcher.Launch,
		Auth:       a,
		Classifier: cls,
		Store:      fx.store,
		Hub:        fx.hub,
		Diag:       diag.New(fx.debugDir, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	return fx
}

func (fx *fixture) run() {
	ctx, cancel := context.WithCancel(context.Background())
	fx.cancel = cancel
	go func() { fx.done <- fx.sup.Run(ctx) }()
	fx.t.Cleanup(fx.stop)
}

func (fx *fixture) stop() {
	if fx.cancel == nil {
		return
	}
	fx.cancel()
	fx.cancel = nil
	select {
	case err := <-fx.done:
		if err != nil {
			fx.t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		fx.t.Fatal("Run did not return after cancel")
	}
	fx.events.Close()
	for i, s := range fx.launcher.Sessions() {
		if !s.Closed() {
			fx.t.Errorf("session %d left open", i)
		}
	}
}

func (fx *fixture) waitFor(what string, cond func() bool) {
	fx.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			fx.t.Fatalf("timeout waiting for %s (state %s)", what, fx.sup.State())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// drain returns every event emitted so far.
func (fx *fixture) drain() []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-fx.events.Events():
			out = append(out, e)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func count(events []event.Event, level event.Level, substr string) int {
	n := 0
	for _, e := range events {
		if e.Type == event.TypeStatus && e.Level == level && strings.Contains(e.Message, substr) {
			n++
		}
	}
	return n
}

// conversation makes every fake a well-behaved conversation page.
func conversation(_ int, f *surfacetest.Fake) {
	f.SetTitle("Иван Петров")
	f.SetHTML(observer.DefaultSelectors.Region, `<div data-marker="messagesHistory/list"></div>`)
}

func TestRecoveryAfterSessionExpired(t *testing.T) {
	fx := newFixture(t, Config{}, nil, conversation)
	if err := fx.store.Write(binding.Binding{Location: channelA, Reason: ReasonManual}); err != nil {
		t.Fatal(err)
	}
	fx.run()

	fx.waitFor("first watch", func() bool { return fx.sup.Watching() && len(fx.launcher.Sessions()) == 1 })
	if got := fx.sup.Location(); got != channelA {
		t.Fatalf("Location: got %q, want %q", got, channelA)
	}
	fx.drain()

	first := fx.launcher.Sessions()[0]
	expiredAt := time.Now()
	first.SetLocation(loginPage)

	fx.waitFor("relaunch", func() bool { return len(fx.launcher.Launches()) == 2 })
	relaunch := fx.launcher.Launches()[1]
	if gap := relaunch.Sub(expiredAt); gap > 100*time.Millisecond+500*time.Millisecond {
		t.Errorf("relaunch after %s, want within one cooldown", gap)
	}
	fx.waitFor("second watch", fx.sup.Watching)

	events := fx.drain()
	if n := count(events, event.LevelError, ""); n != 1 {
		t.Errorf("error statuses: got %d, want exactly 1: %+v", n, events)
	}
	if n := count(events, event.LevelError, "session expired"); n != 1 {
		t.Errorf("error status does not name the failure: %+v", events)
	}
	if !first.Closed() {
		t.Error("expired session not torn down")
	}
	if first.Screenshots() == 0 {
		t.Error("no screenshot attempted")
	}
	dumps, _ := filepath.Glob(filepath.Join(fx.debugDir, "*_session-expired.json"))
	if len(dumps) != 1 {
		t.Errorf("diagnostic dumps: got %v", dumps)
	}

	fx.mu.Lock()
	seq := strings.Join(fx.transitions, ",")
	fx.mu.Unlock()
	if !strings.Contains(seq, "watching,recovering,starting,authenticating,resolving,watching") {
		t.Errorf("transitions: %s", seq)
	}
}

func TestUnboundWaitsThenBinds(t *testing.T) {
	fx := newFixture(t, Config{ResolveRetry: 5 * time.Millisecond}, nil, conversation)
	fx.run()

	fx.waitFor("resolving", func() bool { return fx.sup.State() == StateResolving })
	time.Sleep(50 * time.Millisecond)

	b, err := fx.sup.Bind("/profile/messenger/channel/abc123")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if b.Location != channelA || b.Reason != ReasonManual || b.BoundAt.IsZero() {
		t.Errorf("Bind: got %+v", b)
	}
	fx.waitFor("watching", fx.sup.Watching)

	events := fx.drain()
	if n := count(events, event.LevelWarn, "no target bound"); n != 1 {
		t.Errorf("unbound warnings: got %d, want 1", n)
	}
	if n := count(events, event.LevelError, ""); n != 0 {
		t.Errorf("unbound state produced %d error statuses", n)
	}
	if len(fx.launcher.Launches()) != 1 {
		t.Error("binding caused a relaunch")
	}
}

func TestTagFor(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: engine disconnected", fault.ErrSessionLost), "session-lost"},
		{fmt.Errorf("%w: redirected", fault.ErrSessionExpired), "session-expired"},
		{fmt.Errorf("%w: conversation left for ", fault.ErrTargetInvalid), "target-invalid"},
		{errors.New("boom"), "failure"},
	}
	for _, tt := range tests {
		if got := tagFor(tt.err); got != tt.want {
			t.Errorf("tagFor(%v): got %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestBindRejectsNonChannel(t *testing.T) {
	fx := newFixture(t, Config{}, nil, conversation)
	if _, err := fx.sup.Bind(""); !errors.Is(err, fault.ErrTargetUnresolved) {
		t.Errorf("Bind with no open page: got %v, want ErrTargetUnresolved", err)
	}
	for _, loc := range []string{"/profile/messenger", "https://www.avito.ru/profile/messenger?q=x", "https://example.com/profile/messenger/channel/x"} {
		if _, err := fx.sup.Bind(loc); !errors.Is(err, fault.ErrTargetInvalid) {
			t.Errorf("Bind(%q): got %v, want ErrTargetInvalid", loc, err)
		}
	}
	if fx.store.Read() != nil {
		t.Error("non-channel location persisted")
	}
}

func TestRedirectedCandidateRejected(t *testing.T) {
	fx := newFixture(t, Config{}, nil, func(n int, f *surfacetest.Fake) {
		conversation(n, f)
		f.Redirect(channelA, messenger)
	})
	if err := fx.store.Write(binding.Binding{Location: channelA}); err != nil {
		t.Fatal(err)
	}
	fx.run()

	fx.waitFor("rejection", func() bool { return count(fx.hub.Recent(), event.LevelWarn, "messenger-root") > 0 })
	time.Sleep(100 * time.Millisecond)
	if fx.sup.Watching() {
		t.Fatal("watching a conversation that redirected to the list")
	}
	navs := fx.launcher.Sessions()[0].Navigations()
	n := 0
	for _, loc := range navs {
		if loc == channelA {
			n++
		}
	}
	if n != 1 {
		t.Errorf("navigations to the rejected candidate: got %d, want 1 (%v)", n, navs)
	}
	if got := count(fx.drain(), event.LevelWarn, "messenger-root"); got != 1 {
		t.Errorf("rejection warnings: got %d, want 1", got)
	}
}

func TestGenericTitleGuard(t *testing.T) {
	fx := newFixture(t, Config{}, nil, func(n int, f *surfacetest.Fake) {
		conversation(n, f)
		f.SetTitle("Поддержка Авито")
	})
	if err := fx.store.Write(binding.Binding{Location: channelA, Reason: ReasonAutoBind}); err != nil {
		t.Fatal(err)
	}
	fx.run()

	fx.waitFor("guard warning", func() bool { return count(fx.hub.Recent(), event.LevelWarn, "platform conversation") > 0 })
	time.Sleep(50 * time.Millisecond)
	if fx.sup.Watching() {
		t.Error("latched onto a platform conversation")
	}

	// An explicit bind of the same conversation is trusted.
	if _, err := fx.sup.Bind(channelA); err != nil {
		t.Fatal(err)
	}
	fx.waitFor("watching after explicit bind", fx.sup.Watching)
}

func TestRebindWhileWatching(t *testing.T) {
	fx := newFixture(t, Config{}, nil, conversation)
	if err := fx.store.Write(binding.Binding{Location: channelA, Reason: ReasonManual}); err != nil {
		t.Fatal(err)
	}
	fx.run()
	fx.waitFor("watching A", func() bool { return fx.sup.Location() == channelA })

	if _, err := fx.sup.Bind(channelB); err != nil {
		t.Fatal(err)
	}
	fx.waitFor("watching B", func() bool { return fx.sup.Location() == channelB })
	if n := len(fx.launcher.Launches()); n != 1 {
		t.Errorf("launches: got %d, want 1", n)
	}
	if n := count(fx.drain(), event.LevelError, ""); n != 0 {
		t.Errorf("rebind produced %d error statuses", n)
	}
}

func TestAutoBindOpenChannel(t *testing.T) {
	fx := newFixture(t, Config{AutoBindOpenChannel: true}, nil, conversation)
	fx.run()
	fx.waitFor("resolving", func() bool { return fx.sup.State() == StateResolving })

	// An operator clicks into a conversation in the visible browser.
	fx.launcher.Sessions()[0].SetLocation(channelA + "?from=list")
	fx.waitFor("watching", fx.sup.Watching)

	b := fx.store.Read()
	if b == nil || b.Location != channelA+"?from=list" || b.Reason != ReasonAutoBind {
		t.Errorf("auto-bind: got %+v", b)
	}
}

func TestSessionStartFailure(t *testing.T) {
	fx := newFixture(t, Config{Cooldown: 20 * time.Millisecond}, nil, conversation)
	fx.launcher.Err = func(n int) error {
		if n == 0 {
			return errors.New("chrome not found")
		}
		return nil
	}
	fx.store.Write(binding.Binding{Location: channelA, Reason: ReasonManual})
	fx.run()

	fx.waitFor("watching", fx.sup.Watching)
	events := fx.drain()
	if n := count(events, event.LevelError, "session start failure"); n != 1 {
		t.Errorf("start failure statuses: got %d: %+v", n, events)
	}
	dumps, _ := filepath.Glob(filepath.Join(fx.debugDir, "*_session-start.*"))
	if len(dumps) != 1 || filepath.Ext(dumps[0]) != ".json" {
		t.Errorf("dumps: got %v, want only the JSON dump", dumps)
	}
}

func TestAuthRequiredRepeats(t *testing.T) {
	cls, _ := target.New("")
	a := auth.New(auth.Config{Classifier: cls, CheckInterval: time.Millisecond})
	fx := newFixture(t, Config{Cooldown: 10 * time.Millisecond}, a, func(_ int, f *surfacetest.Fake) {
		f.Redirect(messenger, loginPage)
	})
	fx.run()

	fx.waitFor("three attempts", func() bool { return len(fx.launcher.Launches()) >= 3 })
	fx.stop()

	n := count(fx.hub.Recent(), event.LevelError, "authentication required")
	if n < 2 {
		t.Errorf("authentication required reported %d times, want it on every cycle", n)
	}
	if fx.store.Read() != nil {
		t.Error("binding written without authentication")
	}
}

func TestStopReleasesSession(t *testing.T) {
	fx := newFixture(t, Config{}, nil, conversation)
	fx.store.Write(binding.Binding{Location: channelA, Reason: ReasonManual})
	fx.run()
	fx.waitFor("watching", fx.sup.Watching)
	s := fx.launcher.Sessions()[0]
	fx.stop()

	if !s.Closed() {
		t.Error("session not closed on stop")
	}
	if s.Bound(observer.BindingName) {
		t.Error("push binding left attached")
	}
	if fx.sup.State() != StateStopped {
		t.Errorf("State: got %s", fx.sup.State())
	}
	if _, err := os.Stat(fx.store.Path()); err != nil {
		t.Errorf("binding lost on stop: %v", err)
	}
}
