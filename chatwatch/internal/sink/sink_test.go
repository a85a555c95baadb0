package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
)

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Deliver(context.Background(), event.Message("Иван", "привет")); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver(context.Background(), event.Status(event.LevelWarn, "w")); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines: got %d, want 2", len(lines))
	}
	var e event.Event
	if err := json.Unmarshal([]byte(lines[0]), &e); err != nil {
		t.Fatal(err)
	}
	if e.Type != event.TypeMessage || e.Text != "привет" {
		t.Errorf("first line: got %+v", e)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"type":"message"`) {
			t.Errorf("body: %s", body)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Deliver(context.Background(), event.Message("a", "b")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls: got %d, want 3", got)
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	err := w.Deliver(context.Background(), event.Message("a", "b"))
	if err == nil || !strings.Contains(err.Error(), "status 500") {
		t.Errorf("Deliver: got %v", err)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (r *recorder) Deliver(_ context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error { return nil }

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestRouter_DeliversToAll(t *testing.T) {
	bad := &recorder{err: errors.New("boom")}
	good := &recorder{}
	r := NewRouter(nil, bad, good)
	err := r.Deliver(context.Background(), event.Status(event.LevelInfo, "x"))
	if err == nil {
		t.Error("Router: expected first error")
	}
	if good.len() != 1 {
		t.Error("Router: good sink skipped after a failing one")
	}
}

func TestCallback_MessagesOnly(t *testing.T) {
	var got []event.Type
	c := NewMessageCallback(func(_ context.Context, e event.Event) error {
		got = append(got, e.Type)
		return nil
	})
	c.Deliver(context.Background(), event.Status(event.LevelInfo, "x"))
	c.Deliver(context.Background(), event.Message("a", "b"))
	if len(got) != 1 || got[0] != event.TypeMessage {
		t.Errorf("Callback: got %v", got)
	}
}

func TestForward_LiveEventsOnly(t *testing.T) {
	h := NewHub(10, nil)
	h.Info("before")
	rec := &recorder{err: errors.New("ignored")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Forward(ctx, h, rec, "test", nil)
		close(done)
	}()

	// Forward subscribes asynchronously; keep emitting until it attaches.
	deadline := time.After(2 * time.Second)
	for rec.len() == 0 {
		h.Info("live")
		select {
		case <-deadline:
			t.Fatal("forwarder never received an event")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.events {
		if e.Message == "before" {
			t.Error("Forward replayed history")
		}
	}
}

func TestOnly_FiltersByType(t *testing.T) {
	var buf bytes.Buffer
	s := Only(event.TypeStatus, NewStdout(&buf))
	s.Deliver(context.Background(), event.Message("a", "b"))
	s.Deliver(context.Background(), event.Status(event.LevelInfo, "up"))
	if n := strings.Count(buf.String(), "\n"); n != 1 || !strings.Contains(buf.String(), `"up"`) {
		t.Errorf("Only: got %q", buf.String())
	}
}

func TestNATSSubjects(t *testing.T) {
	if got := subjectFor(DefaultSubjectPrefix, event.TypeMessage); got != "chatwatch.message" {
		t.Errorf("message subject: got %q", got)
	}
	if got := subjectFor("shop.avito", event.TypeStatus); got != "shop.avito.status" {
		t.Errorf("status subject: got %q", got)
	}
}
