package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
)

func TestCheck_ReportsOnlyChanges(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up.Load() {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	var events []event.Event
	m := New(Config{URL: srv.URL, Emit: func(e event.Event) { events = append(events, e) }})
	ctx := context.Background()

	for _, state := range []bool{true, true, false, false, false, true, true} {
		up.Store(state)
		if got := m.Check(ctx); got != state {
			t.Fatalf("Check: got %v, want %v", got, state)
		}
	}
	levels := make([]event.Level, 0, len(events))
	for _, e := range events {
		levels = append(levels, e.Level)
	}
	want := []event.Level{event.LevelInfo, event.LevelWarn, event.LevelInfo}
	if len(levels) != len(want) {
		t.Fatalf("events: got %v, want %v", levels, want)
	}
	for i := range want {
		if levels[i] != want[i] {
			t.Errorf("events: got %v, want %v", levels, want)
		}
	}
}

func TestCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := New(Config{URL: url})
	if m.Check(context.Background()) {
		t.Error("Check: closed server reported healthy")
	}
	if m.Healthy() {
		t.Error("Healthy: got true")
	}
}
