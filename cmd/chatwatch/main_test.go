package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBindCommands(t *testing.T) {
	dir := t.TempDir()
	bindFile := filepath.Join(dir, "bind.json")
	configPath = filepath.Join(dir, "chatwatch.yaml")
	if err := os.WriteFile(configPath, []byte("bind_file: "+bindFile+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) (string, error) {
		cmd := bindCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	if out, err := run("status"); err != nil || strings.TrimSpace(out) != "unbound" {
		t.Fatalf("status: got %q, %v", out, err)
	}
	out, err := run("set", "/profile/messenger/channel/abc123")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if !strings.Contains(out, `"url": "https://www.avito.ru/profile/messenger/channel/abc123"`) {
		t.Errorf("set: got %s", out)
	}
	if _, err := run("set", "/profile/messenger"); err == nil {
		t.Error("set accepted the conversation list")
	}
	if out, _ := run("status"); !strings.Contains(out, "abc123") {
		t.Errorf("status after set: got %s", out)
	}
	if _, err := run("clear"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(bindFile); !os.IsNotExist(err) {
		t.Errorf("bind file still present: %v", err)
	}
}

func TestNewLogger(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo,
	} {
		l := newLogger(level)
		if !l.Enabled(context.Background(), want) {
			t.Errorf("%q: level %s not enabled", level, want)
		}
		if want > slog.LevelDebug && l.Enabled(context.Background(), want-4) {
			t.Errorf("%q: level below %s enabled", level, want)
		}
	}
}
