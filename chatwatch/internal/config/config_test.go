package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/observer"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Origin != DefaultOrigin {
		t.Errorf("Origin: got %q, want %q", cfg.Origin, DefaultOrigin)
	}
	if cfg.BindFile != "bind.json" {
		t.Errorf("BindFile: got %q", cfg.BindFile)
	}
	if got := cfg.Watch.GracePeriod(); got != 1500*time.Millisecond {
		t.Errorf("Grace: got %s, want 1.5s", got)
	}
	if got := cfg.Browser.Settle(); got != time.Second {
		t.Errorf("SettleDelay: got %s, want 1s", got)
	}
	if cfg.Supervisor.Cooldown != 10*time.Second {
		t.Errorf("Cooldown: got %s", cfg.Supervisor.Cooldown)
	}
	if cfg.Watch.Selectors != observer.DefaultSelectors {
		t.Errorf("Selectors: got %+v", cfg.Watch.Selectors)
	}
	if !cfg.Browser.HeadlessMode() {
		t.Error("headless should be the default")
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Type != "stdout" {
		t.Errorf("Sinks: got %+v", cfg.Sinks)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatwatch.yaml")
	data := `
target: /profile/messenger/channel/abc123
generic_titles: [Robot]
browser:
  headless: false
  resource_blocking: [images, fonts]
watch:
  poll_interval: 1s
  grace: 500ms
  selectors:
    region: ".chat"
supervisor:
  cooldown: 2s
  auto_bind_open_channel: true
sinks:
  - type: webhook
    url: http://localhost:9000/hook
    only: message
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Target != "/profile/messenger/channel/abc123" {
		t.Errorf("Target: got %q", cfg.Target)
	}
	if cfg.Browser.HeadlessMode() {
		t.Error("headless: false ignored")
	}
	if cfg.Watch.PollInterval != time.Second || cfg.Watch.GracePeriod() != 500*time.Millisecond {
		t.Errorf("Watch: got %+v", cfg.Watch)
	}
	if cfg.Watch.Selectors.Region != ".chat" || cfg.Watch.Selectors.Item != observer.DefaultSelectors.Item {
		t.Errorf("Selectors: got %+v", cfg.Watch.Selectors)
	}
	if !cfg.Supervisor.AutoBindOpenChannel || cfg.Supervisor.Cooldown != 2*time.Second {
		t.Errorf("Supervisor: got %+v", cfg.Supervisor)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Retries != 3 || cfg.Sinks[0].Only != "message" {
		t.Errorf("Sinks: got %+v", cfg.Sinks)
	}
}

func TestLoadZeroDelays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatwatch.yaml")
	data := `
browser:
  settle_delay: 0s
watch:
  grace: 0s
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Browser.Settle(); got != 0 {
		t.Errorf("SettleDelay: got %s, want 0", got)
	}
	if got := cfg.Watch.GracePeriod(); got != 0 {
		t.Errorf("Grace: got %s, want 0", got)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("watch: [unclosed"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("Load: expected a parse error")
	}
}

func TestEnvOverlay(t *testing.T) {
	env := map[string]string{
		"CHATWATCH_TARGET":      "https://www.avito.ru/profile/messenger/channel/x",
		"CHATWATCH_LOGIN":       "user@example.com",
		"CHATWATCH_PASSWORD":    "secret",
		"CHATWATCH_HEADLESS":    "false",
		"CHATWATCH_HTTP_ADDR":   ":8080",
		"CHATWATCH_WEBHOOK_URL": "http://hook",
	}
	var cfg Config
	cfg.Target = "from-file"
	err := cfg.overlayEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg.applyDefaults()

	if cfg.Target != env["CHATWATCH_TARGET"] {
		t.Errorf("Target: got %q", cfg.Target)
	}
	if cfg.Auth.Login != "user@example.com" || cfg.Auth.Password != "secret" {
		t.Errorf("Auth: got %+v", cfg.Auth)
	}
	if cfg.Browser.HeadlessMode() {
		t.Error("CHATWATCH_HEADLESS=false ignored")
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr: got %q", cfg.HTTP.Addr)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Type != "webhook" {
		t.Errorf("Sinks: got %+v", cfg.Sinks)
	}
}

func TestEnvOverlayBadBool(t *testing.T) {
	var cfg Config
	err := cfg.overlayEnv(func(k string) (string, bool) {
		if k == "CHATWATCH_HEADLESS" {
			return "sometimes", true
		}
		return "", false
	})
	if err == nil || !strings.Contains(err.Error(), "CHATWATCH_HEADLESS") {
		t.Errorf("overlayEnv: got %v", err)
	}
}

func TestValidate(t *testing.T) {
	var cfg Config
	cfg.Auth.Login = "only-login"
	cfg.Sinks = []SinkConfig{{Type: "webhook"}, {Type: "carrier-pigeon"}}
	cfg.applyDefaults()
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate: expected errors")
	}
	for _, want := range []string{"login and auth.password", "needs a url", "carrier-pigeon"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate: %q missing from %v", want, err)
		}
	}
}

func TestRedacted(t *testing.T) {
	cfg := Config{Auth: AuthConfig{Login: "u", Password: "p"}}
	r := cfg.Redacted()
	if r.Auth.Password != "***" || cfg.Auth.Password != "p" {
		t.Errorf("Redacted: got %q, original %q", r.Auth.Password, cfg.Auth.Password)
	}
}
