// Package config handles chatwatch configuration: a YAML file, then an
// environment overlay, then defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/observer"
)

// DefaultOrigin is the remote site the watcher talks to.
const DefaultOrigin = "https://www.avito.ru"

// Config is the top-level chatwatch configuration.
type Config struct {
	Origin        string   `yaml:"origin"`
	Target        string   `yaml:"target"`
	BindFile      string   `yaml:"bind_file"`
	DebugDir      string   `yaml:"debug_dir"`
	GenericTitles []string `yaml:"generic_titles"`
	LogLevel      string   `yaml:"log_level"`

	Browser    BrowserConfig    `yaml:"browser"`
	Auth       AuthConfig       `yaml:"auth"`
	Watch      WatchConfig      `yaml:"watch"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Sinks      []SinkConfig     `yaml:"sinks"`
	Journal    JournalConfig    `yaml:"journal"`
	HTTP       HTTPConfig       `yaml:"http"`
	Health     HealthConfig     `yaml:"health"`
}

// BrowserConfig controls the Chrome session.
type BrowserConfig struct {
	Remote           string         `yaml:"remote"`
	Headless         *bool          `yaml:"headless"` // default true
	XvfbDisplay      string         `yaml:"xvfb_display"`
	UserDataDir      string         `yaml:"user_data_dir"`
	Bin              string         `yaml:"bin"`
	ResourceBlocking []string       `yaml:"resource_blocking"`
	TitleSelector    string         `yaml:"title_selector"`
	NavigateTimeout  time.Duration  `yaml:"navigate_timeout"`
	SettleDelay      *time.Duration `yaml:"settle_delay"` // default 1s; 0 disables
	CloseGrace       time.Duration  `yaml:"close_grace"`
}

// AuthConfig holds credentials and login timing. Credentials are never
// logged.
type AuthConfig struct {
	Login              string        `yaml:"login"`
	Password           string        `yaml:"password"`
	CookiesFile        string        `yaml:"cookies_file"`
	LoginPatterns      []string      `yaml:"login_patterns"`
	VerifyTimeout      time.Duration `yaml:"verify_timeout"`
	InteractiveTimeout time.Duration `yaml:"interactive_timeout"`
	CheckInterval      time.Duration `yaml:"check_interval"`
}

// WatchConfig tunes the change detector.
type WatchConfig struct {
	Selectors         observer.Selectors `yaml:"selectors"`
	PollInterval      time.Duration      `yaml:"poll_interval"`
	Grace             *time.Duration     `yaml:"grace"` // default 1.5s; 0 disables
	AuthCheckInterval time.Duration      `yaml:"auth_check_interval"`
	ForcePolling      bool               `yaml:"force_polling"`
	MaxLength         int                `yaml:"max_length"`
	Noise             []string           `yaml:"noise"`
	NoisePatterns     []string           `yaml:"noise_patterns"`
}

// SupervisorConfig tunes the restart loop.
type SupervisorConfig struct {
	Cooldown            time.Duration `yaml:"cooldown"`
	ResolveRetry        time.Duration `yaml:"resolve_retry"`
	AutoBindOpenChannel bool          `yaml:"auto_bind_open_channel"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type          string        `yaml:"type"`           // stdout | webhook | nats
	URL           string        `yaml:"url"`            // for webhook and nats
	SubjectPrefix string        `yaml:"subject_prefix"` // for nats
	Only          string        `yaml:"only"`           // "" | status | message
	Retries       int           `yaml:"retries"`
	Backoff       time.Duration `yaml:"backoff"`
}

// JournalConfig controls the SQLite event journal.
type JournalConfig struct {
	Path      string        `yaml:"path"` // "" disables the journal
	Retention time.Duration `yaml:"retention"`
}

// HTTPConfig controls the operator API.
type HTTPConfig struct {
	Addr      string `yaml:"addr"` // "" disables the API
	TokenHash string `yaml:"token_hash"`
	Replay    int    `yaml:"replay"`
}

// HealthConfig controls the tunnel health monitor.
type HealthConfig struct {
	URL      string        `yaml:"url"` // "" disables the monitor
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// HeadlessMode reports whether the browser runs without a window.
func (b BrowserConfig) HeadlessMode() bool {
	return b.Headless == nil || *b.Headless
}

// Settle is the wait after a load for client-side redirects.
func (b BrowserConfig) Settle() time.Duration {
	if b.SettleDelay == nil {
		return time.Second
	}
	return *b.SettleDelay
}

// GracePeriod is how long mutations are ignored after the observer is
// installed.
func (w WatchConfig) GracePeriod() time.Duration {
	if w.Grace == nil {
		return 1500 * time.Millisecond
	}
	return *w.Grace
}

// Load reads path (a missing file is not an error), overlays the
// CHATWATCH_* environment and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.overlayEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) overlayEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str("CHATWATCH_ORIGIN", &c.Origin)
	str("CHATWATCH_TARGET", &c.Target)
	str("CHATWATCH_LOGIN", &c.Auth.Login)
	str("CHATWATCH_PASSWORD", &c.Auth.Password)
	str("CHATWATCH_COOKIES_FILE", &c.Auth.CookiesFile)
	str("CHATWATCH_BIND_FILE", &c.BindFile)
	str("CHATWATCH_DEBUG_DIR", &c.DebugDir)
	str("CHATWATCH_HTTP_ADDR", &c.HTTP.Addr)
	str("CHATWATCH_REMOTE", &c.Browser.Remote)
	str("CHATWATCH_HEALTH_URL", &c.Health.URL)
	str("CHATWATCH_JOURNAL", &c.Journal.Path)
	str("CHATWATCH_LOG_LEVEL", &c.LogLevel)

	if v, ok := lookup("CHATWATCH_HEADLESS"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: CHATWATCH_HEADLESS: %w", err)
		}
		c.Browser.Headless = &b
	}
	if v, ok := lookup("CHATWATCH_WEBHOOK_URL"); ok && strings.TrimSpace(v) != "" {
		c.Sinks = append(c.Sinks, SinkConfig{Type: "webhook", URL: strings.TrimSpace(v)})
	}
	if v, ok := lookup("CHATWATCH_NATS_URL"); ok && strings.TrimSpace(v) != "" {
		c.Sinks = append(c.Sinks, SinkConfig{Type: "nats", URL: strings.TrimSpace(v)})
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Origin == "" {
		c.Origin = DefaultOrigin
	}
	if c.BindFile == "" {
		c.BindFile = "bind.json"
	}
	if c.DebugDir == "" {
		c.DebugDir = "debug"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Auth.CookiesFile == "" {
		c.Auth.CookiesFile = "cookies.json"
	}

	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Browser.CloseGrace <= 0 {
		c.Browser.CloseGrace = 5 * time.Second
	}

	if c.Watch.Selectors.Region == "" {
		c.Watch.Selectors.Region = observer.DefaultSelectors.Region
	}
	if c.Watch.Selectors.Item == "" {
		c.Watch.Selectors.Item = observer.DefaultSelectors.Item
	}
	if c.Watch.Selectors.Author == "" {
		c.Watch.Selectors.Author = observer.DefaultSelectors.Author
	}
	if c.Watch.Selectors.Text == "" {
		c.Watch.Selectors.Text = observer.DefaultSelectors.Text
	}
	if c.Watch.PollInterval <= 0 {
		c.Watch.PollInterval = 3 * time.Second
	}
	if c.Watch.AuthCheckInterval <= 0 {
		c.Watch.AuthCheckInterval = 5 * time.Second
	}
	if c.Watch.MaxLength <= 0 {
		c.Watch.MaxLength = observer.DefaultMaxLength
	}

	if c.Supervisor.Cooldown <= 0 {
		c.Supervisor.Cooldown = 10 * time.Second
	}
	if c.Supervisor.ResolveRetry <= 0 {
		c.Supervisor.ResolveRetry = 5 * time.Second
	}

	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "nats" && c.Sinks[i].SubjectPrefix == "" {
			c.Sinks[i].SubjectPrefix = "chatwatch"
		}
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Backoff <= 0 {
			c.Sinks[i].Backoff = time.Second
		}
	}

	if c.Journal.Retention <= 0 {
		c.Journal.Retention = 30 * 24 * time.Hour
	}
	if c.HTTP.Replay <= 0 {
		c.HTTP.Replay = 50
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = 30 * time.Second
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = 10 * time.Second
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if (c.Auth.Login == "") != (c.Auth.Password == "") {
		errs = append(errs, errors.New("config: auth.login and auth.password must be set together"))
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout", "nats":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("config: sinks[%d]: webhook needs a url", i))
			}
		default:
			errs = append(errs, fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type))
		}
		switch s.Only {
		case "", "status", "message":
		default:
			errs = append(errs, fmt.Errorf("config: sinks[%d]: only must be status or message", i))
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.Auth.Password != "" {
		c.Auth.Password = "***"
	}
	if c.HTTP.TokenHash != "" {
		c.HTTP.TokenHash = "***"
	}
	return c
}
