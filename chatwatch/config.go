package chatwatch

import (
	"github.com/zenamons-s/avito-sream/chatwatch/internal/config"
)

// Config is the top-level chatwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls the Chrome session.
type BrowserConfig = config.BrowserConfig

// AuthConfig holds credentials and login timing.
type AuthConfig = config.AuthConfig

// WatchConfig tunes change detection.
type WatchConfig = config.WatchConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfig reads a YAML configuration file, overlays CHATWATCH_*
// environment variables and applies defaults. A missing file is not an
// error.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
