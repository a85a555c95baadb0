// Package diag writes best-effort diagnostic artifacts when the watcher
// fails: a screenshot, the page markup and a structured JSON dump. Write
// failures are logged and swallowed so they never mask the error being
// reported.
//
// The markup is sanitised before it is written: scripts, styles, form
// fields and event handlers are dropped, while the structure and the
// class and data-* attributes the selectors rely on are kept.
package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
)

// Dump is the structured part of a capture.
type Dump struct {
	ID       string    `json:"id"`
	Tag      string    `json:"tag"`
	At       time.Time `json:"at"`
	RunID    string    `json:"runId,omitempty"`
	State    string    `json:"state,omitempty"`
	Location string    `json:"location,omitempty"`
	Target   string    `json:"target,omitempty"`
	Error    string    `json:"error,omitempty"`
	Extra    any       `json:"extra,omitempty"`
}

// Capturer writes artifacts into one directory.
type Capturer struct {
	dir    string
	logger *slog.Logger
}

// New creates a Capturer. An empty dir disables capture.
func New(dir string, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{dir: dir, logger: logger}
}

var unsafeTag = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

var markupPolicy = newMarkupPolicy()

func newMarkupPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataAttributes()
	p.AllowStyling()
	p.AllowElements("div", "span", "header", "footer", "main", "nav", "button", "time")
	return p
}

// Capture writes <stamp>_<tag>.png, .html and .json. s may be nil when no
// session exists; only the dump is written then. It returns the paths that
// were written.
func (c *Capturer) Capture(ctx context.Context, s surface.Surface, tag string, d Dump) []string {
	if c == nil || c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Warn("diag: create dir", "dir", c.dir, "error", err)
		return nil
	}
	// Diagnostics still run while the caller is shutting down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	tag = unsafeTag.ReplaceAllString(tag, "-")
	base := filepath.Join(c.dir, now.Format("20060102T150405.000Z")+"_"+tag)

	var written []string
	write := func(ext string, data []byte) {
		p := base + ext
		if err := os.WriteFile(p, data, 0o644); err != nil {
			c.logger.Warn("diag: write artifact", "path", p, "error", err)
			return
		}
		written = append(written, p)
	}

	if s != nil {
		if png, err := s.Screenshot(ctx); err != nil {
			c.logger.Warn("diag: screenshot", "error", err)
		} else {
			write(".png", png)
		}
		if markup, err := s.HTML(ctx, ""); err != nil {
			c.logger.Warn("diag: markup", "error", err)
		} else {
			write(".html", []byte(markupPolicy.Sanitize(markup)))
		}
		if d.Location == "" {
			d.Location = s.Location()
		}
	}

	if id, err := uuid.NewV7(); err == nil {
		d.ID = id.String()
	}
	d.Tag, d.At = tag, now
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		c.logger.Warn("diag: marshal dump", "error", err)
	} else {
		write(".json", data)
	}

	c.logger.Info("diag: captured", "tag", tag, "files", len(written))
	return written
}
