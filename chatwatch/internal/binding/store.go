// Package binding persists the single conversation currently designated as
// the watch target. The record is a small JSON file; absence or corruption
// reads as "unbound", never as an error.
package binding

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/fault"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/target"
)

// DefaultPath is the bind file location relative to the working directory.
const DefaultPath = "bind.json"

// Binding is the persisted watch target.
type Binding struct {
	Location string    `json:"url"`
	BoundAt  time.Time `json:"boundAt"`
	Reason   string    `json:"reason,omitempty"`
}

// Store reads and writes the bind file. Writes are last-writer-wins with
// atomic replace; the mutex only serialises writers inside this process.
type Store struct {
	path   string
	cls    *target.Classifier
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a Store for path (DefaultPath when empty).
func NewStore(path string, cls *target.Classifier, logger *slog.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, cls: cls, logger: logger}
}

// Path returns the bind file path.
func (s *Store) Path() string { return s.path }

// Read returns the current binding, or nil when there is none. Any I/O or
// parse error, and any record whose location is not a channel, yields nil.
func (s *Store) Read() *Binding {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("binding: read failed", "path", s.path, "error", err)
		}
		return nil
	}

	var b Binding
	if err := json.Unmarshal(data, &b); err != nil {
		s.logger.Warn("binding: malformed bind file", "path", s.path, "error", err)
		return nil
	}

	c := s.cls.Classify(b.Location)
	if c.Kind != target.KindChannel {
		s.logger.Warn("binding: stored location is not a channel",
			"url", b.Location, "kind", c.Kind)
		return nil
	}
	b.Location = c.Location
	return &b
}

// Write persists b, replacing any existing record. The location is
// normalised and must classify as a channel. A zero BoundAt is stamped
// with the current time.
func (s *Store) Write(b Binding) error {
	c := s.cls.Classify(b.Location)
	if c.Kind != target.KindChannel {
		return fmt.Errorf("%w: %q classifies as %s", fault.ErrTargetInvalid, b.Location, c.Kind)
	}
	b.Location = c.Location
	if b.BoundAt.IsZero() {
		b.BoundAt = time.Now()
	}
	b.BoundAt = b.BoundAt.UTC()

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("binding: marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %v", fault.ErrPersistence, err)
	}
	s.logger.Info("binding: written", "url", b.Location, "reason", b.Reason)
	return nil
}

// Clear removes the binding. Clearing an absent binding is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", fault.ErrPersistence, err)
	}
	s.logger.Info("binding: cleared", "path", s.path)
	return nil
}

// writeAtomic writes data to a temp file next to path and renames it over
// path, so readers never see a partial record.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
