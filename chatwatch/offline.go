package chatwatch

import (
	"context"
	"fmt"

	"github.com/zenamons-s/avito-sream/chatwatch/event"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/binding"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/fault"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/journal"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/supervisor"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/target"
)

// JournalEntry is one journaled event.
type JournalEntry = journal.Entry

// The functions below work on the files a running watcher uses, without
// starting one. A running watcher notices bind file changes on its own.

func bindStore(cfg *Config) (*binding.Store, *target.Classifier, error) {
	cls, err := target.New(cfg.Origin, target.WithLoginPatterns(cfg.Auth.LoginPatterns))
	if err != nil {
		return nil, nil, fmt.Errorf("chatwatch: %w", err)
	}
	return binding.NewStore(cfg.BindFile, cls, nil), cls, nil
}

// ReadBinding returns the persisted binding, or nil when unbound.
func ReadBinding(cfg *Config) (*Binding, error) {
	store, _, err := bindStore(cfg)
	if err != nil {
		return nil, err
	}
	return store.Read(), nil
}

// SetBinding persists location as a manual binding. Relative locations
// are resolved against the configured origin.
func SetBinding(cfg *Config, location string) (*Binding, error) {
	store, cls, err := bindStore(cfg)
	if err != nil {
		return nil, err
	}
	c := cls.Classify(location)
	if c.Kind != target.KindChannel {
		return nil, fmt.Errorf("%w: %q is %s, not a conversation", fault.ErrTargetInvalid, location, c.Kind)
	}
	if err := store.Write(binding.Binding{Location: c.Location, Reason: supervisor.ReasonManual}); err != nil {
		return nil, err
	}
	return store.Read(), nil
}

// ClearBinding removes the persisted binding.
func ClearBinding(cfg *Config) error {
	store, _, err := bindStore(cfg)
	if err != nil {
		return err
	}
	return store.Clear()
}

// TailJournal returns the last n journaled events, oldest first. A non
// empty only restricts the result to one event type.
func TailJournal(ctx context.Context, cfg *Config, n int, only event.Type) ([]JournalEntry, error) {
	if cfg.Journal.Path == "" {
		return nil, fmt.Errorf("chatwatch: journal disabled (journal.path is empty)")
	}
	j, err := journal.Open(cfg.Journal.Path, "")
	if err != nil {
		return nil, err
	}
	defer j.Close()
	return j.Recent(ctx, n, only)
}
