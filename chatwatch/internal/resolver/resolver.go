// Package resolver decides which conversation to watch. It runs an ordered
// chain of strategies; the first one that yields a candidate wins. It never
// navigates and never persists: validation belongs to the supervisor.
package resolver

import (
	"context"
	"log/slog"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/binding"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/target"
)

// Source names the strategy a candidate came from.
type Source string

const (
	SourceOverride    Source = "override"
	SourcePersisted   Source = "persisted"
	SourceOpenChannel Source = "open-channel"
)

// Candidate is a location proposed for watching.
type Candidate struct {
	Location string `json:"location"`
	Source   Source `json:"source"`
}

// Strategy proposes a candidate location. ok=false means "nothing from me",
// never an error: absence of a target is an expected state.
type Strategy interface {
	Source() Source
	Find(ctx context.Context) (location string, ok bool)
}

// Resolver runs strategies in order.
type Resolver struct {
	strategies []Strategy
	logger     *slog.Logger
}

// New creates a Resolver. Strategies are tried in the given order.
func New(logger *slog.Logger, strategies ...Strategy) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{strategies: strategies, logger: logger}
}

// Resolve returns the first candidate any strategy yields. ok=false means
// the caller should wait and retry.
func (r *Resolver) Resolve(ctx context.Context) (Candidate, bool) {
	for _, s := range r.strategies {
		if ctx.Err() != nil {
			return Candidate{}, false
		}
		loc, ok := s.Find(ctx)
		if !ok || loc == "" {
			continue
		}
		r.logger.Debug("resolver: candidate", "source", s.Source(), "url", loc)
		return Candidate{Location: loc, Source: s.Source()}, true
	}
	return Candidate{}, false
}

type override struct {
	location string
}

// Override always proposes a statically configured location, made
// absolute against the classifier's origin. An empty location disables it.
func Override(location string, cls *target.Classifier) Strategy {
	return override{location: cls.Normalize(location)}
}

func (o override) Source() Source { return SourceOverride }

func (o override) Find(context.Context) (string, bool) {
	return o.location, o.location != ""
}

type persisted struct {
	store *binding.Store
}

// Persisted proposes the location in the bind file, if any.
func Persisted(store *binding.Store) Strategy {
	return persisted{store: store}
}

func (p persisted) Source() Source { return SourcePersisted }

func (p persisted) Find(context.Context) (string, bool) {
	b := p.store.Read()
	if b == nil {
		return "", false
	}
	return b.Location, true
}

type openChannel struct {
	location func() string
	cls      *target.Classifier
}

// OpenChannel proposes whatever conversation the session is already
// showing. It lets an operator pick a conversation by clicking into it in
// a headful browser; the supervisor persists the result as an auto-bind.
func OpenChannel(location func() string, cls *target.Classifier) Strategy {
	return openChannel{location: location, cls: cls}
}

func (o openChannel) Source() Source { return SourceOpenChannel }

func (o openChannel) Find(context.Context) (string, bool) {
	if o.location == nil {
		return "", false
	}
	c := o.cls.Classify(o.location())
	if c.Kind != target.KindChannel {
		return "", false
	}
	return c.Location, true
}
