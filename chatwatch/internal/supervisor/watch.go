package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/observer"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
)

// errRebind ends a watch because the binding now names another
// conversation.
var errRebind = errors.New("supervisor: binding changed")

// watch enters Watching and runs a detector on loc until it fails, ctx ends or the binding
// moves to another conversation.
func (s *Supervisor) watch(ctx context.Context, sess surface.Session, loc string) error {
	det, err := observer.New(observer.Config{
		Surface:           sess,
		Emit:              s.deps.Hub.Emit,
		Location:          loc,
		Classifier:        s.deps.Classifier,
		Selectors:         s.cfg.Selectors,
		Filter:            s.cfg.Filter,
		PollInterval:      s.cfg.PollInterval,
		Grace:             s.cfg.Grace,
		AuthCheckInterval: s.cfg.AuthCheckInterval,
		ForcePolling:      s.cfg.ForcePolling,
		Alive:             sess.Alive,
		Logger:            s.logger,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.location, s.detector = loc, det
	s.mu.Unlock()
	s.setState(StateWatching)
	defer func() {
		s.mu.Lock()
		s.detector = nil
		s.mu.Unlock()
	}()

	s.lastWarn = ""
	s.deps.Hub.Info("watching " + loc)
	s.logger.Info("supervisor: watching", "url", loc)

	wctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	done := make(chan error, 1)
	go func() { done <- det.Watch(wctx) }()

	for {
		select {
		case err := <-done:
			if errors.Is(context.Cause(wctx), errRebind) && ctx.Err() == nil {
				return errRebind
			}
			if err == nil {
				err = fmt.Errorf("supervisor: detector stopped")
			}
			return err
		case <-s.kick:
			if s.bindingMoved(loc) {
				s.deps.Hub.Info("binding changed, switching conversation")
				cancel(errRebind)
			}
		}
	}
}

// bindingMoved reports whether the bind file no longer names loc. A
// configured target pins the watch regardless of the file.
func (s *Supervisor) bindingMoved(loc string) bool {
	if s.cfg.Target != "" {
		return false
	}
	b := s.deps.Store.Read()
	return b == nil || !s.deps.Classifier.SameChannel(b.Location, loc)
}
