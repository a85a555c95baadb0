package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/binding"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/fault"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/resolver"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/surface"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/target"
)

var unboundWarning = fmt.Errorf("%w: open the conversation and bind it", fault.ErrTargetUnresolved).Error()

// resolve loops resolver + validation until a genuine channel is
// confirmed. Only session-level failures end it with an error.
func (s *Supervisor) resolve(ctx context.Context, sess surface.Session) (string, error) {
	var lastRejected string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cand, ok := s.resolver.Resolve(ctx)
		if !ok {
			s.warnOnce(unboundWarning)
		} else {
			loc, err := s.validate(ctx, sess, cand, &lastRejected)
			switch {
			case err == nil:
				return loc, nil
			case errors.Is(err, fault.ErrTargetInvalid):
				s.logger.Warn("supervisor: candidate rejected", "source", cand.Source, "url", cand.Location, "error", err)
				s.warnOnce(err.Error())
			default:
				return "", err
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.kick:
			lastRejected = ""
		case <-time.After(s.cfg.ResolveRetry):
		}
	}
}

// validate navigates to the candidate and checks where the page settles.
// A candidate equal to the last rejected one is not navigated to again;
// its settled location and title are re-checked, since the page may have
// finished an asynchronous redirect since.
func (s *Supervisor) validate(ctx context.Context, sess surface.Session, cand resolver.Candidate, lastRejected *string) (string, error) {
	cls := s.deps.Classifier
	if cand.Location != *lastRejected {
		if err := sess.Navigate(ctx, cand.Location); err != nil {
			return "", fmt.Errorf("supervisor: navigate to candidate: %w", err)
		}
	}
	settled := sess.Location()
	if cls.LoginLocation(settled) {
		return "", fmt.Errorf("%w: redirected to %s", fault.ErrSessionExpired, settled)
	}
	c := cls.Classify(settled)
	if c.Kind != target.KindChannel {
		*lastRejected = cand.Location
		return "", fmt.Errorf("%w: %s settled on %s (%s), bind a specific conversation",
			fault.ErrTargetInvalid, cand.Location, settled, c.Kind)
	}

	title, err := sess.Title(ctx)
	if err != nil {
		s.logger.Debug("supervisor: read title", "error", err)
	}
	if !s.explicit(cand) && target.IsGenericTitle(title, s.cfg.GenericTitles) {
		*lastRejected = cand.Location
		return "", fmt.Errorf("%w: %q is a platform conversation, bind the intended one explicitly",
			fault.ErrTargetInvalid, title)
	}
	*lastRejected = ""

	if cand.Source != resolver.SourcePersisted {
		reason := string(cand.Source)
		if cand.Source == resolver.SourceOpenChannel {
			reason = ReasonAutoBind
		}
		if err := s.deps.Store.Write(binding.Binding{Location: c.Location, Reason: reason}); err != nil {
			s.logger.Warn("supervisor: binding not persisted, continuing in memory", "error", err)
			s.deps.Hub.Warn("could not save the binding; it will be lost on restart")
		}
	}
	s.logger.Info("supervisor: target confirmed", "source", cand.Source, "url", c.Location, "title", title)
	return c.Location, nil
}

// explicit reports whether a human chose cand: a configured target or a
// manual bind. Only automatic choices are checked against generic titles.
func (s *Supervisor) explicit(cand resolver.Candidate) bool {
	switch cand.Source {
	case resolver.SourceOverride:
		return true
	case resolver.SourcePersisted:
		b := s.deps.Store.Read()
		return b != nil && b.Reason == ReasonManual
	}
	return false
}

// warnOnce emits a warning unless it repeats the previous one.
func (s *Supervisor) warnOnce(msg string) {
	if msg == s.lastWarn {
		return
	}
	s.lastWarn = msg
	s.deps.Hub.Warn(msg)
}
