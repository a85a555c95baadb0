package supervisor

import (
	"fmt"

	"github.com/zenamons-s/avito-sream/chatwatch/internal/binding"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/fault"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/observer"
	"github.com/zenamons-s/avito-sream/chatwatch/internal/target"
)

// Binding reasons written by the supervisor.
const (
	ReasonManual   = "manual"
	ReasonAutoBind = "auto-bind"
)

// Bind persists loc as the watch target. An empty loc binds the session's
// current location. Relative locations are resolved against the origin.
func (s *Supervisor) Bind(loc string) (*binding.Binding, error) {
	if loc == "" {
		if loc = s.CurrentLocation(); loc == "" {
			return nil, fmt.Errorf("%w: no open page to bind", fault.ErrTargetUnresolved)
		}
	}
	c := s.deps.Classifier.Classify(loc)
	if c.Kind != target.KindChannel {
		return nil, fmt.Errorf("%w: %q is %s, not a conversation", fault.ErrTargetInvalid, loc, c.Kind)
	}
	b := binding.Binding{Location: c.Location, Reason: ReasonManual}
	if err := s.deps.Store.Write(b); err != nil {
		return nil, err
	}
	s.deps.Hub.Info("bound " + c.Location)
	s.Notify()
	return s.deps.Store.Read(), nil
}

// Unbind clears the binding.
func (s *Supervisor) Unbind() error {
	if err := s.deps.Store.Clear(); err != nil {
		return err
	}
	s.deps.Hub.Info("binding cleared")
	s.Notify()
	return nil
}

// Status is a point-in-time view for operators.
type Status struct {
	RunID    string           `json:"runId"`
	State    State            `json:"state"`
	Mode     observer.Mode    `json:"mode"`
	Watching string           `json:"watching,omitempty"`
	Current  string           `json:"current,omitempty"`
	Binding  *binding.Binding `json:"binding"`
}

// Status reports the current state, watch and binding.
func (s *Supervisor) Status() Status {
	return Status{
		RunID:    s.runID,
		State:    s.State(),
		Mode:     s.Mode(),
		Watching: s.Location(),
		Current:  s.CurrentLocation(),
		Binding:  s.deps.Store.Read(),
	}
}
