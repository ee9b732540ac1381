package app

import (
	"context"
	"sync"
	"time"

	"github.com/roman-kulish/dbm-tracker/internal/tracking"
)

// Status is the externally visible state of the service
type Status struct {
	State tracking.State `json:"state"`
	tracking.Stats
	Time time.Time `json:"time"`
}

// Event is broadcast on every state change
type Event struct {
	State tracking.State `json:"state"`
	Time  time.Time      `json:"time"`
}

// ControllerFactory creates the controller of a new session
type ControllerFactory func(listener func(tracking.State)) *tracking.Controller

// Service owns the controller of the current session. A start command after
// a stop begins a new session with a fresh controller.
type Service struct {
	newController ControllerFactory
	now           func() time.Time

	mu         sync.Mutex
	controller *tracking.Controller

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewService creates a Service without an active session
func NewService(newController ControllerFactory) *Service {
	return &Service{
		newController: newController,
		now:           time.Now,
		subscribers:   make(map[chan Event]struct{}),
	}
}

// Handle routes a command to the current session, creating a new one on start
func (s *Service) Handle(ctx context.Context, cmd tracking.Command) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.controller == nil || s.controller.State() == tracking.Terminated {
		if cmd != tracking.CommandStart {
			return s.status(), nil
		}
		s.controller = s.newController(s.publish)
	}

	err := s.controller.Handle(ctx, cmd)
	return s.status(), err
}

// Status returns the state of the current session
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status()
}

func (s *Service) status() Status {
	st := Status{State: tracking.Stopped, Time: s.now()}
	if s.controller != nil {
		st.State = s.controller.State()
		st.Stats = s.controller.Stats()
	}
	return st
}

// Shutdown stops the current session, if any
func (s *Service) Shutdown(ctx context.Context) {
	_, _ = s.Handle(ctx, tracking.CommandStop)
}

// Subscribe returns a channel receiving every state change. Slow subscribers
// miss updates.
func (s *Service) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)

	s.subMu.Lock()
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()

		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
}

// publish runs inside the controller transition and must not call back into it
func (s *Service) publish(state tracking.State) {
	e := Event{State: state, Time: s.now()}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	for ch := range s.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}
