package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State is a pipeline lifecycle state. Its numeric value is the status code
// reported across the C boundary.
type State int32

const (
	Errored  State = -1
	Idle     State = 0
	Starting State = 1
	Active   State = 2
	Stopping State = 3
)

func (s State) String() string {
	switch s {
	case Errored:
		return "errored"
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) Code() int32 { return int32(s) }

func (s State) Valid() bool { return s >= Errored && s <= Stopping }

var transitions = map[State][]State{
	Idle:     {Starting},
	Starting: {Active, Stopping, Errored},
	Active:   {Stopping, Errored},
	Stopping: {Idle},
	Errored:  {Stopping},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Session identifies one start/stop cycle. Events carrying a session that is
// no longer current are stale and must be dropped.
type Session uint64

// Machine is a single-writer state machine: only the owning pipeline calls the
// transition methods. State may be read from any goroutine.
type Machine struct {
	name  string
	state atomic.Int32

	mu      sync.Mutex
	gen     Session
	started bool

	// OnTransition, if set, is called after every accepted transition,
	// outside the machine's lock.
	OnTransition func(from, to State, s Session)
}

func NewMachine(name string) *Machine {
	return &Machine{name: name}
}

func (m *Machine) Name() string { return m.name }

// State never blocks.
func (m *Machine) State() State { return State(m.state.Load()) }

// Started reports whether the machine has ever left Idle.
func (m *Machine) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Current reports whether s is the live session.
func (m *Machine) Current(s Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return s == m.gen
}

// Begin moves Idle -> Starting and opens a new session.
func (m *Machine) Begin() (Session, bool) {
	m.mu.Lock()
	if m.State() != Idle {
		m.mu.Unlock()
		return 0, false
	}
	m.gen++
	s := m.gen
	m.started = true
	m.state.Store(int32(Starting))
	m.mu.Unlock()
	m.notify(Idle, Starting, s)
	return s, true
}

// Advance performs from -> to for session s. It is rejected if s is stale,
// the machine is not in from, or the pair is not in the table.
func (m *Machine) Advance(s Session, from, to State) bool {
	if !CanTransition(from, to) {
		return false
	}
	m.mu.Lock()
	if s != m.gen || m.State() != from {
		m.mu.Unlock()
		return false
	}
	m.state.Store(int32(to))
	m.mu.Unlock()
	m.notify(from, to, s)
	return true
}

// Fail moves a Starting or Active session to Errored. It returns false when
// the session is stale or already stopping, so callers fire their error
// callback only when Fail succeeds.
func (m *Machine) Fail(s Session) bool {
	m.mu.Lock()
	from := m.State()
	if s != m.gen || (from != Starting && from != Active) {
		m.mu.Unlock()
		return false
	}
	m.state.Store(int32(Errored))
	m.mu.Unlock()
	m.notify(from, Errored, s)
	return true
}

// Halt moves Starting, Active or Errored to Stopping and opens a teardown
// session, invalidating the one being stopped. ok is false (and nothing
// changes) from Idle or Stopping.
func (m *Machine) Halt() (teardown Session, from State, ok bool) {
	m.mu.Lock()
	from = m.State()
	if !CanTransition(from, Stopping) {
		m.mu.Unlock()
		return 0, from, false
	}
	m.gen++
	teardown = m.gen
	m.state.Store(int32(Stopping))
	m.mu.Unlock()
	m.notify(from, Stopping, teardown)
	return teardown, from, true
}

// Finish completes a teardown: Stopping -> Idle.
func (m *Machine) Finish(teardown Session) bool {
	return m.Advance(teardown, Stopping, Idle)
}

func (m *Machine) notify(from, to State, s Session) {
	if m.OnTransition != nil {
		m.OnTransition(from, to, s)
	}
}

const pollInterval = 5 * time.Millisecond

// Wait polls until the machine reaches want or ctx is done.
func (m *Machine) Wait(ctx context.Context, want State) error {
	if m.State() == want {
		return nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: waiting for %s (at %s): %w", m.name, want, m.State(), ctx.Err())
		case <-ticker.C:
			if m.State() == want {
				return nil
			}
		}
	}
}
