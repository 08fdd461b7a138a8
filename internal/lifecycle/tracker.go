// Package lifecycle tracks the per-sprint state of each agent through a
// guarded state machine. Agents move strictly forward, one step at a time:
//
//	Assigned -> Working -> Done -> Terminated
//
// Each transition fires only from its exact source state and is a no-op
// otherwise, so out-of-order or repeated reports from agent goroutines can
// neither skip a state nor resurrect a finished agent. The tracker is
// observability only; it never gates orchestrator control flow.
package lifecycle

import (
	"sync"

	"github.com/gitswarm/gitswarm/internal/team"
)

// State is the position of an agent in its sprint lifecycle.
type State int

const (
	// Assigned means the agent has tasks but has not started executing.
	Assigned State = iota
	// Working means the agent's engine process is running.
	Working
	// Done means the agent finished its queue, successfully or not.
	Done
	// Terminated means the agent's resources are released.
	Terminated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Assigned:
		return "assigned"
	case Working:
		return "working"
	case Done:
		return "done"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Tracker records each agent's lifecycle state for one sprint. It is safe
// for concurrent use by the orchestrator and its agent goroutines.
type Tracker struct {
	mu     sync.Mutex
	states map[team.Initial]State
}

// NewTracker creates a Tracker with the given agents in the Assigned state.
func NewTracker(agents []team.Initial) *Tracker {
	states := make(map[team.Initial]State, len(agents))
	for _, a := range agents {
		states[a] = Assigned
	}
	return &Tracker{states: states}
}

// State returns the agent's current state. Unknown agents report
// Terminated: an agent the tracker never saw has no live resources.
func (t *Tracker) State(agent team.Initial) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[agent]
	if !ok {
		return Terminated
	}
	return s
}

// transition moves the agent from exactly the given source state to the
// next one. Returns false, changing nothing, when the agent is unknown or
// in any other state.
func (t *Tracker) transition(agent team.Initial, from, to State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.states[agent]
	if !ok || cur != from {
		return false
	}
	t.states[agent] = to
	return true
}

// MarkWorking transitions the agent from Assigned to Working.
func (t *Tracker) MarkWorking(agent team.Initial) bool {
	return t.transition(agent, Assigned, Working)
}

// MarkDone transitions the agent from Working to Done. A no-op from any
// other state: an agent that never started cannot finish.
func (t *Tracker) MarkDone(agent team.Initial) bool {
	return t.transition(agent, Working, Done)
}

// MarkTerminated transitions the agent from Done to Terminated.
func (t *Tracker) MarkTerminated(agent team.Initial) bool {
	return t.transition(agent, Done, Terminated)
}

// Count returns how many tracked agents are currently in the given state.
func (t *Tracker) Count(s State) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, cur := range t.states {
		if cur == s {
			n++
		}
	}
	return n
}

// AllDone reports whether every tracked agent has reached Done or
// Terminated.
func (t *Tracker) AllDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cur := range t.states {
		if cur < Done {
			return false
		}
	}
	return true
}

// Agents returns the tracked initials in unspecified order.
func (t *Tracker) Agents() []team.Initial {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]team.Initial, 0, len(t.states))
	for a := range t.states {
		out = append(out, a)
	}
	return out
}
