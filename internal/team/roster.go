// Package team defines agent identities for the swarm: a closed alphabet of
// single-letter initials mapped to stable human-readable names. An agent is
// a logical worker identity, mapped 1:1 to an isolated git worktree/branch
// for the duration of one task.
package team

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Initial is a single uppercase letter identifying an agent.
type Initial byte

// Valid reports whether the initial is in the A-Z alphabet.
func (i Initial) Valid() bool {
	return i >= 'A' && i <= 'Z'
}

// String returns the initial as a one-character string, or "?" if invalid.
func (i Initial) String() string {
	if !i.Valid() {
		return "?"
	}
	return string(rune(i))
}

// Ordinal returns the zero-based position of the initial in the alphabet,
// or -1 if invalid.
func (i Initial) Ordinal() int {
	if !i.Valid() {
		return -1
	}
	return int(i - 'A')
}

// ParseInitial converts a string to an Initial. Accepts a single letter in
// either case.
func ParseInitial(s string) (Initial, error) {
	s = strings.TrimSpace(s)
	if len(s) != 1 {
		return 0, fmt.Errorf("invalid agent initial %q: must be a single letter", s)
	}
	c := Initial(strings.ToUpper(s)[0])
	if !c.Valid() {
		return 0, fmt.Errorf("invalid agent initial %q: must be A-Z", s)
	}
	return c, nil
}

// Agent is a worker identity: an initial plus a human-readable name.
type Agent struct {
	Initial Initial
	Name    string
}

// GitName returns the author/committer name for this agent's commits.
func (a Agent) GitName() string {
	if !a.Initial.Valid() {
		return a.Name
	}
	return fmt.Sprintf("Agent %s", a.Name)
}

// GitEmail returns the author/committer email for this agent's commits.
func (a Agent) GitEmail() string {
	if !a.Initial.Valid() {
		return "swarm@swarm.local"
	}
	return fmt.Sprintf("agent-%s@swarm.local", strings.ToLower(a.Initial.String()))
}

// Attribution returns the git author string used for this agent's commits
// and merges.
func (a Agent) Attribution() string {
	return fmt.Sprintf("%s <%s>", a.GitName(), a.GitEmail())
}

// Swarm is the collective identity for bookkeeping commits no single
// agent owns: sprint planning, checklist updates, and feature merges.
var Swarm = Agent{Name: "Swarm"}

// defaultNames maps each initial to its default agent name. The table is a
// fixed-size array indexed by initial ordinal so lookups never allocate.
var defaultNames = [26]string{
	"Ada", "Brook", "Casey", "Devon", "Ellis", "Flynn", "Gray", "Harper",
	"Indigo", "Jules", "Kit", "Lane", "Morgan", "Noor", "Onyx", "Parker",
	"Quinn", "Reese", "Sage", "Tate", "Uma", "Vesper", "Wren", "Xen",
	"Yael", "Zephyr",
}

// Roster is the set of agents available to the orchestrator, in stable
// alphabetical order.
type Roster struct {
	names [26]string
}

// DefaultRoster returns the built-in roster.
func DefaultRoster() *Roster {
	return &Roster{names: defaultNames}
}

// rosterFile is the on-disk YAML shape for roster overrides.
type rosterFile struct {
	Agents map[string]string `yaml:"agents"`
}

// LoadRoster returns the default roster with any overrides from the given
// YAML file applied. A missing file yields the default roster; a malformed
// file is an error.
//
// File format:
//
//	agents:
//	  A: Apollo
//	  B: Beatrix
func LoadRoster(path string) (*Roster, error) {
	r := DefaultRoster()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}

	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse roster file %s: %w", path, err)
	}

	for key, name := range file.Agents {
		initial, err := ParseInitial(key)
		if err != nil {
			return nil, fmt.Errorf("roster file %s: %w", path, err)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("roster file %s: empty name for agent %s", path, initial)
		}
		r.names[initial.Ordinal()] = name
	}
	return r, nil
}

// Name returns the name for an initial, or "unknown" for an invalid one.
func (r *Roster) Name(i Initial) string {
	if !i.Valid() {
		return "unknown"
	}
	return r.names[i.Ordinal()]
}

// Agent returns the full agent identity for an initial.
func (r *Roster) Agent(i Initial) Agent {
	return Agent{Initial: i, Name: r.Name(i)}
}

// Pick returns the first n agents of the roster in alphabetical order.
// n is clamped to [0, 26].
func (r *Roster) Pick(n int) []Agent {
	if n < 0 {
		n = 0
	}
	if n > 26 {
		n = 26
	}
	agents := make([]Agent, 0, n)
	for i := 0; i < n; i++ {
		agents = append(agents, r.Agent(Initial('A'+i)))
	}
	return agents
}

// Initials returns the initials of the given agents in sorted order.
func Initials(agents []Agent) []Initial {
	out := make([]Initial, len(agents))
	for i, a := range agents {
		out[i] = a.Initial
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
