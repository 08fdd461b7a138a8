// Package runctx generates collision-free, human-readable names for the
// branches and worktrees of one sprint. All artifact names derived from one
// context share the same trailing run hash, so concurrently running sprints
// and invocations can never collide.
package runctx

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/gitswarm/gitswarm/internal/team"
)

// hashLen is the length of the run hash suffix.
const hashLen = 6

const hashAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RunContext scopes the artifact names of one sprint to a project and a
// fresh random run hash.
type RunContext struct {
	Project      string
	TargetBranch string
	SprintNumber int

	// RuntimeID namespaces persisted runtime-state keys so two concurrent
	// invocations targeting different branches never collide.
	RuntimeID string

	hash   string
	roster *team.Roster
}

// New creates a RunContext with a fresh run hash. runInstance is a
// caller-supplied token shared by all sprints of one top-level invocation.
func New(project, targetBranch string, sprintNumber int, runInstance string, roster *team.Roster) *RunContext {
	if roster == nil {
		roster = team.DefaultRoster()
	}
	return &RunContext{
		Project:      project,
		TargetBranch: targetBranch,
		SprintNumber: sprintNumber,
		RuntimeID:    RuntimeID(project, targetBranch, runInstance),
		hash:         NewHash(),
		roster:       roster,
	}
}

// RuntimeID builds the state key namespace for one invocation:
// "{project}::{encoded target branch}::{run instance}". Stable across the
// sprints of one run, distinct across concurrent runs.
func RuntimeID(project, targetBranch, runInstance string) string {
	return fmt.Sprintf("%s::%s::%s", project, percentEncode(targetBranch), runInstance)
}

// NewHash returns a fresh 6-character token over [a-z0-9], usable for any
// run-scoped artifact name.
func NewHash() string {
	return newRunHash()
}

// newRunHash returns a fresh 6-character token over [a-z0-9].
func newRunHash() string {
	buf := make([]byte, hashLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand read failure means the platform RNG is broken;
		// nothing sensible to do but panic.
		panic(fmt.Sprintf("runctx: failed to read random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = hashAlphabet[int(b)%len(hashAlphabet)]
	}
	return string(buf)
}

// Hash returns the run hash shared by all names from this context.
func (c *RunContext) Hash() string {
	return c.hash
}

// SprintBranch returns the ephemeral integration branch name for this
// sprint: "{project}-sprint-{n}-{hash}".
func (c *RunContext) SprintBranch() string {
	return fmt.Sprintf("%s-sprint-%d-%s", c.Project, c.SprintNumber, c.hash)
}

// AgentBranch returns the branch name for an agent's task work:
// "{project}-agent-{name}-{hash}" with the name lowercased. Invalid
// initials map to "unknown".
func (c *RunContext) AgentBranch(initial team.Initial) string {
	name := "unknown"
	if initial.Valid() {
		name = strings.ToLower(c.roster.Name(initial))
	}
	return fmt.Sprintf("%s-agent-%s-%s", c.Project, name, c.hash)
}

// AgentName resolves an initial through the context's roster.
func (c *RunContext) AgentName(initial team.Initial) string {
	return c.roster.Name(initial)
}

// Agent resolves the full agent identity for an initial.
func (c *RunContext) Agent(initial team.Initial) team.Agent {
	return c.roster.Agent(initial)
}

// percentEncode escapes any byte outside [A-Za-z0-9._-] as %XX, making the
// target branch safe to embed in a state key.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z',
			c >= 'a' && c <= 'z',
			c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
