package runctx

import (
	"strings"
	"testing"

	"github.com/gitswarm/gitswarm/internal/team"
)

func TestNewHash(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		h := NewHash()
		if len(h) != hashLen {
			t.Fatalf("hash %q has length %d, want %d", h, len(h), hashLen)
		}
		for _, c := range h {
			if !strings.ContainsRune(hashAlphabet, c) {
				t.Fatalf("hash %q contains %q outside alphabet", h, c)
			}
		}
		seen[h] = true
	}
	// 100 draws from 36^6 values colliding down to a handful would mean a
	// broken generator.
	if len(seen) < 90 {
		t.Errorf("only %d distinct hashes in 100 draws", len(seen))
	}
}

func TestSprintBranch(t *testing.T) {
	rc := New("myproj", "main", 3, "inst", nil)
	branch := rc.SprintBranch()
	wantPrefix := "myproj-sprint-3-"
	if !strings.HasPrefix(branch, wantPrefix) {
		t.Fatalf("SprintBranch() = %q, want prefix %q", branch, wantPrefix)
	}
	if got := strings.TrimPrefix(branch, wantPrefix); got != rc.Hash() {
		t.Errorf("sprint branch suffix = %q, want run hash %q", got, rc.Hash())
	}
}

func TestAgentBranch(t *testing.T) {
	rc := New("myproj", "main", 1, "inst", nil)

	branch := rc.AgentBranch('A')
	want := "myproj-agent-ada-" + rc.Hash()
	if branch != want {
		t.Errorf("AgentBranch(A) = %q, want %q", branch, want)
	}

	if got := rc.AgentBranch(0); got != "myproj-agent-unknown-"+rc.Hash() {
		t.Errorf("AgentBranch(invalid) = %q, want unknown name", got)
	}
}

func TestBranchNamesShareHash(t *testing.T) {
	rc := New("p", "main", 1, "inst", nil)
	sprint := rc.SprintBranch()
	agent := rc.AgentBranch('B')
	if !strings.HasSuffix(sprint, rc.Hash()) || !strings.HasSuffix(agent, rc.Hash()) {
		t.Errorf("branches %q and %q should share hash %q", sprint, agent, rc.Hash())
	}
}

func TestDistinctContextsDistinctHashes(t *testing.T) {
	a := New("p", "main", 1, "inst", nil)
	b := New("p", "main", 1, "inst", nil)
	if a.Hash() == b.Hash() {
		t.Errorf("two contexts drew the same hash %q", a.Hash())
	}
}

func TestRuntimeID(t *testing.T) {
	tests := []struct {
		project, target, instance string
		want                      string
	}{
		{"proj", "main", "abc", "proj::main::abc"},
		{"proj", "release/v1.0", "abc", "proj::release%2Fv1.0::abc"},
		{"proj", "feat branch", "abc", "proj::feat%20branch::abc"},
		{"proj", "ok-name_1.x", "abc", "proj::ok-name_1.x::abc"},
	}
	for _, tt := range tests {
		if got := RuntimeID(tt.project, tt.target, tt.instance); got != tt.want {
			t.Errorf("RuntimeID(%q, %q, %q) = %q, want %q",
				tt.project, tt.target, tt.instance, got, tt.want)
		}
	}
}

func TestAgentResolution(t *testing.T) {
	rc := New("p", "main", 1, "inst", team.DefaultRoster())
	if got := rc.AgentName('A'); got != "Ada" {
		t.Errorf("AgentName(A) = %q, want %q", got, "Ada")
	}
	agent := rc.Agent('A')
	if agent.Initial != 'A' || agent.Name != "Ada" {
		t.Errorf("Agent(A) = %+v", agent)
	}
}
