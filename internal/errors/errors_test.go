package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestGitError(t *testing.T) {
	cause := New("exit status 128")
	err := NewGitError("failed to create worktree", cause).
		WithBranch("proj-agent-ada-x7k2p9").
		WithWorktree("/tmp/wt").
		WithGitOutput("fatal: invalid reference\n")

	msg := err.Error()
	for _, want := range []string{"branch=proj-agent-ada-x7k2p9", "worktree=/tmp/wt", "fatal: invalid reference"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !Is(err, cause) {
		t.Error("GitError should unwrap to its cause")
	}
	if err.GitOutput != "fatal: invalid reference" {
		t.Errorf("GitOutput not trimmed: %q", err.GitOutput)
	}
}

func TestEngineErrorExitCodeClassification(t *testing.T) {
	tests := []struct {
		code    int
		matches error
	}{
		{ExitCodeTimeout, ErrEngineTimeout},
		{ExitCodeKilled, ErrEngineKilled},
	}
	for _, tt := range tests {
		err := NewEngineError("engine failed", nil).WithExitCode(tt.code)
		if !Is(err, tt.matches) {
			t.Errorf("exit %d should match %v", tt.code, tt.matches)
		}
	}

	plain := NewEngineError("engine failed", nil).WithExitCode(1)
	if Is(plain, ErrEngineTimeout) || Is(plain, ErrEngineKilled) {
		t.Error("ordinary exit code must not classify as timeout or kill")
	}
}

func TestMergeConflictError(t *testing.T) {
	err := NewMergeConflictError("agent-branch", "sprint-branch", []string{"main.go"}).
		WithDeadLetterRef("refs/gitswarm/dead-letter/agent-branch")

	if !Is(err, ErrMergeConflict) {
		t.Error("should match ErrMergeConflict")
	}
	msg := err.Error()
	if !strings.Contains(msg, "main.go") || !strings.Contains(msg, "refs/gitswarm/dead-letter/agent-branch") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestMergeIntegrityError(t *testing.T) {
	err := NewMergeIntegrityError("sprint-branch", "feature-branch", 1)
	if !Is(err, ErrSquashMerge) {
		t.Error("should match ErrSquashMerge")
	}
	if !strings.Contains(err.Error(), "1 parent(s)") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"planning", NewPlanningError("assign", New("bad reply")), true},
		{"wrapped planning", fmt.Errorf("sprint 3: %w", NewPlanningError("assign", nil)), true},
		{"shutdown", ErrShutdown, true},
		{"git", NewGitError("merge failed", nil), false},
		{"engine", NewEngineError("engine failed", nil), false},
	}
	for _, tt := range tests {
		if got := IsRecoverable(tt.err); got != tt.want {
			t.Errorf("IsRecoverable(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsShutdown(t *testing.T) {
	if !IsShutdown(ErrShutdown) {
		t.Error("ErrShutdown itself should report shutdown")
	}
	if !IsShutdown(fmt.Errorf("agent A: %w", ErrShutdown)) {
		t.Error("wrapped ErrShutdown should report shutdown")
	}
	if IsShutdown(nil) || IsShutdown(New("other")) {
		t.Error("non-shutdown errors must not report shutdown")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	base := New("base")
	wrapped := Wrapf(base, "sprint %d", 3)
	if !Is(wrapped, base) {
		t.Error("Wrapf should preserve the chain")
	}
	if !strings.Contains(wrapped.Error(), "sprint 3: base") {
		t.Errorf("Wrapf message = %q", wrapped.Error())
	}
}
