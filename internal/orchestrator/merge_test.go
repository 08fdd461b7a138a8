package orchestrator

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gitswarm/gitswarm/internal/errors"
	"github.com/gitswarm/gitswarm/internal/event"
	"github.com/gitswarm/gitswarm/internal/team"
	"github.com/gitswarm/gitswarm/internal/worktree"
)

// scriptedExecutor fails merge invocations a set number of times, then
// succeeds. Other git commands succeed with the scripted outputs; queues
// holds per-command sequences consumed one element per call, sticking on
// the last. Every invocation is recorded in calls.
type scriptedExecutor struct {
	mergeFailures int
	mergeOutput   string
	mergeCalls    int
	outputs       map[string]string
	queues        map[string][]string
	calls         []string
}

func (s *scriptedExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	line := strings.Join(args, " ")
	s.calls = append(s.calls, line)
	if strings.Contains(line, "merge --no-ff") {
		s.mergeCalls++
		if s.mergeCalls <= s.mergeFailures {
			return []byte(s.mergeOutput), fmt.Errorf("exit status 1")
		}
		return nil, nil
	}
	for match, queue := range s.queues {
		if strings.Contains(line, match) && len(queue) > 0 {
			out := queue[0]
			if len(queue) > 1 {
				s.queues[match] = queue[1:]
			}
			return []byte(out), nil
		}
	}
	for match, out := range s.outputs {
		if strings.Contains(line, match) {
			return []byte(out), nil
		}
	}
	return nil, nil
}

// count returns how many recorded git invocations contain substr.
func (s *scriptedExecutor) count(substr string) int {
	n := 0
	for _, line := range s.calls {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func (s *scriptedExecutor) RunQuiet(dir string, name string, args ...string) error {
	_, err := s.Run(dir, name, args...)
	return err
}

func newCoordinator(exec worktree.CommandExecutor, bus *event.Bus) *MergeCoordinator {
	manager := worktree.NewWithExecutor("/repo", exec, nil)
	return NewMergeCoordinator(manager, bus, nil)
}

func TestMergeAgentWorkFirstAttempt(t *testing.T) {
	exec := &scriptedExecutor{}
	c := newCoordinator(exec, nil)

	merged, err := c.MergeAgentWork(1, "/sprint", "agent-branch", team.Agent{Initial: 'A', Name: "Ada"}, "msg")
	if err != nil {
		t.Fatalf("MergeAgentWork: %v", err)
	}
	if !merged {
		t.Error("expected merged=true")
	}
	if exec.mergeCalls != 1 {
		t.Errorf("merge attempted %d times, want 1", exec.mergeCalls)
	}
}

func TestMergeAgentWorkRetrySucceeds(t *testing.T) {
	// A transient failure (index lock) clears on the second attempt.
	exec := &scriptedExecutor{mergeFailures: 1, mergeOutput: "fatal: Unable to create index.lock"}
	c := newCoordinator(exec, nil)

	merged, err := c.MergeAgentWork(1, "/sprint", "agent-branch", team.Agent{Initial: 'A', Name: "Ada"}, "msg")
	if err != nil {
		t.Fatalf("MergeAgentWork after retry: %v", err)
	}
	if !merged {
		t.Error("expected merged=true")
	}
	if exec.mergeCalls != 2 {
		t.Errorf("merge attempted %d times, want 2", exec.mergeCalls)
	}
}

func TestMergeAgentWorkBothAttemptsFail(t *testing.T) {
	exec := &scriptedExecutor{mergeFailures: 5, mergeOutput: "fatal: broken"}
	c := newCoordinator(exec, nil)

	_, err := c.MergeAgentWork(1, "/sprint", "agent-branch", team.Agent{Initial: 'A', Name: "Ada"}, "msg")
	if err == nil {
		t.Fatal("expected error")
	}
	if exec.mergeCalls != 2 {
		t.Errorf("merge attempted %d times, want exactly 2", exec.mergeCalls)
	}
	// Both failures travel together.
	var gitErr *errors.GitError
	if !errors.As(err, &gitErr) {
		t.Errorf("joined error should still expose *GitError, got %v", err)
	}
}

func TestMergeAgentWorkConflictPublishesEvent(t *testing.T) {
	exec := &scriptedExecutor{
		mergeFailures: 5,
		mergeOutput:   "CONFLICT (content): Merge conflict in main.go",
		outputs: map[string]string{
			"diff --name-only":       "main.go\n",
			"rev-parse --abbrev-ref": "sprint-branch\n",
		},
	}
	bus := event.NewBus()
	var conflicts []event.MergeConflict
	event.On(bus, func(e event.MergeConflict) { conflicts = append(conflicts, e) })
	c := newCoordinator(exec, bus)

	_, err := c.MergeAgentWork(3, "/sprint", "agent-branch", team.Agent{Initial: 'A', Name: "Ada"}, "msg")
	if !errors.Is(err, errors.ErrMergeConflict) {
		t.Fatalf("error = %v, want merge conflict", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("published %d conflict events, want 1", len(conflicts))
	}
	got := conflicts[0]
	if got.Sprint != 3 || got.Branch != "agent-branch" || got.Target != "sprint-branch" {
		t.Errorf("conflict event = %+v", got)
	}
	if got.DeadLetterRef != "refs/gitswarm/dead-letter/agent-branch" {
		t.Errorf("DeadLetterRef = %q", got.DeadLetterRef)
	}
}

func TestMergeSprintVerifiesAndPublishes(t *testing.T) {
	exec := &scriptedExecutor{outputs: map[string]string{
		"rev-list --parents": "aaa bbb ccc\n",
	}}
	bus := event.NewBus()
	var completed []event.MergeCompleted
	event.On(bus, func(e event.MergeCompleted) { completed = append(completed, e) })
	c := newCoordinator(exec, bus)

	merged, err := c.MergeSprint(2, "/feature", "sprint-branch", "feature-branch", "Merge sprint 2")
	if err != nil {
		t.Fatalf("MergeSprint: %v", err)
	}
	if !merged {
		t.Error("expected merged=true")
	}
	if exec.mergeCalls != 1 {
		t.Errorf("merge ran %d times, want 1", exec.mergeCalls)
	}
	if got := exec.count("rev-list --parents"); got != 1 {
		t.Errorf("landing verified %d times, want 1", got)
	}
	if len(completed) != 1 {
		t.Fatalf("published %d completed events, want 1", len(completed))
	}
	if completed[0].Branch != "sprint-branch" || completed[0].Target != "feature-branch" {
		t.Errorf("completed event = %+v", completed[0])
	}
}

func TestMergeSprintReverifiesAfterRetry(t *testing.T) {
	// The first landing check sees a single-parent tip; the re-merge fixes
	// it and the second check passes. The run as a whole succeeds.
	exec := &scriptedExecutor{queues: map[string][]string{
		"rev-list --parents": {"aaa bbb\n", "aaa bbb ccc\n"},
	}}
	bus := event.NewBus()
	var completed []event.MergeCompleted
	event.On(bus, func(e event.MergeCompleted) { completed = append(completed, e) })
	c := newCoordinator(exec, bus)

	merged, err := c.MergeSprint(1, "/feature", "sprint-branch", "feature-branch", "msg")
	if err != nil {
		t.Fatalf("MergeSprint after verification retry: %v", err)
	}
	if !merged {
		t.Error("expected merged=true")
	}
	if exec.mergeCalls != 2 {
		t.Errorf("merge ran %d times, want 2 (initial plus one retry)", exec.mergeCalls)
	}
	if got := exec.count("rev-list --parents"); got != 2 {
		t.Errorf("landing verified %d times, want exactly 2", got)
	}
	if len(completed) != 1 {
		t.Errorf("published %d completed events, want 1", len(completed))
	}
}

func TestMergeSprintRejectsSquashedLanding(t *testing.T) {
	// Ancestry holds but the tip keeps one parent even after the re-merge:
	// attribution is gone and the second check failure is fatal.
	exec := &scriptedExecutor{outputs: map[string]string{
		"rev-list --parents": "aaa bbb\n",
	}}
	c := newCoordinator(exec, nil)

	merged, err := c.MergeSprint(1, "/feature", "sprint-branch", "feature-branch", "msg")
	if merged {
		t.Error("expected merged=false")
	}
	if !errors.Is(err, errors.ErrSquashMerge) {
		t.Errorf("error = %v, want squash-merge detection", err)
	}
	if exec.mergeCalls != 2 {
		t.Errorf("merge ran %d times, want exactly 2", exec.mergeCalls)
	}
	if got := exec.count("rev-list --parents"); got != 2 {
		t.Errorf("landing verified %d times, want exactly 2 (never a third)", got)
	}
}

func TestMergeSprintConflictStopsBeforeVerify(t *testing.T) {
	exec := &scriptedExecutor{
		mergeFailures: 5,
		mergeOutput:   "CONFLICT (content): Merge conflict in main.go",
		outputs: map[string]string{
			"diff --name-only":       "main.go\n",
			"rev-parse --abbrev-ref": "feature-branch\n",
		},
	}
	bus := event.NewBus()
	var conflicts []event.MergeConflict
	event.On(bus, func(e event.MergeConflict) { conflicts = append(conflicts, e) })
	c := newCoordinator(exec, bus)

	_, err := c.MergeSprint(1, "/feature", "sprint-branch", "feature-branch", "msg")
	if !errors.Is(err, errors.ErrMergeConflict) {
		t.Fatalf("error = %v, want merge conflict", err)
	}
	if exec.mergeCalls != 1 {
		t.Errorf("merge ran %d times, want 1", exec.mergeCalls)
	}
	if got := exec.count("rev-list --parents"); got != 0 {
		t.Errorf("landing verified %d times after a failed merge, want 0", got)
	}
	if len(conflicts) != 1 {
		t.Errorf("published %d conflict events, want 1", len(conflicts))
	}
}

func TestSprintResultCounters(t *testing.T) {
	r := &SprintResult{
		Sprint:  1,
		Started: time.Now(),
		Outcomes: []TaskOutcome{
			{TaskIndex: 0, Success: true},
			{TaskIndex: 1, Success: false},
			{TaskIndex: 2, Success: true},
		},
	}
	if got := r.Completed(); got != 2 {
		t.Errorf("Completed() = %d, want 2", got)
	}
	if got := r.Failed(); got != 1 {
		t.Errorf("Failed() = %d, want 1", got)
	}
	if r.Empty() || r.AllFailed() {
		t.Error("mixed result is neither empty nor all-failed")
	}

	empty := &SprintResult{}
	if !empty.Empty() || empty.AllFailed() {
		t.Error("no outcomes means empty, not all-failed")
	}

	failed := &SprintResult{Outcomes: []TaskOutcome{{Success: false}}}
	if !failed.AllFailed() {
		t.Error("single failed outcome should report all-failed")
	}
}
