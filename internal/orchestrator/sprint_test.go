package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gitswarm/gitswarm/internal/engine"
	"github.com/gitswarm/gitswarm/internal/errors"
	"github.com/gitswarm/gitswarm/internal/event"
	"github.com/gitswarm/gitswarm/internal/planner"
	"github.com/gitswarm/gitswarm/internal/runctx"
	"github.com/gitswarm/gitswarm/internal/shutdown"
	"github.com/gitswarm/gitswarm/internal/tasks"
	"github.com/gitswarm/gitswarm/internal/team"
	"github.com/gitswarm/gitswarm/internal/worktree"
)

// fakeEngine succeeds or fails every task without spawning a subprocess.
type fakeEngine struct {
	mu        sync.Mutex
	fail      bool
	delay     time.Duration
	onExecute func()
	tasks     []string
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Execute(ctx context.Context, req engine.Request) (engine.Result, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, req.Task)
	f.mu.Unlock()
	if f.onExecute != nil {
		f.onExecute()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail {
		return engine.Result{ExitCode: 1}, errors.NewEngineError("task failed", nil).
			WithAgent(req.Agent.Name).
			WithExitCode(1)
	}
	return engine.Result{Success: true}, nil
}

// taskCount returns how many tasks the engine has executed.
func (f *fakeEngine) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// recordingPlanner plans deterministically and records what Review saw.
type recordingPlanner struct {
	fallback  *planner.Deterministic
	reviewed  bool
	gitLog    string
	followUps []string
}

func (r *recordingPlanner) PlanSprint(ctx context.Context, list *tasks.List, agents []team.Initial, tasksPerAgent int) ([]tasks.Assignment, error) {
	return r.fallback.PlanSprint(ctx, list, agents, tasksPerAgent)
}

func (r *recordingPlanner) Review(_ context.Context, _ *tasks.List, _ int, gitLog string) ([]string, error) {
	r.reviewed = true
	r.gitLog = gitLog
	return r.followUps, nil
}

const sprintChecklist = `# Tasks

- [ ] task one (#1)
- [ ] task two (#2)
- [ ] task three (#3)
- [ ] task four (#4)
`

// sprintFixture wires an orchestrator over a scripted git executor and a
// fake engine, with the sprint worktree directory and checklist already on
// disk where RunSprint expects to find them. Zero-value fields get working
// defaults; set them before build to customize a test.
type sprintFixture struct {
	eng        engine.Engine
	exec       *scriptedExecutor
	controller *shutdown.Controller
	plan       planner.Planner
	bus        *event.Bus
	heartbeat  time.Duration
}

func (f *sprintFixture) build(t *testing.T) (*Orchestrator, *runctx.RunContext, string) {
	t.Helper()

	if f.exec == nil {
		f.exec = &scriptedExecutor{outputs: map[string]string{
			"rev-list --parents": "aaa bbb ccc\n",
		}}
	}
	manager := worktree.NewWithExecutor("/repo", f.exec, nil)

	parent := t.TempDir()
	opts := Options{
		Project:           "proj",
		TargetBranch:      "main",
		TasksFile:         "TASKS.md",
		Agents:            team.DefaultRoster().Pick(2),
		TasksPerAgent:     2,
		WorktreeParent:    parent,
		HeartbeatInterval: f.heartbeat,
	}
	orch := New(opts, manager, f.eng, f.plan, f.controller, f.bus, nil)

	rc := runctx.New("proj", "main", 1, "instance", team.DefaultRoster())
	sprintWT := filepath.Join(parent, rc.SprintBranch())
	if err := os.MkdirAll(sprintWT, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sprintWT, "TASKS.md"), []byte(sprintChecklist), 0644); err != nil {
		t.Fatal(err)
	}
	return orch, rc, sprintWT
}

func TestRunSprintAllSucceed(t *testing.T) {
	eng := &fakeEngine{}
	fx := &sprintFixture{eng: eng}
	orch, rc, sprintWT := fx.build(t)

	result, err := orch.RunSprint(context.Background(), rc, "/feature", "feature-branch")
	if err != nil {
		t.Fatalf("RunSprint: %v", err)
	}
	if got := result.Completed(); got != 4 {
		t.Errorf("Completed() = %d, want 4", got)
	}
	if got := result.Failed(); got != 0 {
		t.Errorf("Failed() = %d, want 0", got)
	}
	if result.AllFailed() {
		t.Error("successful sprint must not report all-failed")
	}
	if !result.Merged {
		t.Error("sprint should have merged into the feature branch")
	}
	if eng.taskCount() != 4 {
		t.Errorf("engine ran %d tasks, want 4", eng.taskCount())
	}

	// Every task runs in a fresh worktree at the agent's stable path.
	if got := fx.exec.count("worktree add -B"); got != 5 {
		t.Errorf("worktree add ran %d times, want 5 (sprint plus one per task)", got)
	}
	for _, dir := range []string{"agent-A-ada", "agent-B-brook"} {
		if got := fx.exec.count(dir); got == 0 {
			t.Errorf("no worktree operations under %s", dir)
		}
	}

	data, err := os.ReadFile(filepath.Join(sprintWT, "TASKS.md"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "- [x]"); got != 4 {
		t.Errorf("checklist has %d completed tasks, want 4:\n%s", got, data)
	}
	for _, attribution := range []string{"(A)", "(B)"} {
		if !strings.Contains(string(data), attribution) {
			t.Errorf("checklist missing attribution %s:\n%s", attribution, data)
		}
	}

	history, err := os.ReadFile(filepath.Join(sprintWT, ".gitswarm", "sprint-history.json"))
	if err != nil {
		t.Fatalf("sprint history not written to sprint worktree: %v", err)
	}
	if !strings.Contains(string(history), `"total_sprints": 1`) {
		t.Errorf("sprint history = %s", history)
	}
}

func TestRunSprintAllFail(t *testing.T) {
	eng := &fakeEngine{fail: true}
	fx := &sprintFixture{eng: eng}
	orch, rc, sprintWT := fx.build(t)

	result, err := orch.RunSprint(context.Background(), rc, "/feature", "feature-branch")
	if err != nil {
		t.Fatalf("RunSprint: %v", err)
	}
	if got := result.Completed(); got != 0 {
		t.Errorf("Completed() = %d, want 0", got)
	}
	if got := result.Failed(); got != 4 {
		t.Errorf("Failed() = %d, want 4", got)
	}
	if !result.AllFailed() {
		t.Error("sprint with no landed work should report all-failed")
	}

	// Failed tasks return to the pool for the next sprint.
	data, err := os.ReadFile(filepath.Join(sprintWT, "TASKS.md"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(data), "- [ ]"); got != 4 {
		t.Errorf("checklist has %d unassigned tasks, want 4:\n%s", got, data)
	}
}

func TestRunSprintMergeFailureFailsRemainingQueue(t *testing.T) {
	// Every agent merge conflicts. Each agent's first task must fail and
	// take the rest of its queue down with it, without running more engines.
	eng := &fakeEngine{}
	fx := &sprintFixture{
		eng: eng,
		exec: &scriptedExecutor{
			mergeFailures: 100,
			mergeOutput:   "CONFLICT (content): Merge conflict in main.go",
			outputs: map[string]string{
				"diff --name-only":       "main.go\n",
				"rev-parse --abbrev-ref": "sprint-branch\n",
			},
		},
	}
	orch, rc, _ := fx.build(t)

	result, err := orch.RunSprint(context.Background(), rc, "/feature", "feature-branch")
	if err == nil {
		t.Fatal("expected the sprint landing to fail after conflicted merges")
	}
	if got := result.Completed(); got != 0 {
		t.Errorf("Completed() = %d, want 0", got)
	}
	if got := result.Failed(); got != 4 {
		t.Errorf("Failed() = %d, want 4 (queued tasks fail with their blocker)", got)
	}
	if eng.taskCount() != 2 {
		t.Errorf("engine ran %d tasks, want 2 (one per agent before the queue poisoned)", eng.taskCount())
	}

	// Both queued tasks carry the blocking merge error.
	blocked := 0
	for _, out := range result.Outcomes {
		if out.Err != nil && errors.Is(out.Err, errors.ErrMergeConflict) {
			blocked++
		}
	}
	if blocked != 4 {
		t.Errorf("%d outcomes carry the merge conflict, want 4", blocked)
	}
}

func TestRunSprintShutdownSkipsLanding(t *testing.T) {
	controller := shutdown.NewController()
	eng := &fakeEngine{}
	eng.onExecute = controller.Request

	fx := &sprintFixture{eng: eng, controller: controller}
	orch, rc, _ := fx.build(t)

	result, err := orch.RunSprint(context.Background(), rc, "/feature", "feature-branch")
	if !errors.IsShutdown(err) {
		t.Fatalf("RunSprint error = %v, want shutdown", err)
	}
	if result.Merged {
		t.Error("sprint must not land in the feature branch during shutdown")
	}
	if got := fx.exec.count("Merge sprint"); got != 0 {
		t.Errorf("sprint landing merge ran %d times during shutdown, want 0", got)
	}
}

func TestRunSprintReviewRunsWithoutCompletions(t *testing.T) {
	// Review is gated on shutdown only: a sprint where every task failed
	// still gets reviewed, and the reviewer sees the sprint's commit log.
	eng := &fakeEngine{fail: true}
	plan := &recordingPlanner{
		fallback:  planner.NewDeterministic(),
		followUps: []string{"harden the parser against empty input"},
	}
	fx := &sprintFixture{
		eng:  eng,
		plan: plan,
		exec: &scriptedExecutor{outputs: map[string]string{
			"rev-list --parents": "aaa bbb ccc\n",
			"log --oneline":      "abc1234 Start sprint 1: assign 4 task(s)\n",
		}},
	}
	orch, rc, sprintWT := fx.build(t)

	result, err := orch.RunSprint(context.Background(), rc, "/feature", "feature-branch")
	if err != nil {
		t.Fatalf("RunSprint: %v", err)
	}
	if result.Completed() != 0 {
		t.Fatalf("Completed() = %d, want 0", result.Completed())
	}
	if !plan.reviewed {
		t.Fatal("review must run even when nothing completed")
	}
	if !strings.Contains(plan.gitLog, "Start sprint 1") {
		t.Errorf("review git log = %q, want the sprint's commits", plan.gitLog)
	}
	if result.FollowUps != 1 {
		t.Errorf("FollowUps = %d, want 1", result.FollowUps)
	}

	data, err := os.ReadFile(filepath.Join(sprintWT, "TASKS.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "harden the parser against empty input (#5)") {
		t.Errorf("follow-up not appended to checklist:\n%s", data)
	}
}

func TestRunSprintEmitsEngineHeartbeats(t *testing.T) {
	bus := event.NewBus()
	var mu sync.Mutex
	var beats []event.EngineHeartbeat
	event.On(bus, func(e event.EngineHeartbeat) {
		mu.Lock()
		beats = append(beats, e)
		mu.Unlock()
	})

	eng := &fakeEngine{delay: 50 * time.Millisecond}
	fx := &sprintFixture{eng: eng, bus: bus, heartbeat: 5 * time.Millisecond}
	orch, rc, _ := fx.build(t)

	if _, err := orch.RunSprint(context.Background(), rc, "/feature", "feature-branch"); err != nil {
		t.Fatalf("RunSprint: %v", err)
	}

	mu.Lock()
	n := len(beats)
	if n == 0 {
		mu.Unlock()
		t.Fatal("no heartbeats emitted while engines ran")
	}
	first := beats[0]
	mu.Unlock()
	if first.Sprint != 1 || first.Agent == "" || first.Task == "" {
		t.Errorf("heartbeat = %+v, want sprint, agent, and task populated", first)
	}

	// Heartbeats stop with their engine call.
	time.Sleep(25 * time.Millisecond)
	mu.Lock()
	after := len(beats)
	mu.Unlock()
	if after != n {
		t.Errorf("heartbeat kept firing after the sprint finished: %d -> %d", n, after)
	}
}
