// Package orchestrator runs sprints: it plans assignments, fans work out
// to one goroutine per agent, funnels finished work through serialized
// merges into the sprint branch, and lands the sprint in the feature
// branch as a verified merge commit.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/gitswarm/gitswarm/internal/engine"
	"github.com/gitswarm/gitswarm/internal/errors"
	"github.com/gitswarm/gitswarm/internal/event"
	"github.com/gitswarm/gitswarm/internal/lifecycle"
	"github.com/gitswarm/gitswarm/internal/logging"
	"github.com/gitswarm/gitswarm/internal/planner"
	"github.com/gitswarm/gitswarm/internal/runctx"
	"github.com/gitswarm/gitswarm/internal/shutdown"
	"github.com/gitswarm/gitswarm/internal/state"
	"github.com/gitswarm/gitswarm/internal/tasks"
	"github.com/gitswarm/gitswarm/internal/team"
	"github.com/gitswarm/gitswarm/internal/worktree"
)

// Options configures sprint execution.
type Options struct {
	// Project is the short project name used in branch names.
	Project string

	// TargetBranch is the branch the feature branch forked from.
	TargetBranch string

	// TasksFile is the checklist path relative to the repository root.
	TasksFile string

	// TeamDir is the shared documentation directory passed to engines,
	// relative to the repository root. Empty disables it.
	TeamDir string

	// Agents is the active team, in assignment-priority order.
	Agents []team.Agent

	// TasksPerAgent caps how many tasks one agent takes per sprint.
	TasksPerAgent int

	// WorktreeParent is the directory under which sprint and agent
	// worktrees are created.
	WorktreeParent string

	// HeartbeatInterval is how often a still-working heartbeat is emitted
	// while an engine subprocess runs. Zero disables the heartbeat.
	HeartbeatInterval time.Duration
}

// Orchestrator executes sprints against one repository.
type Orchestrator struct {
	opts       Options
	manager    *worktree.Manager
	merges     *MergeCoordinator
	engine     engine.Engine
	planner    planner.Planner
	controller *shutdown.Controller
	bus        *event.Bus
	logger     *logging.Logger
}

// New creates an Orchestrator. The planner defaults to deterministic
// assignment and the logger to a no-op when nil.
func New(opts Options, manager *worktree.Manager, eng engine.Engine, plan planner.Planner,
	controller *shutdown.Controller, bus *event.Bus, logger *logging.Logger) *Orchestrator {
	if plan == nil {
		plan = planner.NewDeterministic()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	if bus == nil {
		bus = event.NewBus()
	}
	return &Orchestrator{
		opts:       opts,
		manager:    manager,
		merges:     NewMergeCoordinator(manager, bus, logger),
		engine:     eng,
		planner:    plan,
		controller: controller,
		bus:        bus,
		logger:     logger,
	}
}

// agentWork is one agent's queue for the sprint.
type agentWork struct {
	agent   team.Agent
	branch  string
	dir     string
	indices []int
	texts   []string
}

// RunSprint executes one sprint against the feature branch. The returned
// result is non-nil whenever the sprint reached planning, even if every
// task failed; an error means the sprint infrastructure itself broke.
func (o *Orchestrator) RunSprint(ctx context.Context, rc *runctx.RunContext, featureWorktree, featureBranch string) (*SprintResult, error) {
	log := o.logger.WithProject(o.opts.Project).WithSprint(rc.SprintNumber)
	result := &SprintResult{Sprint: rc.SprintNumber, SprintBranch: rc.SprintBranch(), Started: time.Now().UTC()}
	defer func() { result.Finished = time.Now().UTC() }()

	if o.shuttingDown() {
		return result, errors.ErrShutdown
	}

	// Sprint worktree: the canonical checkout for this sprint's checklist
	// and integration merges.
	sprintBranch := rc.SprintBranch()
	sprintWT := filepath.Join(o.opts.WorktreeParent, sprintBranch)
	if err := o.manager.CreateWorktree(sprintWT, sprintBranch, featureBranch); err != nil {
		return result, err
	}
	var work []*agentWork
	defer func() { o.cleanupSprint(result, work, sprintBranch, sprintWT) }()

	tasksPath := filepath.Join(sprintWT, o.opts.TasksFile)
	list, err := tasks.Load(tasksPath)
	if err != nil {
		return result, err
	}

	// Reclaim assignments a previous interrupted run left behind.
	if reverted := list.UnassignAll(); reverted > 0 {
		log.Info("reclaimed stale assignments", "count", reverted)
	}

	plan, err := o.planner.PlanSprint(ctx, list, team.Initials(o.opts.Agents), o.opts.TasksPerAgent)
	if err != nil {
		return result, err
	}
	if len(plan) == 0 {
		log.Info("no assignable tasks, sprint skipped")
		return result, nil
	}

	work = o.buildWork(rc, list, plan)
	if err := list.Save(tasksPath); err != nil {
		return result, err
	}

	// Sprint history travels with the branch: advance it in the sprint
	// worktree so the start commit below carries it.
	store := state.NewStore(sprintWT, rc.RuntimeID)
	history, err := store.LoadSprintHistory()
	if err != nil {
		return result, err
	}
	history.TotalSprints = rc.SprintNumber
	history.Team = agentInitialStrings(o.opts.Agents)
	if err := store.SaveSprintHistory(history); err != nil {
		return result, err
	}

	msg := fmt.Sprintf("Start sprint %d: assign %d task(s)", rc.SprintNumber, len(plan))
	if _, err := o.manager.CommitAll(sprintWT, msg, team.Swarm); err != nil {
		return result, err
	}

	o.publishStart(rc, work, len(plan))

	tracker := lifecycle.NewTracker(workInitials(work))

	var (
		mu       sync.Mutex
		outcomes []TaskOutcome
		wg       conc.WaitGroup
	)
	for _, w := range work {
		w := w
		wg.Go(func() {
			got := o.runAgent(ctx, rc, sprintWT, w, list, &mu, tracker)
			mu.Lock()
			outcomes = append(outcomes, got...)
			mu.Unlock()
		})
	}
	wg.Wait()
	result.Outcomes = outcomes

	// Failed tasks return to the pool; completed ones were marked during
	// the run and are untouchable.
	list.UnassignAll()

	if !o.shuttingDown() {
		gitLog, logErr := o.manager.CommitLog(featureBranch, sprintBranch)
		if logErr != nil {
			log.Warn("failed to read sprint commit log for review", "error", logErr)
		}
		followUps, _ := o.planner.Review(ctx, list, rc.SprintNumber, gitLog)
		for _, desc := range followUps {
			list.Append(desc)
		}
		result.FollowUps = len(followUps)
	}

	if err := list.Save(tasksPath); err != nil {
		return result, err
	}
	msg = fmt.Sprintf("Finish sprint %d: %d completed, %d failed", rc.SprintNumber, result.Completed(), result.Failed())
	if _, err := o.manager.CommitAll(sprintWT, msg, team.Swarm); err != nil {
		return result, err
	}

	if o.shuttingDown() {
		log.Info("shutdown requested, leaving sprint branch unmerged", "branch", sprintBranch)
		o.publishFinish(rc, result)
		return result, errors.ErrShutdown
	}

	merged, err := o.merges.MergeSprint(rc.SprintNumber, featureWorktree, sprintBranch, featureBranch,
		fmt.Sprintf("Merge sprint %d into %s", rc.SprintNumber, featureBranch))
	if err != nil {
		log.Error("sprint merge failed, sprint branch preserved", "branch", sprintBranch, "error", err)
		o.publishFinish(rc, result)
		return result, err
	}
	result.Merged = merged

	o.publishFinish(rc, result)
	log.Info("sprint finished",
		"completed", result.Completed(), "failed", result.Failed(), "merged", result.Merged)
	return result, nil
}

// buildWork groups the plan by agent, preserving file order within each
// agent's queue, and snapshots task texts before engines start mutating
// the tree.
func (o *Orchestrator) buildWork(rc *runctx.RunContext, list *tasks.List, plan []tasks.Assignment) []*agentWork {
	byAgent := make(map[team.Initial]*agentWork)
	var order []*agentWork
	for _, a := range plan {
		w, ok := byAgent[a.Initial]
		if !ok {
			agent := rc.Agent(a.Initial)
			w = &agentWork{
				agent:  agent,
				branch: rc.AgentBranch(a.Initial),
				dir: filepath.Join(o.opts.WorktreeParent,
					fmt.Sprintf("agent-%s-%s", agent.Initial.String(), strings.ToLower(agent.Name))),
			}
			byAgent[a.Initial] = w
			order = append(order, w)
		}
		w.indices = append(w.indices, a.TaskIndex)
		w.texts = append(w.texts, list.Tasks[a.TaskIndex].Description)
	}
	return order
}

// runAgent executes one agent's task queue in order. Each task gets a
// fresh worktree branched off the current sprint tip, one engine run, one
// commit, and one serialized merge into the sprint branch; the worktree is
// destroyed once the task lands. A merge failure or a worktree failure
// poisons the rest of the queue: later tasks would build on a base that
// can no longer land.
func (o *Orchestrator) runAgent(ctx context.Context, rc *runctx.RunContext, sprintWT string,
	w *agentWork, list *tasks.List, listMu *sync.Mutex, tracker *lifecycle.Tracker) []TaskOutcome {

	log := o.logger.WithSprint(rc.SprintNumber).WithAgent(w.agent.Initial.String())
	outcomes := make([]TaskOutcome, 0, len(w.indices))
	defer func() {
		tracker.MarkDone(w.agent.Initial)
		tracker.MarkTerminated(w.agent.Initial)
	}()

	for i, idx := range w.indices {
		text := w.texts[i]
		outcome := TaskOutcome{TaskIndex: idx, Task: text, Agent: w.agent.Initial}

		if o.shuttingDown() {
			outcome.Err = errors.ErrShutdown
			outcomes = append(outcomes, outcome)
			continue
		}

		// Fresh worktree per task, branched off the current sprint tip so
		// the task sees every sibling merge landed so far.
		if err := o.manager.CreateWorktree(w.dir, w.branch, rc.SprintBranch()); err != nil {
			log.Error("agent worktree failed, failing remaining queue", "error", err)
			return append(outcomes, o.failRemaining(rc, w, i, err)...)
		}

		tracker.MarkWorking(w.agent.Initial)
		o.publish(event.EngineStarted{
			Sprint: rc.SprintNumber, Agent: w.agent.Initial.String(),
			Engine: o.engine.Name(), Task: text, Time: time.Now().UTC(),
		})

		stopHeartbeat := o.startTaskHeartbeat(rc, w.agent, text)
		res, err := o.engine.Execute(ctx, engine.Request{
			Agent:   w.agent,
			Task:    text,
			Dir:     w.dir,
			Sprint:  rc.SprintNumber,
			TeamDir: o.teamDir(w.dir),
		})
		stopHeartbeat()
		o.publish(event.EngineFinished{
			Sprint: rc.SprintNumber, Agent: w.agent.Initial.String(),
			Engine: o.engine.Name(), Success: res.Success, ExitCode: res.ExitCode,
			Time: time.Now().UTC(),
		})
		if err != nil {
			log.Warn("task failed in engine", "task", text, "exit_code", res.ExitCode)
			outcome.Err = err
			outcomes = append(outcomes, outcome)
			o.publishTaskFailed(rc, w.agent, text, err)
			continue
		}

		// One task, one commit.
		committed, err := o.manager.CommitAll(w.dir, fmt.Sprintf("%s (%s)", text, w.agent.Initial), w.agent)
		if err != nil {
			outcome.Err = err
			outcomes = append(outcomes, outcome)
			o.publishTaskFailed(rc, w.agent, text, err)
			continue
		}
		if !committed {
			log.Warn("engine reported success but changed nothing", "task", text)
		}

		// A merge failure converts engine success into task failure, and
		// fails everything still queued behind it: work that did not land
		// did not happen, and nothing further can land on top of it.
		_, err = o.merges.MergeAgentWork(rc.SprintNumber, sprintWT, w.branch, w.agent,
			fmt.Sprintf("Merge %s work: %s", w.agent.Name, text))
		if err != nil {
			log.Error("task work did not land, failing remaining queue", "task", text, "error", err)
			return append(outcomes, o.failRemaining(rc, w, i, err)...)
		}

		_ = o.manager.RemoveWorktree(w.dir)

		outcome.Success = true
		outcomes = append(outcomes, outcome)
		listMu.Lock()
		list.Complete(idx, w.agent.Initial)
		listMu.Unlock()
		o.publish(event.TaskCompleted{
			Sprint: rc.SprintNumber, Agent: w.agent.Initial.String(),
			Task: text, Time: time.Now().UTC(),
		})
		log.Info("task landed", "task", text)
	}
	return outcomes
}

// failRemaining marks the task at fromIdx and every task queued behind it
// as failed with the same error.
func (o *Orchestrator) failRemaining(rc *runctx.RunContext, w *agentWork, fromIdx int, err error) []TaskOutcome {
	outcomes := make([]TaskOutcome, 0, len(w.indices)-fromIdx)
	for i := fromIdx; i < len(w.indices); i++ {
		outcomes = append(outcomes, TaskOutcome{
			TaskIndex: w.indices[i], Task: w.texts[i], Agent: w.agent.Initial, Err: err,
		})
		o.publishTaskFailed(rc, w.agent, w.texts[i], err)
	}
	return outcomes
}

// startTaskHeartbeat emits EngineHeartbeat events on an interval while one
// engine call runs, so a long silent run stays distinguishable from a
// hang. The returned stop function is idempotent and waits for the
// heartbeat goroutine to exit.
func (o *Orchestrator) startTaskHeartbeat(rc *runctx.RunContext, agent team.Agent, task string) func() {
	if o.opts.HeartbeatInterval <= 0 {
		return func() {}
	}

	started := time.Now()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(o.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.publish(event.EngineHeartbeat{
					Sprint: rc.SprintNumber, Agent: agent.Initial.String(),
					Task: task, Elapsed: time.Since(started), Time: time.Now().UTC(),
				})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
		})
	}
}

// cleanupSprint tears down the sprint's worktrees and branches. Agent
// branches are always removed: their commits are either merged into the
// sprint branch or preserved under dead-letter refs. The sprint branch
// survives only when it holds unmerged commits.
func (o *Orchestrator) cleanupSprint(result *SprintResult, work []*agentWork, sprintBranch, sprintWT string) {
	for _, w := range work {
		_ = o.manager.RemoveWorktree(w.dir)
		_ = o.manager.DeleteBranch(w.branch)
	}

	_ = o.manager.RemoveWorktree(sprintWT)
	if result.Merged || result.Empty() {
		_ = o.manager.DeleteBranch(sprintBranch)
	} else {
		o.logger.Warn("keeping unmerged sprint branch", "branch", sprintBranch)
	}
}

func (o *Orchestrator) teamDir(agentDir string) string {
	if o.opts.TeamDir == "" {
		return ""
	}
	return filepath.Join(agentDir, o.opts.TeamDir)
}

func (o *Orchestrator) shuttingDown() bool {
	return o.controller != nil && o.controller.Requested()
}

func (o *Orchestrator) publish(e event.Event) {
	o.bus.Publish(e)
}

func (o *Orchestrator) publishStart(rc *runctx.RunContext, work []*agentWork, taskCount int) {
	agents := make([]string, 0, len(work))
	for _, w := range work {
		agents = append(agents, w.agent.Initial.String())
		for _, text := range w.texts {
			o.publish(event.TaskAssigned{
				Sprint: rc.SprintNumber, Agent: w.agent.Initial.String(),
				Task: text, Time: time.Now().UTC(),
			})
		}
	}
	o.publish(event.SprintStarted{
		Sprint: rc.SprintNumber, SprintBranch: rc.SprintBranch(),
		Agents: agents, Tasks: taskCount, Time: time.Now().UTC(),
	})
}

func (o *Orchestrator) publishFinish(rc *runctx.RunContext, result *SprintResult) {
	o.publish(event.SprintFinished{
		Sprint: rc.SprintNumber, Completed: result.Completed(),
		Failed: result.Failed(), Merged: result.Merged, Time: time.Now().UTC(),
	})
}

func (o *Orchestrator) publishTaskFailed(rc *runctx.RunContext, agent team.Agent, task string, err error) {
	o.publish(event.TaskFailed{
		Sprint: rc.SprintNumber, Agent: agent.Initial.String(),
		Task: task, Reason: err.Error(), Time: time.Now().UTC(),
	})
}

func workInitials(work []*agentWork) []team.Initial {
	out := make([]team.Initial, len(work))
	for i, w := range work {
		out[i] = w.agent.Initial
	}
	return out
}
