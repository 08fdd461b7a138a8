package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gitswarm/gitswarm/internal/errors"
	"github.com/gitswarm/gitswarm/internal/logging"
	"github.com/gitswarm/gitswarm/internal/runctx"
	"github.com/gitswarm/gitswarm/internal/shutdown"
	"github.com/gitswarm/gitswarm/internal/state"
	"github.com/gitswarm/gitswarm/internal/team"
	"github.com/gitswarm/gitswarm/internal/worktree"
)

// RunOptions configures a multi-sprint run.
type RunOptions struct {
	Options

	// TotalSprints caps how many sprints this invocation runs.
	TotalSprints int

	// MaxAllFailedStreak stops the run after this many consecutive
	// sprints in which no assigned task landed. Zero defaults to 2.
	MaxAllFailedStreak int

	// RunInstance is the unique token for this invocation, shared by all
	// its sprints.
	RunInstance string

	// Roster resolves agent initials to names.
	Roster *team.Roster
}

// RunSummary is the outcome of a multi-sprint run.
type RunSummary struct {
	FeatureBranch string
	Sprints       []*SprintResult
	StopReason    string
}

// Completed sums landed tasks across all sprints.
func (s *RunSummary) Completed() int {
	n := 0
	for _, r := range s.Sprints {
		n += r.Completed()
	}
	return n
}

// Failed sums failed tasks across all sprints.
func (s *RunSummary) Failed() int {
	n := 0
	for _, r := range s.Sprints {
		n += r.Failed()
	}
	return n
}

// Runner drives consecutive sprints against one feature branch, carrying
// sprint history and team state between them.
type Runner struct {
	opts      RunOptions
	orch      *Orchestrator
	manager   *worktree.Manager
	runtimeID string

	// store is the main checkout's copy of team state. Sprint history
	// travels with the branches instead; only the feature-branch pointer
	// needs a home that exists before any branch does.
	store      *state.Store
	controller *shutdown.Controller
	logger     *logging.Logger
}

// NewRunner creates a Runner around an Orchestrator.
func NewRunner(opts RunOptions, orch *Orchestrator, manager *worktree.Manager,
	controller *shutdown.Controller, logger *logging.Logger) *Runner {
	if opts.MaxAllFailedStreak <= 0 {
		opts.MaxAllFailedStreak = 2
	}
	if opts.Roster == nil {
		opts.Roster = team.DefaultRoster()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	runtimeID := runctx.RuntimeID(opts.Project, opts.TargetBranch, opts.RunInstance)
	return &Runner{
		opts:       opts,
		orch:       orch,
		manager:    manager,
		runtimeID:  runtimeID,
		store:      state.NewStore(manager.Root(), runtimeID),
		controller: controller,
		logger:     logger.WithProject(opts.Project),
	}
}

// Run executes up to TotalSprints sprints. It stops early when the
// checklist runs out of assignable work, when too many consecutive
// sprints fail outright, or on shutdown. The feature branch always
// survives; its worktree does not.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	featureBranch, featureWT, err := r.ensureFeatureBranch()
	if err != nil {
		return nil, err
	}
	summary := &RunSummary{FeatureBranch: featureBranch}
	defer func() { _ = r.manager.RemoveWorktree(featureWT) }()

	// Sprint history lives on the branch: the orchestrator advances it in
	// the sprint worktree and the sprint merge carries it back here, so
	// each iteration reads the feature worktree's copy for the next number.
	branchState := state.NewStore(featureWT, r.runtimeID)

	streak := 0
	for i := 0; i < r.opts.TotalSprints; i++ {
		if r.controller != nil && r.controller.Requested() {
			summary.StopReason = "shutdown requested"
			break
		}

		history, err := branchState.LoadSprintHistory()
		if err != nil {
			return summary, err
		}
		sprintNo := history.TotalSprints + 1
		rc := runctx.New(r.opts.Project, r.opts.TargetBranch, sprintNo, r.opts.RunInstance, r.opts.Roster)

		result, err := r.orch.RunSprint(ctx, rc, featureWT, featureBranch)
		if result != nil {
			summary.Sprints = append(summary.Sprints, result)
		}
		if errors.IsShutdown(err) {
			summary.StopReason = "shutdown requested"
			break
		}
		if err != nil {
			r.logger.Error("sprint failed", "sprint", sprintNo, "error", err)
		}

		if result == nil {
			continue
		}
		if result.Empty() {
			summary.StopReason = "no assignable tasks remain"
			break
		}
		if result.AllFailed() {
			streak++
			if streak >= r.opts.MaxAllFailedStreak {
				summary.StopReason = fmt.Sprintf("%d consecutive sprints failed completely", streak)
				break
			}
		} else {
			streak = 0
		}
	}

	if summary.StopReason == "" {
		summary.StopReason = "sprint budget exhausted"
	}
	r.logger.Info("run finished",
		"sprints", len(summary.Sprints),
		"completed", summary.Completed(),
		"failed", summary.Failed(),
		"reason", summary.StopReason)
	return summary, nil
}

// ensureFeatureBranch reuses this run's feature branch from team state
// when it still exists, otherwise forks a new one from the target branch.
// Either way the branch ends up checked out in a dedicated worktree.
func (r *Runner) ensureFeatureBranch() (string, string, error) {
	ts, err := r.store.LoadTeamState()
	if err != nil {
		r.logger.Warn("ignoring unreadable team state", "error", err)
		ts = nil
	}

	var featureBranch string
	if r.store.OwnedByRun(ts) && ts.FeatureBranch != nil && r.manager.BranchExists(*ts.FeatureBranch) {
		featureBranch = *ts.FeatureBranch
		r.logger.Info("resuming feature branch", "branch", featureBranch)
	} else {
		featureBranch = fmt.Sprintf("%s-feature-%s", r.opts.Project, runctx.NewHash())
		r.logger.Info("creating feature branch", "branch", featureBranch, "from", r.opts.TargetBranch)
	}

	featureWT := filepath.Join(r.opts.WorktreeParent, featureBranch)
	start := r.opts.TargetBranch
	if r.manager.BranchExists(featureBranch) {
		start = featureBranch
	}
	if err := r.manager.CreateWorktree(featureWT, featureBranch, start); err != nil {
		return "", "", err
	}

	if err := r.store.SaveTeamState(&state.TeamState{
		Team:          agentInitialStrings(r.opts.Agents),
		FeatureBranch: &featureBranch,
	}); err != nil {
		r.logger.Warn("failed to persist team state", "error", err)
	}
	return featureBranch, featureWT, nil
}

func agentInitialStrings(agents []team.Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.Initial.String()
	}
	return out
}
