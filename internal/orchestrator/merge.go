package orchestrator

import (
	"time"

	"github.com/gitswarm/gitswarm/internal/errors"
	"github.com/gitswarm/gitswarm/internal/event"
	"github.com/gitswarm/gitswarm/internal/logging"
	"github.com/gitswarm/gitswarm/internal/state"
	"github.com/gitswarm/gitswarm/internal/team"
	"github.com/gitswarm/gitswarm/internal/worktree"
)

// MergeCoordinator wraps the worktree manager's merges with the sprint
// merge protocols. Agent merges into the sprint branch get exactly one
// retry, so transient failures (an index lock from a just-finished sibling
// merge) clear while deterministic ones fail identically twice with both
// errors bundled. Sprint landings into the feature branch are retried on
// the verification side instead: a failed landing check triggers one
// re-merge followed by a second check, and a second check failure is
// fatal with both verification errors bundled.
type MergeCoordinator struct {
	manager *worktree.Manager
	bus     *event.Bus
	logger  *logging.Logger
}

// NewMergeCoordinator creates a MergeCoordinator.
func NewMergeCoordinator(manager *worktree.Manager, bus *event.Bus, logger *logging.Logger) *MergeCoordinator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &MergeCoordinator{manager: manager, bus: bus, logger: logger}
}

// MergeAgentWork merges an agent's branch into the sprint branch checked
// out in sprintWorktree. Returns whether a merge commit was created.
func (c *MergeCoordinator) MergeAgentWork(sprint int, sprintWorktree, agentBranch string, agent team.Agent, message string) (bool, error) {
	return c.mergeWithRetry(sprint, agentBranch, func() (bool, error) {
		return c.manager.MergeAgentBranch(sprintWorktree, agentBranch, agent, message)
	})
}

// MergeSprint merges the sprint branch into the feature branch checked
// out in featureWorktree, then verifies the landing is a true two-parent
// merge commit. A failed verification triggers exactly one re-merge and
// one re-verification; a second verification failure is fatal.
func (c *MergeCoordinator) MergeSprint(sprint int, featureWorktree, sprintBranch, featureBranch, message string) (bool, error) {
	// Untracked runtime-state copies in the feature worktree would block
	// the merge once the sprint branch carries tracked versions of them.
	if err := c.manager.CleanUntracked(featureWorktree, state.RuntimeFiles()...); err != nil {
		c.logger.Warn("failed to clean untracked state files", "worktree", featureWorktree, "error", err)
	}

	merge := func() (bool, error) {
		return c.manager.MergeFeatureBranch(featureWorktree, sprintBranch, team.Swarm, message)
	}

	merged, err := merge()
	if err != nil {
		c.publishConflict(sprint, sprintBranch, err)
		return false, err
	}
	if !merged {
		// Sprint branch contributed nothing; there is no landing to verify.
		return false, nil
	}

	if err := c.verifyLanding(sprint, sprintBranch, featureBranch, merge); err != nil {
		return false, err
	}
	c.publish(event.MergeCompleted{
		Sprint: sprint,
		Branch: sprintBranch,
		Target: featureBranch,
		Time:   time.Now().UTC(),
	})
	return true, nil
}

// verifyLanding checks that the sprint branch landed in the feature
// branch as a two-parent merge commit. When the check fails, the merge is
// re-run once and the check runs a second time; a second check failure
// returns both verification errors joined, first check first. The check
// never runs a third time.
func (c *MergeCoordinator) verifyLanding(sprint int, sprintBranch, featureBranch string, merge func() (bool, error)) error {
	firstErr := c.manager.EnsureFeatureMerged(sprintBranch, featureBranch)
	if firstErr == nil {
		return nil
	}

	c.logger.Warn("sprint landing failed verification, re-merging once",
		"branch", sprintBranch, "target", featureBranch, "error", firstErr)
	if _, retryErr := merge(); retryErr != nil {
		c.publishConflict(sprint, sprintBranch, retryErr)
		return errors.Join(firstErr, retryErr)
	}

	if secondErr := c.manager.EnsureFeatureMerged(sprintBranch, featureBranch); secondErr != nil {
		return errors.Join(firstErr, secondErr)
	}
	c.logger.Info("sprint landing verified after retry", "branch", sprintBranch)
	return nil
}

// mergeWithRetry runs an agent merge attempt at most twice. A second
// failure returns both errors joined, first attempt first.
func (c *MergeCoordinator) mergeWithRetry(sprint int, branch string, attempt func() (bool, error)) (bool, error) {
	merged, firstErr := attempt()
	if firstErr == nil {
		return merged, nil
	}

	c.logger.Warn("merge failed, retrying once", "branch", branch, "error", firstErr)
	merged, retryErr := attempt()
	if retryErr == nil {
		c.logger.Info("merge retry succeeded", "branch", branch)
		return merged, nil
	}

	c.publishConflict(sprint, branch, retryErr)
	return false, errors.Join(firstErr, retryErr)
}

// publishConflict emits a MergeConflict event when the terminal error is a
// conflict.
func (c *MergeCoordinator) publishConflict(sprint int, branch string, err error) {
	var conflict *errors.MergeConflictError
	if !errors.As(err, &conflict) {
		return
	}
	c.publish(event.MergeConflict{
		Sprint:        sprint,
		Branch:        conflict.Branch,
		Target:        conflict.Target,
		Files:         conflict.Files,
		DeadLetterRef: conflict.DeadLetterRef,
		Time:          time.Now().UTC(),
	})
}

func (c *MergeCoordinator) publish(e event.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}
