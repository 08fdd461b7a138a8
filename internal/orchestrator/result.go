package orchestrator

import (
	"time"

	"github.com/gitswarm/gitswarm/internal/team"
)

// TaskOutcome is the final disposition of one assigned task.
type TaskOutcome struct {
	// TaskIndex is the task's index in the checklist at planning time.
	TaskIndex int

	// Task is the task text at planning time.
	Task string

	// Agent is the initial of the agent that owned the task.
	Agent team.Initial

	// Success means the work was committed and merged into the sprint
	// branch. A successful engine run whose merge failed is not a
	// success: the work did not land.
	Success bool

	// Err carries the failure cause, nil on success.
	Err error
}

// SprintResult summarizes one executed sprint.
type SprintResult struct {
	Sprint       int
	SprintBranch string
	Outcomes     []TaskOutcome

	// Merged means the sprint branch landed in the feature branch as a
	// verified merge commit.
	Merged bool

	// FollowUps counts tasks appended by the post-sprint review.
	FollowUps int

	Started  time.Time
	Finished time.Time
}

// Completed returns how many tasks landed.
func (r *SprintResult) Completed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// Failed returns how many assigned tasks did not land.
func (r *SprintResult) Failed() int {
	return len(r.Outcomes) - r.Completed()
}

// Empty reports a sprint in which nothing was assignable.
func (r *SprintResult) Empty() bool {
	return len(r.Outcomes) == 0
}

// AllFailed reports a sprint in which work was assigned and none of it
// landed. Consecutive all-failed sprints stop the run: re-running the
// same failing plan forever burns engine time for nothing.
func (r *SprintResult) AllFailed() bool {
	return len(r.Outcomes) > 0 && r.Completed() == 0
}
