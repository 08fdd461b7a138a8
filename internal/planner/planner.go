// Package planner decides which tasks each agent takes in a sprint and,
// after the sprint, which follow-up tasks to add. The default planner is
// deterministic; an LLM-backed planner can be layered on top, falling back
// to the deterministic plan whenever the model misbehaves.
package planner

import (
	"context"

	"github.com/gitswarm/gitswarm/internal/tasks"
	"github.com/gitswarm/gitswarm/internal/team"
)

// Planner plans one sprint and reviews its outcome.
type Planner interface {
	// PlanSprint assigns tasks for the coming sprint, mutating the list.
	// Returns the assignments made; an empty plan means no assignable
	// work remains.
	PlanSprint(ctx context.Context, list *tasks.List, agents []team.Initial, tasksPerAgent int) ([]tasks.Assignment, error)

	// Review inspects the checklist and the git log of work landed during
	// the sprint, and proposes follow-up task descriptions to append. May
	// return nothing.
	Review(ctx context.Context, list *tasks.List, sprint int, gitLog string) ([]string, error)
}

// Deterministic is the fallback planner: tasks are taken in file order and
// each agent is filled to capacity before the next agent receives any.
type Deterministic struct{}

// NewDeterministic creates the deterministic planner.
func NewDeterministic() *Deterministic {
	return &Deterministic{}
}

// PlanSprint assigns tasks in file order, filling agents to capacity.
func (*Deterministic) PlanSprint(_ context.Context, list *tasks.List, agents []team.Initial, tasksPerAgent int) ([]tasks.Assignment, error) {
	return list.AssignSprint(agents, tasksPerAgent), nil
}

// Review proposes nothing: deterministic planning never invents tasks.
func (*Deterministic) Review(context.Context, *tasks.List, int, string) ([]string, error) {
	return nil, nil
}

var _ Planner = (*Deterministic)(nil)
