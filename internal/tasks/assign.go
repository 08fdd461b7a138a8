package tasks

import "github.com/gitswarm/gitswarm/internal/team"

// Assignment pairs a task index with the agent that owns it this sprint.
type Assignment struct {
	TaskIndex int
	Initial   team.Initial
}

// AssignSprint walks the checklist in file order and assigns each assignable
// task to the first agent in the given order that still has capacity. This
// fills one agent to tasksPerAgent before moving to the next; it is
// deliberately not round-robin. Returns the assignments made.
//
// Blocking is re-evaluated per task, so a task blocked by work assigned in
// this same call stays unassigned: its dependency has not completed yet.
func (l *List) AssignSprint(agents []team.Initial, tasksPerAgent int) []Assignment {
	if tasksPerAgent <= 0 || len(agents) == 0 {
		return nil
	}

	counts := make(map[team.Initial]int, len(agents))
	var assignments []Assignment

	for i := range l.Tasks {
		if !l.IsAssignable(i) {
			continue
		}
		for _, agent := range agents {
			if counts[agent] >= tasksPerAgent {
				continue
			}
			l.Tasks[i].Status = Assigned
			l.Tasks[i].Initial = agent
			counts[agent]++
			assignments = append(assignments, Assignment{TaskIndex: i, Initial: agent})
			break
		}
	}
	return assignments
}

// Assign marks the task at idx as assigned to the given agent. Used when an
// external planner chose the distribution.
func (l *List) Assign(idx int, agent team.Initial) bool {
	if idx < 0 || idx >= len(l.Tasks) || l.Tasks[idx].Status != Unassigned {
		return false
	}
	l.Tasks[idx].Status = Assigned
	l.Tasks[idx].Initial = agent
	return true
}

// Complete marks the task at idx as completed, attributed to the given
// agent. Already-completed tasks are left untouched.
func (l *List) Complete(idx int, agent team.Initial) bool {
	if idx < 0 || idx >= len(l.Tasks) || l.Tasks[idx].Status == Completed {
		return false
	}
	l.Tasks[idx].Status = Completed
	l.Tasks[idx].Initial = agent
	return true
}

// UnassignAll reverts every assigned task to unassigned, reclaiming
// incomplete work from a prior interrupted sprint. Completed tasks are
// never touched. Returns the number of tasks reverted.
func (l *List) UnassignAll() int {
	reverted := 0
	for i := range l.Tasks {
		if l.Tasks[i].Status == Assigned {
			l.Tasks[i].Status = Unassigned
			l.Tasks[i].Initial = 0
			reverted++
		}
	}
	return reverted
}

// CountByStatus returns how many tasks currently hold the given status.
func (l *List) CountByStatus(s Status) int {
	n := 0
	for i := range l.Tasks {
		if l.Tasks[i].Status == s {
			n++
		}
	}
	return n
}

// AssignedTo returns the indices of tasks assigned to the given agent, in
// file order. Within one agent, tasks execute in exactly this order.
func (l *List) AssignedTo(agent team.Initial) []int {
	var out []int
	for i := range l.Tasks {
		if l.Tasks[i].Status == Assigned && l.Tasks[i].Initial == agent {
			out = append(out, i)
		}
	}
	return out
}
