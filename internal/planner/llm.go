package planner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/gitswarm/gitswarm/internal/errors"
	"github.com/gitswarm/gitswarm/internal/logging"
	"github.com/gitswarm/gitswarm/internal/tasks"
	"github.com/gitswarm/gitswarm/internal/team"
)

// PromptRunner executes one planning prompt and returns the model's reply.
// Abstracted so tests can script responses.
type PromptRunner func(ctx context.Context, prompt string) (string, error)

// CLIPromptRunner runs prompts through a headless LLM CLI invocation in
// the given directory.
func CLIPromptRunner(command, dir string) PromptRunner {
	if command == "" {
		command = "claude"
	}
	return func(ctx context.Context, prompt string) (string, error) {
		cmd := exec.CommandContext(ctx, command, "--print", "--dangerously-skip-permissions", prompt)
		cmd.Dir = dir
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("planner command failed: %w\n%s", err, out.String())
		}
		return out.String(), nil
	}
}

// LLM plans sprints by asking a model to distribute tasks, validating
// every proposal against the checklist. Anything the model gets wrong
// degrades to the deterministic plan rather than failing the sprint.
type LLM struct {
	run      PromptRunner
	fallback *Deterministic
	logger   *logging.Logger
}

// NewLLM creates an LLM planner backed by the given runner.
func NewLLM(run PromptRunner, logger *logging.Logger) *LLM {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LLM{run: run, fallback: NewDeterministic(), logger: logger}
}

// assignmentLine matches one proposed assignment: "#12: A" or "12: A".
var assignmentLine = regexp.MustCompile(`^#?(\d+)\s*[:\->]+\s*([A-Za-z])\b`)

// PlanSprint asks the model for an assignment plan and applies the valid
// proposals. On any model or parse failure the deterministic plan is used
// and the failure logged; planning never sinks a sprint.
func (p *LLM) PlanSprint(ctx context.Context, list *tasks.List, agents []team.Initial, tasksPerAgent int) ([]tasks.Assignment, error) {
	assignable := list.AssignableIndices()
	if len(assignable) == 0 || len(agents) == 0 {
		return nil, nil
	}

	reply, err := p.run(ctx, planPrompt(list, assignable, agents, tasksPerAgent))
	if err != nil {
		p.logger.Warn("planner failed, using deterministic assignment", "error", err)
		return p.fallback.PlanSprint(ctx, list, agents, tasksPerAgent)
	}

	plan, err := p.parsePlan(reply, list, agents, tasksPerAgent)
	if err != nil {
		p.logger.Warn("planner reply rejected, using deterministic assignment", "error", err)
		return p.fallback.PlanSprint(ctx, list, agents, tasksPerAgent)
	}

	var applied []tasks.Assignment
	for _, a := range plan {
		if list.Assign(a.TaskIndex, a.Initial) {
			applied = append(applied, a)
		}
	}
	return applied, nil
}

// parsePlan validates the model's reply line by line. A reply proposing an
// unknown task, an agent outside the team, over-capacity agents, a blocked
// task, or nothing at all is rejected wholesale.
func (p *LLM) parsePlan(reply string, list *tasks.List, agents []team.Initial, tasksPerAgent int) ([]tasks.Assignment, error) {
	onTeam := make(map[team.Initial]bool, len(agents))
	for _, a := range agents {
		onTeam[a] = true
	}

	counts := make(map[team.Initial]int)
	seen := make(map[int]bool)
	var plan []tasks.Assignment

	for _, line := range strings.Split(reply, "\n") {
		m := assignmentLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		initial := teamInitial(m[2])

		idx := indexOfTask(list, num)
		if idx < 0 {
			return nil, errors.NewPlanningError("assign", fmt.Errorf("unknown task #%d", num))
		}
		if !onTeam[initial] {
			return nil, errors.NewPlanningError("assign", fmt.Errorf("agent %s is not on the team", initial))
		}
		if !list.IsAssignable(idx) {
			return nil, errors.NewPlanningError("assign", fmt.Errorf("task #%d is not assignable", num))
		}
		if seen[idx] {
			return nil, errors.NewPlanningError("assign", fmt.Errorf("task #%d assigned twice", num))
		}
		if counts[initial] >= tasksPerAgent {
			return nil, errors.NewPlanningError("assign", fmt.Errorf("agent %s over capacity", initial))
		}

		seen[idx] = true
		counts[initial]++
		plan = append(plan, tasks.Assignment{TaskIndex: idx, Initial: initial})
	}

	if len(plan) == 0 {
		return nil, errors.NewPlanningError("assign", errors.New("no assignments in reply"))
	}
	return plan, nil
}

// Review asks the model for follow-up tasks uncovered by the sprint's
// work, showing it both the checklist and the commits that landed.
// Failures yield no follow-ups; review is best-effort.
func (p *LLM) Review(ctx context.Context, list *tasks.List, sprint int, gitLog string) ([]string, error) {
	reply, err := p.run(ctx, reviewPrompt(list, sprint, gitLog))
	if err != nil {
		p.logger.Warn("review failed, skipping follow-ups", "sprint", sprint, "error", err)
		return nil, nil
	}

	var followUps []string
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if strings.HasPrefix(line, "TASK:") {
			if desc := strings.TrimSpace(strings.TrimPrefix(line, "TASK:")); desc != "" {
				followUps = append(followUps, desc)
			}
		}
	}
	return followUps, nil
}

func teamInitial(s string) team.Initial {
	i, err := team.ParseInitial(s)
	if err != nil {
		return 0
	}
	return i
}

func indexOfTask(list *tasks.List, num int) int {
	for i := range list.Tasks {
		if list.Tasks[i].Number() == num {
			return i
		}
	}
	return -1
}

// planPrompt renders the assignment request.
func planPrompt(list *tasks.List, assignable []int, agents []team.Initial, tasksPerAgent int) string {
	var b strings.Builder
	b.WriteString("You are planning a development sprint. Distribute tasks among agents.\n\n")

	b.WriteString("Agents: ")
	for i, a := range agents {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	fmt.Fprintf(&b, " (at most %d tasks each)\n\nAssignable tasks:\n", tasksPerAgent)

	for _, idx := range assignable {
		fmt.Fprintf(&b, "  #%d: %s\n", list.Tasks[idx].Number(), list.Tasks[idx].Description)
	}

	b.WriteString("\nGroup related tasks on the same agent to minimize merge conflicts.\n")
	b.WriteString("Reply with one line per assignment in exactly this form:\n\n  #<task number>: <agent letter>\n\nNo other text.\n")
	return b.String()
}

// reviewPrompt renders the post-sprint review request.
func reviewPrompt(list *tasks.List, sprint int, gitLog string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sprint %d just finished. Review the task checklist and the work that landed,\n", sprint)
	b.WriteString("and propose follow-up tasks for problems the completed work likely introduced\n")
	b.WriteString("(missing tests, docs, integration gaps).\n\n")
	b.WriteString(list.String())
	if gitLog != "" {
		b.WriteString("\nCommits landed this sprint:\n\n")
		b.WriteString(gitLog)
		b.WriteString("\n")
	}
	b.WriteString("\nReply with at most three lines, each in exactly this form:\n\n  TASK: <description>\n\nReply with nothing if no follow-ups are warranted.\n")
	return b.String()
}

var _ Planner = (*LLM)(nil)
