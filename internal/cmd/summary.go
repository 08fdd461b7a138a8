package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/gitswarm/gitswarm/internal/orchestrator"
)

var (
	summaryTitle = lipgloss.NewStyle().Bold(true)
	summaryOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	summaryFail  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	summaryMuted = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// renderRunSummary formats a finished run for the terminal: one line per
// task grouped by sprint, then totals and the stop reason.
func renderRunSummary(s *orchestrator.RunSummary) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(summaryTitle.Render("RUN SUMMARY"))
	b.WriteString("\n")
	b.WriteString(summaryMuted.Render(strings.Repeat("─", 50)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Feature branch: %s\n", s.FeatureBranch)

	for _, r := range s.Sprints {
		fmt.Fprintf(&b, "\nSprint %d", r.Sprint)
		if !r.Finished.IsZero() {
			b.WriteString(summaryMuted.Render(
				fmt.Sprintf("  (%s)", r.Finished.Sub(r.Started).Round(time.Second))))
		}
		b.WriteString("\n")

		if r.Empty() {
			b.WriteString(summaryMuted.Render("  no assignable tasks") + "\n")
			continue
		}
		for _, o := range r.Outcomes {
			mark := summaryOK.Render("✓")
			if !o.Success {
				mark = summaryFail.Render("✗")
			}
			task := o.Task
			if len(task) > 60 {
				task = task[:57] + "..."
			}
			fmt.Fprintf(&b, "  %s [%s] %s\n", mark, o.Agent, task)
		}
		if !r.Merged {
			b.WriteString(summaryFail.Render("  sprint branch not merged") + "\n")
		}
		if r.FollowUps > 0 {
			fmt.Fprintf(&b, "  %s\n",
				summaryMuted.Render(fmt.Sprintf("+%d follow-up tasks from review", r.FollowUps)))
		}
	}

	b.WriteString("\n")
	b.WriteString(summaryMuted.Render(strings.Repeat("─", 50)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Completed: %s  Failed: %s\n",
		summaryOK.Render(fmt.Sprintf("%d", s.Completed())),
		summaryFail.Render(fmt.Sprintf("%d", s.Failed())))
	fmt.Fprintf(&b, "Stopped: %s\n", s.StopReason)
	return b.String()
}
