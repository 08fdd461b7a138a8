package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/gitswarm/gitswarm/internal/tasks"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Show the checklist and its assignability",
	Long: `List every task in the checklist with its status. Blocked tasks show
the numbers of the incomplete tasks blocking them.`,
	Args: cobra.NoArgs,
	RunE: runTasks,
}

var tasksAll bool

func init() {
	tasksCmd.Flags().BoolVar(&tasksAll, "all", false, "include completed tasks")
	rootCmd.AddCommand(tasksCmd)
}

var (
	taskDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	taskBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	taskOwned   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

func runTasks(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	roster, err := e.roster()
	if err != nil {
		return err
	}

	list, err := tasks.Load(filepath.Join(e.repoRoot, e.cfg.Project.TasksFile))
	if err != nil {
		return err
	}

	open, assigned, done := 0, 0, 0
	for i := range list.Tasks {
		t := &list.Tasks[i]
		switch t.Status {
		case tasks.Completed:
			done++
			if !tasksAll {
				continue
			}
			fmt.Printf("%s %s  %s\n", taskDone.Render("✓"), t.Description,
				taskDone.Render(roster.Name(t.Initial)))

		case tasks.Assigned:
			assigned++
			fmt.Printf("%s %s  %s\n", taskOwned.Render("●"), t.Description,
				taskOwned.Render(roster.Name(t.Initial)))

		default:
			open++
			if list.IsBlocked(i) {
				fmt.Printf("%s %s  %s\n", taskBlocked.Render("◌"), t.Description,
					taskBlocked.Render(blockedNote(list, i)))
			} else {
				fmt.Printf("○ %s\n", t.Description)
			}
		}
	}

	fmt.Printf("\n%d open, %d assigned, %d completed\n", open, assigned, done)
	return nil
}

// blockedNote names the incomplete blockers of the task at idx.
func blockedNote(list *tasks.List, idx int) string {
	var waiting []string
	for _, n := range list.Tasks[idx].BlockedBy() {
		blocked := true
		for j := range list.Tasks {
			if list.Tasks[j].Number() == n && list.Tasks[j].Status == tasks.Completed {
				blocked = false
				break
			}
		}
		if blocked {
			waiting = append(waiting, fmt.Sprintf("#%d", n))
		}
	}
	return "waiting on " + strings.Join(waiting, ", ")
}
