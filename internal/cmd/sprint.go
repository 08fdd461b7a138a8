package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sprintCmd = &cobra.Command{
	Use:   "sprint",
	Short: "Run a single sprint",
	Long: `Run exactly one sprint: assign tasks, run the agents, and merge
finished work into the feature branch. Useful for supervised runs where
each sprint's result is inspected before the next.`,
	Args: cobra.NoArgs,
	RunE: runSprint,
}

func init() {
	rootCmd.AddCommand(sprintCmd)
}

func runSprint(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	summary, err := executeRun(cmd.Context(), e, 1)
	if summary != nil {
		fmt.Print(renderRunSummary(summary))
	}
	return err
}
