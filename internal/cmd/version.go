package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the release version, overridden at build time with
// -ldflags "-X github.com/gitswarm/gitswarm/internal/cmd.Version=...".
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gitswarm version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gitswarm %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
