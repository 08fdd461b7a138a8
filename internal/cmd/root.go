// Package cmd implements the gitswarm command-line interface.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gitswarm/gitswarm/internal/config"
	"github.com/gitswarm/gitswarm/internal/logging"
	"github.com/gitswarm/gitswarm/internal/shutdown"
	"github.com/gitswarm/gitswarm/internal/team"
	"github.com/gitswarm/gitswarm/internal/worktree"
)

var rootCmd = &cobra.Command{
	Use:   "gitswarm",
	Short: "Sprint engine for a swarm of coding agents",
	Long: `Gitswarm runs a team of autonomous coding agents against a shared
checklist. Each sprint, tasks are assigned to agents, each agent works
in an isolated git worktree, and finished work merges back through
attributable merge commits on a feature branch.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("target-branch", "", "branch the feature branch forks from")
	rootCmd.PersistentFlags().String("tasks-file", "", "checklist path relative to the repository root")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("project.target_branch", rootCmd.PersistentFlags().Lookup("target-branch"))
	_ = viper.BindPFlag("project.tasks_file", rootCmd.PersistentFlags().Lookup("tasks-file"))
}

// env is the shared runtime every subcommand builds on: validated config,
// the repository root, and a logger.
type env struct {
	cfg      *config.Config
	repoRoot string
	logger   *logging.Logger
	manager  *worktree.Manager
}

// setup locates the enclosing git repository, loads configuration from it,
// and opens the logger and worktree manager.
func setup() (*env, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	repoRoot, err := worktree.FindGitRoot(cwd)
	if err != nil {
		return nil, err
	}

	if err := config.Init(repoRoot); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(repoRoot)
	}

	logDir := cfg.Logging.Dir
	if logDir != "" && !filepath.IsAbs(logDir) {
		logDir = filepath.Join(repoRoot, logDir)
	}
	logger, err := logging.NewLogger(logDir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	manager, err := worktree.New(repoRoot, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &env{cfg: cfg, repoRoot: repoRoot, logger: logger, manager: manager}, nil
}

func (e *env) close() {
	_ = e.logger.Close()
}

// roster loads the agent roster, applying the configured override file.
func (e *env) roster() (*team.Roster, error) {
	if e.cfg.Paths.RosterFile == "" {
		return team.DefaultRoster(), nil
	}
	path := e.cfg.Paths.RosterFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.repoRoot, path)
	}
	return team.LoadRoster(path)
}

// watchSignals forwards interrupt signals to the shutdown controller until
// stop is called. The first signal starts a graceful shutdown; the third
// forces exit.
func watchSignals(controller *shutdown.Controller) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				controller.Interrupt()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
