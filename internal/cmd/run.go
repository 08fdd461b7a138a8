package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gitswarm/gitswarm/internal/engine"
	"github.com/gitswarm/gitswarm/internal/event"
	"github.com/gitswarm/gitswarm/internal/orchestrator"
	"github.com/gitswarm/gitswarm/internal/planner"
	"github.com/gitswarm/gitswarm/internal/shutdown"
	"github.com/gitswarm/gitswarm/internal/state"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run sprints until the checklist or the sprint budget runs out",
	Long: `Run consecutive sprints against the checklist. Each sprint assigns
tasks to agents, runs them in parallel worktrees, and merges finished
work into a feature branch. The run stops when the sprint budget is
exhausted, no assignable tasks remain, or too many consecutive sprints
fail completely.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int("sprints", 0, "maximum sprints this run")
	runCmd.Flags().Int("agents", 0, "agents per sprint (1-26)")
	runCmd.Flags().Int("tasks-per-agent", 0, "tasks per agent per sprint")
	runCmd.Flags().String("engine", "", "engine kind (claude, script)")
	runCmd.Flags().String("planner", "", "planner kind (deterministic, llm)")
	_ = viper.BindPFlag("sprint.total_sprints", runCmd.Flags().Lookup("sprints"))
	_ = viper.BindPFlag("sprint.max_agents", runCmd.Flags().Lookup("agents"))
	_ = viper.BindPFlag("sprint.tasks_per_agent", runCmd.Flags().Lookup("tasks-per-agent"))
	_ = viper.BindPFlag("engine.kind", runCmd.Flags().Lookup("engine"))
	_ = viper.BindPFlag("planner.kind", runCmd.Flags().Lookup("planner"))

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	summary, err := executeRun(cmd.Context(), e, e.cfg.Sprint.TotalSprints)
	if summary != nil {
		fmt.Print(renderRunSummary(summary))
	}
	return err
}

// executeRun wires the full sprint stack and runs up to totalSprints
// sprints. Shared by the run and sprint commands.
func executeRun(ctx context.Context, e *env, totalSprints int) (*orchestrator.RunSummary, error) {
	roster, err := e.roster()
	if err != nil {
		return nil, err
	}
	agents := roster.Pick(e.cfg.Sprint.MaxAgents)

	controller := shutdown.NewController()
	stopSignals := watchSignals(controller)
	defer stopSignals()

	bus := event.NewBus()
	sink, err := event.NewFileSink(bus, state.EventLogPath(e.repoRoot), e.logger)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sink.Close() }()

	eng, err := buildEngine(e, controller)
	if err != nil {
		return nil, err
	}
	plan := buildPlanner(e)

	opts := orchestrator.Options{
		Project:           e.cfg.Project.Name,
		TargetBranch:      e.cfg.Project.TargetBranch,
		TasksFile:         e.cfg.Project.TasksFile,
		TeamDir:           e.cfg.Project.TeamDir,
		Agents:            agents,
		TasksPerAgent:     e.cfg.Sprint.TasksPerAgent,
		WorktreeParent:    e.cfg.Paths.ResolveWorktreeDir(e.repoRoot),
		HeartbeatInterval: e.cfg.Sprint.HeartbeatInterval(),
	}
	orch := orchestrator.New(opts, e.manager, eng, plan, controller, bus, e.logger)
	runner := orchestrator.NewRunner(orchestrator.RunOptions{
		Options:            opts,
		TotalSprints:       totalSprints,
		MaxAllFailedStreak: e.cfg.Sprint.MaxAllFailedStreak,
		RunInstance:        uuid.NewString(),
		Roster:             roster,
	}, orch, e.manager, controller, e.logger)

	return runner.Run(ctx)
}

// buildEngine constructs the configured coding engine.
func buildEngine(e *env, controller *shutdown.Controller) (engine.Engine, error) {
	opts := []engine.Option{
		engine.WithTimeout(e.cfg.Engine.Timeout()),
		engine.WithShutdown(controller),
		engine.WithLogger(e.logger),
	}
	switch e.cfg.Engine.Kind {
	case "script":
		return engine.NewScriptEngine(e.cfg.Engine.Command, opts...), nil
	case "claude":
		return engine.NewClaudeEngine(e.cfg.Engine.Command, opts...), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", e.cfg.Engine.Kind)
	}
}

// buildPlanner constructs the configured planner. A nil return selects the
// orchestrator's deterministic default.
func buildPlanner(e *env) planner.Planner {
	if e.cfg.Planner.Kind == "llm" {
		return planner.NewLLM(planner.CLIPromptRunner(e.cfg.Planner.Command, e.repoRoot), e.logger)
	}
	return nil
}
