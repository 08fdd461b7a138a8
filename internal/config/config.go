// Package config defines the gitswarm configuration, loaded through viper
// from .gitswarm.toml in the repository root with environment overrides
// (GITSWARM_*). Flags bind on top in the cmd layer.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete gitswarm configuration.
type Config struct {
	Project Project `mapstructure:"project"`
	Sprint  Sprint  `mapstructure:"sprint"`
	Engine  Engine  `mapstructure:"engine"`
	Planner Planner `mapstructure:"planner"`
	Logging Logging `mapstructure:"logging"`
	Paths   Paths   `mapstructure:"paths"`
}

// Project identifies the repository and branch the swarm works against.
type Project struct {
	// Name is the short project name used in branch names. Empty defaults
	// to the repository directory name.
	Name string `mapstructure:"name"`
	// TargetBranch is the branch feature work forks from (default: "main").
	TargetBranch string `mapstructure:"target_branch"`
	// TasksFile is the checklist path relative to the repository root.
	TasksFile string `mapstructure:"tasks_file"`
	// TeamDir is a shared documentation directory agents may consult,
	// relative to the repository root. Empty disables it.
	TeamDir string `mapstructure:"team_dir"`
}

// Sprint controls sprint shape and the run loop.
type Sprint struct {
	// MaxAgents is how many agents join each sprint (1-26).
	MaxAgents int `mapstructure:"max_agents"`
	// TasksPerAgent caps tasks per agent per sprint.
	TasksPerAgent int `mapstructure:"tasks_per_agent"`
	// TotalSprints caps sprints per invocation of the run command.
	TotalSprints int `mapstructure:"total_sprints"`
	// MaxAllFailedStreak stops a run after this many consecutive sprints
	// with zero landed tasks.
	MaxAllFailedStreak int `mapstructure:"max_all_failed_streak"`
	// HeartbeatSeconds is the progress-log interval while agents work
	// (0 disables).
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
}

// Engine controls the coding-agent subprocess.
type Engine struct {
	// Kind selects the engine: "claude" or "script".
	Kind string `mapstructure:"kind"`
	// Command overrides the engine executable (claude) or holds the
	// script body (script).
	Command string `mapstructure:"command"`
	// TimeoutMinutes is the per-task wall-clock limit (0 = unlimited).
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// Planner controls sprint planning.
type Planner struct {
	// Kind selects the planner: "deterministic" or "llm".
	Kind string `mapstructure:"kind"`
	// Command overrides the LLM CLI used by the llm planner.
	Command string `mapstructure:"command"`
}

// Logging controls the structured log.
type Logging struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Dir is where swarm.log is written. Empty logs to stderr.
	Dir string `mapstructure:"dir"`
}

// Paths controls where gitswarm stores runtime data.
type Paths struct {
	// WorktreeDir is where sprint and agent worktrees are created. Empty
	// defaults to ".gitswarm/worktrees" relative to the repository root.
	// Supports ~ expansion and absolute paths.
	WorktreeDir string `mapstructure:"worktree_dir"`
	// RosterFile is an optional YAML file overriding agent names.
	RosterFile string `mapstructure:"roster_file"`
}

// Timeout returns the engine timeout as a time.Duration (0 = unlimited).
func (e *Engine) Timeout() time.Duration {
	return time.Duration(e.TimeoutMinutes) * time.Minute
}

// HeartbeatInterval returns the heartbeat interval as a time.Duration.
func (s *Sprint) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatSeconds) * time.Second
}

// ResolveWorktreeDir returns the worktree parent directory, resolving the
// default, ~ expansion, and relative paths against baseDir.
func (p *Paths) ResolveWorktreeDir(baseDir string) string {
	if p.WorktreeDir == "" {
		return filepath.Join(baseDir, ".gitswarm", "worktrees")
	}

	path := p.WorktreeDir
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Project: Project{
			Name:         "",
			TargetBranch: "main",
			TasksFile:    "TASKS.md",
			TeamDir:      "",
		},
		Sprint: Sprint{
			MaxAgents:          3,
			TasksPerAgent:      2,
			TotalSprints:       5,
			MaxAllFailedStreak: 2,
			HeartbeatSeconds:   30,
		},
		Engine: Engine{
			Kind:           "claude",
			Command:        "",
			TimeoutMinutes: 30,
		},
		Planner: Planner{
			Kind:    "deterministic",
			Command: "",
		},
		Logging: Logging{
			Level: "info",
			Dir:   "",
		},
		Paths: Paths{
			WorktreeDir: "",
			RosterFile:  "",
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("project.name", defaults.Project.Name)
	viper.SetDefault("project.target_branch", defaults.Project.TargetBranch)
	viper.SetDefault("project.tasks_file", defaults.Project.TasksFile)
	viper.SetDefault("project.team_dir", defaults.Project.TeamDir)

	viper.SetDefault("sprint.max_agents", defaults.Sprint.MaxAgents)
	viper.SetDefault("sprint.tasks_per_agent", defaults.Sprint.TasksPerAgent)
	viper.SetDefault("sprint.total_sprints", defaults.Sprint.TotalSprints)
	viper.SetDefault("sprint.max_all_failed_streak", defaults.Sprint.MaxAllFailedStreak)
	viper.SetDefault("sprint.heartbeat_seconds", defaults.Sprint.HeartbeatSeconds)

	viper.SetDefault("engine.kind", defaults.Engine.Kind)
	viper.SetDefault("engine.command", defaults.Engine.Command)
	viper.SetDefault("engine.timeout_minutes", defaults.Engine.TimeoutMinutes)

	viper.SetDefault("planner.kind", defaults.Planner.Kind)
	viper.SetDefault("planner.command", defaults.Planner.Command)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	viper.SetDefault("paths.worktree_dir", defaults.Paths.WorktreeDir)
	viper.SetDefault("paths.roster_file", defaults.Paths.RosterFile)
}

// Init points viper at .gitswarm.toml in repoRoot and the GITSWARM_*
// environment. A missing config file is fine; a malformed one is not.
func Init(repoRoot string) error {
	SetDefaults()

	viper.SetConfigName(".gitswarm")
	viper.SetConfigType("toml")
	viper.AddConfigPath(repoRoot)

	viper.SetEnvPrefix("GITSWARM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	return nil
}

// Load reads the configuration from viper into a Config struct and
// validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}
