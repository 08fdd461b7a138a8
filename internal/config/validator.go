package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Field   string // The config field path (e.g., "sprint.max_agents")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// projectNameRegex validates project name characters. The name is embedded
// in branch names, so it follows git branch naming rules.
var projectNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidEngineKinds returns the list of valid engine kinds.
func ValidEngineKinds() []string {
	return []string{"claude", "script"}
}

// ValidPlannerKinds returns the list of valid planner kinds.
func ValidPlannerKinds() []string {
	return []string{"deterministic", "llm"}
}

// Validate checks the Config for invalid values and returns all validation
// errors found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateProject()...)
	errors = append(errors, c.validateSprint()...)
	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validatePlanner()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePaths()...)
	return errors
}

func (c *Config) validateProject() []ValidationError {
	var errors []ValidationError

	if c.Project.Name != "" && !projectNameRegex.MatchString(c.Project.Name) {
		errors = append(errors, ValidationError{
			Field:   "project.name",
			Value:   c.Project.Name,
			Message: "must start with a letter and contain only alphanumeric characters, hyphens, or underscores",
		})
	}
	const maxProjectNameLength = 50
	if len(c.Project.Name) > maxProjectNameLength {
		errors = append(errors, ValidationError{
			Field:   "project.name",
			Value:   c.Project.Name,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", maxProjectNameLength),
		})
	}

	if c.Project.TargetBranch == "" {
		errors = append(errors, ValidationError{
			Field:   "project.target_branch",
			Value:   c.Project.TargetBranch,
			Message: "cannot be empty",
		})
	}
	if c.Project.TasksFile == "" {
		errors = append(errors, ValidationError{
			Field:   "project.tasks_file",
			Value:   c.Project.TasksFile,
			Message: "cannot be empty",
		})
	}
	if strings.HasPrefix(c.Project.TasksFile, "/") {
		errors = append(errors, ValidationError{
			Field:   "project.tasks_file",
			Value:   c.Project.TasksFile,
			Message: "must be relative to the repository root",
		})
	}

	return errors
}

func (c *Config) validateSprint() []ValidationError {
	var errors []ValidationError

	// One agent per letter of the alphabet.
	if c.Sprint.MaxAgents < 1 || c.Sprint.MaxAgents > 26 {
		errors = append(errors, ValidationError{
			Field:   "sprint.max_agents",
			Value:   c.Sprint.MaxAgents,
			Message: "must be between 1 and 26",
		})
	}
	if c.Sprint.TasksPerAgent < 1 {
		errors = append(errors, ValidationError{
			Field:   "sprint.tasks_per_agent",
			Value:   c.Sprint.TasksPerAgent,
			Message: "must be at least 1",
		})
	}
	if c.Sprint.TotalSprints < 1 {
		errors = append(errors, ValidationError{
			Field:   "sprint.total_sprints",
			Value:   c.Sprint.TotalSprints,
			Message: "must be at least 1",
		})
	}
	if c.Sprint.MaxAllFailedStreak < 1 {
		errors = append(errors, ValidationError{
			Field:   "sprint.max_all_failed_streak",
			Value:   c.Sprint.MaxAllFailedStreak,
			Message: "must be at least 1",
		})
	}
	if c.Sprint.HeartbeatSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "sprint.heartbeat_seconds",
			Value:   c.Sprint.HeartbeatSeconds,
			Message: "must be non-negative (0 disables heartbeat)",
		})
	}

	return errors
}

func (c *Config) validateEngine() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidEngineKinds(), c.Engine.Kind) {
		errors = append(errors, ValidationError{
			Field:   "engine.kind",
			Value:   c.Engine.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidEngineKinds(), ", ")),
		})
	}
	if c.Engine.Kind == "script" && strings.TrimSpace(c.Engine.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "engine.command",
			Value:   c.Engine.Command,
			Message: "cannot be empty when engine.kind is 'script'",
		})
	}
	if c.Engine.TimeoutMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.timeout_minutes",
			Value:   c.Engine.TimeoutMinutes,
			Message: "must be non-negative (0 disables timeout)",
		})
	}

	return errors
}

func (c *Config) validatePlanner() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidPlannerKinds(), c.Planner.Kind) {
		errors = append(errors, ValidationError{
			Field:   "planner.kind",
			Value:   c.Planner.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPlannerKinds(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	if path := c.Paths.WorktreeDir; path != "" {
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   "paths.worktree_dir",
				Value:   path,
				Message: "path contains invalid null character",
			})
		}
		const maxPathLength = 4096
		if len(path) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   "paths.worktree_dir",
				Value:   path,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	return errors
}
