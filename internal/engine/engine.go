// Package engine abstracts the coding-agent process that does the actual
// work of a task. An engine is handed a task and a worktree, does whatever
// it does, and reports success or failure; the orchestrator neither knows
// nor cares whether the engine is an LLM CLI or a shell script.
package engine

import (
	"context"

	"github.com/gitswarm/gitswarm/internal/team"
)

// Request describes one unit of engine work: one agent completing one task
// inside its isolated worktree.
type Request struct {
	// Agent is the identity doing the work.
	Agent team.Agent

	// Task is the checklist task text, including its "(#N)" number.
	Task string

	// Dir is the agent's worktree directory. The engine must confine all
	// file operations to it.
	Dir string

	// Sprint is the 1-based sprint number, for prompt context.
	Sprint int

	// TeamDir is the shared documentation directory agents may consult,
	// empty if the project has none.
	TeamDir string
}

// Result is the outcome of one engine execution. Output carries the
// engine's combined stdout and stderr for the event log.
type Result struct {
	Success  bool
	Output   string
	ExitCode int
}

// Engine runs one task to completion in a worktree.
type Engine interface {
	// Name identifies the engine in logs and events.
	Name() string

	// Execute runs the engine for one task. Blocks until the engine
	// process exits, the context is done, or shutdown kills it. A non-nil
	// error always accompanies Success=false with diagnostic context;
	// Success=true means the engine believes the task is done and
	// committed.
	Execute(ctx context.Context, req Request) (Result, error)
}
