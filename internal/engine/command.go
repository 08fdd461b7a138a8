package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gitswarm/gitswarm/internal/errors"
	"github.com/gitswarm/gitswarm/internal/logging"
	"github.com/gitswarm/gitswarm/internal/shutdown"
)

// CommandEngine runs an external command once per task. The task prompt is
// passed as the final argument and the request is mirrored into the
// environment for script-based engines.
//
// Exit code classification:
//
//	0            success
//	124          the engine self-enforced a timeout
//	130          the process died to a shutdown signal
//	anything else  ordinary failure
//
// A context deadline hit on our side is reported as 124 as well, so
// callers see one timeout code regardless of which side enforced it.
type CommandEngine struct {
	name    string
	command string
	args    []string
	timeout time.Duration

	controller *shutdown.Controller
	logger     *logging.Logger
}

// Option configures a CommandEngine.
type Option func(*CommandEngine)

// WithTimeout sets the per-task wall-clock limit. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(e *CommandEngine) { e.timeout = d }
}

// WithShutdown registers engine subprocesses with the shutdown controller
// so interrupts can kill them immediately.
func WithShutdown(c *shutdown.Controller) Option {
	return func(e *CommandEngine) { e.controller = c }
}

// WithLogger sets the engine's logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *CommandEngine) { e.logger = l }
}

// NewCommandEngine creates an engine that invokes command with the given
// base arguments plus the task prompt.
func NewCommandEngine(name, command string, args []string, opts ...Option) *CommandEngine {
	e := &CommandEngine{
		name:    name,
		command: command,
		args:    args,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewClaudeEngine creates the default engine: a headless one-shot Claude
// CLI invocation. An empty command defaults to "claude".
func NewClaudeEngine(command string, opts ...Option) *CommandEngine {
	if command == "" {
		command = "claude"
	}
	return NewCommandEngine("claude", command,
		[]string{"--print", "--dangerously-skip-permissions"}, opts...)
}

// NewScriptEngine creates an engine that runs a shell script per task.
// The script receives the request through SWARM_* environment variables
// and the prompt as $1. Used for deterministic tests and dry runs.
func NewScriptEngine(script string, opts ...Option) *CommandEngine {
	return NewCommandEngine("script", "sh", []string{"-c", script, "sh"}, opts...)
}

// Name identifies the engine in logs and events.
func (e *CommandEngine) Name() string {
	return e.name
}

// Execute runs the engine process for one task in the request's worktree.
func (e *CommandEngine) Execute(ctx context.Context, req Request) (Result, error) {
	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(e.args)+1)
	args = append(args, e.args...)
	args = append(args, buildPrompt(req))

	cmd := exec.CommandContext(runCtx, e.command, args...)
	cmd.Dir = req.Dir
	// Engines spawn their own children (shells, git, LLM helpers) that
	// inherit our output pipes. The engine runs as its own process group so
	// timeout and shutdown kills reach the whole tree; otherwise Wait blocks
	// on pipes held open by surviving grandchildren.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = append(os.Environ(),
		"SWARM_AGENT="+req.Agent.Initial.String(),
		"SWARM_AGENT_NAME="+req.Agent.Name,
		"SWARM_TASK="+req.Task,
		"SWARM_SPRINT="+strconv.Itoa(req.Sprint),
		"SWARM_TEAM_DIR="+req.TeamDir,
	)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	log := e.logger.WithAgent(req.Agent.Initial.String())
	log.Info("engine starting", "engine", e.name, "dir", req.Dir, "task", req.Task)

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, errors.NewEngineError("failed to start engine", err).
			WithAgent(req.Agent.Name).
			WithTask(req.Task)
	}

	pid := cmd.Process.Pid
	if e.controller != nil {
		e.controller.Register(pid)
		defer e.controller.Unregister(pid)
	}

	waitErr := cmd.Wait()
	result := Result{Output: buf.String(), ExitCode: exitCode(cmd, waitErr)}

	switch {
	case waitErr == nil:
		result.Success = true
		log.Info("engine finished", "engine", e.name)
		return result, nil

	case runCtx.Err() == context.DeadlineExceeded || result.ExitCode == errors.ExitCodeTimeout:
		result.ExitCode = errors.ExitCodeTimeout
		log.Warn("engine timed out", "engine", e.name, "timeout", e.timeout.String())
		return result, errors.NewEngineError("engine timed out", errors.ErrEngineTimeout).
			WithAgent(req.Agent.Name).
			WithTask(req.Task).
			WithExitCode(result.ExitCode)

	case e.controller != nil && e.controller.Requested():
		result.ExitCode = errors.ExitCodeKilled
		log.Warn("engine killed by shutdown", "engine", e.name)
		return result, errors.NewEngineError("engine killed", errors.ErrEngineKilled).
			WithAgent(req.Agent.Name).
			WithTask(req.Task).
			WithExitCode(result.ExitCode)

	default:
		log.Warn("engine failed", "engine", e.name, "exit_code", result.ExitCode)
		return result, errors.NewEngineError("engine exited with failure", waitErr).
			WithAgent(req.Agent.Name).
			WithTask(req.Task).
			WithExitCode(result.ExitCode)
	}
}

// exitCode extracts the process exit status. Signal deaths report -1 from
// ExitCode; those are normalized to the shutdown code by the caller when a
// shutdown is in fact in progress.
func exitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// buildPrompt renders the engine prompt for one task. The engine works in
// an already-isolated worktree, so the prompt forbids branch and remote
// operations rather than sandboxing them.
func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a software engineer on a team sprint (sprint %d).\n\n", req.Agent.Name, req.Sprint)
	fmt.Fprintf(&b, "Complete exactly this task in the current directory:\n\n    %s\n\n", req.Task)
	b.WriteString("Rules:\n")
	b.WriteString("- Only change files needed for this task.\n")
	b.WriteString("- Do not run git commit, git branch, git merge, or git push; your work is committed for you.\n")
	b.WriteString("- Do not modify the task checklist file.\n")
	if req.TeamDir != "" {
		fmt.Fprintf(&b, "- Project documentation lives in %s; consult it before making design decisions.\n", req.TeamDir)
	}
	b.WriteString("\nWhen the task is done, print a one-paragraph summary of what you changed and exit.\n")
	return b.String()
}
