// Package errors provides centralized error definitions for gitswarm.
// It defines the domain error taxonomy used across the sprint engine,
// constructors with context wrapping, and classification helpers.
//
// # Error Types
//
//   - GitError: a git subprocess exited non-zero; captured stderr travels
//     with the error verbatim
//   - EngineError: the coding-agent engine failed to spawn, exited non-zero,
//     or timed out; the exit code is preserved
//   - MergeConflictError: a merge hit conflicts; the conflicting file list is
//     attached and the merge has already been aborted
//   - MergeIntegrityError: a branch satisfies ancestry but the target tip is
//     not a true two-parent merge commit (squash or fast-forward detected)
//   - PlanningError: the planner collaborator failed; recoverable, callers
//     fall back to deterministic assignment
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrMergeConflict) { ... }
//
//	var gitErr *errors.GitError
//	if errors.As(err, &gitErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers can import only this
// package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrMergeConflict indicates that a merge conflict occurred.
	ErrMergeConflict = New("merge conflict")
	// ErrSquashMerge indicates that a merge landed without a two-parent
	// merge commit, losing attribution.
	ErrSquashMerge = New("squash-merge detected")
)

// Engine and planning sentinel errors
var (
	// ErrEngineTimeout indicates the engine self-enforced its timeout.
	ErrEngineTimeout = New("engine execution timed out")
	// ErrEngineKilled indicates the engine subprocess was killed by a
	// shutdown request.
	ErrEngineKilled = New("engine killed by shutdown")
	// ErrPlanningFailed indicates the planner collaborator failed.
	ErrPlanningFailed = New("planning failed")
	// ErrShutdown is the control signal reported when work is skipped
	// because shutdown was requested. It is not a failure.
	ErrShutdown = New("shutdown requested")
)

// Engine exit codes with reserved meanings.
const (
	// ExitCodeTimeout is reported by engines that self-enforce a timeout.
	ExitCodeTimeout = 124
	// ExitCodeKilled is reported when the subprocess was killed by a
	// shutdown-triggered signal.
	ExitCodeKilled = 130
)

// baseError provides common functionality for the typed errors below.
type baseError struct {
	message string
	cause   error
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// GitError represents a failed git operation. Stderr from the git
// subprocess is captured verbatim in GitOutput.
//
// Example:
//
//	err := errors.NewGitError("failed to create worktree", cause).
//	    WithBranch("proj-agent-alice-x7k2p9").
//	    WithGitOutput(string(output))
type GitError struct {
	baseError
	Branch     string
	Worktree   string
	Repository string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{baseError: baseError{message: message, cause: cause}}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithGitOutput adds captured git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = strings.TrimSpace(output)
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}

	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.is(target)
}

// EngineError represents a failed engine execution. The engine's exit code
// is preserved so callers can distinguish timeouts (124) and shutdown kills
// (130) from ordinary failures.
type EngineError struct {
	baseError
	Agent    string
	Task     string
	ExitCode int
}

// NewEngineError creates a new EngineError.
func NewEngineError(message string, cause error) *EngineError {
	return &EngineError{
		baseError: baseError{message: message, cause: cause},
		ExitCode:  -1,
	}
}

// WithAgent adds the agent name to the error context.
func (e *EngineError) WithAgent(agent string) *EngineError {
	e.Agent = agent
	return e
}

// WithTask adds the task description to the error context.
func (e *EngineError) WithTask(task string) *EngineError {
	e.Task = task
	return e
}

// WithExitCode records the engine subprocess exit code.
func (e *EngineError) WithExitCode(code int) *EngineError {
	e.ExitCode = code
	return e
}

// Error returns the formatted error message.
func (e *EngineError) Error() string {
	var parts []string
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}
	if e.ExitCode >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitCode))
	}

	prefix := "engine error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("engine error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *EngineError) Is(target error) bool {
	if _, ok := target.(*EngineError); ok {
		return true
	}
	switch e.ExitCode {
	case ExitCodeTimeout:
		if errors.Is(target, ErrEngineTimeout) {
			return true
		}
	case ExitCodeKilled:
		if errors.Is(target, ErrEngineKilled) {
			return true
		}
	}
	return e.baseError.is(target)
}

// MergeConflictError reports a merge that hit conflicts. By the time the
// error is returned the merge has been aborted and the conflicting files
// recorded.
type MergeConflictError struct {
	Branch        string
	Target        string
	Files         []string
	DeadLetterRef string
}

// NewMergeConflictError creates a new MergeConflictError.
func NewMergeConflictError(branch, target string, files []string) *MergeConflictError {
	return &MergeConflictError{Branch: branch, Target: target, Files: files}
}

// WithDeadLetterRef records the ref under which the pre-merge commit was
// preserved before the abort.
func (e *MergeConflictError) WithDeadLetterRef(ref string) *MergeConflictError {
	e.DeadLetterRef = ref
	return e
}

// Error returns the formatted error message.
func (e *MergeConflictError) Error() string {
	msg := fmt.Sprintf("merge conflict merging %s into %s: conflicting files: %s",
		e.Branch, e.Target, strings.Join(e.Files, ", "))
	if e.DeadLetterRef != "" {
		msg = fmt.Sprintf("%s (work preserved at %s)", msg, e.DeadLetterRef)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *MergeConflictError) Is(target error) bool {
	if _, ok := target.(*MergeConflictError); ok {
		return true
	}
	return errors.Is(target, ErrMergeConflict)
}

// MergeIntegrityError reports a branch that is an ancestor of the target
// but whose landing commit has fewer than two parents: a squash merge or
// fast-forward that satisfies ancestry while destroying attribution.
type MergeIntegrityError struct {
	Feature     string
	Target      string
	ParentCount int
}

// NewMergeIntegrityError creates a new MergeIntegrityError.
func NewMergeIntegrityError(feature, target string, parentCount int) *MergeIntegrityError {
	return &MergeIntegrityError{Feature: feature, Target: target, ParentCount: parentCount}
}

// Error returns the formatted error message.
func (e *MergeIntegrityError) Error() string {
	return fmt.Sprintf("squash-merge detected: %s is an ancestor of %s but the tip commit has %d parent(s), expected a two-parent merge commit",
		e.Feature, e.Target, e.ParentCount)
}

// Is checks if this error matches the target.
func (e *MergeIntegrityError) Is(target error) bool {
	if _, ok := target.(*MergeIntegrityError); ok {
		return true
	}
	return errors.Is(target, ErrSquashMerge)
}

// PlanningError represents a failed planner invocation. Planning errors are
// recoverable: the orchestrator falls back to deterministic assignment.
type PlanningError struct {
	baseError
	Operation string
}

// NewPlanningError creates a new PlanningError.
func NewPlanningError(operation string, cause error) *PlanningError {
	return &PlanningError{
		baseError: baseError{message: "planning failed", cause: cause},
		Operation: operation,
	}
}

// Error returns the formatted error message.
func (e *PlanningError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("planning error [op=%s]: %v", e.Operation, e.cause)
	}
	return fmt.Sprintf("planning error [op=%s]", e.Operation)
}

// Is checks if this error matches the target.
func (e *PlanningError) Is(target error) bool {
	if _, ok := target.(*PlanningError); ok {
		return true
	}
	if errors.Is(target, ErrPlanningFailed) {
		return true
	}
	return e.baseError.is(target)
}

// IsRecoverable returns true for errors that callers are expected to absorb
// with a fallback rather than abort the sprint: planning failures and the
// shutdown control signal.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var planErr *PlanningError
	if As(err, &planErr) {
		return true
	}
	return Is(err, ErrShutdown)
}

// IsShutdown reports whether err is the shutdown control signal.
func IsShutdown(err error) bool {
	return err != nil && Is(err, ErrShutdown)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
