// Package worktree manages the git worktrees and branches of a sprint:
// one worktree per agent plus one sprint worktree, all attached to the
// same repository. It also performs the merges that move agent work into
// the sprint branch and sprint work into the feature branch, and verifies
// that landed merges preserved attribution.
//
// All mutating operations are serialized through a single mutex. Git
// serializes index updates per worktree but not ref updates across
// worktrees; concurrent merges from agent goroutines would race on the
// shared ref store.
package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gitswarm/gitswarm/internal/errors"
	"github.com/gitswarm/gitswarm/internal/logging"
	"github.com/gitswarm/gitswarm/internal/team"
)

// deadLetterPrefix is the ref namespace under which conflicted agent work
// is preserved before a merge is aborted.
const deadLetterPrefix = "refs/gitswarm/dead-letter/"

// Manager performs git worktree, branch, and merge operations against one
// repository. Safe for concurrent use.
type Manager struct {
	repoRoot string
	executor CommandExecutor
	logger   *logging.Logger

	// mu serializes every ref-mutating git operation.
	mu sync.Mutex
}

// FindGitRoot finds the root of the git repository by traversing up from
// startDir. It returns the directory containing .git, which may be a
// directory (normal repo) or a file (linked worktree).
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewGitError("no .git found in any parent directory", errors.ErrNotGitRepository).
				WithRepository(startDir)
		}
		dir = parent
	}
}

// New creates a Manager rooted at the repository containing repoDir.
func New(repoDir string, logger *logging.Logger) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		repoRoot: gitRoot,
		executor: NewCLICommandExecutor(),
		logger:   logger,
	}, nil
}

// NewWithExecutor creates a Manager with a custom executor. This is
// primarily useful for testing.
func NewWithExecutor(repoRoot string, executor CommandExecutor, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{repoRoot: repoRoot, executor: executor, logger: logger}
}

// Root returns the repository root directory.
func (m *Manager) Root() string {
	return m.repoRoot
}

// CreateWorktree creates a worktree at path on a fresh branch starting at
// startPoint, recovering from stale state left by a previous interrupted
// run: an existing worktree at the path is force-removed, and a previous
// branch of the same name is unlocked and reset.
//
// "git worktree add -B" resets an existing branch, but refuses while the
// branch is checked out in another worktree, so any worktree holding the
// branch is removed first.
func (m *Manager) CreateWorktree(path, branch, startPoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeStaleWorktree(path)
	if stale, ok := m.worktreeForBranch(branch); ok {
		m.logger.Warn("removing stale worktree holding branch",
			"branch", branch, "stale_worktree", stale)
		m.removeStaleWorktree(stale)
	}

	output, err := m.executor.Run(m.repoRoot, "git", "worktree", "add", "-B", branch, path, startPoint)
	if err != nil {
		return errors.NewGitError("failed to create worktree", err).
			WithRepository(m.repoRoot).
			WithWorktree(path).
			WithBranch(branch).
			WithGitOutput(string(output))
	}

	m.logger.Debug("worktree created", "path", path, "branch", branch, "start", startPoint)
	return nil
}

// RemoveWorktree removes the worktree at path. Idempotent: a path that is
// not a registered worktree is not an error.
func (m *Manager) RemoveWorktree(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeStaleWorktree(path)
	return nil
}

// removeStaleWorktree force-removes a worktree registration and its
// directory, then prunes. Callers hold m.mu. Failures are absorbed: the
// follow-up operation will surface any real problem.
func (m *Manager) removeStaleWorktree(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) && !m.isRegisteredWorktree(path) {
		return
	}
	if output, err := m.executor.Run(m.repoRoot, "git", "worktree", "remove", "--force", path); err != nil {
		m.logger.Debug("worktree remove fell back to manual cleanup",
			"path", path, "output", strings.TrimSpace(string(output)))
		_ = os.RemoveAll(path)
	}
	_, _ = m.executor.Run(m.repoRoot, "git", "worktree", "prune")
}

// isRegisteredWorktree reports whether path appears in the worktree list.
func (m *Manager) isRegisteredWorktree(path string) bool {
	output, err := m.executor.Run(m.repoRoot, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(output), "\n") {
		if strings.TrimPrefix(line, "worktree ") == path && strings.HasPrefix(line, "worktree ") {
			return true
		}
	}
	return false
}

// worktreeForBranch returns the path of the worktree that has branch
// checked out, if any. Callers hold m.mu.
func (m *Manager) worktreeForBranch(branch string) (string, bool) {
	output, err := m.executor.Run(m.repoRoot, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return "", false
	}

	want := "branch refs/heads/" + branch
	var current string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			current = strings.TrimPrefix(line, "worktree ")
		} else if line == want && current != "" && current != m.repoRoot {
			return current, true
		}
	}
	return "", false
}

// DeleteBranch force-deletes a branch, first unlocking it by removing any
// worktree that has it checked out. A branch that does not exist is not an
// error: cleanup must be idempotent.
func (m *Manager) DeleteBranch(branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stale, ok := m.worktreeForBranch(branch); ok {
		m.removeStaleWorktree(stale)
	}

	output, err := m.executor.Run(m.repoRoot, "git", "branch", "-D", branch)
	if err != nil {
		if strings.Contains(string(output), "not found") {
			return nil
		}
		return errors.NewGitError("failed to delete branch", err).
			WithRepository(m.repoRoot).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// BranchExists reports whether a local branch exists.
func (m *Manager) BranchExists(branch string) bool {
	return m.executor.RunQuiet(m.repoRoot, "git", "rev-parse", "--verify", "refs/heads/"+branch) == nil
}

// CurrentBranch returns the branch checked out in a worktree.
func (m *Manager) CurrentBranch(path string) (string, error) {
	output, err := m.executor.Run(path, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to get current branch", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// HasUncommittedChanges reports whether a worktree has uncommitted changes.
func (m *Manager) HasUncommittedChanges(path string) (bool, error) {
	output, err := m.executor.Run(path, "git", "status", "--porcelain")
	if err != nil {
		return false, errors.NewGitError("failed to check git status", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// CommitAll stages and commits everything in a worktree as a single commit
// authored by the given agent. Returns false with a nil error when there
// was nothing to commit.
func (m *Manager) CommitAll(path, message string, author team.Agent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.executor.Run(path, "git", "add", "-A")
	if err != nil {
		return false, errors.NewGitError("failed to stage changes", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}

	args := append(identityArgs(author), "commit", "-m", message)
	output, err = m.executor.Run(path, "git", args...)
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return false, nil
		}
		return false, errors.NewGitError("failed to commit changes", err).
			WithWorktree(path).
			WithGitOutput(string(output))
	}
	return true, nil
}

// identityArgs returns the -c flags that make git commits and merges carry
// the agent's identity as both author and committer.
func identityArgs(agent team.Agent) []string {
	return []string{
		"-c", "user.name=" + agent.GitName(),
		"-c", "user.email=" + agent.GitEmail(),
	}
}

// MergeAgentBranch merges an agent's branch into the branch checked out in
// sprintWorktree as a no-fast-forward merge attributed to the agent.
// Returns false with a nil error when the agent branch contributed no new
// commits.
//
// On conflict the agent's tip is preserved under a dead-letter ref, the
// merge is aborted, and a MergeConflictError listing the conflicted files
// is returned. The sprint worktree is left clean either way.
func (m *Manager) MergeAgentBranch(sprintWorktree, agentBranch string, agent team.Agent, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merge(sprintWorktree, agentBranch, agent, message, false)
}

// MergeFeatureBranch merges the sprint branch into the branch checked out
// in targetWorktree (the feature branch) as a no-fast-forward merge. The
// merge runs with --autostash so runtime state files modified in the
// target worktree do not block it.
func (m *Manager) MergeFeatureBranch(targetWorktree, sprintBranch string, agent team.Agent, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.merge(targetWorktree, sprintBranch, agent, message, true)
}

// CleanUntracked removes untracked copies of the given paths from a
// worktree. Tracked files are left alone: "git clean" only ever touches
// files the index does not know about.
func (m *Manager) CleanUntracked(worktree string, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	args := append([]string{"clean", "-f", "--"}, paths...)
	output, err := m.executor.Run(worktree, "git", args...)
	if err != nil {
		return errors.NewGitError("failed to clean untracked files", err).
			WithWorktree(worktree).
			WithGitOutput(string(output))
	}
	return nil
}

// merge performs the shared no-ff merge protocol. Callers hold m.mu.
func (m *Manager) merge(worktree, branch string, agent team.Agent, message string, autostash bool) (bool, error) {
	args := append(identityArgs(agent), "merge", "--no-ff")
	if autostash {
		args = append(args, "--autostash")
	}
	args = append(args, "-m", message, branch)

	output, err := m.executor.Run(worktree, "git", args...)
	outputStr := string(output)
	if err == nil {
		if strings.Contains(outputStr, "Already up to date") {
			return false, nil
		}
		return true, nil
	}

	if strings.Contains(outputStr, "CONFLICT") {
		files, _ := m.conflictingFiles(worktree)
		deadRef := deadLetterPrefix + branch
		if refErr := m.preserveRef(deadRef, branch); refErr != nil {
			m.logger.Warn("failed to preserve conflicted work", "branch", branch, "error", refErr)
			deadRef = ""
		}
		m.abortMerge(worktree)

		target, targetErr := m.currentBranchLocked(worktree)
		if targetErr != nil {
			target = worktree
		}
		mergeErr := errors.NewMergeConflictError(branch, target, files)
		if deadRef != "" {
			mergeErr = mergeErr.WithDeadLetterRef(deadRef)
		}
		return false, mergeErr
	}

	return false, errors.NewGitError("merge failed", err).
		WithWorktree(worktree).
		WithBranch(branch).
		WithGitOutput(outputStr)
}

// conflictingFiles returns the files with unresolved conflicts in a
// worktree mid-merge.
func (m *Manager) conflictingFiles(worktree string) ([]string, error) {
	output, err := m.executor.Run(worktree, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, errors.NewGitError("failed to list conflicting files", err).
			WithWorktree(worktree).
			WithGitOutput(string(output))
	}
	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return nil, nil
	}
	return strings.Split(lines, "\n"), nil
}

// preserveRef points a ref at the tip of a branch.
func (m *Manager) preserveRef(ref, branch string) error {
	output, err := m.executor.Run(m.repoRoot, "git", "update-ref", ref, "refs/heads/"+branch)
	if err != nil {
		return errors.NewGitError("failed to update ref "+ref, err).
			WithRepository(m.repoRoot).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return nil
}

// abortMerge aborts an in-progress merge, leaving the worktree clean.
func (m *Manager) abortMerge(worktree string) {
	if output, err := m.executor.Run(worktree, "git", "merge", "--abort"); err != nil {
		m.logger.Warn("merge abort failed", "worktree", worktree,
			"output", strings.TrimSpace(string(output)))
	}
}

// currentBranchLocked is CurrentBranch for callers already holding m.mu.
func (m *Manager) currentBranchLocked(path string) (string, error) {
	output, err := m.executor.Run(path, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// EnsureFeatureMerged verifies that feature has truly landed in target:
// feature's tip must be an ancestor of target, and target's tip commit
// must have at least two parents. The second check catches squash merges
// and fast-forwards, which satisfy ancestry while destroying the
// per-agent attribution the merge commit carries.
func (m *Manager) EnsureFeatureMerged(feature, target string) error {
	if err := m.executor.RunQuiet(m.repoRoot, "git", "merge-base", "--is-ancestor", feature, target); err != nil {
		return errors.NewGitError(fmt.Sprintf("%s is not merged into %s", feature, target), err).
			WithRepository(m.repoRoot).
			WithBranch(feature)
	}

	parents, err := m.ParentCount(target)
	if err != nil {
		return err
	}
	if parents < 2 {
		return errors.NewMergeIntegrityError(feature, target, parents)
	}
	return nil
}

// ParentCount returns the number of parents of the tip commit of a ref.
func (m *Manager) ParentCount(ref string) (int, error) {
	output, err := m.executor.Run(m.repoRoot, "git", "rev-list", "--parents", "-n", "1", ref)
	if err != nil {
		return 0, errors.NewGitError("failed to inspect tip commit", err).
			WithRepository(m.repoRoot).
			WithBranch(ref).
			WithGitOutput(string(output))
	}
	fields := strings.Fields(strings.TrimSpace(string(output)))
	if len(fields) == 0 {
		return 0, errors.NewGitError("empty rev-list output for "+ref, nil).
			WithRepository(m.repoRoot)
	}
	return len(fields) - 1, nil
}

// CountCommitsBetween returns the number of commits on head that are not
// on base.
func (m *Manager) CountCommitsBetween(base, head string) (int, error) {
	output, err := m.executor.Run(m.repoRoot, "git", "rev-list", "--count", base+".."+head)
	if err != nil {
		return 0, errors.NewGitError("failed to count commits between "+base+" and "+head, err).
			WithRepository(m.repoRoot).
			WithGitOutput(string(output))
	}
	var count int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%d", &count); err != nil {
		return 0, errors.NewGitError("failed to parse commit count", err).
			WithRepository(m.repoRoot)
	}
	return count, nil
}

// CommitLog returns the one-line log of commits on head that are not on
// base, newest first. Empty when nothing landed.
func (m *Manager) CommitLog(base, head string) (string, error) {
	output, err := m.executor.Run(m.repoRoot, "git", "log", "--oneline", base+".."+head)
	if err != nil {
		return "", errors.NewGitError("failed to read commit log for "+base+".."+head, err).
			WithRepository(m.repoRoot).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// HasCommitsBeyond reports whether branch has commits not on base.
func (m *Manager) HasCommitsBeyond(base, branch string) (bool, error) {
	count, err := m.CountCommitsBetween(base, branch)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeadLetterRefs lists the dead-letter refs currently preserved in the
// repository.
func (m *Manager) DeadLetterRefs() ([]string, error) {
	output, err := m.executor.Run(m.repoRoot, "git", "for-each-ref", "--format=%(refname)", deadLetterPrefix)
	if err != nil {
		return nil, errors.NewGitError("failed to list dead-letter refs", err).
			WithRepository(m.repoRoot).
			WithGitOutput(string(output))
	}
	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return nil, nil
	}
	return strings.Split(lines, "\n"), nil
}
