// Package state persists sprint runtime state as JSON files under the
// .gitswarm directory of a worktree. Two files exist: sprint-history.json
// counts sprints run against the repository, team-state.json records the
// active team and feature branch of the current run.
//
// Both files travel with the repository, so older copies written by
// previous versions are still read: legacy field names are accepted on
// load and the current names written on save.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Dir is the runtime-state directory, relative to a worktree root.
const Dir = ".gitswarm"

const (
	sprintHistoryFile = "sprint-history.json"
	teamStateFile     = "team-state.json"

	// EventLogFile is the append-only event log, kept alongside the state
	// files but never read back by the engine.
	EventLogFile = "events.log"
)

// SprintHistory records how many sprints have run against the repository
// and which team ran them.
type SprintHistory struct {
	Team         []string `json:"team"`
	TotalSprints int      `json:"total_sprints"`
}

// sprintHistoryJSON accepts the current field name plus the legacy
// aliases "sprint_count" and "sprint" written by earlier versions.
type sprintHistoryJSON struct {
	Team         []string `json:"team"`
	TotalSprints *int     `json:"total_sprints"`
	SprintCount  *int     `json:"sprint_count"`
	Sprint       *int     `json:"sprint"`
}

// UnmarshalJSON migrates legacy field names on read.
func (h *SprintHistory) UnmarshalJSON(data []byte) error {
	var raw sprintHistoryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	h.Team = raw.Team
	switch {
	case raw.TotalSprints != nil:
		h.TotalSprints = *raw.TotalSprints
	case raw.SprintCount != nil:
		h.TotalSprints = *raw.SprintCount
	case raw.Sprint != nil:
		h.TotalSprints = *raw.Sprint
	}
	return nil
}

// TeamState records the active team of one run and the feature branch the
// run's sprints merge into. FeatureBranch is null until the feature branch
// has been created.
type TeamState struct {
	Team          []string `json:"team"`
	FeatureBranch *string  `json:"feature_branch"`

	// RuntimeID identifies the run that wrote the file, so two concurrent
	// runs against different target branches never adopt each other's
	// state.
	RuntimeID string `json:"runtime_id,omitempty"`
}

// Store reads and writes the state files of one worktree.
type Store struct {
	dir       string
	runtimeID string
	mu        sync.Mutex
}

// NewStore creates a Store rooted at a worktree directory. runtimeID is
// stamped into team state on save.
func NewStore(worktreeDir, runtimeID string) *Store {
	return &Store{dir: filepath.Join(worktreeDir, Dir), runtimeID: runtimeID}
}

// EventLogPath returns the event log path for a worktree.
func EventLogPath(worktreeDir string) string {
	return filepath.Join(worktreeDir, Dir, EventLogFile)
}

// RuntimeFiles returns the state file paths relative to the worktree root.
// The feature merge removes untracked copies of these before merging, so
// local runtime state never blocks a merge.
func RuntimeFiles() []string {
	return []string{
		filepath.Join(Dir, sprintHistoryFile),
		filepath.Join(Dir, teamStateFile),
		filepath.Join(Dir, EventLogFile),
	}
}

// LoadSprintHistory reads sprint history. A missing file yields the zero
// history, not an error.
func (s *Store) LoadSprintHistory() (*SprintHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var h SprintHistory
	if err := s.load(sprintHistoryFile, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// SaveSprintHistory writes sprint history atomically.
func (s *Store) SaveSprintHistory(h *SprintHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(sprintHistoryFile, h)
}

// LoadTeamState reads team state. A missing file yields nil with no error.
// State stamped by a different run is returned as found; callers check
// OwnedByRun before adopting it.
func (s *Store) LoadTeamState() (*TeamState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, teamStateFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	var t TeamState
	if err := s.load(teamStateFile, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTeamState writes team state atomically, stamping this run's ID.
func (s *Store) SaveTeamState(t *TeamState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.RuntimeID = s.runtimeID
	return s.save(teamStateFile, t)
}

// OwnedByRun reports whether the team state was written by this run.
func (s *Store) OwnedByRun(t *TeamState) bool {
	return t != nil && t.RuntimeID == s.runtimeID
}

// load reads and decodes one state file. Missing files decode to the zero
// value.
func (s *Store) load(name string, v any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// save encodes and atomically writes one state file.
func (s *Store) save(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return atomicWriteFile(filepath.Join(s.dir, name), append(data, '\n'), 0644)
}

// atomicWriteFile writes data to a file atomically by writing to a
// temporary file in the same directory, then renaming. The target is never
// observed partially written.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
