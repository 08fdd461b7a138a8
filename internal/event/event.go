// Package event carries sprint lifecycle notifications between the
// orchestrator and its observers (the event log, the CLI summary). The bus
// is synchronous: publishing returns after every handler has run, so the
// event log is complete at any shutdown checkpoint.
package event

import "time"

// Event is anything that can be published on the bus.
type Event interface {
	// EventType returns a stable string identifying the event kind.
	EventType() string
}

// Event type identifiers.
const (
	TypeSprintStarted   = "sprint.started"
	TypeSprintFinished  = "sprint.finished"
	TypeTaskAssigned    = "task.assigned"
	TypeTaskCompleted   = "task.completed"
	TypeTaskFailed      = "task.failed"
	TypeEngineStarted   = "engine.started"
	TypeEngineHeartbeat = "engine.heartbeat"
	TypeEngineFinished  = "engine.finished"
	TypeMergeCompleted  = "merge.completed"
	TypeMergeConflict   = "merge.conflict"
	TypeShutdownStarted = "shutdown.started"
)

// SprintStarted is published when a sprint begins executing.
type SprintStarted struct {
	Sprint       int       `json:"sprint"`
	SprintBranch string    `json:"sprint_branch"`
	Agents       []string  `json:"agents"`
	Tasks        int       `json:"tasks"`
	Time         time.Time `json:"time"`
}

func (SprintStarted) EventType() string { return TypeSprintStarted }

// SprintFinished is published when a sprint's merge-back completes or the
// sprint is abandoned.
type SprintFinished struct {
	Sprint    int       `json:"sprint"`
	Completed int       `json:"completed"`
	Failed    int       `json:"failed"`
	Merged    bool      `json:"merged"`
	Time      time.Time `json:"time"`
}

func (SprintFinished) EventType() string { return TypeSprintFinished }

// TaskAssigned is published once per task when the sprint plan is fixed.
type TaskAssigned struct {
	Sprint int       `json:"sprint"`
	Agent  string    `json:"agent"`
	Task   string    `json:"task"`
	Time   time.Time `json:"time"`
}

func (TaskAssigned) EventType() string { return TypeTaskAssigned }

// TaskCompleted is published when a task's work has been committed and
// merged into the sprint branch.
type TaskCompleted struct {
	Sprint int       `json:"sprint"`
	Agent  string    `json:"agent"`
	Task   string    `json:"task"`
	Time   time.Time `json:"time"`
}

func (TaskCompleted) EventType() string { return TypeTaskCompleted }

// TaskFailed is published when a task's engine run or merge failed. The
// task returns to the unassigned pool.
type TaskFailed struct {
	Sprint int       `json:"sprint"`
	Agent  string    `json:"agent"`
	Task   string    `json:"task"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

func (TaskFailed) EventType() string { return TypeTaskFailed }

// EngineStarted is published when an engine subprocess spawns.
type EngineStarted struct {
	Sprint int       `json:"sprint"`
	Agent  string    `json:"agent"`
	Engine string    `json:"engine"`
	Task   string    `json:"task"`
	Time   time.Time `json:"time"`
}

func (EngineStarted) EventType() string { return TypeEngineStarted }

// EngineHeartbeat is published periodically while an engine subprocess is
// still running, so long silent runs remain distinguishable from hangs.
type EngineHeartbeat struct {
	Sprint  int           `json:"sprint"`
	Agent   string        `json:"agent"`
	Task    string        `json:"task"`
	Elapsed time.Duration `json:"elapsed"`
	Time    time.Time     `json:"time"`
}

func (EngineHeartbeat) EventType() string { return TypeEngineHeartbeat }

// EngineFinished is published when an engine subprocess exits.
type EngineFinished struct {
	Sprint   int       `json:"sprint"`
	Agent    string    `json:"agent"`
	Engine   string    `json:"engine"`
	Success  bool      `json:"success"`
	ExitCode int       `json:"exit_code"`
	Time     time.Time `json:"time"`
}

func (EngineFinished) EventType() string { return TypeEngineFinished }

// MergeCompleted is published after a verified merge.
type MergeCompleted struct {
	Sprint int       `json:"sprint"`
	Branch string    `json:"branch"`
	Target string    `json:"target"`
	Time   time.Time `json:"time"`
}

func (MergeCompleted) EventType() string { return TypeMergeCompleted }

// MergeConflict is published when a merge was aborted on conflicts. Work
// is preserved under DeadLetterRef when non-empty.
type MergeConflict struct {
	Sprint        int       `json:"sprint"`
	Branch        string    `json:"branch"`
	Target        string    `json:"target"`
	Files         []string  `json:"files"`
	DeadLetterRef string    `json:"dead_letter_ref,omitempty"`
	Time          time.Time `json:"time"`
}

func (MergeConflict) EventType() string { return TypeMergeConflict }

// ShutdownStarted is published when shutdown is first requested.
type ShutdownStarted struct {
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

func (ShutdownStarted) EventType() string { return TypeShutdownStarted }
