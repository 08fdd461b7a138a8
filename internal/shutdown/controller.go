// Package shutdown implements cooperative cancellation for a sprint run.
// A single Controller is threaded through the orchestrator call graph;
// long-running loops poll Requested at their checkpoints and unwind
// voluntarily. Engine subprocesses register their PIDs so the first
// interrupt can stop them immediately instead of waiting for a checkpoint.
package shutdown

import (
	"os"
	"sync"
	"sync/atomic"
	"syscall"
)

// ForceExitCode is the process exit status used when repeated interrupts
// force an immediate exit.
const ForceExitCode = 130

// Controller carries the shutdown flag and the registry of live engine
// subprocesses. The flag is lock-free so hot loops can poll it without
// contention; the registry is mutex-guarded.
type Controller struct {
	requested  atomic.Bool
	interrupts atomic.Int32

	mu   sync.Mutex
	pids map[int]struct{}

	// exit is swapped out in tests.
	exit func(code int)
	kill func(pid int) error
}

// NewController creates a Controller with no shutdown requested.
func NewController() *Controller {
	return &Controller{
		pids: make(map[int]struct{}),
		exit: os.Exit,
		// Engines run as process-group leaders; signalling the group kills
		// their whole subprocess tree, not just the direct child.
		kill: func(pid int) error { return syscall.Kill(-pid, syscall.SIGTERM) },
	}
}

// Requested reports whether shutdown has been requested. Safe to call from
// any goroutine at any frequency.
func (c *Controller) Requested() bool {
	return c.requested.Load()
}

// Request flags shutdown without counting an interrupt. Used when the run
// itself decides to stop (for example after a fatal merge failure).
func (c *Controller) Request() {
	c.requested.Store(true)
}

// Interrupt records one delivered interrupt signal and escalates:
//
//	1st: request shutdown and SIGTERM every registered subprocess
//	2nd: no further action (cooperative unwind already in progress)
//	3rd: force process exit with status 130
//
// Returns the interrupt count after recording this one.
func (c *Controller) Interrupt() int {
	n := int(c.interrupts.Add(1))
	switch {
	case n == 1:
		c.requested.Store(true)
		c.KillAll()
	case n >= 3:
		c.exit(ForceExitCode)
	}
	return n
}

// Interrupts returns how many interrupts have been recorded.
func (c *Controller) Interrupts() int {
	return int(c.interrupts.Load())
}

// Register adds a live subprocess PID to the registry. If shutdown was
// already requested the PID is killed immediately and not registered,
// closing the race between a signal and a just-spawned engine.
func (c *Controller) Register(pid int) {
	if c.Requested() {
		_ = c.kill(pid)
		return
	}
	c.mu.Lock()
	c.pids[pid] = struct{}{}
	c.mu.Unlock()
}

// Unregister removes a subprocess PID after it exits. Unknown PIDs are a
// no-op.
func (c *Controller) Unregister(pid int) {
	c.mu.Lock()
	delete(c.pids, pid)
	c.mu.Unlock()
}

// KillAll sends SIGTERM to every registered subprocess group. Errors from
// already-dead processes are ignored. Returns how many signals were sent.
func (c *Controller) KillAll() int {
	c.mu.Lock()
	pids := make([]int, 0, len(c.pids))
	for pid := range c.pids {
		pids = append(pids, pid)
	}
	c.mu.Unlock()

	for _, pid := range pids {
		_ = c.kill(pid)
	}
	return len(pids)
}

// Live returns how many subprocesses are currently registered.
func (c *Controller) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pids)
}
