// Package task provides cooperative multitasking: tasks with
// heap-backed stacks and saved contexts, scheduled round-robin at
// explicit yield points. Nothing preempts a running task; a task that
// never yields starves the rest, and that is the accepted contract.
package task

import "kernel-in-go/kernel/machine"

// State is a task's scheduling state.
type State int

const (
	// Ready tasks are eligible to run.
	Ready State = iota

	// Running is held by at most one task system-wide.
	Running

	// Blocked tasks wait for an explicit Unblock.
	Blocked

	// Terminated tasks are finished and awaiting reaping.
	Terminated
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}

// ID identifies a task. IDs increase monotonically and are never
// reused.
type ID uint64

// StackSize is the stack allocated to each task.
const StackSize = 4096

const stackAlign = 16

// Task is one task control block. All fields are guarded by the
// scheduler's lock.
type Task struct {
	id        ID
	name      string
	state     State
	stack     machine.VirtAddr
	stackSize uint64
	ctx       Context

	// permanent tasks (boot, idle) are never reaped.
	permanent bool
}

// Info is a read-only snapshot of one task for diagnostics.
type Info struct {
	ID    ID
	Name  string
	State State
}
