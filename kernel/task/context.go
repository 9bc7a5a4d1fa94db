package task

import "kernel-in-go/kernel/machine"

// FlagInterrupt is the interrupt-enable bit of the saved flag word.
// Every context starts with it set so a task begins with interrupts
// on.
const FlagInterrupt = uint64(1 << 9)

// Context is a task's saved execution state: the stack pointer to
// resume with, the flag word, and the platform side of the switch.
//
// On hardware the platform side is a register save/restore routine;
// here it is a parked goroutine waiting on an unbuffered run token.
// The contract is the same either way: control enters a context only
// through switchContext, and a switched-out caller resumes only when
// some other context switches back to it.
type Context struct {
	SP    machine.VirtAddr
	Flags uint64

	resume chan struct{}
}

func newContext(stackTop machine.VirtAddr) Context {
	return Context{
		SP:     stackTop,
		Flags:  FlagInterrupt,
		resume: make(chan struct{}),
	}
}

// switchContext transfers the CPU from one context to the other. It
// is synchronous from the caller's side: the call returns only once
// this context is switched back in. All scheduler bookkeeping must be
// committed before calling; the switch touches only the two contexts.
func switchContext(from, to *Context) {
	to.resume <- struct{}{}
	<-from.resume
}

// handoff transfers control one-way, for a context that will never
// run again.
func handoff(to *Context) {
	to.resume <- struct{}{}
}
