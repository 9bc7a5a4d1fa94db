package task

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"kernel-in-go/kernel/heap"
	"kernel-in-go/kernel/machine"
)

var (
	// ErrNoSuchTask reports an Unblock of an unknown task ID.
	ErrNoSuchTask = errors.New("task: no such task")

	// ErrNotBlocked reports an Unblock of a task that is not
	// blocked.
	ErrNotBlocked = errors.New("task: task is not blocked")
)

// Scheduler owns the task registry and the cursor identifying the
// running task. Scheduling is round-robin over the registry in a
// fixed order, starting just after the cursor and wrapping.
type Scheduler struct {
	mu     sync.Mutex
	heap   *heap.Allocator
	cpu    *machine.CPU
	tasks  []*Task
	cur    int
	nextID ID
}

// NewScheduler builds a scheduler whose task stacks come from h. The
// calling flow is adopted as the permanent "boot" task, currently
// Running, so the first yield has a real switch source; the
// permanent idle task is spawned immediately so a Ready candidate
// always exists.
func NewScheduler(h *heap.Allocator, cpu *machine.CPU) (*Scheduler, error) {
	s := &Scheduler{heap: h, cpu: cpu, nextID: 1}
	boot := &Task{
		name:      "boot",
		state:     Running,
		permanent: true,
		ctx:       Context{Flags: FlagInterrupt, resume: make(chan struct{})},
	}
	s.tasks = append(s.tasks, boot)
	if _, err := s.spawn("idle", s.idleLoop, true); err != nil {
		return nil, err
	}
	return s, nil
}

// idleLoop halts the processor until the next event, then gives any
// Ready task its turn.
func (s *Scheduler) idleLoop() {
	for {
		s.cpu.Halt()
		s.Yield()
	}
}

// Spawn creates a task in Ready state: a fresh stack from the heap,
// the next monotonic ID, and a context that begins at fn with the
// stack pointer at the top of the new stack. It fails only when
// stack memory cannot be obtained.
//
// Returning from fn terminates the task.
func (s *Scheduler) Spawn(name string, fn func()) (ID, error) {
	return s.spawn(name, fn, false)
}

func (s *Scheduler) spawn(name string, fn func(), permanent bool) (ID, error) {
	stack, err := s.heap.Alloc(StackSize, stackAlign)
	if err != nil {
		return 0, fmt.Errorf("task: spawn %q: %w", name, err)
	}

	s.mu.Lock()
	t := &Task{
		id:        s.nextID,
		name:      name,
		state:     Ready,
		stack:     stack,
		stackSize: StackSize,
		permanent: permanent,
		ctx:       newContext(stack + StackSize),
	}
	s.nextID++
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()

	go func() {
		<-t.ctx.resume
		fn()
		s.exitCurrent()
	}()
	return t.id, nil
}

// Yield voluntarily relinquishes the processor. It returns once this
// task is selected to run again; when no other task is Ready it
// returns immediately and the caller keeps running.
func (s *Scheduler) Yield() {
	s.schedule()
}

// Block parks the current task until an Unblock, yielding to the
// next Ready task.
func (s *Scheduler) Block() {
	s.mu.Lock()
	s.tasks[s.cur].state = Blocked
	s.mu.Unlock()
	s.schedule()
}

// Unblock makes a blocked task Ready again. It does not switch; the
// task runs when the cursor next reaches it.
func (s *Scheduler) Unblock(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.id != id {
			continue
		}
		if t.state != Blocked {
			return ErrNotBlocked
		}
		t.state = Ready
		return nil
	}
	return ErrNoSuchTask
}

// Exit terminates the current task immediately. It does not return.
func (s *Scheduler) Exit() {
	s.exitCurrent()
	runtime.Goexit()
}

// schedule scans the registry for the next Ready task and switches
// to it. With none found it is a no-op and the caller continues.
func (s *Scheduler) schedule() {
	s.mu.Lock()
	s.reapLocked()
	prev := s.tasks[s.cur]
	next := s.findReadyLocked()
	if next < 0 {
		s.mu.Unlock()
		return
	}
	if next == s.cur {
		// The current task was made Ready again (e.g. an Unblock
		// raced its Block) and is the only candidate; keep running.
		prev.state = Running
		s.mu.Unlock()
		return
	}
	nt := s.tasks[next]
	nt.state = Running
	if prev.state == Running {
		prev.state = Ready
	}
	s.cur = next
	s.mu.Unlock()

	// Bookkeeping is committed; nothing below touches shared state.
	switchContext(&prev.ctx, &nt.ctx)
}

// exitCurrent marks the current task Terminated and hands control to
// the next Ready task, never to return here. The terminated task's
// stack is reclaimed by a later schedule pass.
func (s *Scheduler) exitCurrent() {
	s.mu.Lock()
	s.tasks[s.cur].state = Terminated
	next := s.findReadyLocked()
	if next < 0 {
		// idle is permanent and never exits, so a Ready task must
		// exist whenever some other task terminates.
		s.mu.Unlock()
		panic("task: no runnable task to exit to")
	}
	nt := s.tasks[next]
	nt.state = Running
	s.cur = next
	s.mu.Unlock()

	handoff(&nt.ctx)
}

// findReadyLocked returns the index of the first Ready task after
// the cursor, wrapping, or -1.
func (s *Scheduler) findReadyLocked() int {
	n := len(s.tasks)
	for off := 1; off <= n; off++ {
		i := (s.cur + off) % n
		if s.tasks[i].state == Ready {
			return i
		}
	}
	return -1
}

// reapLocked drops Terminated tasks from the registry and returns
// their stacks to the heap.
func (s *Scheduler) reapLocked() {
	curTask := s.tasks[s.cur]
	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.state == Terminated && !t.permanent {
			if err := s.heap.Dealloc(t.stack, t.stackSize, stackAlign); err != nil {
				panic(fmt.Sprintf("task: reaping %q: %v", t.name, err))
			}
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
	for i, t := range s.tasks {
		if t == curTask {
			s.cur = i
			break
		}
	}
}

// CurrentID returns the running task's ID.
func (s *Scheduler) CurrentID() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[s.cur].id
}

// Tasks snapshots the registry for the diagnostics boundary.
func (s *Scheduler) Tasks() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]Info, len(s.tasks))
	for i, t := range s.tasks {
		infos[i] = Info{ID: t.id, Name: t.name, State: t.state}
	}
	return infos
}
