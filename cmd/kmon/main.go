// kmon is an interactive front panel for the simulated machine: it
// drives the scheduler one keystroke at a time and dumps subsystem
// stats on demand.
//
//	s  spawn a counter task
//	w  spawn a task that blocks itself
//	u  unblock the most recent waiter
//	y  yield one scheduler round
//	p  print memory/heap/task stats
//	q  quit
package main

import (
	"fmt"
	"os"

	tty "github.com/mattn/go-tty"

	"kernel-in-go/kernel"
	"kernel-in-go/kernel/machine"
	"kernel-in-go/kernel/task"
)

func main() {
	logger := kernel.NewLogger("info", "kmon")

	bootMap := machine.MemoryMap{
		{Start: 0x0000, End: 0x9f000, Type: machine.RegionUsable},
		{Start: 0x9f000, End: 0x100000, Type: machine.RegionReserved},
		{Start: 0x100000, End: 0x800000, Type: machine.RegionUsable},
	}
	k, err := kernel.New(kernel.BootInfo{MemoryMap: bootMap}, logger)
	if err != nil {
		logger.Error("boot failed", "err", err)
		os.Exit(1)
	}

	t, err := tty.Open()
	if err != nil {
		logger.Error("opening tty", "err", err)
		os.Exit(1)
	}
	defer t.Close()

	var (
		workers    int
		lastWaiter task.ID
	)
	fmt.Println("kmon ready: [s]pawn [w]aiter [u]nblock [y]ield [p]rint [q]uit")
	for {
		r, err := t.ReadRune()
		if err != nil {
			logger.Error("reading key", "err", err)
			return
		}
		switch r {
		case 's':
			workers++
			name := fmt.Sprintf("worker%d", workers)
			id, err := k.Sched.Spawn(name, func() {
				count := 0
				for {
					count++
					k.Sched.Yield()
				}
			})
			if err != nil {
				logger.Error("spawn failed", "err", err)
				continue
			}
			logger.Info("spawned", "name", name, "id", uint64(id))
		case 'w':
			id, err := k.Sched.Spawn("waiter", func() {
				k.Sched.Block()
			})
			if err != nil {
				logger.Error("spawn failed", "err", err)
				continue
			}
			lastWaiter = id
			logger.Info("spawned waiter", "id", uint64(id))
		case 'u':
			if err := k.Sched.Unblock(lastWaiter); err != nil {
				logger.Error("unblock failed", "id", uint64(lastWaiter), "err", err)
				continue
			}
			logger.Info("unblocked", "id", uint64(lastWaiter))
		case 'y':
			k.Sched.Yield()
		case 'p':
			k.LogStats()
		case 'q':
			return
		}
	}
}
