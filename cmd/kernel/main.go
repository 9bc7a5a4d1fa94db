// Demo boot: bring the core up over a two-region memory map, smoke
// test the heap, then drive two cooperating tasks through their
// yield points.
package main

import (
	"os"

	"kernel-in-go/kernel"
	"kernel-in-go/kernel/machine"
)

func main() {
	logger := kernel.NewLogger("info", "kernel")

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

	logger.Info("heap initialized, performing basic heap test")
	value, err := k.Heap.Alloc(8, 8)
	if err != nil {
		logger.Error("heap test failed", "err", err)
		os.Exit(1)
	}
	logger.Info("heap value", "addr", uint64(value))

	var vec []machine.VirtAddr
	for i := 0; i < 10; i++ {
		addr, err := k.Heap.Alloc(32, 8)
		if err != nil {
			logger.Error("heap test failed", "err", err)
			os.Exit(1)
		}
		vec = append(vec, addr)
	}
	for _, addr := range vec {
		if err := k.Heap.Dealloc(addr, 32, 8); err != nil {
			logger.Error("heap test failed", "err", err)
			os.Exit(1)
		}
	}
	if err := k.Heap.Dealloc(value, 8, 8); err != nil {
		logger.Error("heap test failed", "err", err)
		os.Exit(1)
	}

	sched := k.Sched
	counter1, counter2 := 0, 0

	// task1 yields every 5 increments, task2 every 3.
	if _, err := sched.Spawn("task1", func() {
		id := sched.CurrentID()
		logger.Info("task started", "name", "task1", "id", uint64(id))
		for counter1 < 20 {
			counter1++
			if counter1%5 == 0 {
				logger.Info("task yielding", "name", "task1", "counter", counter1)
				sched.Yield()
			}
		}
	}); err != nil {
		logger.Error("spawn failed", "err", err)
		os.Exit(1)
	}
	if _, err := sched.Spawn("task2", func() {
		id := sched.CurrentID()
		logger.Info("task started", "name", "task2", "id", uint64(id))
		for counter2 < 12 {
			counter2++
			if counter2%3 == 0 {
				logger.Info("task yielding", "name", "task2", "counter", counter2)
				sched.Yield()
			}
		}
	}); err != nil {
		logger.Error("spawn failed", "err", err)
		os.Exit(1)
	}

	logger.Info("tasks created, starting scheduler")
	for i := 0; i < 8; i++ {
		sched.Yield()
	}
	logger.Info("tasks done", "counter1", counter1, "counter2", counter2)

	k.LogStats()
	logger.Info("kernel initialization complete")
}
