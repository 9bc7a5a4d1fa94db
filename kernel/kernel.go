// Package kernel wires the memory-and-execution core together: frame
// allocation over the boot memory map, the active address space, the
// heap over its fixed mapped range, and the cooperative scheduler.
// Subsystems are explicit fields initialized once at boot and alive
// for the life of the process; there are no package-level singletons.
package kernel

import (
	"fmt"
	"log/slog"

	"kernel-in-go/kernel/heap"
	"kernel-in-go/kernel/machine"
	"kernel-in-go/kernel/mem"
	"kernel-in-go/kernel/task"
	"kernel-in-go/kernel/vm"
)

const (
	// DefaultPhysOffset is where the boot stage offset-maps physical
	// memory.
	DefaultPhysOffset = machine.VirtAddr(0xffff_8000_0000_0000)

	// DefaultHeapStart and DefaultHeapSize fix the virtual range the
	// heap owns. The range is mapped exactly once during New and
	// never resized or relocated afterwards.
	DefaultHeapStart = machine.VirtAddr(0x4444_4444_0000)
	DefaultHeapSize  = uint64(1 << 20)
)

// BootInfo is the boot loader hand-off. Zero fields other than the
// memory map fall back to the defaults above.
type BootInfo struct {
	MemoryMap  machine.MemoryMap
	PhysOffset machine.VirtAddr
	HeapStart  machine.VirtAddr
	HeapSize   uint64
}

// Kernel owns the initialized subsystems.
type Kernel struct {
	Machine *machine.Machine

	// Boot is the monotonic allocator that served initialization;
	// Frames is the production allocator from then on.
	Boot   *mem.BootInfoAllocator
	Frames *mem.BitmapAllocator

	Mapper *vm.Mapper
	Heap   *heap.Allocator
	Sched  *task.Scheduler

	log *slog.Logger
}

// New brings the core up in dependency order: frame allocator over
// the usable regions, a fresh address space, the heap range mapped
// onto freshly allocated frames, the heap over that range, the
// bitmap allocator seeded for production use, and the scheduler with
// its idle task.
func New(boot BootInfo, logger *slog.Logger) (*Kernel, error) {
	if logger == nil {
		logger = NewLogger("info", "kernel")
	}
	if boot.PhysOffset == 0 {
		boot.PhysOffset = DefaultPhysOffset
	}
	if boot.HeapStart == 0 {
		boot.HeapStart = DefaultHeapStart
	}
	if boot.HeapSize == 0 {
		boot.HeapSize = DefaultHeapSize
	}

	m, err := machine.New(boot.MemoryMap, boot.PhysOffset)
	if err != nil {
		return nil, err
	}

	bootAlloc := mem.NewBootInfoAllocator(boot.MemoryMap)
	for _, r := range boot.MemoryMap {
		logger.Info("memory map region",
			"type", r.Type.String(),
			"start", fmt.Sprintf("%#x", uint64(r.Start)),
			"end", fmt.Sprintf("%#x", uint64(r.End)),
			"bytes", r.Size(),
		)
	}
	logger.Info("physical memory",
		"total", bootAlloc.TotalMemory(),
		"usable", bootAlloc.UsableMemory(),
		"frames", bootAlloc.AvailableFrames(),
	)

	mapper, err := vm.NewAddressSpace(m, bootAlloc)
	if err != nil {
		return nil, fmt.Errorf("kernel: creating address space: %w", err)
	}

	for off := uint64(0); off < boot.HeapSize; off += machine.PageSize {
		page := vm.PageContaining(boot.HeapStart + machine.VirtAddr(off))
		frame, ok := bootAlloc.AllocFrame()
		if !ok {
			return nil, fmt.Errorf("kernel: mapping heap: %w", vm.ErrNoFrames)
		}
		if err := mapper.Map(page, frame, vm.FlagWritable|vm.FlagNoExec, bootAlloc); err != nil {
			return nil, fmt.Errorf("kernel: mapping heap page %#x: %w", uint64(page.Address()), err)
		}
	}
	logger.Info("heap range mapped",
		"start", fmt.Sprintf("%#x", uint64(boot.HeapStart)),
		"bytes", boot.HeapSize,
	)

	h := heap.New()
	mapped := func(va machine.VirtAddr) bool {
		_, ok := mapper.Translate(va)
		return ok
	}
	if err := h.Init(boot.HeapStart, boot.HeapSize, mapped); err != nil {
		return nil, fmt.Errorf("kernel: initializing heap: %w", err)
	}

	// Hand bookkeeping over from the monotonic boot allocator to the
	// production bitmap allocator, with everything the boot
	// allocator issued already marked.
	frames := mem.NewBitmapFromMap(boot.MemoryMap, bootAlloc.AllocatedFrames())

	sched, err := task.NewScheduler(h, m.CPU())
	if err != nil {
		return nil, fmt.Errorf("kernel: starting scheduler: %w", err)
	}

	logger.Info("kernel initialized",
		"boot_frames", bootAlloc.AllocatedFrames(),
		"free_frames", frames.FreeFrames(),
	)
	return &Kernel{
		Machine: m,
		Boot:    bootAlloc,
		Frames:  frames,
		Mapper:  mapper,
		Heap:    h,
		Sched:   sched,
		log:     logger,
	}, nil
}

// MemoryStats is a snapshot of physical memory utilization.
type MemoryStats struct {
	TotalBytes    uint64
	UsableBytes   uint64
	UsableFrames  uint64
	BootAllocated uint64
	FreeFrames    uint64
}

// MemoryStats reports physical memory utilization.
func (k *Kernel) MemoryStats() MemoryStats {
	return MemoryStats{
		TotalBytes:    k.Boot.TotalMemory(),
		UsableBytes:   k.Boot.UsableMemory(),
		UsableFrames:  k.Boot.AvailableFrames(),
		BootAllocated: k.Boot.AllocatedFrames(),
		FreeFrames:    k.Frames.FreeFrames(),
	}
}

// LogStats renders the memory, heap and task snapshots through the
// kernel's logger.
func (k *Kernel) LogStats() {
	ms := k.MemoryStats()
	k.log.Info("memory",
		"usable", ms.UsableBytes,
		"boot_allocated", ms.BootAllocated,
		"free_frames", ms.FreeFrames,
	)
	hs := k.Heap.Stats()
	for _, c := range hs.Classes {
		k.log.Info("heap class",
			"block_size", c.BlockSize,
			"blocks", c.Blocks,
			"free", c.Free,
		)
	}
	k.log.Info("heap fallback",
		"bytes", hs.FallbackSize,
		"free", hs.FallbackFree,
	)
	for _, t := range k.Sched.Tasks() {
		k.log.Info("task", "id", uint64(t.ID), "name", t.Name, "state", t.State.String())
	}
}
