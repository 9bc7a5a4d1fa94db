package kernel

import (
	"io"
	"log/slog"
	"testing"

	"kernel-in-go/kernel/machine"
	"kernel-in-go/kernel/vm"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBootInfo() BootInfo {
	return BootInfo{
		MemoryMap: machine.MemoryMap{
			{Start: 0x00_0000, End: 0x40_0000, Type: machine.RegionUsable},
			{Start: 0x40_0000, End: 0x50_0000, Type: machine.RegionReserved},
			{Start: 0x50_0000, End: 0xc0_0000, Type: machine.RegionUsable},
		},
		HeapSize: 8 << 20,
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	k, err := New(testBootInfo(), quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := k.Machine.PhysOffset(); got != DefaultPhysOffset {
		t.Errorf("PhysOffset = %#x, want default %#x", uint64(got), uint64(DefaultPhysOffset))
	}
	if got := k.Heap.Stats().HeapStart; got != DefaultHeapStart {
		t.Errorf("HeapStart = %#x, want default %#x", uint64(got), uint64(DefaultHeapStart))
	}
}

func TestNewRejectsEmptyMap(t *testing.T) {
	if _, err := New(BootInfo{}, quietLogger()); err == nil {
		t.Errorf("New accepted a boot info without usable memory")
	}
}

func TestHeapRangeIsMapped(t *testing.T) {
	boot := testBootInfo()
	k, err := New(boot, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for off := uint64(0); off < boot.HeapSize; off += machine.PageSize {
		va := DefaultHeapStart + machine.VirtAddr(off)
		if _, ok := k.Mapper.Translate(va); !ok {
			t.Fatalf("heap page %#x is not mapped", uint64(va))
		}
		mapping, _ := k.Mapper.Lookup(va)
		if mapping.Flags&vm.FlagWritable == 0 || mapping.Flags&vm.FlagNoExec == 0 {
			t.Fatalf("heap page %#x flags = %#x, want writable and no-exec", uint64(va), uint64(mapping.Flags))
		}
	}
	if _, ok := k.Mapper.Translate(DefaultHeapStart + machine.VirtAddr(boot.HeapSize)); ok {
		t.Errorf("page past the heap range is mapped")
	}
}

func TestFrameAccountingHandoff(t *testing.T) {
	k, err := New(testBootInfo(), quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ms := k.MemoryStats()
	if ms.UsableFrames == 0 || ms.BootAllocated == 0 {
		t.Fatalf("MemoryStats = %+v, missing counts", ms)
	}
	// Every frame the boot allocator issued is marked in the bitmap,
	// so the free count mirrors the remainder exactly.
	if want := ms.UsableFrames - ms.BootAllocated; ms.FreeFrames != want {
		t.Errorf("FreeFrames = %d, want %d", ms.FreeFrames, want)
	}

	f, ok := k.Frames.AllocFrame()
	if !ok {
		t.Fatalf("production allocator exhausted at boot")
	}
	if got := k.Frames.FreeFrames(); got != ms.FreeFrames-1 {
		t.Errorf("FreeFrames after alloc = %d, want %d", got, ms.FreeFrames-1)
	}
	if err := k.Frames.FreeFrame(f); err != nil {
		t.Fatalf("FreeFrame: %v", err)
	}
}

// One hundred tasks each take a heap block, hold it across a yield and
// release it. No two live blocks may overlap, and once the tasks are
// reaped the heap and registry are back where boot left them.
func TestManyTasksAllocateWithoutAliasing(t *testing.T) {
	k, err := New(testBootInfo(), quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	baseline := k.Heap.UsedBytes()
	const tasks = 100
	const objSize = 64

	live := make(map[machine.VirtAddr]bool)
	for i := 0; i < tasks; i++ {
		_, err := k.Sched.Spawn("worker", func() {
			addr, err := k.Heap.Alloc(objSize, 8)
			if err != nil {
				t.Errorf("Alloc: %v", err)
				return
			}
			for other := range live {
				if addr < other+objSize && other < addr+objSize {
					t.Errorf("allocation %#x overlaps live allocation %#x", uint64(addr), uint64(other))
				}
			}
			live[addr] = true

			k.Sched.Yield()

			delete(live, addr)
			if err := k.Heap.Dealloc(addr, objSize, 8); err != nil {
				t.Errorf("Dealloc(%#x): %v", uint64(addr), err)
			}
		})
		if err != nil {
			t.Fatalf("Spawn %d: %v", i, err)
		}
	}

	// First round: every worker allocates and parks in its yield.
	k.Sched.Yield()
	if len(live) != tasks {
		t.Fatalf("%d live allocations after round 1, want %d", len(live), tasks)
	}

	// Second round: workers release and terminate; third reaps.
	k.Sched.Yield()
	k.Sched.Yield()

	if len(live) != 0 {
		t.Errorf("%d allocations still live after completion", len(live))
	}
	if got := k.Heap.UsedBytes(); got != baseline {
		t.Errorf("UsedBytes = %d after reaping, want baseline %d", got, baseline)
	}
	if got := len(k.Sched.Tasks()); got != 2 {
		t.Errorf("registry has %d tasks after reaping, want 2", got)
	}
}
