package mem

import (
	"testing"

	"kernel-in-go/kernel/machine"
)

// testMap has deliberately unaligned usable bounds: the first usable
// region starts and ends mid-frame, so only its interior whole frames
// count.
func testMap() machine.MemoryMap {
	return machine.MemoryMap{
		{Start: 0x0000, End: 0x1000, Type: machine.RegionKernel},
		{Start: 0x1800, End: 0x4800, Type: machine.RegionUsable}, // frames 2, 3
		{Start: 0x4800, End: 0x6000, Type: machine.RegionReserved},
		{Start: 0x6000, End: 0x9000, Type: machine.RegionUsable}, // frames 6, 7, 8
	}
}

func inUsableRegion(memMap machine.MemoryMap, f Frame) bool {
	addr := f.Address()
	for _, r := range memMap {
		if r.Type == machine.RegionUsable && addr >= r.Start && addr+machine.PageSize <= r.End {
			return true
		}
	}
	return false
}

func TestBootInfoAllocDistinctAlignedUsable(t *testing.T) {
	memMap := testMap()
	a := NewBootInfoAllocator(memMap)

	if got := a.AvailableFrames(); got != 5 {
		t.Fatalf("AvailableFrames = %d, want 5", got)
	}

	seen := make(map[Frame]bool)
	for i := 0; i < 5; i++ {
		f, ok := a.AllocFrame()
		if !ok {
			t.Fatalf("allocation %d failed with %d usable frames left", i, 5-i)
		}
		if uint64(f.Address())%machine.PageSize != 0 {
			t.Errorf("frame %d address %#x is not page-aligned", i, uint64(f.Address()))
		}
		if !inUsableRegion(memMap, f) {
			t.Errorf("frame %d (%#x) lies outside every usable region", i, uint64(f.Address()))
		}
		if seen[f] {
			t.Errorf("frame %#x handed out twice", uint64(f.Address()))
		}
		seen[f] = true
	}

	if f, ok := a.AllocFrame(); ok {
		t.Errorf("allocation past exhaustion returned frame %#x", uint64(f.Address()))
	}
	if got := a.AllocatedFrames(); got != 5 {
		t.Errorf("AllocatedFrames = %d, want 5", got)
	}
}

func TestBootInfoUnalignedRegionEdges(t *testing.T) {
	a := NewBootInfoAllocator(testMap())

	// 0x1800 rounds up to frame 2; 0x4800 rounds down past frame 4.
	f, ok := a.AllocFrame()
	if !ok || f != 2 {
		t.Errorf("first frame = %d, %v; want 2, true", f, ok)
	}
	f, ok = a.AllocFrame()
	if !ok || f != 3 {
		t.Errorf("second frame = %d, %v; want 3, true", f, ok)
	}
	// The partial frame at 0x4000 is skipped; next comes the second region.
	f, ok = a.AllocFrame()
	if !ok || f != 6 {
		t.Errorf("third frame = %d, %v; want 6, true", f, ok)
	}
}

func TestBootInfoMemorySizes(t *testing.T) {
	a := NewBootInfoAllocator(testMap())
	if got := a.TotalMemory(); got != 0x8800 {
		t.Errorf("TotalMemory = %#x, want %#x", got, 0x8800)
	}
	if got := a.UsableMemory(); got != 0x6000 {
		t.Errorf("UsableMemory = %#x, want %#x", got, 0x6000)
	}
}
