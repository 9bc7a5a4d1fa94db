package mem

import (
	"sync"

	"kernel-in-go/kernel/machine"
)

// BootInfoAllocator is a monotonic frame allocator over the usable
// regions of the boot memory map.
//
// Allocations are tracked by a single counter: the n-th allocation
// re-derives the n-th usable frame by flattening the usable regions
// into one logical sequence of page-aligned addresses. This costs
// O(n) per call but keeps no cursor state that could drift from the
// map; boot-time allocation volume is small enough for that trade.
//
// Frames handed out by this allocator are never freed. Once the
// kernel is up, bookkeeping moves to a BitmapAllocator seeded from
// the same map.
type BootInfoAllocator struct {
	mu     sync.Mutex
	memMap machine.MemoryMap
	next   uint64
}

// NewBootInfoAllocator builds an allocator over the usable regions of
// the given map. The caller must guarantee the map is honest: every
// frame inside a usable region really is unused.
func NewBootInfoAllocator(memMap machine.MemoryMap) *BootInfoAllocator {
	return &BootInfoAllocator{memMap: memMap}
}

// usableFrame returns the n-th frame of the flattened usable
// sequence, or InvalidFrame when n runs past the end.
//
// Region bounds may be unaligned; the start rounds up and the end
// rounds down so only whole frames inside the region count.
func (a *BootInfoAllocator) usableFrame(n uint64) Frame {
	for _, r := range a.memMap {
		if r.Type != machine.RegionUsable {
			continue
		}
		start := uint64(FrameContaining(r.Start + machine.PageSize - 1))
		end := uint64(FrameContaining(r.End)) // End is exclusive, rounds down
		if start >= end {
			continue
		}
		count := end - start
		if n < count {
			return Frame(start + n)
		}
		n -= count
	}
	return InvalidFrame
}

// AllocFrame returns the next unused usable frame, or ok=false when
// the usable regions are exhausted.
func (a *BootInfoAllocator) AllocFrame() (Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	frame := a.usableFrame(a.next)
	if !frame.Valid() {
		return InvalidFrame, false
	}
	a.next++
	return frame, true
}

// AllocatedFrames returns how many frames have been handed out.
func (a *BootInfoAllocator) AllocatedFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// AvailableFrames returns the number of usable frames in the map.
func (a *BootInfoAllocator) AvailableFrames() uint64 {
	var count uint64
	for _, r := range a.memMap {
		if r.Type != machine.RegionUsable {
			continue
		}
		start := uint64(FrameContaining(r.Start + machine.PageSize - 1))
		end := uint64(FrameContaining(r.End))
		if start < end {
			count += end - start
		}
	}
	return count
}

// TotalMemory returns the total byte size of the memory map.
func (a *BootInfoAllocator) TotalMemory() uint64 { return a.memMap.TotalBytes() }

// UsableMemory returns the byte size of the usable regions.
func (a *BootInfoAllocator) UsableMemory() uint64 { return a.memMap.UsableBytes() }
