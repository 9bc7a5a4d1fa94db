// Package heap is the kernel-wide dynamic allocator. A fixed virtual
// address range, mapped once at boot, is partitioned into one slab
// per power-of-two size class plus a first-fit fallback region for
// requests too large or too aligned for any class. Every dynamic
// allocation in the kernel, task stacks included, comes from here.
package heap

import (
	"errors"

	"kernel-in-go/kernel/machine"
)

// BlockSizes are the supported size classes. Each must be a power of
// two so blocks double as their own alignment.
var BlockSizes = [...]uint64{8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

var (
	// ErrUninitialized reports an operation before Init.
	ErrUninitialized = errors.New("heap: allocator not initialized")

	// ErrAlreadyInitialized reports a second Init.
	ErrAlreadyInitialized = errors.New("heap: allocator already initialized")

	// ErrUnmappedRange reports an Init over a range that is not
	// fully mapped.
	ErrUnmappedRange = errors.New("heap: heap range is not mapped")

	// ErrHeapTooSmall reports an Init range too small to give every
	// size class a workable sub-range.
	ErrHeapTooSmall = errors.New("heap: range too small for size classes")

	// ErrInvalidAlignment reports a non-power-of-two alignment.
	ErrInvalidAlignment = errors.New("heap: alignment is not a power of two")

	// ErrInvalidAddress reports a Dealloc of an address this heap
	// did not hand out.
	ErrInvalidAddress = errors.New("heap: address does not belong to this heap")

	// ErrOutOfMemory reports allocation failure. Callers decide
	// whether exhaustion is fatal.
	ErrOutOfMemory = errors.New("heap: out of memory")
)

// Allocator is the process-wide heap. The zero value is unusable
// until Init.
type Allocator struct {
	initialized bool
	start       machine.VirtAddr
	size        uint64
	slabs       [len(BlockSizes)]slab
	fb          fallback
}

// New returns an uninitialized allocator.
func New() *Allocator { return &Allocator{} }

// Init carves the heap range into per-class sub-regions and the
// fallback remainder. It must be called exactly once, after the range
// has been mapped; mapped (when non-nil) is consulted per page to
// enforce that.
//
// Each class receives an equal page-aligned share sized so the
// fallback keeps at least two shares for oversized requests.
func (h *Allocator) Init(start machine.VirtAddr, size uint64, mapped func(machine.VirtAddr) bool) error {
	if h.initialized {
		return ErrAlreadyInitialized
	}
	share := (size / uint64(len(BlockSizes)+2)) &^ uint64(machine.PageSize-1)
	if share < BlockSizes[len(BlockSizes)-1] {
		return ErrHeapTooSmall
	}
	if mapped != nil {
		for off := uint64(0); off < size; off += machine.PageSize {
			if !mapped(start + machine.VirtAddr(off)) {
				return ErrUnmappedRange
			}
		}
	}

	cursor := start
	for i, blockSize := range BlockSizes {
		h.slabs[i].init(blockSize, cursor, share)
		cursor += machine.VirtAddr(share)
	}
	h.fb.init(cursor, size-uint64(cursor-start))

	h.start = start
	h.size = size
	h.initialized = true
	return nil
}

// findSlabIndex returns the smallest class whose block size covers
// both the requested size and alignment, or ok=false when the
// request exceeds the largest class.
func findSlabIndex(size, align uint64) (int, bool) {
	required := size
	if align > required {
		required = align
	}
	if required == 0 {
		required = 1
	}
	for i, blockSize := range BlockSizes {
		if blockSize >= required {
			return i, true
		}
	}
	return 0, false
}

// Alloc returns the address of a block of at least size bytes at the
// given alignment. A fitting class serves the request in O(1); a
// full class or an oversized request falls through to the fallback's
// first-fit search.
func (h *Allocator) Alloc(size, align uint64) (machine.VirtAddr, error) {
	if !h.initialized {
		return 0, ErrUninitialized
	}
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return 0, ErrInvalidAlignment
	}
	if i, ok := findSlabIndex(size, align); ok {
		if addr, ok := h.slabs[i].alloc(); ok {
			return addr, nil
		}
	}
	if addr, ok := h.fb.alloc(size, align); ok {
		return addr, nil
	}
	return 0, ErrOutOfMemory
}

// Dealloc returns a block to its owner, determined by which
// sub-region the address falls in: a slab gets a O(1) push, the
// fallback coalesces adjacent extents.
func (h *Allocator) Dealloc(addr machine.VirtAddr, size, align uint64) error {
	if !h.initialized {
		return ErrUninitialized
	}
	for i := range h.slabs {
		if h.slabs[i].contains(addr) {
			return h.slabs[i].free(addr)
		}
	}
	if h.fb.contains(addr) {
		return h.fb.free(addr, size)
	}
	return ErrInvalidAddress
}

// ClassStats describes one size class pool.
type ClassStats struct {
	BlockSize uint64
	Blocks    uint32
	Free      uint32
}

// Stats is a snapshot of heap utilization for the diagnostics
// boundary; this package does not format or print it.
type Stats struct {
	HeapStart    machine.VirtAddr
	HeapSize     uint64
	Classes      []ClassStats
	FallbackSize uint64
	FallbackFree uint64
}

// Stats snapshots per-pool utilization.
func (h *Allocator) Stats() Stats {
	st := Stats{HeapStart: h.start, HeapSize: h.size}
	if !h.initialized {
		return st
	}
	for i := range h.slabs {
		s := &h.slabs[i]
		s.mu.Lock()
		st.Classes = append(st.Classes, ClassStats{
			BlockSize: s.blockSize,
			Blocks:    s.blocks,
			Free:      s.freeCount,
		})
		s.mu.Unlock()
	}
	st.FallbackSize = h.fb.size
	st.FallbackFree = h.fb.available()
	return st
}

// UsedBytes returns the total bytes currently allocated across all
// pools.
func (h *Allocator) UsedBytes() uint64 {
	if !h.initialized {
		return 0
	}
	var used uint64
	for i := range h.slabs {
		s := &h.slabs[i]
		s.mu.Lock()
		used += uint64(s.blocks-s.freeCount) * s.blockSize
		s.mu.Unlock()
	}
	used += h.fb.size - h.fb.available()
	return used
}
