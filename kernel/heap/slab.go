package heap

import (
	"sync"

	"kernel-in-go/kernel/machine"
)

// freeListEnd is the "no next block" sentinel. Free list links are
// block indices, not addresses, so the sentinel can never collide
// with a valid link.
const freeListEnd = int32(-1)

// slab serves one power-of-two size class out of its own contiguous
// sub-range of the heap. The free list is a singly linked list of
// block indices threaded through the next array; push and pop are
// O(1) and every link is bounds-checked by construction.
type slab struct {
	mu        sync.Mutex
	blockSize uint64
	start     machine.VirtAddr
	blocks    uint32
	next      []int32
	freeHead  int32
	freeCount uint32
}

// init carves the sub-range [start, start+regionSize) into
// equal-size blocks linked in address order.
func (s *slab) init(blockSize uint64, start machine.VirtAddr, regionSize uint64) {
	s.blockSize = blockSize
	s.start = start
	s.blocks = uint32(regionSize / blockSize)
	s.next = make([]int32, s.blocks)
	for i := range s.next {
		s.next[i] = int32(i) + 1
	}
	s.freeHead = freeListEnd
	if s.blocks > 0 {
		s.next[s.blocks-1] = freeListEnd
		s.freeHead = 0
	}
	s.freeCount = s.blocks
}

// span returns the byte size of the slab's sub-range.
func (s *slab) span() uint64 {
	return uint64(s.blocks) * s.blockSize
}

// contains reports whether addr falls inside this slab's sub-range.
func (s *slab) contains(addr machine.VirtAddr) bool {
	return addr >= s.start && uint64(addr-s.start) < s.span()
}

// alloc pops the head block. ok=false means the class is full.
func (s *slab) alloc() (machine.VirtAddr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.freeHead == freeListEnd {
		return 0, false
	}
	i := s.freeHead
	s.freeHead = s.next[i]
	s.freeCount--
	return s.start + machine.VirtAddr(uint64(i)*s.blockSize), true
}

// free pushes a block back onto the list (LIFO; blocks in a class
// are interchangeable, so no coalescing is needed). addr must be a
// block boundary inside the sub-range.
func (s *slab) free(addr machine.VirtAddr) error {
	off := uint64(addr - s.start)
	if off%s.blockSize != 0 {
		return ErrInvalidAddress
	}
	i := int32(off / s.blockSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[i] = s.freeHead
	s.freeHead = i
	s.freeCount++
	return nil
}
