package heap

import (
	"sync"

	"kernel-in-go/kernel/machine"
)

// minChunk is the fallback allocator's allocation granule. Chunk
// addresses and sizes are always multiples of it, which keeps the
// free list coalescible without per-chunk headers.
const minChunk = 16

func chunkSize(size uint64) uint64 {
	if size == 0 {
		size = 1
	}
	return (size + minChunk - 1) &^ uint64(minChunk-1)
}

func alignUp(addr, align uint64) uint64 {
	return (addr + align - 1) &^ (align - 1)
}

// fbNode is one free extent, ordered by address.
type fbNode struct {
	addr machine.VirtAddr
	size uint64
	next *fbNode
}

// fallback is a first-fit allocator over the heap remainder that is
// not assigned to any size class. It serves requests whose size or
// alignment exceeds the largest class, and overflow when a class
// runs dry.
type fallback struct {
	mu        sync.Mutex
	start     machine.VirtAddr
	size      uint64
	head      *fbNode
	freeBytes uint64
}

func (f *fallback) init(start machine.VirtAddr, size uint64) {
	f.start = start
	f.size = size
	f.freeBytes = size
	if size > 0 {
		f.head = &fbNode{addr: start, size: size}
	}
}

func (f *fallback) contains(addr machine.VirtAddr) bool {
	return addr >= f.start && uint64(addr-f.start) < f.size
}

// alloc finds the first free extent that can hold size bytes at the
// requested alignment. Leading padding and trailing remainder stay
// on the free list.
func (f *fallback) alloc(size, align uint64) (machine.VirtAddr, bool) {
	if align < minChunk {
		align = minChunk
	}
	chunk := chunkSize(size)

	f.mu.Lock()
	defer f.mu.Unlock()

	for prev, n := (*fbNode)(nil), f.head; n != nil; prev, n = n, n.next {
		aligned := alignUp(uint64(n.addr), align)
		pad := aligned - uint64(n.addr)
		if n.size < pad+chunk {
			continue
		}
		tail := n.size - pad - chunk

		var after *fbNode = n.next
		if tail > 0 {
			after = &fbNode{addr: machine.VirtAddr(aligned + chunk), size: tail, next: n.next}
		}
		if pad > 0 {
			n.size = pad
			n.next = after
		} else if prev != nil {
			prev.next = after
		} else {
			f.head = after
		}
		f.freeBytes -= chunk
		return machine.VirtAddr(aligned), true
	}
	return 0, false
}

// free returns the chunk at addr to the list, merging with adjacent
// free extents. A chunk that overlaps an extent already on the list
// was not allocated (or was freed twice) and is rejected.
func (f *fallback) free(addr machine.VirtAddr, size uint64) error {
	chunk := chunkSize(size)
	if uint64(addr)%minChunk != 0 || !f.contains(addr) || uint64(addr-f.start)+chunk > f.size {
		return ErrInvalidAddress
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var prev *fbNode
	n := f.head
	for n != nil && n.addr < addr {
		prev, n = n, n.next
	}
	if n != nil && uint64(addr)+chunk > uint64(n.addr) {
		return ErrInvalidAddress
	}
	if prev != nil && uint64(prev.addr)+prev.size > uint64(addr) {
		return ErrInvalidAddress
	}

	node := &fbNode{addr: addr, size: chunk, next: n}
	if prev != nil {
		prev.next = node
	} else {
		f.head = node
	}
	f.freeBytes += chunk

	// Coalesce with the next extent, then with the previous one.
	if n != nil && uint64(node.addr)+node.size == uint64(n.addr) {
		node.size += n.size
		node.next = n.next
	}
	if prev != nil && uint64(prev.addr)+prev.size == uint64(node.addr) {
		prev.size += node.size
		prev.next = node.next
	}
	return nil
}

func (f *fallback) available() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freeBytes
}
