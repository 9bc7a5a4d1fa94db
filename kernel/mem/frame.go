// Package mem manages physical memory frames: the Frame index type
// and the allocators that hand frames out from the boot memory map.
package mem

import (
	"math"

	"kernel-in-go/kernel/machine"
)

// Frame is a physical memory page index.
type Frame uint64

// InvalidFrame is returned by allocators when no frame is available.
const InvalidFrame = Frame(math.MaxUint64)

// Valid reports whether this is a real frame.
func (f Frame) Valid() bool { return f != InvalidFrame }

// Address returns the physical base address of the frame.
func (f Frame) Address() machine.PhysAddr {
	return machine.PhysAddr(f << machine.PageShift)
}

// FrameContaining returns the frame that holds the given physical
// address, rounding down when the address is not frame-aligned.
func FrameContaining(pa machine.PhysAddr) Frame {
	return Frame(pa >> machine.PageShift)
}

// Allocator hands out unused physical frames. The boolean result is
// false when the usable memory is exhausted; exhaustion is a normal
// condition for the caller to judge, never a fault at this layer.
type Allocator interface {
	AllocFrame() (Frame, bool)
}

// EmptyAllocator always reports exhaustion. It exists so tests can
// drive out-of-frames paths deterministically.
type EmptyAllocator struct{}

// AllocFrame implements Allocator.
func (EmptyAllocator) AllocFrame() (Frame, bool) { return InvalidFrame, false }
