package mem

import (
	"errors"
	"sync"

	"kernel-in-go/kernel/machine"
)

var (
	// ErrFrameOutOfRange reports a free or mark request for a frame
	// the allocator does not cover.
	ErrFrameOutOfRange = errors.New("mem: frame outside allocator range")

	// ErrFrameNotAllocated reports a free of a frame that is already
	// free.
	ErrFrameNotAllocated = errors.New("mem: frame is not allocated")

	// ErrFrameAllocated reports a mark of a frame that is already
	// allocated.
	ErrFrameAllocated = errors.New("mem: frame is already allocated")
)

// BitmapAllocator tracks allocated and free frames with one bit per
// frame (1 = allocated) over a fixed frame range. Unlike the
// boot-info allocator it supports freeing, so it is the production
// allocator once initialization is done.
type BitmapAllocator struct {
	mu         sync.Mutex
	bitmap     []uint64
	startFrame Frame
	frameCount uint64
	freeCount  uint64
}

// NewBitmapAllocator covers the range [startFrame, startFrame+count)
// with every frame initially free.
func NewBitmapAllocator(startFrame Frame, count uint64) *BitmapAllocator {
	return &BitmapAllocator{
		bitmap:     make([]uint64, (count+63)/64),
		startFrame: startFrame,
		frameCount: count,
		freeCount:  count,
	}
}

// NewBitmapFromMap builds the production allocator from the boot
// memory map. Every frame outside a usable region starts allocated so
// it can never be handed out, and the first bootAllocated frames of
// the usable sequence start allocated because the boot-info allocator
// already issued them.
func NewBitmapFromMap(memMap machine.MemoryMap, bootAllocated uint64) *BitmapAllocator {
	count := uint64(memMap.Limit() >> machine.PageShift)
	a := NewBitmapAllocator(0, count)

	for f := Frame(0); uint64(f) < count; f++ {
		if !frameUsable(memMap, f) {
			a.markLocked(f)
		}
	}

	// Replay the boot allocator's monotonic sequence.
	seed := NewBootInfoAllocator(memMap)
	for n := uint64(0); n < bootAllocated; n++ {
		f := seed.usableFrame(n)
		if !f.Valid() {
			break
		}
		a.markLocked(f)
	}
	return a
}

func frameUsable(memMap machine.MemoryMap, f Frame) bool {
	addr := f.Address()
	for _, r := range memMap {
		if r.Type != machine.RegionUsable {
			continue
		}
		if addr >= r.Start && addr+machine.PageSize <= r.End {
			return true
		}
	}
	return false
}

func (a *BitmapAllocator) slot(f Frame) (word, bit uint64, ok bool) {
	if f < a.startFrame {
		return 0, 0, false
	}
	rel := uint64(f - a.startFrame)
	if rel >= a.frameCount {
		return 0, 0, false
	}
	return rel / 64, rel % 64, true
}

// markLocked sets a frame's bit without checking its prior state.
// Only used while seeding, before the allocator is shared.
func (a *BitmapAllocator) markLocked(f Frame) {
	word, bit, ok := a.slot(f)
	if !ok {
		return
	}
	if a.bitmap[word]&(1<<bit) == 0 {
		a.bitmap[word] |= 1 << bit
		a.freeCount--
	}
}

// AllocFrame scans for the first free frame, marks it allocated and
// returns it. ok=false means the range is exhausted.
func (a *BitmapAllocator) AllocFrame() (Frame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for w, word := range a.bitmap {
		if word == ^uint64(0) {
			continue
		}
		for bit := uint64(0); bit < 64; bit++ {
			if word&(1<<bit) != 0 {
				continue
			}
			rel := uint64(w)*64 + bit
			if rel >= a.frameCount {
				break
			}
			a.bitmap[w] |= 1 << bit
			a.freeCount--
			return a.startFrame + Frame(rel), true
		}
	}
	return InvalidFrame, false
}

// FreeFrame returns a frame to the pool. Freeing a frame that is not
// currently allocated, or one outside the range, is contract misuse
// and fails explicitly.
func (a *BitmapAllocator) FreeFrame(f Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	word, bit, ok := a.slot(f)
	if !ok {
		return ErrFrameOutOfRange
	}
	if a.bitmap[word]&(1<<bit) == 0 {
		return ErrFrameNotAllocated
	}
	a.bitmap[word] &^= 1 << bit
	a.freeCount++
	return nil
}

// MarkAllocated reserves a specific frame, e.g. one already consumed
// by an earlier boot stage.
func (a *BitmapAllocator) MarkAllocated(f Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	word, bit, ok := a.slot(f)
	if !ok {
		return ErrFrameOutOfRange
	}
	if a.bitmap[word]&(1<<bit) != 0 {
		return ErrFrameAllocated
	}
	a.bitmap[word] |= 1 << bit
	a.freeCount--
	return nil
}

// FreeFrames returns how many frames are currently free.
func (a *BitmapAllocator) FreeFrames() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeCount
}
