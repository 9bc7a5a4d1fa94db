package mem

import (
	"errors"
	"testing"
)

func TestBitmapAllocFree(t *testing.T) {
	a := NewBitmapAllocator(0, 8)

	var frames []Frame
	for {
		f, ok := a.AllocFrame()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	if len(frames) != 8 {
		t.Fatalf("allocated %d frames, want 8", len(frames))
	}
	if got := a.FreeFrames(); got != 0 {
		t.Fatalf("FreeFrames after exhaustion = %d, want 0", got)
	}

	// Freeing one frame makes exactly that frame allocatable again.
	if err := a.FreeFrame(frames[3]); err != nil {
		t.Fatalf("FreeFrame(%d): %v", frames[3], err)
	}
	f, ok := a.AllocFrame()
	if !ok {
		t.Fatalf("allocation after free failed")
	}
	if f != frames[3] {
		t.Errorf("reallocation returned frame %d, want freed frame %d", f, frames[3])
	}
}

func TestBitmapMisuse(t *testing.T) {
	a := NewBitmapAllocator(4, 4) // covers frames 4..7

	if err := a.FreeFrame(2); !errors.Is(err, ErrFrameOutOfRange) {
		t.Errorf("FreeFrame below range: err = %v, want ErrFrameOutOfRange", err)
	}
	if err := a.FreeFrame(8); !errors.Is(err, ErrFrameOutOfRange) {
		t.Errorf("FreeFrame above range: err = %v, want ErrFrameOutOfRange", err)
	}
	if err := a.FreeFrame(5); !errors.Is(err, ErrFrameNotAllocated) {
		t.Errorf("double free: err = %v, want ErrFrameNotAllocated", err)
	}

	if err := a.MarkAllocated(5); err != nil {
		t.Fatalf("MarkAllocated(5): %v", err)
	}
	if err := a.MarkAllocated(5); !errors.Is(err, ErrFrameAllocated) {
		t.Errorf("double mark: err = %v, want ErrFrameAllocated", err)
	}
	if err := a.FreeFrame(5); err != nil {
		t.Errorf("FreeFrame after mark: %v", err)
	}
}

func TestBitmapFromMapSeedsBootState(t *testing.T) {
	memMap := testMap() // usable frames: 2, 3, 6, 7, 8

	// Pretend the boot allocator already issued the first two usable
	// frames. The bitmap must never hand those, or any non-usable
	// frame, out again.
	a := NewBitmapFromMap(memMap, 2)

	if got := a.FreeFrames(); got != 3 {
		t.Fatalf("FreeFrames = %d, want 3", got)
	}
	want := []Frame{6, 7, 8}
	for i, w := range want {
		f, ok := a.AllocFrame()
		if !ok || f != w {
			t.Fatalf("allocation %d = %d, %v; want %d, true", i, f, ok, w)
		}
	}
	if _, ok := a.AllocFrame(); ok {
		t.Errorf("allocation succeeded past the usable frames")
	}

	// Boot-issued frames can be returned to the pool once their use
	// ends.
	if err := a.FreeFrame(2); err != nil {
		t.Fatalf("FreeFrame(2): %v", err)
	}
	if f, ok := a.AllocFrame(); !ok || f != 2 {
		t.Errorf("reallocation = %d, %v; want 2, true", f, ok)
	}
}
