// Package vm walks and mutates the 4-level page table hierarchy:
// translation, mapping and unmapping of 4 KiB pages, with 2 MiB and
// 1 GiB huge-page leaves understood during walks.
package vm

import (
	"fmt"

	"kernel-in-go/kernel/machine"
	"kernel-in-go/kernel/mem"
)

// EntryFlags are the architectural page table entry bits.
type EntryFlags uint64

const (
	// FlagPresent is set when the entry maps something.
	FlagPresent EntryFlags = 1 << iota

	// FlagWritable is set if the page can be written to.
	FlagWritable

	// FlagUser is set if user-mode code may access the page.
	FlagUser

	// FlagWriteThrough selects write-through caching.
	FlagWriteThrough

	// FlagNoCache prevents caching of the page.
	FlagNoCache

	// FlagAccessed is set by the CPU when the page is read.
	FlagAccessed

	// FlagDirty is set by the CPU when the page is written.
	FlagDirty

	// FlagHuge marks a 2 MiB (level 2) or 1 GiB (level 3) leaf.
	FlagHuge

	// FlagGlobal keeps the translation cached across CR3 writes.
	FlagGlobal

	// FlagNoExec forbids instruction fetches from the page.
	FlagNoExec EntryFlags = 1 << 63
)

// entryAddrMask extracts the physical address bits (12-51) of an
// entry.
const entryAddrMask = uint64(0x000f_ffff_ffff_f000)

const (
	pageLevels     = 4
	indexBits      = 9
	indexMask      = (1 << indexBits) - 1
	level2LeafBits = 21 // 2 MiB
	level3LeafBits = 30 // 1 GiB
)

// Page is a virtual memory page index.
type Page uint64

// Address returns the virtual base address of the page.
func (p Page) Address() machine.VirtAddr {
	return machine.VirtAddr(p << machine.PageShift)
}

// PageContaining returns the page that holds va, rounding down.
func PageContaining(va machine.VirtAddr) Page {
	return Page(va >> machine.PageShift)
}

// levelShift returns the shift of the 9-bit index field a walk level
// consumes. Level 4 is the root, level 1 the terminal 4 KiB level.
func levelShift(level int) uint {
	return uint(machine.PageShift + (level-1)*indexBits)
}

// indexAt extracts the table index va uses at the given level.
func indexAt(va machine.VirtAddr, level int) uint64 {
	return (uint64(va) >> levelShift(level)) & indexMask
}

// LeafSize is the coverage of a terminal page table entry.
type LeafSize uint8

const (
	Leaf4K LeafSize = iota
	Leaf2M
	Leaf1G
)

// Bytes returns the span covered by a leaf of this size.
func (s LeafSize) Bytes() uint64 {
	switch s {
	case Leaf2M:
		return 1 << level2LeafBits
	case Leaf1G:
		return 1 << level3LeafBits
	}
	return machine.PageSize
}

func (s LeafSize) String() string {
	switch s {
	case Leaf2M:
		return "2MiB"
	case Leaf1G:
		return "1GiB"
	}
	return "4KiB"
}

type entryKind uint8

const (
	entryNotPresent entryKind = iota
	entryTable
	entryLeaf
)

// decoded is the tagged form of a raw entry at a known walk level.
// The flag-bit combinations that are legal at each level are resolved
// here once, so the walk itself never interprets raw bits.
type decoded struct {
	kind  entryKind
	table mem.Frame        // next-level table, kind == entryTable
	base  machine.PhysAddr // leaf physical base, kind == entryLeaf
	size  LeafSize
	flags EntryFlags
}

// decodeEntry classifies a raw entry found at the given level while
// resolving va. A huge-flagged entry anywhere but levels 2 and 3 is
// an impossible hardware state; continuing the walk would operate on
// a corrupted address space, so it faults instead of reporting an
// absent mapping.
func decodeEntry(raw uint64, level int, va machine.VirtAddr) decoded {
	flags := EntryFlags(raw) &^ EntryFlags(entryAddrMask)
	if flags&FlagPresent == 0 {
		return decoded{kind: entryNotPresent}
	}
	addr := machine.PhysAddr(raw & entryAddrMask)
	if flags&FlagHuge != 0 {
		switch level {
		case 2:
			return decoded{kind: entryLeaf, base: addr, size: Leaf2M, flags: flags}
		case 3:
			return decoded{kind: entryLeaf, base: addr, size: Leaf1G, flags: flags}
		default:
			panic(fmt.Sprintf("vm: huge-page flag at level %d resolving %#x", level, uint64(va)))
		}
	}
	if level == 1 {
		return decoded{kind: entryLeaf, base: addr, size: Leaf4K, flags: flags}
	}
	return decoded{kind: entryTable, table: mem.FrameContaining(addr), flags: flags}
}
