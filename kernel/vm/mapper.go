package vm

import (
	"errors"

	"kernel-in-go/kernel/machine"
	"kernel-in-go/kernel/mem"
)

var (
	// ErrAlreadyMapped reports a Map of a page that is mapped.
	ErrAlreadyMapped = errors.New("vm: page is already mapped")

	// ErrNotMapped reports an Unmap of a page that is not mapped.
	ErrNotMapped = errors.New("vm: page is not mapped")

	// ErrNoFrames reports frame allocator exhaustion while creating
	// intermediate tables.
	ErrNoFrames = errors.New("vm: out of physical frames")

	// ErrHugeLeaf reports a 4 KiB operation on a page covered by a
	// huge-page leaf.
	ErrHugeLeaf = errors.New("vm: page is covered by a huge-page leaf")
)

// Mapper resolves and mutates one address space: the page table tree
// rooted at a known physical address, reached through the
// physical-memory offset mapping.
type Mapper struct {
	m          *machine.Machine
	root       machine.PhysAddr
	physOffset machine.VirtAddr
}

// ActiveMapper returns a mapper over the address space the CPU is
// currently using, located through CR3 and the machine's physical
// memory offset.
func ActiveMapper(m *machine.Machine) *Mapper {
	return &Mapper{
		m:          m,
		root:       m.CPU().CR3(),
		physOffset: m.PhysOffset(),
	}
}

// NewAddressSpace allocates and zeroes a fresh root table, installs
// it in CR3 and returns a mapper over it.
func NewAddressSpace(m *machine.Machine, alloc mem.Allocator) (*Mapper, error) {
	frame, ok := alloc.AllocFrame()
	if !ok {
		return nil, ErrNoFrames
	}
	m.ZeroRange(frame.Address(), machine.PageSize)
	m.CPU().WriteCR3(frame.Address())
	return ActiveMapper(m), nil
}

// Root returns the physical address of the root table.
func (mp *Mapper) Root() machine.PhysAddr { return mp.root }

// entryAddr returns the physical address of entry idx in the table
// at tablePhys. The table is only dereferenceable through the offset
// map, so the address goes out through it and back.
func (mp *Mapper) entryAddr(tablePhys machine.PhysAddr, idx uint64) machine.PhysAddr {
	virt := mp.physOffset + machine.VirtAddr(tablePhys) + machine.VirtAddr(idx*8)
	return machine.PhysAddr(virt - mp.physOffset)
}

func (mp *Mapper) readEntry(tablePhys machine.PhysAddr, idx uint64) uint64 {
	return mp.m.ReadWord(mp.entryAddr(tablePhys, idx))
}

func (mp *Mapper) writeEntry(tablePhys machine.PhysAddr, idx uint64, raw uint64) {
	mp.m.WriteWord(mp.entryAddr(tablePhys, idx), raw)
}

// Mapping describes one resolved translation.
type Mapping struct {
	PhysAddr machine.PhysAddr
	LeafBase machine.PhysAddr
	Size     LeafSize
	Flags    EntryFlags
}

// Translate resolves a virtual address to its physical address, or
// ok=false if any walk level is not present. Resolved translations
// are served from and cached in the TLB.
func (mp *Mapper) Translate(va machine.VirtAddr) (machine.PhysAddr, bool) {
	if e, ok := mp.m.CPU().LookupTLB(va); ok {
		return e.Base + machine.PhysAddr(uint64(va)&(e.Span-1)), true
	}
	mapping, ok := mp.lookup(va)
	if !ok {
		return 0, false
	}
	mp.m.CPU().FillTLB(va, machine.TLBEntry{Base: mapping.LeafBase, Span: mapping.Size.Bytes()})
	return mapping.PhysAddr, true
}

// Lookup resolves a virtual address without touching the TLB and
// reports the covering leaf, for diagnostics.
func (mp *Mapper) Lookup(va machine.VirtAddr) (Mapping, bool) {
	return mp.lookup(va)
}

// lookup walks the hierarchy one 9-bit index field per level. A huge
// leaf at level 3 covers 1 GiB, at level 2 it covers 2 MiB; in both
// cases the low untranslated bits of va carry over unchanged.
func (mp *Mapper) lookup(va machine.VirtAddr) (Mapping, bool) {
	table := mp.root
	for level := pageLevels; level >= 1; level-- {
		entry := decodeEntry(mp.readEntry(table, indexAt(va, level)), level, va)
		switch entry.kind {
		case entryNotPresent:
			return Mapping{}, false
		case entryTable:
			table = entry.table.Address()
		case entryLeaf:
			span := entry.size.Bytes()
			return Mapping{
				PhysAddr: entry.base + machine.PhysAddr(uint64(va)&(span-1)),
				LeafBase: entry.base,
				Size:     entry.size,
				Flags:    entry.flags,
			}, true
		}
	}
	return Mapping{}, false
}

// walk descends to the terminal table for va and returns the table's
// physical address. With a non-nil allocator, missing intermediate
// tables are created; without one, a missing table means the page is
// not mapped.
func (mp *Mapper) walk(va machine.VirtAddr, alloc mem.Allocator) (machine.PhysAddr, error) {
	table := mp.root
	for level := pageLevels; level > 1; level-- {
		idx := indexAt(va, level)
		entry := decodeEntry(mp.readEntry(table, idx), level, va)
		switch entry.kind {
		case entryTable:
			table = entry.table.Address()
		case entryLeaf:
			return 0, ErrHugeLeaf
		case entryNotPresent:
			if alloc == nil {
				return 0, ErrNotMapped
			}
			frame, ok := alloc.AllocFrame()
			if !ok {
				return 0, ErrNoFrames
			}
			mp.m.ZeroRange(frame.Address(), machine.PageSize)
			raw := uint64(frame.Address()) | uint64(FlagPresent|FlagWritable)
			mp.writeEntry(table, idx, raw)
			table = frame.Address()
		}
	}
	return table, nil
}

// Map installs a 4 KiB mapping from page to frame, creating missing
// intermediate tables with alloc. Mapping an already mapped page is
// an error; the existing mapping is left untouched.
func (mp *Mapper) Map(page Page, frame mem.Frame, flags EntryFlags, alloc mem.Allocator) error {
	va := page.Address()
	table, err := mp.walk(va, alloc)
	if err != nil {
		return err
	}
	idx := indexAt(va, 1)
	if decodeEntry(mp.readEntry(table, idx), 1, va).kind != entryNotPresent {
		return ErrAlreadyMapped
	}
	mp.writeEntry(table, idx, uint64(frame.Address())|uint64(flags|FlagPresent))
	mp.m.CPU().FlushEntry(va)
	return nil
}

// Unmap removes the 4 KiB mapping for page and invalidates its
// cached translation. The frame that backed the page is returned to
// the caller; it is not recycled here.
func (mp *Mapper) Unmap(page Page) (mem.Frame, error) {
	va := page.Address()
	table, err := mp.walk(va, nil)
	if err != nil {
		return mem.InvalidFrame, err
	}
	idx := indexAt(va, 1)
	entry := decodeEntry(mp.readEntry(table, idx), 1, va)
	if entry.kind == entryNotPresent {
		return mem.InvalidFrame, ErrNotMapped
	}
	mp.writeEntry(table, idx, 0)
	mp.m.CPU().FlushEntry(va)
	return mem.FrameContaining(entry.base), nil
}
