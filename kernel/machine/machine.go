// Package machine models the slice of x86-64 hardware the kernel
// core touches: physical memory, the CR3 root-table register and the
// translation-lookaside buffer. Physical memory is a bounded word
// arena; every access is checked against its bounds, so a bad table
// address faults loudly instead of corrupting unrelated state.
package machine

import (
	"errors"
	"fmt"
	"runtime"
)

// PhysAddr is an address in physical memory.
type PhysAddr uint64

// VirtAddr is an address in virtual memory.
type VirtAddr uint64

const (
	PageSize  = 4096
	PageShift = 12
)

var errNoUsableMemory = errors.New("machine: memory map has no usable region")

// Machine is one simulated single-processor machine.
type Machine struct {
	words      []uint64
	limit      PhysAddr
	memMap     MemoryMap
	physOffset VirtAddr
	cpu        CPU
}

// New builds a machine whose physical memory spans the given boot
// memory map. physOffset is the virtual address at which an earlier
// boot stage has offset-mapped all of physical memory.
func New(memMap MemoryMap, physOffset VirtAddr) (*Machine, error) {
	limit := memMap.Limit()
	if memMap.UsableBytes() == 0 || limit == 0 {
		return nil, errNoUsableMemory
	}
	m := &Machine{
		words:      make([]uint64, limit/8),
		limit:      limit,
		memMap:     memMap,
		physOffset: physOffset,
	}
	m.cpu.tlb = make(map[VirtAddr]TLBEntry)
	m.cpu.HaltFn = runtime.Gosched
	return m, nil
}

// MemoryMap returns the boot memory map.
func (m *Machine) MemoryMap() MemoryMap { return m.memMap }

// PhysOffset returns the physical-to-virtual mapping offset.
func (m *Machine) PhysOffset() VirtAddr { return m.physOffset }

// Size returns the modeled physical address space in bytes.
func (m *Machine) Size() uint64 { return uint64(m.limit) }

// CPU returns the machine's processor.
func (m *Machine) CPU() *CPU { return &m.cpu }

func (m *Machine) checkWord(pa PhysAddr) {
	if pa%8 != 0 {
		panic(fmt.Sprintf("machine: unaligned word access at %#x", uint64(pa)))
	}
	if pa >= m.limit {
		panic(fmt.Sprintf("machine: physical access at %#x beyond memory limit %#x", uint64(pa), uint64(m.limit)))
	}
}

// ReadWord reads the 8-byte word at pa.
func (m *Machine) ReadWord(pa PhysAddr) uint64 {
	m.checkWord(pa)
	return m.words[pa/8]
}

// WriteWord writes the 8-byte word at pa.
func (m *Machine) WriteWord(pa PhysAddr, v uint64) {
	m.checkWord(pa)
	m.words[pa/8] = v
}

// ZeroRange clears n bytes starting at pa. pa and n must be
// word-aligned; page tables are always cleared a whole frame at a
// time.
func (m *Machine) ZeroRange(pa PhysAddr, n uint64) {
	if n%8 != 0 {
		panic(fmt.Sprintf("machine: unaligned zero length %d", n))
	}
	m.checkWord(pa)
	m.checkWord(pa + PhysAddr(n) - 8)
	for off := uint64(0); off < n; off += 8 {
		m.words[(uint64(pa)+off)/8] = 0
	}
}
