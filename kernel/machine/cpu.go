package machine

// CPU registers and the translation cache
// a go version of the CR3/TLB surface the paging code needs

// TLBEntry caches one resolved translation: the physical base of the
// leaf that covered the lookup and the leaf's span in bytes.
type TLBEntry struct {
	Base PhysAddr
	Span uint64
}

// CPU models the processor state owned by this core: the root table
// register, the software TLB and the halt hook the idle task uses.
type CPU struct {
	cr3 PhysAddr
	tlb map[VirtAddr]TLBEntry

	// HaltFn is invoked by the idle task in place of the hlt
	// instruction. Tests may replace it.
	HaltFn func()
}

// WriteCR3 installs a new root table and, as on hardware, drops every
// cached translation.
func (c *CPU) WriteCR3(root PhysAddr) {
	c.cr3 = root
	c.FlushAll()
}

// CR3 returns the physical address of the active root table.
func (c *CPU) CR3() PhysAddr { return c.cr3 }

// LookupTLB returns the cached translation for the page containing
// va, if any. Entries are keyed by their 4 KiB-aligned lookup address.
func (c *CPU) LookupTLB(va VirtAddr) (TLBEntry, bool) {
	e, ok := c.tlb[va&^VirtAddr(PageSize-1)]
	return e, ok
}

// FillTLB caches a translation for the page containing va.
func (c *CPU) FillTLB(va VirtAddr, e TLBEntry) {
	c.tlb[va&^VirtAddr(PageSize-1)] = e
}

// FlushEntry invalidates any cached translation for the page
// containing va. Mapping code must call this before a structural
// change to an in-use mapping is considered effective.
func (c *CPU) FlushEntry(va VirtAddr) {
	delete(c.tlb, va&^VirtAddr(PageSize-1))
}

// FlushAll empties the TLB.
func (c *CPU) FlushAll() {
	for va := range c.tlb {
		delete(c.tlb, va)
	}
}

// Halt runs the configured halt hook.
func (c *CPU) Halt() {
	if c.HaltFn != nil {
		c.HaltFn()
	}
}
