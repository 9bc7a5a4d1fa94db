package machine

// Boot memory map
// a go version of the bootloader's region list

// The boot stage hands the kernel an ordered list of physical address
// ranges. Only RegionUsable ranges may be handed out as frames; the
// other kinds exist so diagnostics can show the whole map.

// RegionType classifies a boot memory map region.
type RegionType int

const (
	RegionUsable RegionType = iota
	RegionReserved
	RegionBootInfo
	RegionKernel
)

func (t RegionType) String() string {
	switch t {
	case RegionUsable:
		return "usable"
	case RegionReserved:
		return "reserved"
	case RegionBootInfo:
		return "bootinfo"
	case RegionKernel:
		return "kernel"
	}
	return "unknown"
}

// Region is one half-open physical address range [Start, End).
type Region struct {
	Start PhysAddr
	End   PhysAddr
	Type  RegionType
}

// Size returns the region length in bytes.
func (r Region) Size() uint64 {
	return uint64(r.End - r.Start)
}

// MemoryMap is the ordered sequence of regions supplied at boot.
type MemoryMap []Region

// TotalBytes returns the combined size of every region in the map.
func (mm MemoryMap) TotalBytes() uint64 {
	var total uint64
	for _, r := range mm {
		total += r.Size()
	}
	return total
}

// UsableBytes returns the combined size of the usable regions.
func (mm MemoryMap) UsableBytes() uint64 {
	var total uint64
	for _, r := range mm {
		if r.Type == RegionUsable {
			total += r.Size()
		}
	}
	return total
}

// Limit returns the end of the highest region, i.e. the amount of
// physical address space the machine needs to model.
func (mm MemoryMap) Limit() PhysAddr {
	var limit PhysAddr
	for _, r := range mm {
		if r.End > limit {
			limit = r.End
		}
	}
	return limit
}
