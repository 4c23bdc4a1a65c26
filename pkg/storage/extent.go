package storage

// ExtentSize (E) is the number of contiguous page offsets tracked together
// by a single extent.
const ExtentSize = 8

// extentIndex identifies an extent by its position within file 0's offset
// space: extent i covers offsets [i*ExtentSize, (i+1)*ExtentSize).
//
// Extents are always minted in file 0. The spec leaves multi-file extent
// placement unspecified (it only pins down that cross-file deallocation is
// silently ignored "by design"), and file 0 alone already addresses 16M
// pages, so every extent the allocator hands out lives there; other segment
// files only ever receive pages through the scheduler's raw read/write path.
type extentIndex uint32

// extent tracks allocation state for one run of ExtentSize page offsets.
type extent struct {
	index   extentIndex
	bitmap  uint8 // bit i set => offset (index*ExtentSize + i) is allocated
	count   uint8 // popcount(bitmap), kept incrementally
	ownerOK bool  // true once a table has claimed this extent
	owner   uint32
}

func newExtent(idx extentIndex) *extent {
	return &extent{index: idx}
}

func (e *extent) basePageOffset() uint32 {
	return uint32(e.index) * ExtentSize
}

func (e *extent) isFull() bool {
	return e.count >= ExtentSize
}

// allocateSlot finds the lowest free bit in the extent and marks it
// allocated, returning the page offset within the file.
func (e *extent) allocateSlot() (uint32, bool) {
	for i := uint8(0); i < ExtentSize; i++ {
		if e.bitmap&(1<<i) == 0 {
			e.bitmap |= 1 << i
			e.count++
			return e.basePageOffset() + uint32(i), true
		}
	}
	return 0, false
}

// freeSlot clears the bit for the given page offset, which must fall within
// this extent's range.
func (e *extent) freeSlot(offset uint32) {
	i := offset - e.basePageOffset()
	if i >= ExtentSize {
		return
	}
	bit := uint8(1 << i)
	if e.bitmap&bit != 0 {
		e.bitmap &^= bit
		e.count--
	}
}

// extentAllocator owns the in-memory extent bitmaps and the per-table
// ordered list of extent indices. It is guarded by DiskManager.mu; it holds
// no lock of its own.
type extentAllocator struct {
	extents     map[extentIndex]*extent
	tableOrder  map[uint32][]extentIndex // table id -> extents, most-recent last
}

func newExtentAllocator() *extentAllocator {
	return &extentAllocator{
		extents:    make(map[extentIndex]*extent),
		tableOrder: make(map[uint32][]extentIndex),
	}
}

// allocateForTable implements the extent allocator algorithm from spec.md
// §4.1: walk the table's extent list from most-recent to oldest, allocate
// the lowest free bit in the first non-full extent; if none, mint a new
// extent bound to the table and take slot 0.
func (a *extentAllocator) allocateForTable(tableID uint32) uint32 {
	order := a.tableOrder[tableID]
	for i := len(order) - 1; i >= 0; i-- {
		ext := a.extents[order[i]]
		if !ext.isFull() {
			off, ok := ext.allocateSlot()
			if ok {
				return off
			}
		}
	}

	idx := a.nextFreeExtentIndex()
	ext := newExtent(idx)
	ext.ownerOK = true
	ext.owner = tableID
	a.extents[idx] = ext
	a.tableOrder[tableID] = append(a.tableOrder[tableID], idx)
	off, _ := ext.allocateSlot()
	return off
}

func (a *extentAllocator) nextFreeExtentIndex() extentIndex {
	var max extentIndex
	found := false
	for idx := range a.extents {
		if !found || idx > max {
			max = idx
			found = true
		}
	}
	if !found {
		return 0
	}
	return max + 1
}

// deallocate clears the bit for pageOffset in its owning extent, if tracked.
func (a *extentAllocator) deallocate(pageOffset uint32) {
	idx := extentIndex(pageOffset / ExtentSize)
	if ext, ok := a.extents[idx]; ok {
		ext.freeSlot(pageOffset)
	}
}

// extentsForTable returns the set of extent indices currently recorded for
// a table, for invariant checks (spec.md §8 invariant 7).
func (a *extentAllocator) extentsForTable(tableID uint32) []extentIndex {
	out := make([]extentIndex, len(a.tableOrder[tableID]))
	copy(out, a.tableOrder[tableID])
	return out
}

// rebuildFromExisting reconstructs extents on open per spec.md §4.1's
// `from_existing`: the first ceil(numPages/ExtentSize) extent indices are
// treated as partially-full and unowned. Ownership is re-established lazily
// as tables allocate again.
func (a *extentAllocator) rebuildFromExisting(numPages uint32) {
	if numPages == 0 {
		return
	}
	fullExtents := numPages / ExtentSize
	remainder := numPages % ExtentSize
	total := fullExtents
	if remainder > 0 {
		total++
	}
	for i := extentIndex(0); i < extentIndex(total); i++ {
		ext := newExtent(i)
		if i < extentIndex(fullExtents) {
			ext.bitmap = 0xFF
			ext.count = ExtentSize
		} else {
			ext.bitmap = (1 << remainder) - 1
			ext.count = uint8(remainder)
		}
		a.extents[i] = ext
	}
}
