package storage

import "encoding/binary"

// slottedHeaderSize is the slotted-page header: page id, num_slots,
// free_space_start, free_space_end, 4 bytes each.
const slottedHeaderSize = 16

// slotEntrySize is {offset: u16, length: u16}.
const slotEntrySize = 4

// SlottedPage is a view over a page buffer laid out per spec.md §3/§6: a
// 16-byte header, a slot array growing from the header outward, and tuple
// data growing inward from the page end. It has no disk or pool awareness
// of its own; callers bind it to a guard's buffer.
type SlottedPage struct {
	buf *PageBuf
}

// BindSlottedPage wraps buf as a SlottedPage view.
func BindSlottedPage(buf *PageBuf) *SlottedPage {
	return &SlottedPage{buf: buf}
}

// InitSlottedPage formats a fresh page as an empty slotted page with the
// given id.
func InitSlottedPage(buf *PageBuf, id PageID) *SlottedPage {
	sp := &SlottedPage{buf: buf}
	sp.setPageID(id)
	sp.setNumSlots(0)
	sp.setFreeSpaceStart(slottedHeaderSize)
	sp.setFreeSpaceEnd(PageSize)
	return sp
}

func (sp *SlottedPage) PageID() PageID {
	return PageID(binary.LittleEndian.Uint32(sp.buf[0:4]))
}
func (sp *SlottedPage) setPageID(id PageID) {
	binary.LittleEndian.PutUint32(sp.buf[0:4], uint32(id))
}

func (sp *SlottedPage) NumSlots() uint32 {
	return binary.LittleEndian.Uint32(sp.buf[4:8])
}
func (sp *SlottedPage) setNumSlots(n uint32) {
	binary.LittleEndian.PutUint32(sp.buf[4:8], n)
}

func (sp *SlottedPage) FreeSpaceStart() uint32 {
	return binary.LittleEndian.Uint32(sp.buf[8:12])
}
func (sp *SlottedPage) setFreeSpaceStart(v uint32) {
	binary.LittleEndian.PutUint32(sp.buf[8:12], v)
}

func (sp *SlottedPage) FreeSpaceEnd() uint32 {
	return binary.LittleEndian.Uint32(sp.buf[12:16])
}
func (sp *SlottedPage) setFreeSpaceEnd(v uint32) {
	binary.LittleEndian.PutUint32(sp.buf[12:16], v)
}

// slotOffset returns where, within the buffer, slot i's entry lives.
// Subtypes with a larger header (table pages) override this.
func (sp *SlottedPage) slotOffset(i uint32) int {
	return slottedHeaderSize + int(i)*slotEntrySize
}

func (sp *SlottedPage) slotAt(i uint32) (offset, length uint16) {
	o := sp.slotOffset(i)
	return binary.LittleEndian.Uint16(sp.buf[o : o+2]), binary.LittleEndian.Uint16(sp.buf[o+2 : o+4])
}

func (sp *SlottedPage) setSlotAt(i uint32, offset, length uint16) {
	o := sp.slotOffset(i)
	binary.LittleEndian.PutUint16(sp.buf[o:o+2], offset)
	binary.LittleEndian.PutUint16(sp.buf[o+2:o+4], length)
}

// FreeSpace returns the number of unused bytes between the slot array and
// the tuple region.
func (sp *SlottedPage) FreeSpace() int {
	return int(sp.FreeSpaceEnd()) - int(sp.FreeSpaceStart())
}

// InsertTuple places data into the page, reusing a deleted slot if one
// exists, and returns its SlotID. Fails with a *PageOverflowError if the
// page doesn't have room for the tuple plus, where needed, a new slot
// directory entry.
func (sp *SlottedPage) InsertTuple(data []byte) (SlotID, error) {
	needed := len(data)

	// Prefer reusing a deleted slot (length == 0) to avoid growing the
	// slot array.
	numSlots := sp.NumSlots()
	for i := uint32(0); i < numSlots; i++ {
		_, length := sp.slotAt(i)
		if length == 0 {
			if sp.FreeSpace() < needed {
				return 0, &PageOverflowError{Needed: needed, Available: sp.FreeSpace()}
			}
			newEnd := sp.FreeSpaceEnd() - uint32(needed)
			copy(sp.buf[newEnd:sp.FreeSpaceEnd()], data)
			sp.setSlotAt(i, uint16(newEnd), uint16(needed))
			sp.setFreeSpaceEnd(newEnd)
			return SlotID(i), nil
		}
	}

	if sp.FreeSpace() < needed+slotEntrySize {
		return 0, &PageOverflowError{Needed: needed + slotEntrySize, Available: sp.FreeSpace()}
	}

	newEnd := sp.FreeSpaceEnd() - uint32(needed)
	copy(sp.buf[newEnd:sp.FreeSpaceEnd()], data)

	slotID := numSlots
	sp.setSlotAt(slotID, uint16(newEnd), uint16(needed))
	sp.setNumSlots(numSlots + 1)
	sp.setFreeSpaceStart(sp.FreeSpaceStart() + slotEntrySize)
	sp.setFreeSpaceEnd(newEnd)
	return SlotID(slotID), nil
}

// GetTuple returns a copy of the tuple bytes at slot, failing with
// ErrInvalidSlotID or ErrEmptySlot.
func (sp *SlottedPage) GetTuple(slot SlotID) ([]byte, error) {
	if uint32(slot) >= sp.NumSlots() {
		return nil, ErrInvalidSlotID
	}
	offset, length := sp.slotAt(uint32(slot))
	if length == 0 {
		return nil, ErrEmptySlot
	}
	out := make([]byte, length)
	copy(out, sp.buf[offset:offset+length])
	return out, nil
}

// DeleteTuple marks a slot's length 0; its space is reclaimed only by
// Compact.
func (sp *SlottedPage) DeleteTuple(slot SlotID) error {
	if uint32(slot) >= sp.NumSlots() {
		return ErrInvalidSlotID
	}
	offset, length := sp.slotAt(uint32(slot))
	if length == 0 {
		return ErrEmptySlot
	}
	sp.setSlotAt(uint32(slot), offset, 0)
	return nil
}

// UpdateTuple overwrites a slot's tuple in place; only permitted when the
// new data is no longer than the existing tuple.
func (sp *SlottedPage) UpdateTuple(slot SlotID, data []byte) error {
	if uint32(slot) >= sp.NumSlots() {
		return ErrInvalidSlotID
	}
	offset, length := sp.slotAt(uint32(slot))
	if length == 0 {
		return ErrEmptySlot
	}
	if len(data) > int(length) {
		return &PageOverflowError{Needed: len(data), Available: int(length)}
	}
	copy(sp.buf[offset:offset+uint16(len(data))], data)
	sp.setSlotAt(uint32(slot), offset, uint16(len(data)))
	return nil
}

// Compact reads out all live tuples and rewrites them tightly against the
// page tail, preserving slot ids and resetting free_space_end.
func (sp *SlottedPage) Compact() {
	numSlots := sp.NumSlots()
	type live struct {
		slot uint32
		data []byte
	}
	var tuples []live
	for i := uint32(0); i < numSlots; i++ {
		offset, length := sp.slotAt(i)
		if length == 0 {
			continue
		}
		data := make([]byte, length)
		copy(data, sp.buf[offset:offset+length])
		tuples = append(tuples, live{slot: i, data: data})
	}

	end := uint32(PageSize)
	for _, t := range tuples {
		end -= uint32(len(t.data))
		copy(sp.buf[end:end+uint32(len(t.data))], t.data)
		sp.setSlotAt(t.slot, uint16(end), uint16(len(t.data)))
	}
	sp.setFreeSpaceEnd(end)
}
