package storage

import "encoding/binary"

// tableHeaderSize is the slotted header (16 B) plus next/prev/lsn/table_id
// (20 B): bytes 16..36 per spec.md §3/§6.
const tableHeaderSize = 36

// TablePage is a SlottedPage that additionally carries a doubly-linked
// list position within one table (next/prev page id), a log sequence
// number placeholder, and the owning table id. Free space starts at byte
// 36 instead of 16.
type TablePage struct {
	SlottedPage
}

// BindTablePage wraps buf as a TablePage view.
func BindTablePage(buf *PageBuf) *TablePage {
	return &TablePage{SlottedPage{buf: buf}}
}

// InitTablePage formats a fresh page as an empty table page.
func InitTablePage(buf *PageBuf, id PageID, tableID uint32) *TablePage {
	tp := &TablePage{SlottedPage{buf: buf}}
	tp.setPageID(id)
	tp.setNumSlots(0)
	tp.setFreeSpaceStart(tableHeaderSize)
	tp.setFreeSpaceEnd(PageSize)
	tp.SetNextPageID(InvalidPageID)
	tp.SetPrevPageID(InvalidPageID)
	tp.setLSN(0)
	tp.setTableID(tableID)
	return tp
}

// slotOffset is overridden so the slot array starts after the table
// header, not the bare slotted header.
func (tp *TablePage) slotOffset(i uint32) int {
	return tableHeaderSize + int(i)*slotEntrySize
}

func (tp *TablePage) slotAt(i uint32) (uint16, uint16) {
	o := tp.slotOffset(i)
	return binary.LittleEndian.Uint16(tp.buf[o : o+2]), binary.LittleEndian.Uint16(tp.buf[o+2 : o+4])
}

func (tp *TablePage) setSlotAt(i uint32, offset, length uint16) {
	o := tp.slotOffset(i)
	binary.LittleEndian.PutUint16(tp.buf[o:o+2], offset)
	binary.LittleEndian.PutUint16(tp.buf[o+2:o+4], length)
}

func (tp *TablePage) NextPageID() PageID {
	return PageID(binary.LittleEndian.Uint32(tp.buf[16:20]))
}
func (tp *TablePage) SetNextPageID(id PageID) {
	binary.LittleEndian.PutUint32(tp.buf[16:20], uint32(id))
}

func (tp *TablePage) PrevPageID() PageID {
	return PageID(binary.LittleEndian.Uint32(tp.buf[20:24]))
}
func (tp *TablePage) SetPrevPageID(id PageID) {
	binary.LittleEndian.PutUint32(tp.buf[20:24], uint32(id))
}

func (tp *TablePage) LSN() uint64 {
	return binary.LittleEndian.Uint64(tp.buf[24:32])
}
func (tp *TablePage) setLSN(v uint64) {
	binary.LittleEndian.PutUint64(tp.buf[24:32], v)
}

func (tp *TablePage) TableID() uint32 {
	return binary.LittleEndian.Uint32(tp.buf[32:36])
}
func (tp *TablePage) setTableID(v uint32) {
	binary.LittleEndian.PutUint32(tp.buf[32:36], v)
}

// InsertTuple places data into the page, reusing a deleted slot when
// possible. Overridden from SlottedPage purely because the slot array base
// offset differs; the insertion algorithm is identical.
func (tp *TablePage) InsertTuple(data []byte) (SlotID, error) {
	needed := len(data)
	numSlots := tp.NumSlots()
	for i := uint32(0); i < numSlots; i++ {
		_, length := tp.slotAt(i)
		if length == 0 {
			if tp.FreeSpace() < needed {
				return 0, &PageOverflowError{Needed: needed, Available: tp.FreeSpace()}
			}
			newEnd := tp.FreeSpaceEnd() - uint32(needed)
			copy(tp.buf[newEnd:tp.FreeSpaceEnd()], data)
			tp.setSlotAt(i, uint16(newEnd), uint16(needed))
			tp.setFreeSpaceEnd(newEnd)
			return SlotID(i), nil
		}
	}

	if tp.FreeSpace() < needed+slotEntrySize {
		return 0, &PageOverflowError{Needed: needed + slotEntrySize, Available: tp.FreeSpace()}
	}

	newEnd := tp.FreeSpaceEnd() - uint32(needed)
	copy(tp.buf[newEnd:tp.FreeSpaceEnd()], data)

	slotID := numSlots
	tp.setSlotAt(slotID, uint16(newEnd), uint16(needed))
	tp.setNumSlots(numSlots + 1)
	tp.setFreeSpaceStart(tp.FreeSpaceStart() + slotEntrySize)
	tp.setFreeSpaceEnd(newEnd)
	return SlotID(slotID), nil
}

// GetTuple, DeleteTuple, UpdateTuple and Compact are inherited from
// SlottedPage, but they call sp.slotAt/sp.setSlotAt through the embedded
// value's methods, not TablePage's overrides, since Go has no virtual
// dispatch. Table pages therefore re-implement the slot-touching
// operations against the correct header offset.

// GetTuple returns a copy of the tuple bytes at slot.
func (tp *TablePage) GetTuple(slot SlotID) ([]byte, error) {
	if uint32(slot) >= tp.NumSlots() {
		return nil, ErrInvalidSlotID
	}
	offset, length := tp.slotAt(uint32(slot))
	if length == 0 {
		return nil, ErrEmptySlot
	}
	out := make([]byte, length)
	copy(out, tp.buf[offset:offset+length])
	return out, nil
}

// DeleteTuple marks a slot's length 0.
func (tp *TablePage) DeleteTuple(slot SlotID) error {
	if uint32(slot) >= tp.NumSlots() {
		return ErrInvalidSlotID
	}
	offset, length := tp.slotAt(uint32(slot))
	if length == 0 {
		return ErrEmptySlot
	}
	tp.setSlotAt(uint32(slot), offset, 0)
	return nil
}

// UpdateTuple overwrites a slot's tuple in place.
func (tp *TablePage) UpdateTuple(slot SlotID, data []byte) error {
	if uint32(slot) >= tp.NumSlots() {
		return ErrInvalidSlotID
	}
	offset, length := tp.slotAt(uint32(slot))
	if length == 0 {
		return ErrEmptySlot
	}
	if len(data) > int(length) {
		return &PageOverflowError{Needed: len(data), Available: int(length)}
	}
	copy(tp.buf[offset:offset+uint16(len(data))], data)
	tp.setSlotAt(uint32(slot), offset, uint16(len(data)))
	return nil
}

// Compact rewrites live tuples tightly against the page tail.
func (tp *TablePage) Compact() {
	numSlots := tp.NumSlots()
	type live struct {
		slot uint32
		data []byte
	}
	var tuples []live
	for i := uint32(0); i < numSlots; i++ {
		offset, length := tp.slotAt(i)
		if length == 0 {
			continue
		}
		data := make([]byte, length)
		copy(data, tp.buf[offset:offset+length])
		tuples = append(tuples, live{slot: i, data: data})
	}

	end := uint32(PageSize)
	for _, t := range tuples {
		end -= uint32(len(t.data))
		copy(tp.buf[end:end+uint32(len(t.data))], t.data)
		tp.setSlotAt(t.slot, uint16(end), uint16(len(t.data)))
	}
	tp.setFreeSpaceEnd(end)
}
