package storage

import "encoding/binary"

// directoryMagic identifies a valid file-0 directory page.
const directoryMagic = 0x4352_494F

const (
	tableEntrySize   = 12
	directoryHeaderN = 20
)

// MaxTableEntries is the largest table count that fits the directory page's
// fixed header, per spec.md §3's invariant `table_count*12 + 20 <= PAGE_SIZE`.
const MaxTableEntries = (PageSize - directoryHeaderN) / tableEntrySize

// TableEntry catalogs one table's page range within the directory page.
type TableEntry struct {
	TableID     uint32
	FirstPageID uint32
	PageCount   uint32
}

// directoryPage is the decoded form of file 0's page 0: magic, version,
// total page count, the (reserved) free-page list head, and the table
// catalog.
type directoryPage struct {
	magic      uint32
	version    uint32
	pageCount  uint32
	freeHead   PageID
	tableCount uint32
	tables     []TableEntry
}

func (d *directoryPage) encode(buf *PageBuf) {
	binary.LittleEndian.PutUint32(buf[0:4], d.magic)
	binary.LittleEndian.PutUint32(buf[4:8], d.version)
	binary.LittleEndian.PutUint32(buf[8:12], d.pageCount)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(d.freeHead))
	binary.LittleEndian.PutUint32(buf[16:20], d.tableCount)

	off := directoryHeaderN
	for _, t := range d.tables {
		binary.LittleEndian.PutUint32(buf[off:off+4], t.TableID)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], t.FirstPageID)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], t.PageCount)
		off += tableEntrySize
	}
}

func decodeDirectoryPage(buf *PageBuf) (*directoryPage, error) {
	d := &directoryPage{
		magic:      binary.LittleEndian.Uint32(buf[0:4]),
		version:    binary.LittleEndian.Uint32(buf[4:8]),
		pageCount:  binary.LittleEndian.Uint32(buf[8:12]),
		freeHead:   PageID(binary.LittleEndian.Uint32(buf[12:16])),
		tableCount: binary.LittleEndian.Uint32(buf[16:20]),
	}
	if d.magic != directoryMagic {
		return nil, ErrInvalidDatabaseFile
	}
	if d.tableCount > MaxTableEntries {
		return nil, ErrDirectoryFull
	}
	d.tables = make([]TableEntry, d.tableCount)
	off := directoryHeaderN
	for i := range d.tables {
		d.tables[i] = TableEntry{
			TableID:     binary.LittleEndian.Uint32(buf[off : off+4]),
			FirstPageID: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			PageCount:   binary.LittleEndian.Uint32(buf[off+8 : off+12]),
		}
		off += tableEntrySize
	}
	return d, nil
}

// DirectoryPage is the caller-facing handle bound to a pinned write guard
// over page 0. It mutates the guard's underlying buffer directly so the
// caller's existing unpin/dirty-tracking flow applies unchanged.
type DirectoryPage struct {
	buf *PageBuf
}

// BindDirectoryPage wraps a pinned page buffer (expected to be page 0) as a
// DirectoryPage view.
func BindDirectoryPage(buf *PageBuf) *DirectoryPage {
	return &DirectoryPage{buf: buf}
}

func (dp *DirectoryPage) decode() (*directoryPage, error) {
	return decodeDirectoryPage(dp.buf)
}

// TableCount returns the number of registered tables.
func (dp *DirectoryPage) TableCount() (uint32, error) {
	d, err := dp.decode()
	if err != nil {
		return 0, err
	}
	return d.tableCount, nil
}

// Tables returns the current table catalog.
func (dp *DirectoryPage) Tables() ([]TableEntry, error) {
	d, err := dp.decode()
	if err != nil {
		return nil, err
	}
	return d.tables, nil
}

// RegisterTable appends a new TableEntry, failing with ErrTableAlreadyExists
// or ErrDirectoryFull.
func (dp *DirectoryPage) RegisterTable(entry TableEntry) error {
	d, err := dp.decode()
	if err != nil {
		return err
	}
	for _, t := range d.tables {
		if t.TableID == entry.TableID {
			return ErrTableAlreadyExists
		}
	}
	if uint32(len(d.tables)) >= MaxTableEntries {
		return ErrDirectoryFull
	}
	d.tables = append(d.tables, entry)
	d.tableCount = uint32(len(d.tables))
	d.encode(dp.buf)
	return nil
}

// UpdateTable overwrites the entry matching tableID's page_count/first_page,
// failing with ErrTableNotFound.
func (dp *DirectoryPage) UpdateTable(entry TableEntry) error {
	d, err := dp.decode()
	if err != nil {
		return err
	}
	for i, t := range d.tables {
		if t.TableID == entry.TableID {
			d.tables[i] = entry
			d.encode(dp.buf)
			return nil
		}
	}
	return ErrTableNotFound
}

// RemoveTable removes tableID by swapping in the last entry, keeping the
// array dense, failing with ErrTableNotFound.
func (dp *DirectoryPage) RemoveTable(tableID uint32) error {
	d, err := dp.decode()
	if err != nil {
		return err
	}
	idx := -1
	for i, t := range d.tables {
		if t.TableID == tableID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrTableNotFound
	}
	last := len(d.tables) - 1
	d.tables[idx] = d.tables[last]
	d.tables = d.tables[:last]
	d.tableCount = uint32(len(d.tables))
	d.encode(dp.buf)
	return nil
}
