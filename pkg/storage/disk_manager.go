package storage

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
)

// MaxSegmentFiles is the largest number of segment files a disk manager will
// open, matching PageID's 8-bit file_id range.
const MaxSegmentFiles = MaxFileID + 1

// segmentBackend is the minimal interface a segment file must satisfy.
// *os.File is the production backend; tests may swap in an in-memory
// implementation (github.com/dsnet/golib/memfile) to exercise boundary
// arithmetic without touching the filesystem.
type segmentBackend interface {
	io.ReaderAt
	io.WriterAt
}

type syncableBackend interface {
	Sync() error
}

type closableBackend interface {
	Close() error
}

func syncBackend(b segmentBackend) error {
	if s, ok := b.(syncableBackend); ok {
		return s.Sync()
	}
	return nil
}

func closeBackend(b segmentBackend) error {
	if c, ok := b.(closableBackend); ok {
		return c.Close()
	}
	return nil
}

// DiskManager owns the segment file family `<base>.<n>` backing one
// database, the directory page's validated invariants, and the extent
// allocator for table-aware allocation.
type DiskManager struct {
	mu sync.Mutex

	basePath string
	files    []segmentBackend // files[i] is <base>.<i>, nil until opened
	pageCnt  []uint32         // pageCnt[i] is the logical page count of files[i]

	extents *extentAllocator

	reads  uint64
	writes uint64

	log *zap.Logger
}

// OpenDiskManager opens (creating if necessary) the segment file family at
// basePath, validates or initialises the directory page, and reconstructs
// the extent allocator from file 0's logical page count.
func OpenDiskManager(basePath string, log *zap.Logger) (*DiskManager, error) {
	if log == nil {
		log = zap.NewNop()
	}

	dm := &DiskManager{
		basePath: basePath,
		files:    make([]segmentBackend, 1, 4),
		pageCnt:  make([]uint32, 1, 4),
		extents:  newExtentAllocator(),
		log:      log,
	}

	f0, pages0, err := openSegment(basePath, 0)
	if err != nil {
		return nil, fmt.Errorf("open segment 0: %w", err)
	}
	dm.files[0] = f0
	dm.pageCnt[0] = pages0

	if pages0 == 0 {
		if err := dm.initDirectoryPage(); err != nil {
			f0.Close()
			return nil, err
		}
		dm.pageCnt[0] = 1
	} else {
		if err := dm.validateDirectoryPage(); err != nil {
			f0.Close()
			return nil, err
		}
	}

	dm.extents.rebuildFromExisting(dm.pageCnt[0])

	dm.log.Debug("disk manager opened", zap.String("base", basePath), zap.Uint32("pages", dm.pageCnt[0]))
	return dm, nil
}

// withinFileBounds reports whether a run of n pages starting at offset stays
// inside the 24-bit per-file offset space.
func withinFileBounds(offset uint32, n int) bool {
	return uint64(offset)+uint64(n) <= MaxPageOffset+1
}

func segmentPath(base string, n int) string {
	return fmt.Sprintf("%s.%d", base, n)
}

func openSegment(base string, n int) (*os.File, uint32, error) {
	f, err := os.OpenFile(segmentPath(base, n), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, uint32(info.Size() / PageSize), nil
}

func (dm *DiskManager) initDirectoryPage() error {
	var buf PageBuf
	dir := directoryPage{
		magic:      directoryMagic,
		version:    1,
		pageCount:  1,
		freeHead:   InvalidPageID,
		tableCount: 0,
	}
	dir.encode(&buf)
	if _, err := dm.files[0].WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("init directory page: %w", err)
	}
	return syncBackend(dm.files[0])
}

func (dm *DiskManager) validateDirectoryPage() error {
	var buf PageBuf
	if _, err := dm.files[0].ReadAt(buf[:], 0); err != nil && err != io.EOF {
		return fmt.Errorf("read directory page: %w", err)
	}
	dir, err := decodeDirectoryPage(&buf)
	if err != nil {
		return err
	}
	_ = dir
	return nil
}

// segmentFile returns (opening lazily if needed) the file at index fileID.
func (dm *DiskManager) segmentFile(fileID uint8) (segmentBackend, error) {
	idx := int(fileID)
	for len(dm.files) <= idx {
		dm.files = append(dm.files, nil)
		dm.pageCnt = append(dm.pageCnt, 0)
	}
	if dm.files[idx] == nil {
		if idx >= MaxSegmentFiles {
			return nil, ErrTooManyFiles
		}
		f, pages, err := openSegment(dm.basePath, idx)
		if err != nil {
			return nil, fmt.Errorf("open segment %d: %w", idx, err)
		}
		dm.files[idx] = f
		dm.pageCnt[idx] = pages
	}
	return dm.files[idx], nil
}

// ReadPage performs a single seek + single I/O read of one page, zero-filling
// past EOF.
func (dm *DiskManager) ReadPage(id PageID, buf *PageBuf) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	f, err := dm.segmentFile(id.FileID())
	if err != nil {
		return err
	}
	dm.reads++

	off := int64(id.Offset()) * PageSize
	n, err := f.ReadAt(buf[:], off)
	if err != nil && err != io.EOF {
		dm.log.Error("read page failed", zap.Stringer("page", id), zap.Error(err))
		return fmt.Errorf("read page %s: %w", id, err)
	}
	for i := n; i < PageSize; i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage performs a single seek + single I/O write of one page, followed
// by an fsync.
func (dm *DiskManager) WritePage(id PageID, buf *PageBuf) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.writePageLocked(id, buf)
}

func (dm *DiskManager) writePageLocked(id PageID, buf *PageBuf) error {
	f, err := dm.segmentFile(id.FileID())
	if err != nil {
		return err
	}
	dm.writes++

	off := int64(id.Offset()) * PageSize
	if _, err := f.WriteAt(buf[:], off); err != nil {
		dm.log.Error("write page failed", zap.Stringer("page", id), zap.Error(err))
		return fmt.Errorf("write page %s: %w", id, err)
	}
	if err := syncBackend(f); err != nil {
		return fmt.Errorf("fsync %s: %w", id, err)
	}
	dm.bumpPageCount(id)
	return nil
}

func (dm *DiskManager) bumpPageCount(id PageID) {
	idx := int(id.FileID())
	if uint32(idx) >= uint32(len(dm.pageCnt)) {
		return
	}
	if id.Offset()+1 > dm.pageCnt[idx] {
		dm.pageCnt[idx] = id.Offset() + 1
	}
}

// ReadPages performs a single seek + single I/O read of n consecutive pages
// starting at start, all within the same segment file.
func (dm *DiskManager) ReadPages(start PageID, n int, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if !withinFileBounds(start.Offset(), n) {
		return &DiskSchedulerError{Msg: "file boundary"}
	}
	f, err := dm.segmentFile(start.FileID())
	if err != nil {
		return err
	}
	dm.reads++

	off := int64(start.Offset()) * PageSize
	read, err := f.ReadAt(buf[:n*PageSize], off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read pages at %s: %w", start, err)
	}
	for i := read; i < n*PageSize; i++ {
		buf[i] = 0
	}
	return nil
}

// WritePages performs a single seek + single I/O write of n consecutive
// pages starting at start, all within the same segment file.
func (dm *DiskManager) WritePages(start PageID, n int, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if !withinFileBounds(start.Offset(), n) {
		return &DiskSchedulerError{Msg: "file boundary"}
	}
	f, err := dm.segmentFile(start.FileID())
	if err != nil {
		return err
	}
	dm.writes++

	off := int64(start.Offset()) * PageSize
	if _, err := f.WriteAt(buf[:n*PageSize], off); err != nil {
		return fmt.Errorf("write pages at %s: %w", start, err)
	}
	if err := syncBackend(f); err != nil {
		return fmt.Errorf("fsync pages at %s: %w", start, err)
	}
	dm.bumpPageCount(NewPageID(start.FileID(), start.Offset()+uint32(n)-1))
	return nil
}

// AllocatePageForTable returns a freshly zeroed page inside tableID's
// current open extent, minting a new extent if needed.
func (dm *DiskManager) AllocatePageForTable(tableID uint32) (PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset := dm.extents.allocateForTable(tableID)
	id := NewPageID(0, offset)

	var zero PageBuf
	if err := dm.writePageLocked(id, &zero); err != nil {
		return InvalidPageID, err
	}
	return id, nil
}

// AllocateExtentForTable opens a new extent for tableID and zeros it with a
// single bulk write.
func (dm *DiskManager) AllocateExtentForTable(tableID uint32) ([ExtentSize]PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var ids [ExtentSize]PageID
	idx := dm.extents.nextFreeExtentIndex()
	ext := newExtent(idx)
	ext.ownerOK = true
	ext.owner = tableID
	for i := uint8(0); i < ExtentSize; i++ {
		off, _ := ext.allocateSlot()
		ids[i] = NewPageID(0, off)
	}
	dm.extents.extents[idx] = ext
	dm.extents.tableOrder[tableID] = append(dm.extents.tableOrder[tableID], idx)

	buf := make([]byte, ExtentSize*PageSize)
	f, err := dm.segmentFile(0)
	if err != nil {
		return ids, err
	}
	dm.writes++
	off := int64(ids[0].Offset()) * PageSize
	if _, err := f.WriteAt(buf, off); err != nil {
		return ids, fmt.Errorf("allocate extent: %w", err)
	}
	if err := syncBackend(f); err != nil {
		return ids, fmt.Errorf("fsync extent: %w", err)
	}
	dm.bumpPageCount(ids[ExtentSize-1])
	return ids, nil
}

// DeallocatePage clears the bit in the owning extent's bitmap. Per spec,
// deallocation outside file 0 is silently ignored.
func (dm *DiskManager) DeallocatePage(id PageID) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if id.FileID() != 0 {
		// TODO: multi-file deallocation is an open question (spec.md §9);
		// silently ignored here rather than extending the allocator.
		return
	}
	dm.extents.deallocate(id.Offset())
}

// Sync fsyncs every open segment file.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for _, f := range dm.files {
		if f == nil {
			continue
		}
		if err := syncBackend(f); err != nil {
			return fmt.Errorf("sync: %w", err)
		}
	}
	return nil
}

// Close closes every open segment file.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var first error
	for _, f := range dm.files {
		if f == nil {
			continue
		}
		if err := closeBackend(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stats reports per-call (not per-page) I/O counters.
func (dm *DiskManager) Stats() (reads, writes uint64) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.reads, dm.writes
}

// PageCount returns file 0's current logical page count.
func (dm *DiskManager) PageCount() uint32 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.pageCnt[0]
}

// SegmentPaths returns the on-disk path of every segment file opened so
// far, in file-id order, for operator tooling (backup/restore) that needs
// to walk the raw files outside of the page interface.
func (dm *DiskManager) SegmentPaths() []string {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	var paths []string
	for i, f := range dm.files {
		if f == nil {
			continue
		}
		paths = append(paths, segmentPath(dm.basePath, i))
	}
	return paths
}
