package storage

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// prefetchTrackLen (S) is how many recent fetches the pool watches for a
// sequential-access pattern.
const prefetchTrackLen = 3

// prefetchRunLen (L) is how many pages are bulk-read ahead once a
// sequential pattern is detected.
const prefetchRunLen = 4

// BufferPool owns a fixed number of frames, the page table, the free list,
// the LRU-K replacer, and an owned disk scheduler. Every access goes
// through fetch-and-pin; callers receive RAII-style guards that unpin and
// flag dirty on release.
type BufferPool struct {
	poolSize int
	frames   []*frame
	sched    *DiskScheduler
	dm       *DiskManager
	replacer *lruKReplacer

	tableMu sync.Mutex
	pageTbl map[PageID]FrameID

	freeMu sync.Mutex
	free   []FrameID

	trackMu sync.Mutex
	recent  []PageID

	log *zap.Logger
}

// NewBufferPool constructs a pool of poolSize frames over dm, with an
// LRU-K replacer of order k.
func NewBufferPool(poolSize, k int, dm *DiskManager, log *zap.Logger) *BufferPool {
	if log == nil {
		log = zap.NewNop()
	}
	bp := &BufferPool{
		poolSize: poolSize,
		frames:   make([]*frame, poolSize),
		sched:    NewDiskScheduler(dm, log),
		dm:       dm,
		replacer: newLRUKReplacer(k),
		pageTbl:  make(map[PageID]FrameID),
		free:     make([]FrameID, poolSize),
		log:      log,
	}
	for i := 0; i < poolSize; i++ {
		bp.frames[i] = newFrame(FrameID(i))
		bp.free[i] = FrameID(i)
	}
	return bp
}

// Shutdown stops the owned disk scheduler.
func (bp *BufferPool) Shutdown() {
	bp.sched.Shutdown()
}

// fetch implements spec.md §4.3.1: page-table hit increments pin and
// records an access; on miss it acquires a free frame, reads the page
// through the scheduler, binds it pinned, and runs the prefetch heuristic.
func (bp *BufferPool) fetch(id PageID) (FrameID, error) {
	bp.tableMu.Lock()
	if fid, ok := bp.pageTbl[id]; ok {
		f := bp.frames[fid]
		f.pin()
		bp.tableMu.Unlock()
		bp.replacer.recordAccess(fid)
		bp.replacer.setEvictable(fid, false)
		return fid, nil
	}
	bp.tableMu.Unlock()

	fid, err := bp.acquireFreeFrame()
	if err != nil {
		return 0, err
	}

	f := bp.frames[fid]
	f.rw.Lock()
	if err := bp.sched.ReadPage(id, &f.buf); err != nil {
		f.rw.Unlock()
		bp.returnFrameToFree(fid)
		return 0, err
	}
	f.pageID = id
	f.clearDirty()
	f.pin()
	f.rw.Unlock()

	bp.tableMu.Lock()
	bp.pageTbl[id] = fid
	bp.tableMu.Unlock()

	bp.replacer.recordAccess(fid)
	bp.replacer.setEvictable(fid, false)

	bp.trackAndPrefetch(id)
	return fid, nil
}

func (bp *BufferPool) trackAndPrefetch(id PageID) {
	bp.trackMu.Lock()
	bp.recent = append(bp.recent, id)
	if len(bp.recent) > prefetchTrackLen {
		bp.recent = bp.recent[len(bp.recent)-prefetchTrackLen:]
	}
	sequential := len(bp.recent) == prefetchTrackLen
	if sequential {
		for i := 1; i < len(bp.recent); i++ {
			if bp.recent[i] != bp.recent[i-1]+1 {
				sequential = false
				break
			}
		}
	}
	next := PageID(0)
	if sequential {
		next = bp.recent[len(bp.recent)-1] + 1
	}
	bp.trackMu.Unlock()

	if sequential {
		bp.prefetch(next, prefetchRunLen)
	}
}

// prefetch is best-effort sequential read-ahead: the n pages starting at
// start are fetched with a single bulk read (spec.md §4.3.4/§8's "Sequential
// I/O economy" law — one scheduler call regardless of n), then each page
// not already resident is bound into a free frame from the shared buffer.
// Any failure is swallowed.
func (bp *BufferPool) prefetch(start PageID, n int) {
	buf := make([]byte, n*PageSize)
	if err := bp.sched.ReadPages(start, n, buf); err != nil {
		bp.log.Debug("prefetch bulk read failed", zap.Stringer("page", start), zap.Int("n", n), zap.Error(err))
		return
	}

	for i := 0; i < n; i++ {
		id := start + PageID(i)

		bp.tableMu.Lock()
		_, already := bp.pageTbl[id]
		bp.tableMu.Unlock()
		if already {
			continue
		}

		fid, err := bp.acquireFreeFrame()
		if err != nil {
			bp.log.Debug("prefetch stopped: no free frame", zap.Stringer("page", id))
			return
		}
		f := bp.frames[fid]
		f.rw.Lock()
		copy(f.buf[:], buf[i*PageSize:(i+1)*PageSize])
		f.pageID = id
		f.clearDirty()
		f.rw.Unlock()

		bp.tableMu.Lock()
		bp.pageTbl[id] = fid
		bp.tableMu.Unlock()

		bp.replacer.recordAccess(fid)
		bp.replacer.setEvictable(fid, true)
	}
}

// acquireFreeFrame implements spec.md §4.3.3: pop the free list first,
// otherwise evict a replacer victim (flushing it first if dirty).
func (bp *BufferPool) acquireFreeFrame() (FrameID, error) {
	bp.freeMu.Lock()
	if len(bp.free) > 0 {
		fid := bp.free[len(bp.free)-1]
		bp.free = bp.free[:len(bp.free)-1]
		bp.freeMu.Unlock()
		return fid, nil
	}
	bp.freeMu.Unlock()

	fid, ok := bp.replacer.evict()
	if !ok {
		return 0, ErrBufferPoolFull
	}

	f := bp.frames[fid]
	f.rw.Lock()
	if f.dirty() {
		if err := bp.sched.WritePage(f.pageID, &f.buf); err != nil {
			f.rw.Unlock()
			return 0, err
		}
		f.clearDirty()
	}
	oldID := f.pageID
	f.reset()
	f.rw.Unlock()

	bp.tableMu.Lock()
	delete(bp.pageTbl, oldID)
	bp.tableMu.Unlock()
	bp.replacer.remove(fid)

	return fid, nil
}

func (bp *BufferPool) returnFrameToFree(fid FrameID) {
	bp.frames[fid].reset()
	bp.replacer.remove(fid)
	bp.freeMu.Lock()
	bp.free = append(bp.free, fid)
	bp.freeMu.Unlock()
}

// unpin is invoked by guards on release.
func (bp *BufferPool) unpin(fid FrameID, wasWritten bool) {
	f := bp.frames[fid]
	if wasWritten {
		f.markDirty()
	}
	if f.unpin() {
		bp.replacer.setEvictable(fid, true)
	}
}

// FetchPageRead returns a read guard for id, blocking on disk I/O on miss.
func (bp *BufferPool) FetchPageRead(id PageID) (*ReadPageGuard, error) {
	fid, err := bp.fetch(id)
	if err != nil {
		return nil, err
	}
	f := bp.frames[fid]
	f.rw.RLock()
	return &ReadPageGuard{pool: bp, frame: f, fid: fid}, nil
}

// FetchPageWrite returns a write guard for id, blocking on disk I/O on miss.
func (bp *BufferPool) FetchPageWrite(id PageID) (*WritePageGuard, error) {
	fid, err := bp.fetch(id)
	if err != nil {
		return nil, err
	}
	f := bp.frames[fid]
	f.rw.Lock()
	return &WritePageGuard{pool: bp, frame: f, fid: fid}, nil
}

// newPageOnFrame binds a freshly allocated, zeroed page id to a free frame,
// leaving it evictable with pin count 0 per spec.md §4.3.2.
func (bp *BufferPool) newPageOnFrame(id PageID) (FrameID, error) {
	fid, err := bp.acquireFreeFrame()
	if err != nil {
		return 0, err
	}
	f := bp.frames[fid]
	f.rw.Lock()
	f.rebind(id)
	f.rw.Unlock()

	bp.tableMu.Lock()
	bp.pageTbl[id] = fid
	bp.tableMu.Unlock()

	bp.replacer.recordAccess(fid)
	bp.replacer.setEvictable(fid, true)
	return fid, nil
}

// NewPage allocates a page outside any table (kernel-level API) and binds
// it to a free frame. Acquire a guard to pin it before use.
func (bp *BufferPool) NewPage() (PageID, error) {
	id, err := bp.dm.AllocatePageForTable(0)
	if err != nil {
		return InvalidPageID, err
	}
	if _, err := bp.newPageOnFrame(id); err != nil {
		return InvalidPageID, err
	}
	return id, nil
}

// NewPageForTable allocates a page via the table-aware path for tableID.
func (bp *BufferPool) NewPageForTable(tableID uint32) (PageID, error) {
	id, err := bp.dm.AllocatePageForTable(tableID)
	if err != nil {
		return InvalidPageID, err
	}
	if _, err := bp.newPageOnFrame(id); err != nil {
		return InvalidPageID, err
	}
	return id, nil
}

// DeletePage refuses with ErrPageStillPinned if the frame is pinned;
// otherwise it resets the frame, removes the replacer/page-table entries,
// returns it to the free list, and deallocates on disk.
func (bp *BufferPool) DeletePage(id PageID) error {
	bp.tableMu.Lock()
	fid, ok := bp.pageTbl[id]
	if !ok {
		bp.tableMu.Unlock()
		bp.dm.DeallocatePage(id)
		return nil
	}
	bp.tableMu.Unlock()

	f := bp.frames[fid]
	if f.pinCount() > 0 {
		return ErrPageStillPinned
	}

	bp.tableMu.Lock()
	delete(bp.pageTbl, id)
	bp.tableMu.Unlock()
	bp.replacer.remove(fid)

	f.rw.Lock()
	f.reset()
	f.rw.Unlock()

	bp.freeMu.Lock()
	bp.free = append(bp.free, fid)
	bp.freeMu.Unlock()

	bp.dm.DeallocatePage(id)
	return nil
}

// FlushPage writes a single page if resident, clearing its dirty flag.
func (bp *BufferPool) FlushPage(id PageID) error {
	bp.tableMu.Lock()
	fid, ok := bp.pageTbl[id]
	bp.tableMu.Unlock()
	if !ok {
		return nil
	}

	f := bp.frames[fid]
	f.rw.RLock()
	defer f.rw.RUnlock()
	if !f.dirty() {
		return nil
	}
	if err := bp.sched.WritePage(id, &f.buf); err != nil {
		return err
	}
	f.clearDirty()
	return nil
}

// FlushAllPages collects all dirty resident pages, sorts by page id, and
// coalesces maximal consecutive runs into single bulk writes per
// spec.md §4.3.5.
func (bp *BufferPool) FlushAllPages() error {
	bp.tableMu.Lock()
	dirtyIDs := make([]PageID, 0, len(bp.pageTbl))
	idToFrame := make(map[PageID]FrameID, len(bp.pageTbl))
	for id, fid := range bp.pageTbl {
		if bp.frames[fid].dirty() {
			dirtyIDs = append(dirtyIDs, id)
			idToFrame[id] = fid
		}
	}
	bp.tableMu.Unlock()

	sort.Slice(dirtyIDs, func(i, j int) bool { return dirtyIDs[i] < dirtyIDs[j] })

	i := 0
	for i < len(dirtyIDs) {
		j := i + 1
		for j < len(dirtyIDs) &&
			dirtyIDs[j].FileID() == dirtyIDs[i].FileID() &&
			dirtyIDs[j].Offset() == dirtyIDs[j-1].Offset()+1 {
			j++
		}
		if err := bp.flushRun(dirtyIDs[i:j], idToFrame); err != nil {
			return err
		}
		i = j
	}
	return nil
}

func (bp *BufferPool) flushRun(run []PageID, idToFrame map[PageID]FrameID) error {
	if len(run) == 1 {
		fid := idToFrame[run[0]]
		f := bp.frames[fid]
		f.rw.RLock()
		err := bp.sched.WritePage(run[0], &f.buf)
		f.rw.RUnlock()
		if err != nil {
			return err
		}
		f.clearDirty()
		return nil
	}

	buf := make([]byte, len(run)*PageSize)
	locked := make([]*frame, len(run))
	for i, id := range run {
		f := bp.frames[idToFrame[id]]
		f.rw.RLock()
		locked[i] = f
		copy(buf[i*PageSize:(i+1)*PageSize], f.buf[:])
	}
	err := bp.sched.WritePages(run[0], len(run), buf)
	for _, f := range locked {
		f.rw.RUnlock()
	}
	if err != nil {
		return err
	}
	for _, f := range locked {
		f.clearDirty()
	}
	return nil
}

// PoolSize returns the configured frame count.
func (bp *BufferPool) PoolSize() int {
	return bp.poolSize
}
