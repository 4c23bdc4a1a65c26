package storage

import (
	"sync"
	"sync/atomic"
)

// frame is a buffer pool cache slot: an immutable frame id, the page
// currently bound to it, a pin count, a dirty flag, and the page-sized
// buffer itself. The page id and buffer are protected by a reader-writer
// lock; pin count and dirty flag are atomic so readers of either never
// block on the rw-lock.
type frame struct {
	id FrameID

	rw      sync.RWMutex
	pageID  PageID
	buf     PageBuf
	pinCnt  int32
	isDirty atomic.Bool
}

func newFrame(id FrameID) *frame {
	f := &frame{id: id, pageID: InvalidPageID}
	return f
}

func (f *frame) pin() {
	atomic.AddInt32(&f.pinCnt, 1)
}

// unpin decrements the pin count and reports whether it reached zero.
func (f *frame) unpin() bool {
	return atomic.AddInt32(&f.pinCnt, -1) == 0
}

func (f *frame) pinCount() int32 {
	return atomic.LoadInt32(&f.pinCnt)
}

func (f *frame) markDirty() {
	f.isDirty.Store(true)
}

func (f *frame) clearDirty() {
	f.isDirty.Store(false)
}

func (f *frame) dirty() bool {
	return f.isDirty.Load()
}

// rebind resets the frame to hold a new page with a zeroed buffer,
// clearing dirty and pin state. Caller must hold f.rw for writing.
func (f *frame) rebind(id PageID) {
	f.pageID = id
	f.buf = PageBuf{}
	atomic.StoreInt32(&f.pinCnt, 0)
	f.clearDirty()
}

// reset clears the frame back to its unbound state. Caller must hold f.rw
// for writing.
func (f *frame) reset() {
	f.pageID = InvalidPageID
	f.buf = PageBuf{}
	atomic.StoreInt32(&f.pinCnt, 0)
	f.clearDirty()
}
