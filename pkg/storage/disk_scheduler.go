package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// schedulerQueueDepth bounds the disk scheduler's request queue.
const schedulerQueueDepth = 128

// workerPollInterval bounds how long the worker blocks on an empty queue
// before re-checking the shutdown flag.
const workerPollInterval = 50 * time.Millisecond

type ioDirection int

const (
	ioRead ioDirection = iota
	ioWrite
)

// diskRequest is one unit of scheduled I/O: a direction, a starting page id,
// a page count (1 for single-page, >1 for bulk), a caller-owned buffer sized
// to hold count pages, and a one-shot completion channel.
type diskRequest struct {
	dir   ioDirection
	start PageID
	count int
	buf   []byte
	done  chan error
}

// DiskScheduler serialises every disk access behind a single background
// worker draining a bounded queue, matching spec.md §4.2's single-writer
// discipline.
type DiskScheduler struct {
	dm    *DiskManager
	queue chan *diskRequest

	shutdown atomic.Bool
	wg       sync.WaitGroup

	log *zap.Logger
}

// NewDiskScheduler starts the background worker over dm.
func NewDiskScheduler(dm *DiskManager, log *zap.Logger) *DiskScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &DiskScheduler{
		dm:    dm,
		queue: make(chan *diskRequest, schedulerQueueDepth),
		log:   log,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *DiskScheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(workerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case req, ok := <-s.queue:
			if !ok {
				return
			}
			s.execute(req)
		case <-ticker.C:
			if s.shutdown.Load() {
				s.drain()
				return
			}
		}
	}
}

func (s *DiskScheduler) drain() {
	for {
		select {
		case req, ok := <-s.queue:
			if !ok {
				return
			}
			s.execute(req)
		default:
			return
		}
	}
}

func (s *DiskScheduler) execute(req *diskRequest) {
	var err error
	switch {
	case req.count == 1 && req.dir == ioRead:
		var buf PageBuf
		err = s.dm.ReadPage(req.start, &buf)
		copy(req.buf, buf[:])
	case req.count == 1 && req.dir == ioWrite:
		var buf PageBuf
		copy(buf[:], req.buf)
		err = s.dm.WritePage(req.start, &buf)
	case req.dir == ioRead:
		err = s.dm.ReadPages(req.start, req.count, req.buf)
	default:
		err = s.dm.WritePages(req.start, req.count, req.buf)
	}
	if err != nil {
		s.log.Warn("scheduled io failed", zap.Stringer("page", req.start), zap.Int("count", req.count), zap.Error(err))
	}
	req.done <- err
}

// submit enqueues a request and blocks on its completion signal: the
// synchronous façade spec.md §4.2 describes.
func (s *DiskScheduler) submit(req *diskRequest) error {
	if s.shutdown.Load() {
		return &DiskSchedulerError{Msg: "scheduler shut down"}
	}
	req.done = make(chan error, 1)
	s.queue <- req
	return <-req.done
}

// ReadPage synchronously reads a single page through the scheduler.
func (s *DiskScheduler) ReadPage(id PageID, buf *PageBuf) error {
	req := &diskRequest{dir: ioRead, start: id, count: 1, buf: buf[:]}
	return s.submit(req)
}

// WritePage synchronously writes a single page through the scheduler.
func (s *DiskScheduler) WritePage(id PageID, buf *PageBuf) error {
	req := &diskRequest{dir: ioWrite, start: id, count: 1, buf: buf[:]}
	return s.submit(req)
}

// ReadPages synchronously bulk-reads n consecutive pages through the
// scheduler.
func (s *DiskScheduler) ReadPages(start PageID, n int, buf []byte) error {
	req := &diskRequest{dir: ioRead, start: start, count: n, buf: buf}
	return s.submit(req)
}

// WritePages synchronously bulk-writes n consecutive pages through the
// scheduler.
func (s *DiskScheduler) WritePages(start PageID, n int, buf []byte) error {
	req := &diskRequest{dir: ioWrite, start: start, count: n, buf: buf}
	return s.submit(req)
}

// Shutdown sets the shutdown flag, drains any queued requests, and joins
// the worker.
func (s *DiskScheduler) Shutdown() {
	s.shutdown.Store(true)
	s.wg.Wait()
}
