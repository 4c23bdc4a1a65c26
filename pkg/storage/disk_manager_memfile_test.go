package storage

import (
	"testing"

	"github.com/dsnet/golib/memfile"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newMemfileDiskManager wires a DiskManager's file-0 backend to an
// in-memory github.com/dsnet/golib/memfile.File instead of a real segment
// file, for fast table-driven coverage of boundary arithmetic without
// touching the filesystem.
func newMemfileDiskManager() *DiskManager {
	return &DiskManager{
		basePath: "memfile://test",
		files:    []segmentBackend{memfile.New(nil)},
		pageCnt:  []uint32{0},
		extents:  newExtentAllocator(),
		log:      zap.NewNop(),
	}
}

func TestMemfileDiskManagerWriteReadRoundTrip(t *testing.T) {
	dm := newMemfileDiskManager()

	id := NewPageID(0, 3)
	var buf PageBuf
	buf[0] = 7
	require.NoError(t, dm.WritePage(id, &buf))

	var got PageBuf
	require.NoError(t, dm.ReadPage(id, &got))
	require.Equal(t, byte(7), got[0])
}

func TestMemfileDiskManagerReadPastEOFZeroFills(t *testing.T) {
	dm := newMemfileDiskManager()

	var buf PageBuf
	require.NoError(t, dm.ReadPage(NewPageID(0, 100), &buf))
	for _, b := range buf {
		require.Zero(t, b)
	}
}

// TestWithinFileBoundsArithmetic covers the 24-bit offset overflow check
// directly: exercising it through WritePages at these offsets would demand
// multi-gigabyte in-memory writes from the memfile backend for no benefit.
func TestWithinFileBoundsArithmetic(t *testing.T) {
	cases := []struct {
		name   string
		offset uint32
		n      int
		want   bool
	}{
		{"well within range", 0, 4, true},
		{"exactly at boundary", MaxPageOffset - 3, 4, true},
		{"one past boundary", MaxPageOffset - 2, 4, false},
		{"single page at last offset", MaxPageOffset, 1, true},
		{"single page past last offset", MaxPageOffset + 1, 1, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, withinFileBounds(tc.offset, tc.n))
		})
	}
}

func TestMemfileDiskManagerWritePagesRejectsOverflow(t *testing.T) {
	dm := newMemfileDiskManager()

	buf := make([]byte, 4*PageSize)
	err := dm.WritePages(NewPageID(0, MaxPageOffset-2), 4, buf)
	require.Error(t, err)
	var schedErr *DiskSchedulerError
	require.ErrorAs(t, err, &schedErr)
}

func TestMemfileDiskManagerBulkRoundTrip(t *testing.T) {
	dm := newMemfileDiskManager()

	start := NewPageID(0, 5)
	buf := make([]byte, 4*PageSize)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	require.NoError(t, dm.WritePages(start, 4, buf))

	got := make([]byte, 4*PageSize)
	require.NoError(t, dm.ReadPages(start, 4, got))
	require.Equal(t, buf, got)
}
