package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, poolSize, k int) (*BufferPool, *DiskManager) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "kernel")
	dm, err := OpenDiskManager(base, nil)
	require.NoError(t, err)
	bp := NewBufferPool(poolSize, k, dm, nil)
	t.Cleanup(func() {
		bp.Shutdown()
		dm.Close()
	})
	return bp, dm
}

func TestBufferPoolNewPageStartsUnpinned(t *testing.T) {
	bp, _ := newTestPool(t, 3, 2)

	id, err := bp.NewPage()
	require.NoError(t, err)

	guard, err := bp.FetchPageRead(id)
	require.NoError(t, err)
	require.Equal(t, id, guard.PageID())
	guard.Release()
}

func TestBufferPoolWriteGuardMarksDirty(t *testing.T) {
	bp, _ := newTestPool(t, 3, 2)

	id, err := bp.NewPage()
	require.NoError(t, err)

	guard, err := bp.FetchPageWrite(id)
	require.NoError(t, err)
	guard.DataMut()[0] = 9
	guard.Release()

	require.True(t, bp.frames[bp.pageTbl[id]].dirty())
}

func TestBufferPoolFlushAllClearsDirty(t *testing.T) {
	bp, _ := newTestPool(t, 3, 2)

	id, err := bp.NewPage()
	require.NoError(t, err)
	guard, err := bp.FetchPageWrite(id)
	require.NoError(t, err)
	guard.DataMut()[0] = 1
	guard.Release()

	require.NoError(t, bp.FlushAllPages())
	require.False(t, bp.frames[bp.pageTbl[id]].dirty())
}

func TestBufferPoolDeletePageRefusesWhenPinned(t *testing.T) {
	bp, _ := newTestPool(t, 3, 2)

	id, err := bp.NewPage()
	require.NoError(t, err)
	guard, err := bp.FetchPageRead(id)
	require.NoError(t, err)
	defer guard.Release()

	err = bp.DeletePage(id)
	require.ErrorIs(t, err, ErrPageStillPinned)
}

func TestBufferPoolEvictsWhenFull(t *testing.T) {
	bp, _ := newTestPool(t, 3, 2)

	var ids []PageID
	for i := 0; i < 3; i++ {
		id, err := bp.NewPage()
		require.NoError(t, err)
		g, err := bp.FetchPageRead(id)
		require.NoError(t, err)
		g.Release()
		ids = append(ids, id)
	}

	d, err := bp.NewPage()
	require.NoError(t, err)
	g, err := bp.FetchPageRead(d)
	require.NoError(t, err)
	g.Release()

	require.Len(t, bp.pageTbl, 3)
	require.Contains(t, bp.pageTbl, d)
}

func TestBufferPoolRoundTripAfterReopen(t *testing.T) {
	base := filepath.Join(t.TempDir(), "kernel")
	dm, err := OpenDiskManager(base, nil)
	require.NoError(t, err)
	bp := NewBufferPool(4, 2, dm, nil)

	id, err := bp.NewPage()
	require.NoError(t, err)
	g, err := bp.FetchPageWrite(id)
	require.NoError(t, err)
	g.DataMut()[0] = 42
	g.Release()
	require.NoError(t, bp.FlushAllPages())

	bp.Shutdown()
	require.NoError(t, dm.Close())

	dm2, err := OpenDiskManager(base, nil)
	require.NoError(t, err)
	defer dm2.Close()
	bp2 := NewBufferPool(4, 2, dm2, nil)
	defer bp2.Shutdown()

	g2, err := bp2.FetchPageRead(id)
	require.NoError(t, err)
	require.Equal(t, byte(42), g2.Data()[0])
	g2.Release()
	require.GreaterOrEqual(t, dm2.PageCount(), uint32(2))
}

func TestBufferPoolSequentialPrefetchIssuesSingleBulkRead(t *testing.T) {
	bp, dm := newTestPool(t, 16, 2)

	for offset := uint32(1); offset <= 3; offset++ {
		g, err := bp.FetchPageRead(NewPageID(0, offset))
		require.NoError(t, err)
		g.Release()
	}

	reads, _ := dm.Stats()
	require.Equal(t, uint64(4), reads, "three single-page misses plus one bulk prefetch read for the next 4 pages")

	g, err := bp.FetchPageRead(NewPageID(0, 4))
	require.NoError(t, err)
	g.Release()

	readsAfter, _ := dm.Stats()
	require.Equal(t, reads, readsAfter, "page 4 was already resident from the prefetch run")
}

func TestBufferPoolIdempotentFlush(t *testing.T) {
	bp, _ := newTestPool(t, 3, 2)

	id, err := bp.NewPage()
	require.NoError(t, err)
	g, err := bp.FetchPageWrite(id)
	require.NoError(t, err)
	g.DataMut()[0] = 5
	g.Release()

	require.NoError(t, bp.FlushAllPages())
	_, writesBefore := bp.dm.Stats()
	require.NoError(t, bp.FlushAllPages())
	_, writesAfter := bp.dm.Stats()
	require.Equal(t, writesBefore, writesAfter)
}
