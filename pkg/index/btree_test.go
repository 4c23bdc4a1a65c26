package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stonebolt/stonebolt/pkg/storage"
)

func newTestTree(t *testing.T, poolSize, k int) (*BTree, *storage.BufferPool) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "kernel")
	dm, err := storage.OpenDiskManager(base, nil)
	require.NoError(t, err)
	bp := storage.NewBufferPool(poolSize, k, dm, nil)
	t.Cleanup(func() {
		bp.Shutdown()
		dm.Close()
	})
	tree, err := NewBTree(bp, nil)
	require.NoError(t, err)
	return tree, bp
}

func TestBTreeSearchMissingKey(t *testing.T) {
	tree, _ := newTestTree(t, 16, 2)

	_, err := tree.Search(42)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestBTreeInsertAndSearch(t *testing.T) {
	tree, _ := newTestTree(t, 16, 2)

	rid := storage.RecordID{PageID: storage.NewPageID(0, 5), SlotID: 3}
	require.NoError(t, tree.Insert(7, rid))

	got, err := tree.Search(7)
	require.NoError(t, err)
	require.Equal(t, rid, got)
}

func TestBTreeInsertDuplicateKeyRejected(t *testing.T) {
	tree, _ := newTestTree(t, 16, 2)

	rid := storage.RecordID{PageID: storage.NewPageID(0, 1), SlotID: 0}
	require.NoError(t, tree.Insert(1, rid))
	err := tree.Insert(1, rid)
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestBTreeRangeScanOrdered(t *testing.T) {
	tree, _ := newTestTree(t, 16, 2)

	keys := []uint32{50, 10, 30, 20, 40}
	for _, k := range keys {
		rid := storage.RecordID{PageID: storage.NewPageID(0, k), SlotID: 0}
		require.NoError(t, tree.Insert(k, rid))
	}

	got, err := tree.RangeScan(15, 45)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, storage.NewPageID(0, 20), got[0].PageID)
	require.Equal(t, storage.NewPageID(0, 30), got[1].PageID)
	require.Equal(t, storage.NewPageID(0, 40), got[2].PageID)
}

func TestBTreeSplitsBeyondOrder(t *testing.T) {
	tree, _ := newTestTree(t, 64, 2)

	for i := uint32(0); i < uint32(order)+5; i++ {
		rid := storage.RecordID{PageID: storage.NewPageID(0, i), SlotID: 0}
		require.NoError(t, tree.Insert(i, rid))
	}

	for i := uint32(0); i < uint32(order)+5; i++ {
		got, err := tree.Search(i)
		require.NoError(t, err)
		require.Equal(t, storage.NewPageID(0, i), got.PageID)
	}

	root := tree.RootPageID()
	require.NotEqual(t, storage.InvalidPageID, root)
}

func TestBTreeInsert0To500RandomOrderScenario(t *testing.T) {
	tree, _ := newTestTree(t, 100, 2)

	ascending := make([]uint32, 501)
	for i := range ascending {
		ascending[i] = uint32(i)
	}
	// Deterministic pseudo-shuffle: a fixed-stride permutation touches every
	// key out of ascending order without reaching for math/rand.
	perm := make([]uint32, 0, len(ascending))
	const stride = 97
	seen := make([]bool, len(ascending))
	idx := 0
	for count := 0; count < len(ascending); count++ {
		for seen[idx] {
			idx = (idx + 1) % len(ascending)
		}
		perm = append(perm, ascending[idx])
		seen[idx] = true
		idx = (idx + stride) % len(ascending)
	}

	for _, key := range perm {
		rid := storage.RecordID{PageID: storage.NewPageID(0, key), SlotID: 0}
		require.NoError(t, tree.Insert(key, rid))
	}

	for i := uint32(0); i <= 500; i++ {
		got, err := tree.Search(i)
		require.NoError(t, err)
		require.Equal(t, storage.NewPageID(0, i), got.PageID)
		require.Equal(t, storage.SlotID(0), got.SlotID)
	}

	scanned, err := tree.RangeScan(200, 500)
	require.NoError(t, err)
	require.Len(t, scanned, 301)
	for i, rid := range scanned {
		require.Equal(t, storage.NewPageID(0, uint32(200+i)), rid.PageID)
	}
}
