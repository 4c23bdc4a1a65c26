package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtentAllocatorFillsBeforeMintingNew(t *testing.T) {
	a := newExtentAllocator()

	var offsets []uint32
	for i := 0; i < ExtentSize; i++ {
		offsets = append(offsets, a.allocateForTable(1))
	}
	for i, off := range offsets {
		require.Equal(t, uint32(i), off)
	}

	// The extent is now full; the next allocation must mint a new one.
	next := a.allocateForTable(1)
	require.Equal(t, uint32(ExtentSize), next)
}

func TestExtentAllocatorSeparatesTables(t *testing.T) {
	a := newExtentAllocator()

	off1 := a.allocateForTable(1)
	off2 := a.allocateForTable(2)

	require.Equal(t, uint32(0), off1)
	require.Equal(t, uint32(ExtentSize), off2, "a fresh table must get a disjoint extent")
}

func TestExtentBitmapAndCountInvariant(t *testing.T) {
	a := newExtentAllocator()
	a.allocateForTable(1)
	a.allocateForTable(1)

	ext := a.extents[0]
	require.Equal(t, 2, popcount(ext.bitmap))
	require.Equal(t, ext.count, uint8(popcount(ext.bitmap)))
	require.LessOrEqual(t, ext.count, uint8(ExtentSize))
}

func TestExtentDeallocateClearsBit(t *testing.T) {
	a := newExtentAllocator()
	off := a.allocateForTable(1)
	a.deallocate(off)

	ext := a.extents[0]
	require.Equal(t, uint8(0), ext.count)
}

func TestExtentRebuildFromExisting(t *testing.T) {
	a := newExtentAllocator()
	a.rebuildFromExisting(10) // 1 full extent (8) + 1 partial (2)

	require.Len(t, a.extents, 2)
	require.True(t, a.extents[0].isFull())
	require.Equal(t, uint8(2), a.extents[1].count)
}

func popcount(b uint8) int {
	n := 0
	for b != 0 {
		n += int(b & 1)
		b >>= 1
	}
	return n
}
