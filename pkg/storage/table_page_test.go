package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTablePageLinksAndHeader(t *testing.T) {
	var buf PageBuf
	tp := InitTablePage(&buf, NewPageID(0, 5), 3)

	require.Equal(t, InvalidPageID, tp.NextPageID())
	require.Equal(t, InvalidPageID, tp.PrevPageID())
	require.Equal(t, uint32(3), tp.TableID())

	tp.SetNextPageID(NewPageID(0, 6))
	require.Equal(t, NewPageID(0, 6), tp.NextPageID())
}

func TestTablePageInsertGetDelete(t *testing.T) {
	var buf PageBuf
	tp := InitTablePage(&buf, NewPageID(0, 1), 1)

	slot, err := tp.InsertTuple([]byte("row-data"))
	require.NoError(t, err)

	got, err := tp.GetTuple(slot)
	require.NoError(t, err)
	require.Equal(t, "row-data", string(got))

	require.NoError(t, tp.DeleteTuple(slot))
	_, err = tp.GetTuple(slot)
	require.ErrorIs(t, err, ErrEmptySlot)
}

func TestTablePageFreeSpaceStartsAtByte36(t *testing.T) {
	var buf PageBuf
	tp := InitTablePage(&buf, NewPageID(0, 1), 1)

	require.Equal(t, uint32(tableHeaderSize), tp.FreeSpaceStart())
}

func TestTablePageCompactPreservesSlotIDs(t *testing.T) {
	var buf PageBuf
	tp := InitTablePage(&buf, NewPageID(0, 1), 1)

	s1, err := tp.InsertTuple([]byte("one"))
	require.NoError(t, err)
	s2, err := tp.InsertTuple([]byte("two"))
	require.NoError(t, err)
	require.NoError(t, tp.DeleteTuple(s1))

	tp.Compact()

	_, err = tp.GetTuple(s1)
	require.ErrorIs(t, err, ErrEmptySlot)
	got, err := tp.GetTuple(s2)
	require.NoError(t, err)
	require.Equal(t, "two", string(got))
}
