package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlottedPageInsertAndGet(t *testing.T) {
	var buf PageBuf
	sp := InitSlottedPage(&buf, 0)

	slot, err := sp.InsertTuple([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, SlotID(0), slot)

	got, err := sp.GetTuple(slot)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestSlottedPageDeleteThenCompact(t *testing.T) {
	var buf PageBuf
	sp := InitSlottedPage(&buf, 0)

	words := []string{"First", "Second", "Third", "Fourth", "Fifth"}
	var slots []SlotID
	for _, w := range words {
		s, err := sp.InsertTuple([]byte(w))
		require.NoError(t, err)
		slots = append(slots, s)
	}

	require.NoError(t, sp.DeleteTuple(slots[1]))

	_, err := sp.GetTuple(slots[1])
	require.ErrorIs(t, err, ErrEmptySlot)

	freeBefore := sp.FreeSpace()
	sp.Compact()
	freeAfter := sp.FreeSpace()
	require.Greater(t, freeAfter, freeBefore)

	got0, err := sp.GetTuple(slots[0])
	require.NoError(t, err)
	require.Equal(t, "First", string(got0))

	got2, err := sp.GetTuple(slots[2])
	require.NoError(t, err)
	require.Equal(t, "Third", string(got2))

	_, err = sp.GetTuple(slots[1])
	require.ErrorIs(t, err, ErrEmptySlot)
}

func TestSlottedPageReusesDeletedSlot(t *testing.T) {
	var buf PageBuf
	sp := InitSlottedPage(&buf, 0)

	s1, err := sp.InsertTuple([]byte("aaaa"))
	require.NoError(t, err)
	s2, err := sp.InsertTuple([]byte("bb"))
	require.NoError(t, err)

	require.NoError(t, sp.DeleteTuple(s1))
	numSlotsBefore := sp.NumSlots()

	s3, err := sp.InsertTuple([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, s1, s3, "a deleted slot should be reused rather than growing the slot array")
	require.Equal(t, numSlotsBefore, sp.NumSlots())

	_, err = sp.GetTuple(s2)
	require.NoError(t, err)
}

func TestSlottedPageUpdateMustNotGrow(t *testing.T) {
	var buf PageBuf
	sp := InitSlottedPage(&buf, 0)

	slot, err := sp.InsertTuple([]byte("abc"))
	require.NoError(t, err)

	require.NoError(t, sp.UpdateTuple(slot, []byte("ab")))
	got, err := sp.GetTuple(slot)
	require.NoError(t, err)
	require.Equal(t, "ab", string(got))

	err = sp.UpdateTuple(slot, []byte("abcdef"))
	var overflow *PageOverflowError
	require.ErrorAs(t, err, &overflow)
}

func TestSlottedPageGetInvalidSlot(t *testing.T) {
	var buf PageBuf
	sp := InitSlottedPage(&buf, 0)

	_, err := sp.GetTuple(99)
	require.ErrorIs(t, err, ErrInvalidSlotID)
}

func TestSlottedPageFullRejectsOversizedInsert(t *testing.T) {
	var buf PageBuf
	sp := InitSlottedPage(&buf, 0)

	big := make([]byte, PageSize)
	_, err := sp.InsertTuple(big)
	var overflow *PageOverflowError
	require.ErrorAs(t, err, &overflow)
}
