package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectoryPageRegisterAndLookup(t *testing.T) {
	var buf PageBuf
	dir := directoryPage{magic: directoryMagic, version: 1, pageCount: 1, freeHead: InvalidPageID}
	dir.encode(&buf)

	dp := BindDirectoryPage(&buf)
	require.NoError(t, dp.RegisterTable(TableEntry{TableID: 1, FirstPageID: 2, PageCount: 3}))

	tables, err := dp.Tables()
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Equal(t, uint32(1), tables[0].TableID)
}

func TestDirectoryPageRejectsDuplicateTable(t *testing.T) {
	var buf PageBuf
	dir := directoryPage{magic: directoryMagic, version: 1}
	dir.encode(&buf)
	dp := BindDirectoryPage(&buf)

	require.NoError(t, dp.RegisterTable(TableEntry{TableID: 5}))
	err := dp.RegisterTable(TableEntry{TableID: 5})
	require.ErrorIs(t, err, ErrTableAlreadyExists)
}

func TestDirectoryPageRemoveBySwap(t *testing.T) {
	var buf PageBuf
	dir := directoryPage{magic: directoryMagic, version: 1}
	dir.encode(&buf)
	dp := BindDirectoryPage(&buf)

	require.NoError(t, dp.RegisterTable(TableEntry{TableID: 1}))
	require.NoError(t, dp.RegisterTable(TableEntry{TableID: 2}))
	require.NoError(t, dp.RegisterTable(TableEntry{TableID: 3}))

	require.NoError(t, dp.RemoveTable(1))
	tables, err := dp.Tables()
	require.NoError(t, err)
	require.Len(t, tables, 2)
	for _, te := range tables {
		require.NotEqual(t, uint32(1), te.TableID)
	}
}

func TestDirectoryPageRemoveMissingTable(t *testing.T) {
	var buf PageBuf
	dir := directoryPage{magic: directoryMagic}
	dir.encode(&buf)
	dp := BindDirectoryPage(&buf)

	err := dp.RemoveTable(42)
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestDirectoryPageInvalidMagicRejected(t *testing.T) {
	var buf PageBuf
	_, err := decodeDirectoryPage(&buf)
	require.ErrorIs(t, err, ErrInvalidDatabaseFile)
}

func TestDirectoryPageFullRejectsOverflow(t *testing.T) {
	var buf PageBuf
	dir := directoryPage{magic: directoryMagic, tableCount: MaxTableEntries}
	for i := uint32(0); i < MaxTableEntries; i++ {
		dir.tables = append(dir.tables, TableEntry{TableID: i})
	}
	dir.encode(&buf)

	dp := BindDirectoryPage(&buf)
	err := dp.RegisterTable(TableEntry{TableID: MaxTableEntries + 1})
	require.ErrorIs(t, err, ErrDirectoryFull)
}
