package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/stonebolt/stonebolt/pkg/storage"
)

// runStats opens the database at path and prints page counts, the table
// catalog out of the directory page, and the disk manager's I/O counters.
func runStats(path string, cfg Config, log *zap.Logger) error {
	dm, err := storage.OpenDiskManager(path, log)
	if err != nil {
		return fmt.Errorf("open disk manager: %w", err)
	}
	defer dm.Close()

	bp := storage.NewBufferPool(cfg.PoolSize, cfg.LRUK, dm, log)
	defer bp.Shutdown()

	guard, err := bp.FetchPageRead(storage.DirectoryPageID)
	if err != nil {
		return fmt.Errorf("fetch directory page: %w", err)
	}
	dir := storage.BindDirectoryPage(guard.Data())
	tables, err := dir.Tables()
	guard.Release()
	if err != nil {
		return fmt.Errorf("read table catalog: %w", err)
	}

	reads, writes := dm.Stats()

	fmt.Printf("database: %s\n", path)
	fmt.Printf("page count (file 0): %d\n", dm.PageCount())
	fmt.Printf("segment files: %d\n", len(dm.SegmentPaths()))
	fmt.Printf("disk reads: %d, disk writes: %d\n", reads, writes)
	fmt.Printf("buffer pool size: %d (lru-k=%d)\n", bp.PoolSize(), cfg.LRUK)
	fmt.Printf("tables: %d\n", len(tables))
	for _, t := range tables {
		fmt.Printf("  table %d: first_page=%d page_count=%d\n", t.TableID, t.FirstPageID, t.PageCount)
	}
	return nil
}
