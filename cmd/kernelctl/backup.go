package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/stonebolt/stonebolt/pkg/storage"
)

// runBackup fsyncs the segment files the disk manager has open and writes a
// zstd-compressed archive of them to archivePath. Right after opening that
// is file 0 alone: OpenDiskManager does not open the other segment files,
// so they are not archived. The archive is a plain sequence of
// {name-length, name, content-length, content} records; it is a kernelctl
// convenience format, not a kernel wire format, and is produced and
// consumed only by backup/restore.
func runBackup(dbPath, archivePath string, cfg Config, log *zap.Logger) error {
	dm, err := storage.OpenDiskManager(dbPath, log)
	if err != nil {
		return fmt.Errorf("open disk manager: %w", err)
	}
	defer dm.Close()

	if err := dm.Sync(); err != nil {
		return fmt.Errorf("sync before backup: %w", err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("new zstd writer: %w", err)
	}
	defer enc.Close()

	for _, segPath := range dm.SegmentPaths() {
		if err := writeSegmentRecord(enc, segPath); err != nil {
			return fmt.Errorf("archive %s: %w", segPath, err)
		}
	}

	log.Info("backup complete",
		zap.String("db_path", dbPath),
		zap.String("archive", archivePath),
		zap.Int("segments", len(dm.SegmentPaths())),
	)
	return nil
}

func writeSegmentRecord(w io.Writer, segPath string) error {
	content, err := os.ReadFile(segPath)
	if err != nil {
		return fmt.Errorf("read segment: %w", err)
	}
	name := filepath.Base(segPath)

	if err := writeLengthPrefixed(w, []byte(name)); err != nil {
		return err
	}
	return writeLengthPrefixed(w, content)
}

func writeLengthPrefixed(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write content: %w", err)
	}
	return nil
}

// runRestore decodes archivePath and writes each segment file into destDir,
// recreating the destination directory if necessary.
func runRestore(archivePath, destDir string, log *zap.Logger) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("new zstd reader: %w", err)
	}
	defer dec.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	restored := 0
	for {
		name, content, err := readSegmentRecord(dec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read record %d: %w", restored, err)
		}
		dst := filepath.Join(destDir, name)
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", dst, err)
		}
		restored++
	}

	log.Info("restore complete",
		zap.String("archive", archivePath),
		zap.String("dest_dir", destDir),
		zap.Int("segments", restored),
	)
	return nil
}

func readSegmentRecord(r io.Reader) (string, []byte, error) {
	nameBytes, err := readLengthPrefixed(r)
	if err != nil {
		return "", nil, err
	}
	content, err := readLengthPrefixed(r)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return "", nil, err
	}
	return string(nameBytes), content, nil
}

func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read %d bytes: %w", n, err)
	}
	return data, nil
}
