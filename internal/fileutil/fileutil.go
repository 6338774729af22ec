package fileutil

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// PartSuffix marks in-progress temp files.
const PartSuffix = ".part"

// FillFunc streams content into w and returns the number of bytes written.
type FillFunc func(w io.Writer) (int64, error)

// WriteAtomic writes content to a sibling temp file named
// `<base>.<uuid>.part`, fsyncs it and renames it over path. The temp file is
// removed on any failure so path is either untouched or complete.
func WriteAtomic(path string, perm os.FileMode, fill FillFunc) (int64, error) {
	tmpName := fmt.Sprintf("%s.%s%s", path, uuid.NewString(), PartSuffix)
	tmp, err := os.OpenFile(tmpName, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	written, err := writeSynced(tmp, fill)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return written, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return written, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return written, fmt.Errorf("rename temp file: %w", err)
	}
	return written, nil
}

// WriteInPlace truncates path and writes content directly into it. A failed
// fill leaves a partial file behind.
func WriteInPlace(path string, perm os.FileMode, fill FillFunc) (int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	written, err := writeSynced(file, fill)
	if err != nil {
		file.Close()
		return written, err
	}
	if err := file.Close(); err != nil {
		return written, fmt.Errorf("close file: %w", err)
	}
	return written, nil
}

// WriteBytesAtomic is WriteAtomic for content already in memory.
func WriteBytesAtomic(path string, data []byte, perm os.FileMode) error {
	_, err := WriteAtomic(path, perm, func(w io.Writer) (int64, error) {
		n, err := w.Write(data)
		return int64(n), err
	})
	return err
}

func writeSynced(file *os.File, fill FillFunc) (int64, error) {
	buffered := bufio.NewWriterSize(file, 64*1024)
	written, err := fill(buffered)
	if err != nil {
		return written, err
	}
	if err := buffered.Flush(); err != nil {
		return written, fmt.Errorf("flush: %w", err)
	}
	if err := file.Sync(); err != nil {
		return written, fmt.Errorf("sync: %w", err)
	}
	return written, nil
}

// RemoveStaleParts deletes leftover `.part` files in dir and returns how many
// were removed.
func RemoveStaleParts(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+PartSuffix))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
