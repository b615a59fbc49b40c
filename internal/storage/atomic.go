package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// renameFile is swapped out by tests to simulate a crash before the rename.
var renameFile = os.Rename

// tempPath returns the sibling file a state rewrite is staged in.
func tempPath(path string) string {
	return path + ".tmp"
}

// writeFileAtomic writes data to a sibling temp file, syncs it, and renames
// it over path. Readers see either the previous file or the new one.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := tempPath(path)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := renameFile(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	// Persist the directory entry; not every platform supports this.
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
