package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// copyFile copies a file from src to dst, preserving mode and modification
// time. Mtime preservation matters: restored files feed back into future
// cache key computation, and losing the timestamp would cause spurious misses.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}

	defer srcFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return err
	}

	if err := dstFile.Close(); err != nil {
		return err
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.Chmod(dst, srcInfo.Mode()); err != nil {
		return err
	}

	return os.Chtimes(dst, srcInfo.ModTime(), srcInfo.ModTime())
}

// removeBlobs deletes the blob files behind an entry's artifacts and returns
// how many bytes were freed. Missing blobs are not an error, the entry may
// already be partially corrupt.
func (c *Cache) removeBlobs(entry *Entry) int64 {
	var freed int64
	for _, a := range entry.Artifacts {
		path := c.blobPath(a.ID)

		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if err := os.Remove(path); err == nil {
			freed += info.Size()
		}
	}

	return freed
}

// blobPath returns the on-disk location of an artifact blob.
func (c *Cache) blobPath(id string) string {
	return filepath.Join(c.root, "artifacts", id)
}

// verifyArtifacts reports whether every blob behind an entry exists on disk.
func (c *Cache) verifyArtifacts(entry *Entry) error {
	for _, a := range entry.Artifacts {
		if _, err := os.Stat(c.blobPath(a.ID)); err != nil {
			return fmt.Errorf("artifact %s (%s) unavailable: %w", a.ID, a.OriginalPath, err)
		}
	}

	return nil
}
