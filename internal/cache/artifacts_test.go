package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFile_PreservesModeAndMtime(t *testing.T) {
	tempDir := t.TempDir()
	src := filepath.Join(tempDir, "src.sh")
	dst := filepath.Join(tempDir, "nested", "dir", "dst.sh")

	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\necho hi\n"), 0o755))

	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	require.NoError(t, copyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi\n", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime), "mtime should carry over")
}

func TestCopyFile_MissingSource(t *testing.T) {
	tempDir := t.TempDir()
	err := copyFile(filepath.Join(tempDir, "nope"), filepath.Join(tempDir, "dst"))
	assert.Error(t, err)
}

func TestRemoveBlobs_ReportsFreedBytes(t *testing.T) {
	c := newTestCache(t)
	output := writeOutput(t, t.TempDir(), "a.js", "0123456789")

	entry, err := c.Save("key-blobs", []string{output}, time.Second)
	require.NoError(t, err)

	freed := c.removeBlobs(entry)
	assert.Equal(t, int64(10), freed)

	// Already gone: second pass frees nothing and does not error.
	freed = c.removeBlobs(entry)
	assert.Zero(t, freed)
}
