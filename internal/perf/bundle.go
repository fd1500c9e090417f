package perf

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// BundleSize records one output file's raw size and its size under the two
// transfer encodings that matter in practice.
type BundleSize struct {
	Path     string `json:"path"`
	RawSize  int64  `json:"raw_size"`
	GzipSize int64  `json:"gzip_size"`
	ZstdSize int64  `json:"zstd_size"`
}

// TrackBundleSizes walks an output directory and records, per file, the raw
// size plus gzip and zstd compressed sizes. Per-file failures are downgraded
// to warnings; size analysis must never fail a build.
func (m *Monitor) TrackBundleSizes(dir string) error {
	var bundles []BundleSize

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}

		gzipSize, zstdSize, err := compressedSizes(path)
		if err != nil {
			m.AddWarning("failed to measure bundle", fmt.Sprintf("%s: %v", rel, err))
			return nil
		}

		bundles = append(bundles, BundleSize{
			Path:     rel,
			RawSize:  info.Size(),
			GzipSize: gzipSize,
			ZstdSize: zstdSize,
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk output directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles = append(m.bundles, bundles...)

	return nil
}

// compressedSizes streams a file through gzip and zstd, counting output bytes
// without buffering either result.
func compressedSizes(path string) (int64, int64, error) {
	gzipSize, err := compressTo(path, func(w io.Writer) io.WriteCloser {
		return pgzip.NewWriter(w)
	})
	if err != nil {
		return 0, 0, err
	}

	zstdSize, err := compressTo(path, func(w io.Writer) io.WriteCloser {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil
		}

		return enc
	})
	if err != nil {
		return 0, 0, err
	}

	return gzipSize, zstdSize, nil
}

func compressTo(path string, wrap func(io.Writer) io.WriteCloser) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	counter := &countingWriter{}
	w := wrap(counter)
	if w == nil {
		return 0, fmt.Errorf("failed to create compressor")
	}

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return 0, err
	}

	if err := w.Close(); err != nil {
		return 0, err
	}

	return counter.n, nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
