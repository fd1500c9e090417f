package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/pgzip"

	"github.com/schoolworks-dev/sbx/internal/cache"
	"github.com/schoolworks-dev/sbx/internal/hasher"
	"github.com/schoolworks-dev/sbx/internal/version"
)

// ManifestFile is the build manifest written at the repository root.
const ManifestFile = "build-manifest.json"

// Extensions that are already compressed; gzipping them again wastes time.
var compressedExts = map[string]bool{
	".gz":    true,
	".br":    true,
	".zip":   true,
	".zst":   true,
	".png":   true,
	".jpg":   true,
	".jpeg":  true,
	".webp":  true,
	".gif":   true,
	".woff":  true,
	".woff2": true,
	".mp4":   true,
}

// ManifestOutput fingerprints one emitted file.
type ManifestOutput struct {
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
}

// BuildManifest captures what a completed run produced.
type BuildManifest struct {
	Version     string                    `json:"version"`
	Revision    string                    `json:"revision"`
	Branch      string                    `json:"branch"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Cache       *cache.Stats              `json:"cache"`
	Outputs     map[string]ManifestOutput `json:"outputs"`
}

// postBuild runs stage 4: static-asset compression, bundle-size analysis and
// the build manifest. Per-asset compression failures are swallowed (it is an
// optimization, not a correctness requirement); a manifest failure is fatal.
func (o *Orchestrator) postBuild() error {
	const phase = "post-build"
	o.monitor.StartPhase(phase, nil)
	defer o.monitor.EndPhase(phase, nil)

	o.progress.Updatef("optimizing outputs")

	// No emitted assets is fine; the manifest is still written.
	if _, err := os.Stat(o.cfg.OutputDir); err == nil {
		_ = o.monitor.TrackSubPhase(phase, "compress-assets", func() error {
			o.compressAssets(o.cfg.OutputDir)
			return nil
		})

		_ = o.monitor.TrackSubPhase(phase, "bundle-sizes", func() error {
			if err := o.monitor.TrackBundleSizes(o.cfg.OutputDir); err != nil {
				o.warnf("bundle size analysis failed", "%v", err)
			}

			return nil
		})
	}

	return o.monitor.TrackSubPhase(phase, "build-manifest", o.writeBuildManifest)
}

// compressAssets gzips every emitted asset that is not already in a
// compressed format, writing the result alongside the original.
func (o *Orchestrator) compressAssets(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || compressedExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		if err := gzipFile(path); err != nil {
			o.warnf("asset compression failed", "%s: %v", path, err)
		}

		return nil
	})
	if err != nil {
		o.warnf("asset compression skipped", "%v", err)
	}
}

func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gz := pgzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		return err
	}

	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}

	return dst.Close()
}

// writeBuildManifest emits the build manifest at the repository root:
// version, VCS state, cache statistics, and a fingerprint of every output.
func (o *Orchestrator) writeBuildManifest() error {
	manifest := BuildManifest{
		Version:     version.Version,
		Revision:    "unknown",
		Branch:      "unknown",
		GeneratedAt: time.Now(),
		Outputs:     make(map[string]ManifestOutput),
	}

	if rev, err := o.gitOutput("rev-parse", "--short", "HEAD"); err == nil {
		manifest.Revision = rev
	}

	if branch, err := o.gitOutput("rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		manifest.Branch = branch
	}

	stats, err := o.cache.Stats()
	if err != nil {
		o.warnf("failed to read cache stats", "%v", err)
	} else {
		manifest.Cache = stats
	}

	err = filepath.WalkDir(o.cfg.OutputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		// The .gz siblings from compressAssets are derived, not outputs.
		if d.IsDir() || strings.HasSuffix(path, ".gz") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		digest, err := hasher.HashFile(path)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(o.cfg.OutputDir, path)
		if err != nil {
			rel = path
		}

		manifest.Outputs[filepath.ToSlash(rel)] = ManifestOutput{
			Size:        info.Size(),
			ContentHash: digest,
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to fingerprint outputs: %w", err)
	}

	data, err := json.MarshalIndent(&manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode build manifest: %w", err)
	}

	path := filepath.Join(o.repoRoot, ManifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write build manifest: %w", err)
	}

	return nil
}
