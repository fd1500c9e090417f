// Package cache provides the content-addressed build cache.
//
// The cache keeps a manifest of cache key → entry in BoltDB and the artifact
// blobs themselves in a flat filesystem directory named by random IDs:
//
//  1. An entry records when it was created, how long the original build took,
//     and the list of artifacts (blob ID, original path, size, content hash)
//  2. Lookups self-heal: an entry whose blobs have gone missing is purged
//     from the manifest and reported as a miss, never as an error
//  3. Entries older than the configured max age are soft-expired: reported
//     as a miss but left in place until an explicit clean runs
//  4. Restores preserve file modification times because those times feed
//     back into cache key computation
//
// The cache assumes a single writer. BoltDB's file lock makes a second
// concurrent process fail fast instead of corrupting the manifest.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/schoolworks-dev/sbx/internal/hasher"
)

const (
	// DefaultCacheDir is the default cache directory name
	DefaultCacheDir = ".sbx-cache"

	// DefaultMaxAge is how old an entry may be before lookups treat it as a miss
	DefaultMaxAge = 24 * time.Hour

	// entriesBucket is the BoltDB bucket holding the manifest
	entriesBucket = "entries"

	// statsBucket holds hit/lookup counters and cumulative time saved
	statsBucket = "stats"
)

// Cache manages build artifacts and the manifest.
type Cache struct {
	db     *bbolt.DB
	root   string
	maxAge time.Duration
}

// Open opens (creating if needed) a cache rooted at cacheDir.
// If cacheDir is empty, DefaultCacheDir under the working directory is used.
// A maxAge of zero means DefaultMaxAge.
func Open(cacheDir string, maxAge time.Duration) (*Cache, error) {
	if cacheDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}

		cacheDir = filepath.Join(cwd, DefaultCacheDir)
	}

	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	if err := os.MkdirAll(filepath.Join(cacheDir, "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dbPath := filepath.Join(cacheDir, "manifest.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{entriesBucket, statsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache buckets: %w", err)
	}

	return &Cache{
		db:     db,
		root:   cacheDir,
		maxAge: maxAge,
	}, nil
}

// Close closes the cache database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}

	return nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// Check looks up a cache key. Returns nil on a miss.
//
// An entry with missing artifact blobs is corrupt: it is deleted from the
// manifest and the lookup reports a miss. An entry older than the max age is
// a miss too, but is left in place so that stats and debugging can still see
// it existed; only an explicit Clean removes it.
func (c *Cache) Check(key string) (*Entry, error) {
	if err := c.bumpCounter("lookups"); err != nil {
		return nil, err
	}

	var entry Entry
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(entriesBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}

		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if !found {
		return nil, nil
	}

	if err := c.verifyArtifacts(&entry); err != nil {
		log.WithError(err).Warnf("purging corrupt cache entry %.12s", key)
		if err := c.deleteEntry(key); err != nil {
			return nil, err
		}

		// Drop whatever blobs the broken entry still had.
		c.removeBlobs(&entry)

		return nil, nil
	}

	if entry.Age() > c.maxAge {
		log.Debugf("cache entry %.12s expired (%s old)", key, entry.Age().Round(time.Second))
		return nil, nil
	}

	if err := c.bumpCounter("hits"); err != nil {
		return nil, err
	}

	return &entry, nil
}

// Save stores the given output files under key, replacing any prior entry
// wholesale. Each file is copied into the artifact store under a fresh random
// ID with its modification time preserved.
func (c *Cache) Save(key string, paths []string, buildTime time.Duration) (*Entry, error) {
	artifacts := make([]Artifact, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat output %s: %w", path, err)
		}

		digest, err := hasher.HashFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash output %s: %w", path, err)
		}

		id := uuid.NewString()
		if err := copyFile(path, c.blobPath(id)); err != nil {
			return nil, fmt.Errorf("failed to store artifact %s: %w", path, err)
		}

		artifacts = append(artifacts, Artifact{
			ID:           id,
			OriginalPath: path,
			Size:         info.Size(),
			ContentHash:  digest,
		})
	}

	entry := Entry{
		Key:       key,
		Timestamp: time.Now(),
		BuildTime: buildTime,
		Artifacts: artifacts,
	}

	var prior *Entry
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(entriesBucket))

		if old := b.Get([]byte(key)); old != nil {
			var p Entry
			if err := json.Unmarshal(old, &p); err == nil {
				prior = &p
			}
		}

		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}

		return b.Put([]byte(key), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store cache entry: %w", err)
	}

	// The replaced entry's blobs are unreachable now, drop them.
	if prior != nil {
		c.removeBlobs(prior)
	}

	return &entry, nil
}

// Restore copies every artifact of an entry back to its original path and
// returns the time saved: the original build time minus the restore duration.
// The result may be negative when restoring is slower than building, which is
// a useful tuning signal and is deliberately not clamped.
func (c *Cache) Restore(entry *Entry) (time.Duration, error) {
	start := time.Now()

	for _, a := range entry.Artifacts {
		if err := copyFile(c.blobPath(a.ID), a.OriginalPath); err != nil {
			return 0, fmt.Errorf("failed to restore %s: %w", a.OriginalPath, err)
		}
	}

	saved := entry.BuildTime - time.Since(start)
	if err := c.addTimeSaved(saved); err != nil {
		return saved, err
	}

	return saved, nil
}

// Clean removes every entry older than maxAge, together with its blobs.
// Returns the number of entries removed and the bytes freed. Idempotent: an
// immediate second run removes nothing.
func (c *Cache) Clean(maxAge time.Duration) (int, int64, error) {
	if maxAge <= 0 {
		maxAge = c.maxAge
	}

	expired, err := c.collectEntries(func(e *Entry) bool {
		return e.Age() > maxAge
	})
	if err != nil {
		return 0, 0, err
	}

	return c.deleteEntries(expired)
}

// InvalidatePattern removes every entry whose key matches the regular
// expression, regardless of age.
func (c *Cache) InvalidatePattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid pattern: %w", err)
	}

	matched, err := c.collectEntries(func(e *Entry) bool {
		return re.MatchString(e.Key)
	})
	if err != nil {
		return 0, err
	}

	removed, _, err := c.deleteEntries(matched)
	return removed, err
}

// Stats returns cache statistics.
func (c *Cache) Stats() (*Stats, error) {
	stats := &Stats{}

	err := c.db.View(func(tx *bbolt.Tx) error {
		stats.Entries = tx.Bucket([]byte(entriesBucket)).Stats().KeyN

		sb := tx.Bucket([]byte(statsBucket))
		stats.Hits = readCounter(sb, "hits")
		stats.Lookups = readCounter(sb, "lookups")
		stats.TimeSaved = time.Duration(readCounter(sb, "time_saved"))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stats.Lookups > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Lookups)
	}

	artifactsDir := filepath.Join(c.root, "artifacts")
	err = filepath.Walk(artifactsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !info.IsDir() {
			stats.Artifacts++
			stats.TotalBytes += info.Size()
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// collectEntries returns all entries matching the predicate.
func (c *Cache) collectEntries(match func(*Entry) bool) ([]Entry, error) {
	var out []Entry

	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				// An unreadable entry is corrupt, collect it for removal.
				out = append(out, Entry{Key: string(k)})
				return nil
			}

			if match(&entry) {
				out = append(out, entry)
			}

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan manifest: %w", err)
	}

	return out, nil
}

// deleteEntries removes the given entries from the manifest and their blobs
// from disk.
func (c *Cache) deleteEntries(entries []Entry) (int, int64, error) {
	var freed int64
	for i := range entries {
		if err := c.deleteEntry(entries[i].Key); err != nil {
			return i, freed, err
		}

		freed += c.removeBlobs(&entries[i])
	}

	return len(entries), freed, nil
}

// deleteEntry removes one entry from the manifest.
func (c *Cache) deleteEntry(key string) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

// bumpCounter increments a counter in the stats bucket.
func (c *Cache) bumpCounter(name string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(statsBucket))
		return writeCounter(b, name, readCounter(b, name)+1)
	})
}

// addTimeSaved accumulates (possibly negative) restore savings.
func (c *Cache) addTimeSaved(d time.Duration) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(statsBucket))
		return writeCounter(b, "time_saved", readCounter(b, "time_saved")+int64(d))
	})
}

func readCounter(b *bbolt.Bucket, name string) int64 {
	data := b.Get([]byte(name))
	if data == nil {
		return 0
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0
	}

	return n
}

func writeCounter(b *bbolt.Bucket, name string, value int64) error {
	return b.Put([]byte(name), []byte(strconv.FormatInt(value, 10)))
}
