// Package deps records resolved dependency lists per build entry file.
//
// Records are advisory: nothing consults them for cache decisions today, they
// exist so a future incremental-invalidation pass has the data it needs.
package deps

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Dependency is one resolved dependency of an entry file.
type Dependency struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Record is the persisted dependency list for one entry file.
type Record struct {
	EntryFile    string       `json:"entry_file"`
	Dependencies []Dependency `json:"dependencies"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Tracker persists one record per entry file under a directory.
type Tracker struct {
	dir string
}

// NewTracker creates a tracker writing records under dir.
func NewTracker(dir string) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dependency directory: %w", err)
	}

	return &Tracker{dir: dir}, nil
}

// Track writes the dependency record for entryFile. Last write wins.
func (t *Tracker) Track(entryFile string, dependencies []Dependency) error {
	record := Record{
		EntryFile:    entryFile,
		Dependencies: dependencies,
		Timestamp:    time.Now(),
	}

	data, err := json.MarshalIndent(&record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dependency record: %w", err)
	}

	if err := os.WriteFile(t.recordPath(entryFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write dependency record: %w", err)
	}

	return nil
}

// Lookup reads the record for entryFile back. Returns nil if there is none or
// it cannot be read.
func (t *Tracker) Lookup(entryFile string) (*Record, error) {
	data, err := os.ReadFile(t.recordPath(entryFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read dependency record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		// Unreadable records are treated as absent, not fatal.
		return nil, nil
	}

	return &record, nil
}

// recordPath derives a filesystem-safe file name from the entry path.
func (t *Tracker) recordPath(entryFile string) string {
	sum := sha256.Sum256([]byte(entryFile))
	return filepath.Join(t.dir, hex.EncodeToString(sum[:8])+".json")
}
