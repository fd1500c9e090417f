package cache

import "time"

// Artifact describes one stored build output. The blob itself lives in the
// artifact store under a random ID, decoupled from OriginalPath so the same
// logical output can be restored into different checkouts.
type Artifact struct {
	// ID is the random blob name inside the artifact store
	ID string `json:"id"`

	// OriginalPath is where the output was produced and will be restored to
	OriginalPath string `json:"original_path"`

	// Size in bytes
	Size int64 `json:"size"`

	// ContentHash is the hex SHA-256 of the blob content
	ContentHash string `json:"content_hash"`
}

// Entry represents one cached build result, keyed by cache key in the manifest.
type Entry struct {
	// Key is the cache key this entry is stored under
	Key string `json:"key"`

	// Timestamp when this entry was created or last refreshed
	Timestamp time.Time `json:"timestamp"`

	// BuildTime is how long the original build took, used to compute
	// time saved when restoring
	BuildTime time.Duration `json:"build_time"`

	// Artifacts lists the stored outputs for this entry
	Artifacts []Artifact `json:"artifacts"`
}

// Age returns how old the entry is.
func (e *Entry) Age() time.Duration {
	return time.Since(e.Timestamp)
}

// TotalSize returns the combined size of all artifacts in bytes.
func (e *Entry) TotalSize() int64 {
	var total int64
	for _, a := range e.Artifacts {
		total += a.Size
	}

	return total
}

// Stats summarises the state of a cache.
type Stats struct {
	Entries    int           `json:"entries"`
	Artifacts  int           `json:"artifacts"`
	TotalBytes int64         `json:"total_bytes"`
	Hits       int64         `json:"hits"`
	Lookups    int64         `json:"lookups"`
	HitRate    float64       `json:"hit_rate"`
	TimeSaved  time.Duration `json:"time_saved"`
}
