// Package hasher derives deterministic cache keys from file sets.
//
// A cache key covers, for every input file, the file's path, a SHA-256 digest
// of its content, and its modification time, plus a JSON-encoded map of
// environment factors (platform, architecture, runtime version, and whatever
// the caller adds, such as the build command). The content digest is
// authoritative for equality; path and mtime guard against accidental
// collisions between unrelated files. A missing input file contributes a
// "path:missing" token instead of aborting, so the key is computable in every
// state of the tree and simply never matches a key computed when the file
// existed.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
)

// HashFile returns the hex SHA-256 digest of a file's content.
// The file is streamed, never loaded into memory whole.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// CacheKey computes the cache key for a set of input files and caller factors.
// Files are processed in sorted order so argument order never changes the key.
func CacheKey(files []string, factors map[string]string) (string, error) {
	sorted := make([]string, len(files))
	copy(sorted, files)
	sort.Strings(sorted)

	tokens := make([]string, 0, len(sorted))
	for _, file := range sorted {
		tokens = append(tokens, fileToken(file))
	}

	encoded, err := encodeFactors(factors)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(strings.Join(tokens, "\n")))
	h.Write([]byte("\n"))
	h.Write(encoded)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// fileToken builds the per-file contribution to the key.
// Unreadable files yield a "path:missing" token rather than an error.
func fileToken(path string) string {
	digest, err := HashFile(path)
	if err != nil {
		return path + ":missing"
	}

	info, err := os.Stat(path)
	if err != nil {
		return path + ":missing"
	}

	return fmt.Sprintf("%s:%s:%d", path, digest, info.ModTime().UnixNano())
}

// encodeFactors merges the caller's factors with the ambient environment
// factors and serializes them. encoding/json sorts map keys, which keeps the
// encoding deterministic.
func encodeFactors(factors map[string]string) ([]byte, error) {
	merged := map[string]string{
		"platform": runtime.GOOS,
		"arch":     runtime.GOARCH,
		"runtime":  runtime.Version(),
	}
	for k, v := range factors {
		merged[k] = v
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode factors: %w", err)
	}

	return encoded, nil
}
