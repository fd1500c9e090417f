package deps

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_RoundTrip(t *testing.T) {
	tracker, err := NewTracker(t.TempDir())
	require.NoError(t, err)

	dependencies := []Dependency{
		{Path: "src/lib/util.ts", Hash: "abc123"},
		{Path: "src/lib/db.ts", Hash: "def456"},
	}

	require.NoError(t, tracker.Track("src/index.ts", dependencies))

	record, err := tracker.Lookup("src/index.ts")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "src/index.ts", record.EntryFile)
	assert.Equal(t, dependencies, record.Dependencies)
	assert.False(t, record.Timestamp.IsZero())
}

func TestTracker_LookupAbsent(t *testing.T) {
	tracker, err := NewTracker(t.TempDir())
	require.NoError(t, err)

	record, err := tracker.Lookup("never/tracked.ts")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestTracker_LastWriteWins(t *testing.T) {
	tracker, err := NewTracker(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, tracker.Track("src/index.ts", []Dependency{{Path: "a.ts", Hash: "h1"}}))
	require.NoError(t, tracker.Track("src/index.ts", []Dependency{{Path: "b.ts", Hash: "h2"}}))

	record, err := tracker.Lookup("src/index.ts")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Len(t, record.Dependencies, 1)
	assert.Equal(t, "b.ts", record.Dependencies[0].Path, "second write should replace the first")
}

func TestTracker_CorruptRecordTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewTracker(dir)
	require.NoError(t, err)

	require.NoError(t, tracker.Track("src/index.ts", nil))
	require.NoError(t, os.WriteFile(tracker.recordPath("src/index.ts"), []byte("{not json"), 0o644))

	record, err := tracker.Lookup("src/index.ts")
	require.NoError(t, err)
	assert.Nil(t, record)
}
