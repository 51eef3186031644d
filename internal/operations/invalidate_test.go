// file: internal/operations/invalidate_test.go
// version: 1.0.0
// guid: 5e7a9c1d-3f4b-4d6e-a8f0-b2d4f6a8c0e2

package operations

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/dj-tagger/internal/database"
)

func TestInvalidateFingerprints(t *testing.T) {
	dir := t.TempDir()
	store, err := database.NewPebbleStore(filepath.Join(t.TempDir(), "inv.pebble"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	changed := filepath.Join(dir, "changed.mp3")
	require.NoError(t, os.WriteFile(changed, []byte("new content, longer than before"), 0o644))

	track, err := store.CreateTrack(&database.Track{
		FilePath:    changed,
		FileName:    "changed.mp3",
		Directory:   dir,
		FileSize:    3,
		FileModTime: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, store.UpsertFingerprint(&database.FingerprintRecord{
		TrackID: track.ID, Fingerprint: "old", GeneratedAt: time.Now(),
		FileSize: 3, FileModTime: track.FileModTime,
	}))

	untouched, err := store.CreateTrack(&database.Track{FilePath: filepath.Join(dir, "other.mp3"), FileName: "other.mp3"})
	require.NoError(t, err)
	require.NoError(t, store.UpsertFingerprint(&database.FingerprintRecord{
		TrackID: untouched.ID, Fingerprint: "keep", GeneratedAt: time.Now(),
	}))

	n, err := InvalidateFingerprints(store, []string{changed, filepath.Join(dir, "unknown.mp3")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := store.GetFingerprint(track.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	kept, err := store.GetFingerprint(untouched.ID)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	refreshed, err := store.GetTrackByID(track.ID)
	require.NoError(t, err)
	info, err := os.Stat(changed)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), refreshed.FileSize)
	assert.True(t, refreshed.FileModTime.Equal(info.ModTime()))
}

func TestInvalidateFingerprints_CollectsErrors(t *testing.T) {
	store := &database.MockStore{
		GetTrackByFilePathFunc: func(path string) (*database.Track, error) {
			return nil, errors.New("db offline")
		},
	}
	n, err := InvalidateFingerprints(store, []string{"/a.mp3", "/b.mp3"})
	assert.Equal(t, 0, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/a.mp3")
	assert.Contains(t, err.Error(), "/b.mp3")
}
