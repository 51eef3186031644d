// file: cmd/library_test.go
// version: 1.1.0
// guid: 4b8d2f6a-1c3e-4a5b-9d7f-0e2a4c6b8d1f

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/duplicates"
	"github.com/jdfalk/dj-tagger/internal/fileops"
	"github.com/jdfalk/dj-tagger/internal/fingerprint"
	"github.com/jdfalk/dj-tagger/internal/operations"
)

var testModTime = time.Unix(1_700_000_000, 0).UTC()

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	store, err := database.NewPebbleStore(filepath.Join(t.TempDir(), "cmd.pebble"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// addTrack catalogs a real file of the given size and, when fp is set, its fingerprint
func addTrack(t *testing.T, store database.Store, dir, name string, size int, fp string) *database.Track {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x1}, size), 0o644))

	track, err := store.CreateTrack(&database.Track{
		FilePath:    path,
		FileName:    name,
		Directory:   dir,
		FileSize:    int64(size),
		FileModTime: testModTime,
		Format:      strings.TrimPrefix(filepath.Ext(name), "."),
	})
	require.NoError(t, err)

	if fp != "" {
		require.NoError(t, store.UpsertFingerprint(&database.FingerprintRecord{
			TrackID:     track.ID,
			Fingerprint: fp,
			Duration:    180,
			GeneratedAt: testModTime,
			FileSize:    track.FileSize,
			FileModTime: track.FileModTime,
		}))
	}
	return track
}

type scriptedExtractor struct {
	fail map[string]bool
}

func (s *scriptedExtractor) Probe(context.Context) error { return nil }

func (s *scriptedExtractor) Extract(_ context.Context, path string) (*fingerprint.Result, error) {
	if s.fail[filepath.Base(path)] {
		return nil, errors.New("decoder error")
	}
	return &fingerprint.Result{Fingerprint: "AQAA" + filepath.Base(path), Duration: 120}, nil
}

func TestRunFingerprint(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	addTrack(t, store, dir, "a.mp3", 10, "")
	addTrack(t, store, dir, "b.mp3", 10, "")
	addTrack(t, store, dir, "broken.mp3", 10, "")

	coord := operations.NewCoordinator(store, &scriptedExtractor{fail: map[string]bool{"broken.mp3": true}})

	var out bytes.Buffer
	err := runFingerprint(context.Background(), &out, coord, 2, false, false, nil)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "3 tracks with 2 workers")
	assert.Contains(t, out.String(), "Generation completed: 2 fingerprinted, 1 failed, 0 not processed")
	assert.Contains(t, out.String(), "broken.mp3")

	n, err := store.CountFingerprints()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunFingerprintTrack(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	track := addTrack(t, store, dir, "one.mp3", 10, "")
	addTrack(t, store, dir, "broken.mp3", 10, "")
	coord := operations.NewCoordinator(store, &scriptedExtractor{fail: map[string]bool{"broken.mp3": true}})

	var out bytes.Buffer
	require.NoError(t, runFingerprintTrack(context.Background(), &out, coord, track.ID))
	assert.Equal(t, "Track 1 fingerprinted: key "+duplicates.Key("AQAAone.mp3")+", 120.0s\n", out.String())

	rec, err := store.GetFingerprint(track.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "AQAAone.mp3", rec.Fingerprint)

	assert.ErrorIs(t, runFingerprintTrack(context.Background(), &out, coord, 999), database.ErrTrackNotFound)
	assert.ErrorContains(t, runFingerprintTrack(context.Background(), &out, coord, 2), "decoder error")
	assert.ErrorContains(t, runFingerprintTrack(context.Background(), &out, coord, -1), "invalid track id")
}

func TestRunFingerprint_InvalidWorkers(t *testing.T) {
	coord := operations.NewCoordinator(newTestStore(t), &scriptedExtractor{})

	err := runFingerprint(context.Background(), &bytes.Buffer{}, coord, 0, false, false, nil)
	var cfgErr *operations.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRunDuplicates(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	big := addTrack(t, store, dir, "big.flac", 300, "AQAAdup")
	addTrack(t, store, dir, "small.mp3", 100, "AQAAdup")
	addTrack(t, store, dir, "unique.mp3", 50, "AQAAother")
	grouper := duplicates.NewGrouper(store, duplicates.Options{})

	t.Run("text", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runDuplicates(&out, grouper, "text"))
		assert.Contains(t, out.String(), "Group "+duplicates.Key("AQAAdup")+" (2 copies)")
		assert.Contains(t, out.String(), "1 groups, 1 redundant copies, 100 bytes reclaimable")
		assert.NotContains(t, out.String(), "unique.mp3")
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runDuplicates(&out, grouper, "json"))

		var report duplicatesReport
		require.NoError(t, json.Unmarshal(out.Bytes(), &report))
		require.Len(t, report.Groups, 1)
		assert.Equal(t, big.ID, report.Groups[0].Canonical().ID)
		assert.Equal(t, int64(100), report.Summary.ReclaimableBytes)
	})

	t.Run("yaml", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runDuplicates(&out, grouper, "yaml"))
		assert.Contains(t, out.String(), "fingerprint_key: "+duplicates.Key("AQAAdup"))
		assert.Contains(t, out.String(), "reclaimable_bytes: 100")
	})

	t.Run("unknown format", func(t *testing.T) {
		assert.Error(t, runDuplicates(&bytes.Buffer{}, grouper, "xml"))
	})
}

func TestRunDuplicates_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runDuplicates(&out, duplicates.NewGrouper(newTestStore(t), duplicates.Options{}), "text"))
	assert.Equal(t, "No duplicates found.\n", out.String())

	out.Reset()
	require.NoError(t, runDuplicates(&out, duplicates.NewGrouper(newTestStore(t), duplicates.Options{}), "json"))
	assert.Contains(t, out.String(), `"groups": []`)
}

func TestRunResolve(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	big := addTrack(t, store, dir, "big.flac", 300, "AQAAdup")
	small := addTrack(t, store, dir, "small.mp3", 100, "AQAAdup")
	grouper := duplicates.NewGrouper(store, duplicates.Options{})
	deleter := fileops.NewDeleter(store)
	key := duplicates.Key("AQAAdup")

	var out bytes.Buffer
	require.NoError(t, runResolve(strings.NewReader("no\n"), &out, grouper, deleter, key, 0, false))
	assert.Contains(t, out.String(), "Aborted")
	assert.FileExists(t, small.FilePath)

	out.Reset()
	require.NoError(t, runResolve(nil, &out, grouper, deleter, key, small.ID, true))
	assert.Contains(t, out.String(), string(fileops.OutcomeDeleted))
	assert.NoFileExists(t, big.FilePath)
	assert.FileExists(t, small.FilePath)

	gone, err := store.GetTrackByID(big.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	err = runResolve(nil, &out, grouper, deleter, key, 0, true)
	assert.ErrorContains(t, err, "duplicate group not found")
}

func TestRunDelete(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	track := addTrack(t, store, dir, "gone.mp3", 10, "AQAAx")
	deleter := fileops.NewDeleter(store)

	var out bytes.Buffer
	require.NoError(t, runDelete(strings.NewReader("yes\n"), &out, store, deleter, track.ID, false))
	assert.Contains(t, out.String(), "Type 'yes' to confirm")
	assert.Contains(t, out.String(), string(fileops.OutcomeDeleted))
	assert.NoFileExists(t, track.FilePath)

	rec, err := store.GetFingerprint(track.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	err = runDelete(nil, &out, store, deleter, track.ID, false)
	assert.ErrorIs(t, err, fileops.ErrTrackNotFound)
}

func TestRunDelete_AlreadyMissing(t *testing.T) {
	store := newTestStore(t)
	track := addTrack(t, store, t.TempDir(), "lost.mp3", 10, "")
	require.NoError(t, os.Remove(track.FilePath))

	var out bytes.Buffer
	require.NoError(t, runDelete(nil, &out, store, fileops.NewDeleter(store), track.ID, true))
	assert.Contains(t, out.String(), string(fileops.OutcomeAlreadyMissing))
}
