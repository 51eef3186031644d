// file: internal/backup/backup_test.go
// version: 2.0.0
// guid: c3d4e5f6-a7b8-9c0d-1e2f-3a4b5c6d7e8f

package backup

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakePebbleDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "catalog.pebble")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "archive"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MANIFEST-000001"), []byte("manifest"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000002.sst"), []byte("table data"), 0o644))
	return dir
}

func archiveNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	var names []string
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, h.Name)
	}
	sort.Strings(names)
	return names
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/var/lib/dj-tagger/catalog.pebble")
	assert.Equal(t, "/var/lib/dj-tagger/backups", cfg.Dir)
	assert.Equal(t, 10, cfg.MaxBackups)
	assert.Equal(t, gzip.BestSpeed, cfg.CompressionLevel)
}

func TestCreate_PebbleDirectory(t *testing.T) {
	db := fakePebbleDir(t)
	cfg := Config{Dir: t.TempDir(), CompressionLevel: gzip.DefaultCompression}

	info, err := Create(db, "pebble", cfg)
	require.NoError(t, err)

	assert.FileExists(t, info.Path)
	assert.Equal(t, "pebble", info.DatabaseType)
	assert.Len(t, info.Checksum, 16)
	assert.Positive(t, info.Size)
	assert.Equal(t, []string{
		"catalog.pebble",
		"catalog.pebble/000002.sst",
		"catalog.pebble/MANIFEST-000001",
		"catalog.pebble/archive",
	}, archiveNames(t, info.Path))
}

func TestCreate_SQLiteFile(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catalog.db")
	require.NoError(t, os.WriteFile(db, []byte("SQLite format 3"), 0o644))

	info, err := Create(db, "sqlite", Config{Dir: t.TempDir(), CompressionLevel: gzip.BestSpeed})
	require.NoError(t, err)
	assert.Equal(t, []string{"catalog.db"}, archiveNames(t, info.Path))
}

func TestCreate_MissingCatalog(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "nope"), "pebble", Config{Dir: t.TempDir()})
	assert.ErrorContains(t, err, "catalog not found")
}

func TestListAndPrune(t *testing.T) {
	db := fakePebbleDir(t)
	cfg := Config{Dir: t.TempDir(), MaxBackups: 2, CompressionLevel: gzip.BestSpeed}

	var created []*Info
	for i := 0; i < 3; i++ {
		info, err := Create(db, "pebble", cfg)
		require.NoError(t, err)
		created = append(created, info)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Dir, "notes.txt"), []byte("x"), 0o644))

	backups, err := List(cfg.Dir)
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, created[2].Filename, backups[0].Filename, "newest first")
	assert.Equal(t, created[1].Filename, backups[1].Filename)
	assert.Equal(t, created[2].Checksum, backups[0].Checksum)
	assert.NoFileExists(t, created[0].Path)
}

func TestList_MissingDir(t *testing.T) {
	backups, err := List(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, backups)
}
