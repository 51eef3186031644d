// file: internal/database/store.go
// version: 3.0.0
// guid: 8a9b0c1d-2e3f-4a5b-6c7d-8e9f0a1b2c3d

package database

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrTrackNotFound is returned by operations addressing a track id that is not in the catalog
var ErrTrackNotFound = errors.New("track not found")

// Store defines the interface for our database operations
// This abstraction allows us to support both PebbleDB (default) and SQLite3 (opt-in)
type Store interface {
	// Lifecycle
	Close() error

	// Tracks
	GetAllTracks() ([]Track, error)
	GetTrackByID(id int64) (*Track, error) // nil, nil when absent
	GetTrackByFilePath(path string) (*Track, error)
	CreateTrack(track *Track) (*Track, error) // Upserts by file path, assigns ID on insert
	DeleteTrack(id int64) error               // Removes the track and its fingerprint record
	CountTracks() (int, error)

	// Fingerprints (one record per track, overwritten on regeneration)
	UpsertFingerprint(rec *FingerprintRecord) error
	GetFingerprint(trackID int64) (*FingerprintRecord, error) // nil, nil when absent
	GetAllFingerprints() (map[int64]FingerprintRecord, error)
	DeleteFingerprint(trackID int64) error
	CountFingerprints() (int, error)
}

// Track represents an audio file registered in the catalog
type Track struct {
	ID          int64     `json:"id"`
	FilePath    string    `json:"file_path"`
	FileName    string    `json:"file_name"`
	Directory   string    `json:"directory"`
	FileSize    int64     `json:"file_size"`
	FileModTime time.Time `json:"file_mod_time"`
	Duration    *float64  `json:"duration,omitempty"`
	Format      string    `json:"format"`
	Title       *string   `json:"title,omitempty"`
	Artist      *string   `json:"artist,omitempty"`
	Album       *string   `json:"album,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FingerprintRecord is the persisted acoustic fingerprint of one track.
// FileSize and FileModTime capture the file state at fingerprint time.
type FingerprintRecord struct {
	TrackID     int64     `json:"track_id"`
	Fingerprint string    `json:"fingerprint"`
	Duration    float64   `json:"duration"`
	GeneratedAt time.Time `json:"generated_at"`
	FileSize    int64     `json:"file_size"`
	FileModTime time.Time `json:"file_mod_time"`
}

// IsStale reports whether the track's file changed since the record was generated
func (r *FingerprintRecord) IsStale(track *Track) bool {
	if r == nil || track == nil {
		return false
	}
	return r.FileSize != track.FileSize || !r.FileModTime.Equal(track.FileModTime)
}

// Normalized returns the fingerprint with surrounding whitespace removed
func (r *FingerprintRecord) Normalized() string {
	return strings.TrimSpace(r.Fingerprint)
}

// Global store instance
var GlobalStore Store

// OpenStore opens a store of the given type without touching GlobalStore
func OpenStore(dbType, path string, enableSQLite bool) (Store, error) {
	switch dbType {
	case "sqlite", "sqlite3":
		if !enableSQLite {
			return nil, fmt.Errorf("SQLite3 is not enabled. To use SQLite3, you must explicitly enable it with --enable-sqlite3-i-know-the-risks or set 'enable_sqlite3_i_know_the_risks: true' in your config file. PebbleDB is the recommended database for production use")
		}
		store, err := NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		return store, nil
	case "pebble", "":
		// PebbleDB is the default
		store, err := NewPebbleStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PebbleDB store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: pebble, sqlite)", dbType)
	}
}

// InitializeStore initializes the database store based on configuration
func InitializeStore(dbType, path string, enableSQLite bool) error {
	store, err := OpenStore(dbType, path, enableSQLite)
	if err != nil {
		return err
	}
	GlobalStore = store
	return nil
}

// CloseStore closes the global store
func CloseStore() error {
	if GlobalStore != nil {
		err := GlobalStore.Close()
		GlobalStore = nil
		return err
	}
	return nil
}
