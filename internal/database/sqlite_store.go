// file: internal/database/sqlite_store.go
// version: 2.0.0
// guid: 8b9c0d1e-2f3a-4b5c-6d7e-8f9a0b1c2d3e

package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const trackSelectColumns = `
	id, file_path, file_name, directory, file_size, file_mod_time,
	duration, format, title, artist, album, created_at, updated_at
`

// Timestamps are stored as unix nanoseconds so size/mtime comparisons survive a round trip.
func scanTrack(scanner rowScanner, track *Track) error {
	var modTime, createdAt, updatedAt int64
	if err := scanner.Scan(
		&track.ID, &track.FilePath, &track.FileName, &track.Directory,
		&track.FileSize, &modTime, &track.Duration, &track.Format,
		&track.Title, &track.Artist, &track.Album, &createdAt, &updatedAt,
	); err != nil {
		return err
	}
	track.FileModTime = time.Unix(0, modTime)
	track.CreatedAt = time.Unix(0, createdAt)
	track.UpdatedAt = time.Unix(0, updatedAt)
	return nil
}

func scanFingerprint(scanner rowScanner, rec *FingerprintRecord) error {
	var generatedAt, modTime int64
	if err := scanner.Scan(
		&rec.TrackID, &rec.Fingerprint, &rec.Duration, &generatedAt,
		&rec.FileSize, &modTime,
	); err != nil {
		return err
	}
	rec.GeneratedAt = time.Unix(0, generatedAt)
	rec.FileModTime = time.Unix(0, modTime)
	return nil
}

// SQLiteStore implements the Store interface using SQLite3
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	store := &SQLiteStore{db: db}

	// Create tables
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

// createTables creates all required tables
func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tracks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_path TEXT NOT NULL UNIQUE,
		file_name TEXT NOT NULL,
		directory TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		file_mod_time INTEGER NOT NULL DEFAULT 0,
		duration REAL,
		format TEXT NOT NULL DEFAULT '',
		title TEXT,
		artist TEXT,
		album TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fingerprints (
		track_id INTEGER PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		duration REAL NOT NULL,
		generated_at INTEGER NOT NULL,
		file_size INTEGER NOT NULL,
		file_mod_time INTEGER NOT NULL,
		FOREIGN KEY (track_id) REFERENCES tracks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_fingerprints_fingerprint ON fingerprints(fingerprint);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Track operations

func (s *SQLiteStore) GetAllTracks() ([]Track, error) {
	rows, err := s.db.Query(`SELECT ` + trackSelectColumns + ` FROM tracks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		var track Track
		if err := scanTrack(rows, &track); err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return tracks, rows.Err()
}

func (s *SQLiteStore) GetTrackByID(id int64) (*Track, error) {
	var track Track
	row := s.db.QueryRow(`SELECT `+trackSelectColumns+` FROM tracks WHERE id = ?`, id)
	if err := scanTrack(row, &track); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

func (s *SQLiteStore) GetTrackByFilePath(path string) (*Track, error) {
	var track Track
	row := s.db.QueryRow(`SELECT `+trackSelectColumns+` FROM tracks WHERE file_path = ?`, path)
	if err := scanTrack(row, &track); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

func (s *SQLiteStore) CreateTrack(track *Track) (*Track, error) {
	if track == nil || track.FilePath == "" {
		return nil, fmt.Errorf("track file path is required")
	}

	now := time.Now().UnixNano()
	query := `
		INSERT INTO tracks (file_path, file_name, directory, file_size, file_mod_time,
			duration, format, title, artist, album, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			file_name = excluded.file_name,
			directory = excluded.directory,
			file_size = excluded.file_size,
			file_mod_time = excluded.file_mod_time,
			duration = excluded.duration,
			format = excluded.format,
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query,
		track.FilePath, track.FileName, track.Directory, track.FileSize,
		track.FileModTime.UnixNano(), track.Duration, track.Format,
		track.Title, track.Artist, track.Album, now, now,
	); err != nil {
		return nil, fmt.Errorf("failed to upsert track: %w", err)
	}

	return s.GetTrackByFilePath(track.FilePath)
}

func (s *SQLiteStore) DeleteTrack(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM fingerprints WHERE track_id = ?`, id); err != nil {
		return err
	}
	result, err := tx.Exec(`DELETE FROM tracks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTrackNotFound
	}
	return tx.Commit()
}

func (s *SQLiteStore) CountTracks() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM tracks`).Scan(&count)
	return count, err
}

// Fingerprint operations

func (s *SQLiteStore) UpsertFingerprint(rec *FingerprintRecord) error {
	if rec == nil {
		return fmt.Errorf("fingerprint record is required")
	}
	query := `
		INSERT INTO fingerprints (track_id, fingerprint, duration, generated_at, file_size, file_mod_time)
		SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM tracks WHERE id = ?)
		ON CONFLICT(track_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			duration = excluded.duration,
			generated_at = excluded.generated_at,
			file_size = excluded.file_size,
			file_mod_time = excluded.file_mod_time
	`
	result, err := s.db.Exec(query,
		rec.TrackID, rec.Fingerprint, rec.Duration, rec.GeneratedAt.UnixNano(),
		rec.FileSize, rec.FileModTime.UnixNano(), rec.TrackID,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fingerprint: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("upsert fingerprint for track %d: %w", rec.TrackID, ErrTrackNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetFingerprint(trackID int64) (*FingerprintRecord, error) {
	var rec FingerprintRecord
	row := s.db.QueryRow(`
		SELECT track_id, fingerprint, duration, generated_at, file_size, file_mod_time
		FROM fingerprints WHERE track_id = ?`, trackID)
	if err := scanFingerprint(row, &rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) GetAllFingerprints() (map[int64]FingerprintRecord, error) {
	rows, err := s.db.Query(`
		SELECT track_id, fingerprint, duration, generated_at, file_size, file_mod_time
		FROM fingerprints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make(map[int64]FingerprintRecord)
	for rows.Next() {
		var rec FingerprintRecord
		if err := scanFingerprint(rows, &rec); err != nil {
			return nil, err
		}
		records[rec.TrackID] = rec
	}
	return records, rows.Err()
}

func (s *SQLiteStore) DeleteFingerprint(trackID int64) error {
	_, err := s.db.Exec(`DELETE FROM fingerprints WHERE track_id = ?`, trackID)
	return err
}

func (s *SQLiteStore) CountFingerprints() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM fingerprints`).Scan(&count)
	return count, err
}
