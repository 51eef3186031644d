// file: internal/database/pebble_store.go
// version: 2.1.0
// guid: 0c1d2e3f-4a5b-6c7d-8e9f-0a1b2c3d4e5f

package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble/v2"
)

// PebbleStore implements the Store interface using PebbleDB (LSM key-value store)
//
// Key Schema:
// - track:<id>              -> Track JSON
// - track:path:<path>       -> track_id (for lookups)
// - fingerprint:<track_id>  -> FingerprintRecord JSON
// - counter:track           -> next track ID
type PebbleStore struct {
	db *pebble.DB

	// serializes read-modify-write sequences (counters, path index)
	writeMu sync.Mutex
}

// NewPebbleStore creates a new PebbleDB store
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{
		FormatMajorVersion: pebble.FormatNewest,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open PebbleDB: %w", err)
	}

	store := &PebbleStore{db: db}

	// Initialize counters if they don't exist
	counters := []string{"track"}
	for _, counter := range counters {
		key := fmt.Sprintf("counter:%s", counter)
		if _, closer, err := db.Get([]byte(key)); errors.Is(err, pebble.ErrNotFound) {
			if err := db.Set([]byte(key), []byte("1"), pebble.Sync); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to initialize counter %s: %w", counter, err)
			}
		} else if err == nil {
			closer.Close()
		} else {
			db.Close()
			return nil, fmt.Errorf("failed to check counter %s: %w", counter, err)
		}
	}

	return store, nil
}

// Close closes the database
func (p *PebbleStore) Close() error {
	return p.db.Close()
}

// Helper functions

func trackKey(id int64) []byte {
	return []byte(fmt.Sprintf("track:%d", id))
}

func trackPathKey(path string) []byte {
	return []byte(fmt.Sprintf("track:path:%s", path))
}

func fingerprintKey(trackID int64) []byte {
	return []byte(fmt.Sprintf("fingerprint:%d", trackID))
}

// nextID must be called with writeMu held
func (p *PebbleStore) nextID(counter string) (int64, error) {
	key := []byte(fmt.Sprintf("counter:%s", counter))

	value, closer, err := p.db.Get(key)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(string(value), 10, 64)
	closer.Close()
	if err != nil {
		return 0, err
	}

	if err := p.db.Set(key, []byte(strconv.FormatInt(id+1, 10)), pebble.Sync); err != nil {
		return 0, err
	}

	return id, nil
}

// getJSON loads key into out. Returns false when the key does not exist.
func (p *PebbleStore) getJSON(key []byte, out any) (bool, error) {
	value, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()

	if err := json.Unmarshal(value, out); err != nil {
		return false, err
	}
	return true, nil
}

// Track operations

func (p *PebbleStore) GetAllTracks() ([]Track, error) {
	var tracks []Track
	// digits sort before ':' and ';', so this range excludes track:path:*
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("track:0"),
		UpperBound: []byte("track:;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var track Track
		if err := json.Unmarshal(iter.Value(), &track); err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(tracks, func(i, j int) bool { return tracks[i].ID < tracks[j].ID })
	return tracks, nil
}

func (p *PebbleStore) GetTrackByID(id int64) (*Track, error) {
	var track Track
	found, err := p.getJSON(trackKey(id), &track)
	if err != nil || !found {
		return nil, err
	}
	return &track, nil
}

func (p *PebbleStore) GetTrackByFilePath(path string) (*Track, error) {
	value, closer, err := p.db.Get(trackPathKey(path))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(string(value), 10, 64)
	closer.Close()
	if err != nil {
		return nil, err
	}
	return p.GetTrackByID(id)
}

func (p *PebbleStore) CreateTrack(track *Track) (*Track, error) {
	if track == nil || track.FilePath == "" {
		return nil, fmt.Errorf("track file path is required")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	existing, err := p.GetTrackByFilePath(track.FilePath)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	saved := *track
	if existing != nil {
		saved.ID = existing.ID
		saved.CreatedAt = existing.CreatedAt
	} else {
		id, err := p.nextID("track")
		if err != nil {
			return nil, fmt.Errorf("failed to allocate track id: %w", err)
		}
		saved.ID = id
		saved.CreatedAt = now
	}
	saved.UpdatedAt = now

	data, err := json.Marshal(&saved)
	if err != nil {
		return nil, err
	}

	batch := p.db.NewBatch()
	if err := batch.Set(trackKey(saved.ID), data, nil); err != nil {
		batch.Close()
		return nil, err
	}
	if err := batch.Set(trackPathKey(saved.FilePath), []byte(strconv.FormatInt(saved.ID, 10)), nil); err != nil {
		batch.Close()
		return nil, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, err
	}

	return &saved, nil
}

func (p *PebbleStore) DeleteTrack(id int64) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	track, err := p.GetTrackByID(id)
	if err != nil {
		return err
	}
	if track == nil {
		return ErrTrackNotFound
	}

	batch := p.db.NewBatch()

	// Delete main key
	if err := batch.Delete(trackKey(id), nil); err != nil {
		batch.Close()
		return err
	}

	// Delete path index
	if err := batch.Delete(trackPathKey(track.FilePath), nil); err != nil {
		batch.Close()
		return err
	}

	// Delete fingerprint record
	if err := batch.Delete(fingerprintKey(id), nil); err != nil {
		batch.Close()
		return err
	}

	return batch.Commit(pebble.Sync)
}

func (p *PebbleStore) CountTracks() (int, error) {
	return p.countRange([]byte("track:0"), []byte("track:;"))
}

func (p *PebbleStore) countRange(lower, upper []byte) (int, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, iter.Error()
}

// Fingerprint operations

func (p *PebbleStore) UpsertFingerprint(rec *FingerprintRecord) error {
	if rec == nil {
		return fmt.Errorf("fingerprint record is required")
	}

	// held across the existence check so DeleteTrack cannot leave an orphan record
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	track, err := p.GetTrackByID(rec.TrackID)
	if err != nil {
		return err
	}
	if track == nil {
		return fmt.Errorf("upsert fingerprint for track %d: %w", rec.TrackID, ErrTrackNotFound)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.db.Set(fingerprintKey(rec.TrackID), data, pebble.Sync)
}

func (p *PebbleStore) GetFingerprint(trackID int64) (*FingerprintRecord, error) {
	var rec FingerprintRecord
	found, err := p.getJSON(fingerprintKey(trackID), &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

func (p *PebbleStore) GetAllFingerprints() (map[int64]FingerprintRecord, error) {
	records := make(map[int64]FingerprintRecord)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("fingerprint:"),
		UpperBound: []byte("fingerprint;"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec FingerprintRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, err
		}
		records[rec.TrackID] = rec
	}
	return records, iter.Error()
}

func (p *PebbleStore) DeleteFingerprint(trackID int64) error {
	return p.db.Delete(fingerprintKey(trackID), pebble.Sync)
}

func (p *PebbleStore) CountFingerprints() (int, error) {
	return p.countRange([]byte("fingerprint:"), []byte("fingerprint;"))
}
