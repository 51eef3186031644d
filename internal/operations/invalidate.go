// file: internal/operations/invalidate.go
// version: 1.0.0
// guid: 3d5f7a9c-1e2b-4c4d-8e6f-a0b2c4d6e8f0

package operations

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/logger"
	"github.com/jdfalk/dj-tagger/internal/metrics"
)

// InvalidateFingerprints drops the fingerprint records of catalog tracks whose files changed.
// Tracks whose file still exists get their size and mtime refreshed so the next
// non-overwrite run picks them up. Paths unknown to the catalog are ignored.
func InvalidateFingerprints(store database.Store, paths []string) (int, error) {
	invalidated := 0
	var errs []error

	for _, path := range paths {
		track, err := store.GetTrackByFilePath(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("lookup %s: %w", path, err))
			continue
		}
		if track == nil {
			continue
		}

		rec, err := store.GetFingerprint(track.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("lookup fingerprint for track %d: %w", track.ID, err))
			continue
		}
		if rec != nil {
			if err := store.DeleteFingerprint(track.ID); err != nil {
				errs = append(errs, fmt.Errorf("delete fingerprint for track %d: %w", track.ID, err))
				continue
			}
			invalidated++
		}

		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("stat %s: %w", path, err))
			continue
		}
		if info.Size() != track.FileSize || !info.ModTime().Equal(track.FileModTime) {
			updated := *track
			updated.FileSize = info.Size()
			updated.FileModTime = info.ModTime()
			if _, err := store.CreateTrack(&updated); err != nil {
				errs = append(errs, fmt.Errorf("refresh track %d: %w", track.ID, err))
			}
		}
	}

	if invalidated > 0 {
		metrics.AddInvalidations(invalidated)
		logger.Info("fingerprints invalidated", logger.Int("count", invalidated))
	}
	return invalidated, errors.Join(errs...)
}
