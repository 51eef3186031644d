// file: internal/fileops/deleter.go
// version: 2.0.0
// guid: 8f7e6d5c-4b3a-2918-7f6e-5d4c3b2a1908

package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/duplicates"
	"github.com/jdfalk/dj-tagger/internal/logger"
	"github.com/jdfalk/dj-tagger/internal/metrics"
	"github.com/jdfalk/dj-tagger/internal/realtime"
)

// Outcome is the result category of a track file deletion
type Outcome string

const (
	OutcomeDeleted        Outcome = "deleted"
	OutcomeAlreadyMissing Outcome = "already_missing_cleaned_up"
	OutcomeDenied         Outcome = "denied"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeReconcile      Outcome = "reconcile_required"
	OutcomeFailed         Outcome = "failed"
)

var (
	// ErrPermissionDenied means the filesystem refused to remove the file; records are kept
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTrackNotFound means the track id is not in the catalog
	ErrTrackNotFound = database.ErrTrackNotFound
)

// ReconcileError reports a file that was removed while its catalog records were not.
// The catalog now points at a file that no longer exists.
type ReconcileError struct {
	TrackID  int64
	FilePath string
	Err      error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("file %s removed but records for track %d remain: %v", e.FilePath, e.TrackID, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// DeleteResult describes what happened to one track
type DeleteResult struct {
	TrackID  int64   `json:"track_id"`
	FilePath string  `json:"file_path,omitempty"`
	Outcome  Outcome `json:"outcome"`
	Warning  string  `json:"warning,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Deleter removes track files together with their catalog and fingerprint records.
// It never asks for confirmation; callers are expected to have done that.
type Deleter struct {
	store  database.Store
	hub    *realtime.EventHub
	remove func(string) error
}

// DeleterOption configures a Deleter
type DeleterOption func(*Deleter)

// WithDeleteEvents pushes deletion outcomes to SSE clients
func WithDeleteEvents(hub *realtime.EventHub) DeleterOption {
	return func(d *Deleter) { d.hub = hub }
}

// WithRemoveFunc replaces os.Remove
func WithRemoveFunc(remove func(string) error) DeleterOption {
	return func(d *Deleter) {
		if remove != nil {
			d.remove = remove
		}
	}
}

// NewDeleter creates a deleter
func NewDeleter(store database.Store, opts ...DeleterOption) *Deleter {
	d := &Deleter{store: store, remove: os.Remove}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DeleteTrackFile removes the file of trackID and then its records.
//
//   - deleted: file and records removed
//   - already_missing_cleaned_up: no file on disk, records removed, Warning set
//   - denied: filesystem refused, records kept, ErrPermissionDenied
//   - not_found: unknown id, ErrTrackNotFound
//
// If the file is gone but the records could not be removed a *ReconcileError is returned.
func (d *Deleter) DeleteTrackFile(trackID int64) (*DeleteResult, error) {
	track, err := d.store.GetTrackByID(trackID)
	if err != nil {
		return nil, fmt.Errorf("lookup track %d: %w", trackID, err)
	}
	if track == nil {
		d.report(trackID, "", OutcomeNotFound)
		return &DeleteResult{TrackID: trackID, Outcome: OutcomeNotFound},
			fmt.Errorf("track %d: %w", trackID, ErrTrackNotFound)
	}

	result := &DeleteResult{TrackID: trackID, FilePath: track.FilePath}

	removeErr := d.remove(track.FilePath)
	switch {
	case removeErr == nil:
		result.Outcome = OutcomeDeleted
	case errors.Is(removeErr, fs.ErrNotExist):
		result.Outcome = OutcomeAlreadyMissing
		result.Warning = "file was already missing from disk; catalog records removed"
	case errors.Is(removeErr, fs.ErrPermission):
		result.Outcome = OutcomeDenied
		result.Error = removeErr.Error()
		d.report(trackID, track.FilePath, OutcomeDenied)
		return result, fmt.Errorf("delete %s: %w: %w", track.FilePath, ErrPermissionDenied, removeErr)
	default:
		result.Outcome = OutcomeFailed
		result.Error = removeErr.Error()
		d.report(trackID, track.FilePath, OutcomeFailed)
		return result, fmt.Errorf("delete %s: %w", track.FilePath, removeErr)
	}

	if err := d.store.DeleteTrack(trackID); err != nil && !errors.Is(err, database.ErrTrackNotFound) {
		result.Outcome = OutcomeReconcile
		result.Error = err.Error()
		d.report(trackID, track.FilePath, OutcomeReconcile)
		return result, &ReconcileError{TrackID: trackID, FilePath: track.FilePath, Err: err}
	}

	d.report(trackID, track.FilePath, result.Outcome)
	return result, nil
}

// DeleteGroupExtras deletes every member of group except keepID.
// keepID 0 keeps the canonical (first) track.
func (d *Deleter) DeleteGroupExtras(group duplicates.Group, keepID int64) ([]DeleteResult, error) {
	if len(group.Tracks) == 0 {
		return nil, fmt.Errorf("group %s is empty", group.FingerprintKey)
	}
	if keepID == 0 {
		keepID = group.Canonical().ID
	}

	found := false
	for _, t := range group.Tracks {
		if t.ID == keepID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("track %d is not in group %s", keepID, group.FingerprintKey)
	}

	var (
		results []DeleteResult
		errs    []error
	)
	for _, t := range group.Tracks {
		if t.ID == keepID {
			continue
		}
		res, err := d.DeleteTrackFile(t.ID)
		if res == nil {
			res = &DeleteResult{TrackID: t.ID, FilePath: t.FilePath, Outcome: OutcomeFailed}
		}
		if err != nil {
			res.Error = err.Error()
			errs = append(errs, err)
		}
		results = append(results, *res)
	}
	return results, errors.Join(errs...)
}

func (d *Deleter) report(trackID int64, path string, outcome Outcome) {
	metrics.IncDeletion(string(outcome))
	d.hub.SendTrackDeleted(trackID, string(outcome))

	fields := []logger.Field{
		logger.Int64("track_id", trackID),
		logger.String("path", path),
		logger.String("outcome", string(outcome)),
	}
	switch outcome {
	case OutcomeDeleted, OutcomeAlreadyMissing:
		logger.Info("track file deleted", fields...)
	case OutcomeReconcile:
		logger.Error("track file removed but records remain", fields...)
	default:
		logger.Warn("track file not deleted", fields...)
	}
}
