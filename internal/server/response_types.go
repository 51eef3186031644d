// file: internal/server/response_types.go
// version: 2.1.0
// guid: 7f8a9b0c-1d2e-3f4a-5b6c-7d8e9f0a1b2c

package server

import (
	"time"

	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/duplicates"
	"github.com/jdfalk/dj-tagger/internal/fileops"
	"github.com/jdfalk/dj-tagger/internal/operations"
)

// PaginationParams holds parsed limit/offset/search query parameters
type PaginationParams struct {
	Limit  int
	Offset int
	Search string
}

// ListResponse provides a consistent format for paginated list responses
type ListResponse struct {
	Items  any `json:"items"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// NewListResponse creates a list response, replacing a nil slice with an empty one
func NewListResponse[T any](items []T, limit, offset, total int) ListResponse {
	if items == nil {
		items = []T{}
	}
	return ListResponse{
		Items:  items,
		Count:  len(items),
		Limit:  limit,
		Offset: offset,
		Total:  total,
	}
}

// MessageResponse provides a consistent format for status messages
type MessageResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// FingerprintStatusResponse is the generation snapshot plus catalog coverage
type FingerprintStatusResponse struct {
	operations.GenerationStatus
	ToolAvailable       bool   `json:"tool_available"`
	ToolStatus          string `json:"tool_status"`
	TotalTracks         int    `json:"total_tracks"`
	FingerprintedTracks int    `json:"fingerprinted_tracks"`
	ErrorCount          int    `json:"error_count"`
}

// Values of FingerprintStatusResponse.ToolStatus
const (
	ToolStatusAvailable   = "available"
	ToolStatusUnavailable = "unavailable"
	// no probe has finished yet
	ToolStatusUnknown = "unknown"
)

// GenerateRequest starts a fingerprint run; a missing worker_count uses the configured default
type GenerateRequest struct {
	WorkerCount *int `json:"worker_count"`
	Overwrite   bool `json:"overwrite"`
}

// TrackFingerprintResponse is the record produced by a single-track generation
type TrackFingerprintResponse struct {
	TrackID        int64     `json:"track_id"`
	Fingerprint    string    `json:"fingerprint"`
	FingerprintKey string    `json:"fingerprint_key"`
	Duration       float64   `json:"duration"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// UnitErrorsResponse lists per-track failures of the latest run
type UnitErrorsResponse struct {
	Items   []operations.UnitError `json:"items"`
	Count   int                    `json:"count"`
	Dropped int                    `json:"dropped"`
}

// DuplicatesResponse lists duplicate groups with totals
type DuplicatesResponse struct {
	Groups  []duplicates.Group `json:"groups"`
	Summary duplicates.Summary `json:"summary"`
}

// ResolveRequest selects the track to keep when resolving a duplicate group; 0 keeps the canonical one
type ResolveRequest struct {
	KeepTrackID int64 `json:"keep_track_id"`
}

// ResolveResponse reports what happened to each removed duplicate
type ResolveResponse struct {
	FingerprintKey string                 `json:"fingerprint_key"`
	KeptTrackID    int64                  `json:"kept_track_id"`
	Results        []fileops.DeleteResult `json:"results"`
}

// TrackResponse is a track with its fingerprint record, if any
type TrackResponse struct {
	database.Track
	Fingerprint *database.FingerprintRecord `json:"fingerprint,omitempty"`
	Stale       bool                        `json:"stale"`
}

// ImportRequest starts a library import job; an empty root uses the configured music dir
type ImportRequest struct {
	Root    string `json:"root"`
	Workers int    `json:"workers"`
}

// JobAcceptedResponse is returned when a background job is queued
type JobAcceptedResponse struct {
	JobID string `json:"job_id"`
	Type  string `json:"type"`
}
