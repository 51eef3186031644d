// file: internal/operations/state.go
// version: 2.0.0
// guid: a1b2c3d4-e5f6-7890-abcd-ef1234567890

package operations

import (
	"sync"
	"time"
)

// MaxUnitErrors bounds the per-run error log
const MaxUnitErrors = 1000

// GenerationStatus is a point-in-time snapshot of a fingerprint generation run
type GenerationStatus struct {
	RunID           string     `json:"run_id,omitempty"`
	IsGenerating    bool       `json:"is_generating"`
	Total           int        `json:"total"`
	Processed       int        `json:"processed"`
	Failed          int        `json:"failed"`
	CancelRequested bool       `json:"cancel_requested"`
	WorkerCount     int        `json:"worker_count"`
	Overwrite       bool       `json:"overwrite"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// Remaining is the number of work units not yet finished
func (s GenerationStatus) Remaining() int {
	return s.Total - s.Processed - s.Failed
}

// UnitError records one track that could not be fingerprinted
type UnitError struct {
	TrackID  int64     `json:"track_id"`
	FilePath string    `json:"file_path"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// GenerationState is the single owner of generation progress.
// All mutation goes through its methods; readers only ever see copies.
type GenerationState struct {
	mu     sync.Mutex
	status GenerationStatus
	errors []UnitError
	// errors past MaxUnitErrors are counted but not kept
	droppedErrors int
}

// NewGenerationState returns an idle state
func NewGenerationState() *GenerationState {
	return &GenerationState{}
}

// Snapshot returns a consistent copy of the current status
func (s *GenerationState) Snapshot() GenerationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Errors returns a copy of the latest run's error log and how many entries were dropped
func (s *GenerationState) Errors() ([]UnitError, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UnitError, len(s.errors))
	copy(out, s.errors)
	return out, s.droppedErrors
}

// Begin starts a new run. It returns false without touching anything if a run is active.
func (s *GenerationState) Begin(runID string, total, workers int, overwrite bool, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsGenerating {
		return false
	}
	started := now
	s.status = GenerationStatus{
		RunID:        runID,
		IsGenerating: true,
		Total:        total,
		WorkerCount:  workers,
		Overwrite:    overwrite,
		StartedAt:    &started,
	}
	s.errors = nil
	s.droppedErrors = 0
	return true
}

// RecordSuccess counts one fingerprinted track
func (s *GenerationState) RecordSuccess() GenerationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsGenerating && s.status.Processed+s.status.Failed < s.status.Total {
		s.status.Processed++
	}
	return s.status
}

// RecordFailure counts one failed track and appends it to the error log
func (s *GenerationState) RecordFailure(ue UnitError) GenerationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.IsGenerating || s.status.Processed+s.status.Failed >= s.status.Total {
		return s.status
	}
	s.status.Failed++
	if len(s.errors) < MaxUnitErrors {
		s.errors = append(s.errors, ue)
	} else {
		s.droppedErrors++
	}
	return s.status
}

// RequestCancel raises the cancel flag if a run is active. Returns whether it did.
func (s *GenerationState) RequestCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.IsGenerating {
		return false
	}
	s.status.CancelRequested = true
	return true
}

// CancelRequested reports whether the active run should stop dispatching
func (s *GenerationState) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.CancelRequested
}

// Finish ends the run and freezes its counters
func (s *GenerationState) Finish(now time.Time) GenerationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsGenerating {
		finished := now
		s.status.IsGenerating = false
		s.status.FinishedAt = &finished
	}
	return s.status
}
