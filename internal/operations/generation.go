// file: internal/operations/generation.go
// version: 1.1.0
// guid: 6b8d0f2a-4c5e-4d7f-a1b3-c5d7e9f1a3b5

package operations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ulid "github.com/oklog/ulid/v2"

	"github.com/jdfalk/dj-tagger/internal/config"
	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/fingerprint"
	"github.com/jdfalk/dj-tagger/internal/logger"
	"github.com/jdfalk/dj-tagger/internal/metrics"
	"github.com/jdfalk/dj-tagger/internal/realtime"
)

const opTypeFingerprint = "fingerprint"

// ErrAlreadyRunning is returned when a generation run is requested while one is active
var ErrAlreadyRunning = errors.New("fingerprint generation already running")

// ConfigError rejects a run request before any work starts
type ConfigError struct {
	Field  string
	Value  int
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %d: %s", e.Field, e.Value, e.Reason)
}

// RunHandle identifies an accepted generation run
type RunHandle struct {
	ID          string    `json:"run_id"`
	Total       int       `json:"total"`
	WorkerCount int       `json:"worker_count"`
	Overwrite   bool      `json:"overwrite"`
	StartedAt   time.Time `json:"started_at"`

	done chan struct{}
}

// Done is closed once every dispatched unit has finished
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Coordinator runs fingerprint generation over the catalog with bounded parallelism
type Coordinator struct {
	store       database.Store
	extractor   fingerprint.Extractor
	state       *GenerationState
	hub         *realtime.EventHub
	unitTimeout time.Duration
	now         func() time.Time

	// serializes Start so the running check and Begin cannot interleave
	startMu sync.Mutex
	// single-track generations in progress, guarded by startMu
	singles int

	runMu   sync.Mutex
	current *RunHandle
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithState injects the progress record (tests share one between coordinators)
func WithState(state *GenerationState) CoordinatorOption {
	return func(c *Coordinator) {
		if state != nil {
			c.state = state
		}
	}
}

// WithEventHub pushes progress snapshots to SSE clients
func WithEventHub(hub *realtime.EventHub) CoordinatorOption {
	return func(c *Coordinator) { c.hub = hub }
}

// WithUnitTimeout bounds each extraction on top of the extractor's own limit
func WithUnitTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.unitTimeout = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates a generation coordinator
func NewCoordinator(store database.Store, extractor fingerprint.Extractor, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:     store,
		extractor: extractor,
		state:     NewGenerationState(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns a snapshot of the current or most recent run
func (c *Coordinator) Status() GenerationStatus {
	return c.state.Snapshot()
}

// Errors returns the error log of the most recent run
func (c *Coordinator) Errors() []UnitError {
	errs, _ := c.state.Errors()
	return errs
}

// DroppedErrors is the number of failures beyond the retained error log
func (c *Coordinator) DroppedErrors() int {
	_, dropped := c.state.Errors()
	return dropped
}

// ProbeTool runs the extractor's availability probe
func (c *Coordinator) ProbeTool(ctx context.Context) error {
	return c.extractor.Probe(ctx)
}

// ToolAvailable probes the extractor
func (c *Coordinator) ToolAvailable(ctx context.Context) bool {
	return c.ProbeTool(ctx) == nil
}

// Start validates the request, selects the work set and launches the run in the background.
// The run outlives ctx; use RequestStop to end it early.
func (c *Coordinator) Start(ctx context.Context, workerCount int, overwrite bool) (*RunHandle, error) {
	if workerCount < config.MinWorkers || workerCount > config.MaxWorkers {
		return nil, &ConfigError{
			Field:  "worker_count",
			Value:  workerCount,
			Reason: fmt.Sprintf("must be between %d and %d", config.MinWorkers, config.MaxWorkers),
		}
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.state.Snapshot().IsGenerating || c.singles > 0 {
		return nil, ErrAlreadyRunning
	}

	if err := c.probe(ctx); err != nil {
		return nil, fmt.Errorf("start fingerprint generation: %w", err)
	}

	work, err := c.workSet(overwrite)
	if err != nil {
		return nil, fmt.Errorf("start fingerprint generation: %w", err)
	}

	startedAt := c.now()
	handle := &RunHandle{
		ID:          ulid.Make().String(),
		Total:       len(work),
		WorkerCount: workerCount,
		Overwrite:   overwrite,
		StartedAt:   startedAt,
		done:        make(chan struct{}),
	}
	if !c.state.Begin(handle.ID, handle.Total, workerCount, overwrite, startedAt) {
		return nil, ErrAlreadyRunning
	}

	c.runMu.Lock()
	c.current = handle
	c.runMu.Unlock()

	logger.Info("fingerprint generation started",
		logger.String("run_id", handle.ID),
		logger.Int("total", handle.Total),
		logger.Int("workers", workerCount),
		logger.Bool("overwrite", overwrite))
	metrics.IncOperationStarted(opTypeFingerprint)
	c.hub.SendFingerprintStatus(handle.ID, "started", map[string]interface{}{
		"total":        handle.Total,
		"worker_count": workerCount,
		"overwrite":    overwrite,
	})

	if len(work) == 0 {
		c.finish(handle)
		return handle, nil
	}

	go c.run(context.WithoutCancel(ctx), handle, work)
	return handle, nil
}

// probe runs the availability check. Any failure other than a canceled
// caller is reported as ErrToolUnavailable.
func (c *Coordinator) probe(ctx context.Context) error {
	err := c.extractor.Probe(ctx)
	if err == nil || fingerprint.KindOf(err) == fingerprint.KindCanceled {
		return err
	}
	if !errors.Is(err, fingerprint.ErrToolUnavailable) {
		err = fmt.Errorf("%w: %v", fingerprint.ErrToolUnavailable, err)
	}
	logger.Error("fingerprint tool unavailable", logger.Err(err))
	return err
}

// GenerateTrack fingerprints one track synchronously and stores the record,
// replacing any existing one. It is rejected with ErrAlreadyRunning while a
// batch run is generating, and a batch run cannot start until it returns.
func (c *Coordinator) GenerateTrack(ctx context.Context, trackID int64) (*database.FingerprintRecord, error) {
	c.startMu.Lock()
	if c.state.Snapshot().IsGenerating {
		c.startMu.Unlock()
		return nil, ErrAlreadyRunning
	}
	c.singles++
	c.startMu.Unlock()
	defer func() {
		c.startMu.Lock()
		c.singles--
		c.startMu.Unlock()
	}()

	if err := c.probe(ctx); err != nil {
		return nil, fmt.Errorf("generate fingerprint for track %d: %w", trackID, err)
	}

	track, err := c.store.GetTrackByID(trackID)
	if err != nil {
		return nil, fmt.Errorf("load track %d: %w", trackID, err)
	}
	if track == nil {
		return nil, fmt.Errorf("generate fingerprint for track %d: %w", trackID, database.ErrTrackNotFound)
	}

	if c.unitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.unitTimeout)
		defer cancel()
	}

	begin := time.Now()
	res, err := c.extractor.Extract(ctx, track.FilePath)
	metrics.ObserveExtractionDuration(time.Since(begin))
	if err != nil {
		kind := string(fingerprint.KindOf(err))
		if kind == "" {
			kind = "extract"
		}
		metrics.IncExtraction(kind)
		logger.Warn("single track fingerprint failed",
			logger.Int64("track_id", track.ID),
			logger.String("path", track.FilePath),
			logger.String("kind", kind),
			logger.Err(err))
		return nil, fmt.Errorf("generate fingerprint for track %d: %w", trackID, err)
	}

	rec := &database.FingerprintRecord{
		TrackID:     track.ID,
		Fingerprint: res.Fingerprint,
		Duration:    res.Duration,
		GeneratedAt: c.now(),
		FileSize:    track.FileSize,
		FileModTime: track.FileModTime,
	}
	if err := c.store.UpsertFingerprint(rec); err != nil {
		metrics.IncExtraction("store")
		return nil, fmt.Errorf("store fingerprint for track %d: %w", trackID, err)
	}

	metrics.IncExtraction("success")
	logger.Info("track fingerprinted",
		logger.Int64("track_id", track.ID),
		logger.String("path", track.FilePath),
		logger.Float64("duration", res.Duration))
	return rec, nil
}

// workSet returns every track when overwriting, otherwise the tracks without a record
func (c *Coordinator) workSet(overwrite bool) ([]database.Track, error) {
	tracks, err := c.store.GetAllTracks()
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	if overwrite {
		return tracks, nil
	}

	records, err := c.store.GetAllFingerprints()
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	work := make([]database.Track, 0, len(tracks))
	for _, track := range tracks {
		if _, ok := records[track.ID]; !ok {
			work = append(work, track)
		}
	}
	return work, nil
}

func (c *Coordinator) run(ctx context.Context, handle *RunHandle, work []database.Track) {
	semaphore := make(chan struct{}, handle.WorkerCount)
	var wg sync.WaitGroup

	for i := range work {
		if c.state.CancelRequested() {
			break
		}
		semaphore <- struct{}{}
		if c.state.CancelRequested() {
			<-semaphore
			break
		}

		wg.Add(1)
		go func(track database.Track) {
			defer wg.Done()
			defer func() { <-semaphore }()
			c.processTrack(ctx, handle.ID, track)
		}(work[i])
	}

	wg.Wait()
	c.finish(handle)
}

func (c *Coordinator) processTrack(ctx context.Context, runID string, track database.Track) {
	metrics.WorkerBusy()
	defer metrics.WorkerIdle()

	if c.unitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.unitTimeout)
		defer cancel()
	}

	begin := time.Now()
	res, err := c.extractor.Extract(ctx, track.FilePath)
	metrics.ObserveExtractionDuration(time.Since(begin))
	if err != nil {
		kind := string(fingerprint.KindOf(err))
		if kind == "" {
			kind = "extract"
		}
		c.recordFailure(runID, track, kind, err)
		return
	}

	rec := &database.FingerprintRecord{
		TrackID:     track.ID,
		Fingerprint: res.Fingerprint,
		Duration:    res.Duration,
		GeneratedAt: c.now(),
		FileSize:    track.FileSize,
		FileModTime: track.FileModTime,
	}
	if err := c.store.UpsertFingerprint(rec); err != nil {
		c.recordFailure(runID, track, "store", err)
		return
	}

	metrics.IncExtraction("success")
	status := c.state.RecordSuccess()
	c.hub.SendFingerprintProgress(runID, status.Processed, status.Failed, status.Total)
}

func (c *Coordinator) recordFailure(runID string, track database.Track, kind string, err error) {
	logger.Warn("fingerprint failed",
		logger.String("run_id", runID),
		logger.Int64("track_id", track.ID),
		logger.String("path", track.FilePath),
		logger.String("kind", kind),
		logger.Err(err))
	metrics.IncExtraction(kind)

	status := c.state.RecordFailure(UnitError{
		TrackID:  track.ID,
		FilePath: track.FilePath,
		Kind:     kind,
		Message:  err.Error(),
		At:       c.now(),
	})
	c.hub.SendFingerprintError(runID, track.ID, track.FilePath, kind, err.Error())
	c.hub.SendFingerprintProgress(runID, status.Processed, status.Failed, status.Total)
}

func (c *Coordinator) finish(handle *RunHandle) {
	final := c.state.Finish(c.now())
	close(handle.done)

	outcome := "completed"
	if final.CancelRequested {
		outcome = "canceled"
		metrics.IncOperationCanceled(opTypeFingerprint)
	} else {
		metrics.IncOperationCompleted(opTypeFingerprint)
	}
	elapsed := time.Duration(0)
	if final.StartedAt != nil && final.FinishedAt != nil {
		elapsed = final.FinishedAt.Sub(*final.StartedAt)
	}
	metrics.ObserveOperationDuration(opTypeFingerprint, elapsed)
	if n, err := c.store.CountFingerprints(); err == nil {
		metrics.SetFingerprints(n)
	}

	logger.Info("fingerprint generation finished",
		logger.String("run_id", handle.ID),
		logger.String("outcome", outcome),
		logger.Int("processed", final.Processed),
		logger.Int("failed", final.Failed),
		logger.Int("total", final.Total),
		logger.Duration("elapsed", elapsed))
	c.hub.SendFingerprintStatus(handle.ID, outcome, map[string]interface{}{
		"processed": final.Processed,
		"failed":    final.Failed,
		"total":     final.Total,
	})
}

// RequestStop asks the active run to stop dispatching new work.
// In-flight extractions finish on their own. No-op when idle.
func (c *Coordinator) RequestStop() bool {
	if !c.state.RequestCancel() {
		return false
	}
	logger.Info("fingerprint generation stop requested", logger.String("run_id", c.state.Snapshot().RunID))
	return true
}

// Shutdown requests a stop and waits up to timeout for the run to drain
func (c *Coordinator) Shutdown(timeout time.Duration) error {
	c.RequestStop()

	c.runMu.Lock()
	handle := c.current
	c.runMu.Unlock()
	if handle == nil {
		return nil
	}

	select {
	case <-handle.Done():
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}
