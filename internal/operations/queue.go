// file: internal/operations/queue.go
// version: 2.0.0
// guid: 7d6e5f4a-3c2b-1a09-8f7e-6d5c4b3a2190

package operations

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jdfalk/dj-tagger/internal/logger"
	"github.com/jdfalk/dj-tagger/internal/metrics"
	"github.com/jdfalk/dj-tagger/internal/realtime"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is shut down")
)

// JobStatus is the lifecycle state of a background job
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

const (
	pendingCapacity = 100
	maxFinishedJobs = 100
)

// JobFunc is the body of a background job. The returned value is kept as the job result.
type JobFunc func(ctx context.Context, progress ProgressReporter) (any, error)

// ProgressReporter allows jobs to report their progress
type ProgressReporter interface {
	UpdateProgress(current, total int, message string)
	IsCanceled() bool
}

// ProgressListener receives progress updates
type ProgressListener func(jobID string, progress JobProgress)

// JobProgress represents the current position of a running job
type JobProgress struct {
	Current int
	Total   int
	Message string
}

// Job is a snapshot of a background job
type Job struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Status     JobStatus  `json:"status"`
	Current    int        `json:"current"`
	Total      int        `json:"total"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	Result     any        `json:"result,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (j Job) finished() bool {
	return j.Status == JobCompleted || j.Status == JobFailed || j.Status == JobCanceled
}

type queuedJob struct {
	job    Job
	fn     JobFunc
	ctx    context.Context
	cancel context.CancelFunc
}

// JobQueue runs library maintenance jobs (imports, bulk deletions) on a fixed set of
// workers and keeps their status in memory for polling.
type JobQueue struct {
	mu        sync.RWMutex
	jobs      map[string]*queuedJob
	pending   chan *queuedJob
	workers   int
	hub       *realtime.EventHub
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	listeners map[string][]ProgressListener
}

// NewJobQueue creates a queue and starts its workers
func NewJobQueue(workers int, hub *realtime.EventHub) *JobQueue {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &JobQueue{
		jobs:      make(map[string]*queuedJob),
		pending:   make(chan *queuedJob, pendingCapacity),
		workers:   workers,
		hub:       hub,
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string][]ProgressListener),
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	return q
}

// Enqueue schedules fn and returns the new job id
func (q *JobQueue) Enqueue(jobType string, fn JobFunc) (string, error) {
	if q.ctx.Err() != nil {
		return "", ErrQueueClosed
	}

	ctx, cancel := context.WithCancel(q.ctx)
	qj := &queuedJob{
		job: Job{
			ID:        ulid.Make().String(),
			Type:      jobType,
			Status:    JobQueued,
			CreatedAt: time.Now(),
		},
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
	}

	q.mu.Lock()
	select {
	case q.pending <- qj:
		q.jobs[qj.job.ID] = qj
		q.pruneLocked()
		q.mu.Unlock()
	default:
		q.mu.Unlock()
		cancel()
		return "", ErrQueueFull
	}

	logger.Info("job queued", logger.String("job_id", qj.job.ID), logger.String("type", jobType))
	q.hub.SendJobStatus(qj.job.ID, jobType, string(JobQueued), nil)
	return qj.job.ID, nil
}

// Get returns a snapshot of a job
func (q *JobQueue) Get(id string) (Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	qj, ok := q.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return qj.job, nil
}

// List returns snapshots of all known jobs, oldest first
func (q *JobQueue) List() []Job {
	q.mu.RLock()
	jobs := make([]Job, 0, len(q.jobs))
	for _, qj := range q.jobs {
		jobs = append(jobs, qj.job)
	}
	q.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Cancel cancels a queued or running job. Canceling a finished job is a no-op.
func (q *JobQueue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	qj, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if qj.job.finished() {
		return nil
	}
	qj.cancel()
	logger.Info("job cancel requested", logger.String("job_id", id))
	return nil
}

// AddListener adds a progress listener for a job
func (q *JobQueue) AddListener(jobID string, listener ProgressListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners[jobID] = append(q.listeners[jobID], listener)
}

// RemoveListeners removes all listeners for a job
func (q *JobQueue) RemoveListeners(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.listeners, jobID)
}

func (q *JobQueue) notifyListeners(jobID string, progress JobProgress) {
	q.mu.RLock()
	listeners := q.listeners[jobID]
	q.mu.RUnlock()

	for _, listener := range listeners {
		go listener(jobID, progress)
	}
}

// pruneLocked drops the oldest finished jobs beyond maxFinishedJobs
func (q *JobQueue) pruneLocked() {
	var finished []*queuedJob
	for _, qj := range q.jobs {
		if qj.job.finished() {
			finished = append(finished, qj)
		}
	}
	if len(finished) <= maxFinishedJobs {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].job.ID < finished[j].job.ID })
	for _, qj := range finished[:len(finished)-maxFinishedJobs] {
		delete(q.jobs, qj.job.ID)
	}
}

func (q *JobQueue) update(qj *queuedJob, mutate func(*Job)) Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	mutate(&qj.job)
	return qj.job
}

func (q *JobQueue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			q.drainCanceled()
			return
		case qj := <-q.pending:
			q.execute(id, qj)
		}
	}
}

func (q *JobQueue) execute(workerID int, qj *queuedJob) {
	jobType := qj.job.Type

	if qj.ctx.Err() != nil {
		q.markCanceled(qj)
		return
	}

	start := time.Now()
	q.update(qj, func(j *Job) {
		j.Status = JobRunning
		j.StartedAt = &start
	})
	metrics.IncOperationStarted(jobType)
	q.hub.SendJobStatus(qj.job.ID, jobType, string(JobRunning), nil)
	logger.Info("job started",
		logger.String("job_id", qj.job.ID),
		logger.String("type", jobType),
		logger.Int("worker", workerID))

	reporter := &jobProgressReporter{queue: q, qj: qj}
	result, err := qj.fn(qj.ctx, reporter)

	finished := time.Now()
	switch {
	case qj.ctx.Err() != nil || errors.Is(err, context.Canceled):
		snap := q.update(qj, func(j *Job) {
			j.Status = JobCanceled
			j.Result = result
			j.FinishedAt = &finished
		})
		metrics.IncOperationCanceled(jobType)
		q.hub.SendJobStatus(snap.ID, jobType, string(JobCanceled), map[string]interface{}{
			"current": snap.Current,
			"total":   snap.Total,
		})
		logger.Info("job canceled", logger.String("job_id", snap.ID))
	case err != nil:
		snap := q.update(qj, func(j *Job) {
			j.Status = JobFailed
			j.Error = err.Error()
			j.Result = result
			j.FinishedAt = &finished
		})
		metrics.IncOperationFailed(jobType)
		q.hub.SendJobStatus(snap.ID, jobType, string(JobFailed), map[string]interface{}{
			"error": err.Error(),
		})
		logger.Warn("job failed", logger.String("job_id", snap.ID), logger.Err(err))
	default:
		snap := q.update(qj, func(j *Job) {
			j.Status = JobCompleted
			j.Result = result
			j.FinishedAt = &finished
		})
		metrics.IncOperationCompleted(jobType)
		q.hub.SendJobStatus(snap.ID, jobType, string(JobCompleted), map[string]interface{}{
			"current": snap.Current,
			"total":   snap.Total,
		})
		logger.Info("job completed", logger.String("job_id", snap.ID), logger.Duration("elapsed", finished.Sub(start)))
	}

	metrics.ObserveOperationDuration(jobType, finished.Sub(start))
	qj.cancel()
	q.RemoveListeners(qj.job.ID)
}

func (q *JobQueue) markCanceled(qj *queuedJob) {
	now := time.Now()
	snap := q.update(qj, func(j *Job) {
		j.Status = JobCanceled
		j.FinishedAt = &now
	})
	metrics.IncOperationCanceled(snap.Type)
	q.hub.SendJobStatus(snap.ID, snap.Type, string(JobCanceled), nil)
	q.RemoveListeners(snap.ID)
}

// drainCanceled marks jobs still waiting in the channel as canceled
func (q *JobQueue) drainCanceled() {
	for {
		select {
		case qj := <-q.pending:
			q.markCanceled(qj)
		default:
			return
		}
	}
}

// Shutdown cancels all jobs and waits for workers to exit
func (q *JobQueue) Shutdown(timeout time.Duration) error {
	logger.Info("shutting down job queue")
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("job queue shutdown timeout after %v", timeout)
	}
}

// jobProgressReporter implements ProgressReporter
type jobProgressReporter struct {
	queue *JobQueue
	qj    *queuedJob
}

func (r *jobProgressReporter) UpdateProgress(current, total int, message string) {
	r.queue.update(r.qj, func(j *Job) {
		j.Current = current
		j.Total = total
		j.Message = message
	})

	r.queue.notifyListeners(r.qj.job.ID, JobProgress{
		Current: current,
		Total:   total,
		Message: message,
	})
	r.queue.hub.SendJobProgress(r.qj.job.ID, current, total, message)
}

func (r *jobProgressReporter) IsCanceled() bool {
	return r.qj.ctx.Err() != nil
}
