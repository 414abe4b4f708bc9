package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNotRetryable is returned by RetryJob for jobs that are not failed or
// cancelled.
var ErrNotRetryable = errors.New("job is not failed or cancelled")

const pollInterval = 30 * time.Second

// JobQueue manages job persistence and dispatching
type JobQueue struct {
	db       *sql.DB
	mu       sync.RWMutex
	pending  chan string // job IDs to process
	cancels  map[string]context.CancelFunc
	handlers map[JobType]JobHandler
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	onUpdate func(*Job)
}

// QueueOption configures a JobQueue.
type QueueOption func(*JobQueue)

// WithUpdateHook is called after every state change of a job (progress
// included) with a fresh copy of it.
func WithUpdateHook(fn func(*Job)) QueueOption {
	return func(q *JobQueue) { q.onUpdate = fn }
}

// WithHandler registers a handler before the worker starts, so jobs
// resumed from a previous process find it.
func WithHandler(jobType JobType, handler JobHandler) QueueOption {
	return func(q *JobQueue) { q.handlers[jobType] = handler }
}

// NewJobQueue creates and starts a new job queue
func NewJobQueue(db *sql.DB, opts ...QueueOption) *JobQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &JobQueue{
		db:       db,
		pending:  make(chan string, 100),
		cancels:  make(map[string]context.CancelFunc),
		handlers: make(map[JobType]JobHandler),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}

	// Jobs left running by a previous process go back to pending
	q.db.Exec("UPDATE jobs SET status = ? WHERE status = ?", StatusPending, StatusRunning)

	go q.worker()
	return q
}

// RegisterHandler registers a handler for a job type
func (q *JobQueue) RegisterHandler(jobType JobType, handler JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

// Enqueue creates a new job and adds it to the queue
func (q *JobQueue) Enqueue(jobType JobType, runID string, params any) (*Job, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	job := &Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Status:    StatusPending,
		RunID:     runID,
		Params:    paramsJSON,
		Progress:  0,
		CreatedAt: time.Now(),
	}

	_, err = q.db.Exec(`
		INSERT INTO jobs (id, type, status, run_id, params, progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Status, job.RunID, string(job.Params), job.Progress, job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	q.notify(job.ID)
	q.push(job.ID)
	return job, nil
}

func (q *JobQueue) push(id string) {
	select {
	case q.pending <- id:
	default:
		log.Warn().Str("job", id).Msg("[job] Queue full, job will be picked up on next poll")
	}
}

const jobColumns = `id, type, status, run_id, params, progress, result, error, created_at, started_at, completed_at`

func scanJob(s interface{ Scan(...any) error }) (*Job, error) {
	job := &Job{}
	var params, result, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	if err := s.Scan(&job.ID, &job.Type, &job.Status, &job.RunID, &params, &job.Progress,
		&result, &errMsg, &job.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	if params.Valid {
		job.Params = json.RawMessage(params.String)
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

// GetJob retrieves a job by ID
func (q *JobQueue) GetJob(id string) (*Job, error) {
	return scanJob(q.db.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
}

// ListJobs returns jobs newest first, optionally only those of one run.
func (q *JobQueue) ListJobs(runID string) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	var args []any
	if runID != "" {
		query += " WHERE run_id = ?"
		args = append(args, runID)
	}
	rows, err := q.db.Query(query+" ORDER BY created_at DESC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CancelJob cancels a pending or running job
func (q *JobQueue) CancelJob(id string) error {
	// Mark first so a handler returning on cancellation cannot fail the job.
	_, err := q.db.Exec(`
		UPDATE jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		StatusCancelled, time.Now(), id, StatusPending, StatusRunning,
	)
	if err != nil {
		return err
	}

	q.mu.Lock()
	if cancelFn, ok := q.cancels[id]; ok {
		cancelFn()
		delete(q.cancels, id)
	}
	q.mu.Unlock()

	q.notify(id)
	return nil
}

// RetryJob re-queues a failed or cancelled job
func (q *JobQueue) RetryJob(id string) error {
	res, err := q.db.Exec(`
		UPDATE jobs SET status = ?, progress = 0, result = NULL, error = NULL, started_at = NULL, completed_at = NULL
		WHERE id = ? AND status IN (?, ?)`,
		StatusPending, id, StatusFailed, StatusCancelled,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := q.GetJob(id); err != nil {
			return err
		}
		return ErrNotRetryable
	}
	q.push(id)
	q.notify(id)
	return nil
}

// UpdateProgress updates the progress of a running job
func (q *JobQueue) UpdateProgress(id string, progress float64) {
	q.db.Exec("UPDATE jobs SET progress = ? WHERE id = ?", progress, id)
	q.notify(id)
}

// Stop shuts down the queue and waits for the worker to exit. A running
// job is cancelled and goes back to pending on the next start.
func (q *JobQueue) Stop() {
	q.cancel()
	<-q.done
}

// worker processes jobs from the pending channel one at a time
func (q *JobQueue) worker() {
	defer close(q.done)

	q.resumeJobs()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case jobID := <-q.pending:
			q.processJob(jobID)
		case <-ticker.C:
			if len(q.pending) == 0 {
				q.resumeJobs()
			}
		}
	}
}

// processJob runs a single job
func (q *JobQueue) processJob(jobID string) {
	job, err := q.GetJob(jobID)
	if err != nil {
		log.Error().Err(err).Str("job", jobID).Msg("[job] Failed to load job")
		return
	}

	// Skip if not pending
	if job.Status != StatusPending {
		return
	}

	q.mu.RLock()
	handler, ok := q.handlers[job.Type]
	q.mu.RUnlock()

	if !ok {
		q.failJob(job, fmt.Sprintf("no handler for job type: %s", job.Type))
		return
	}

	now := time.Now()
	job.StartedAt = &now
	job.Status = StatusRunning
	res, err := q.db.Exec("UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		StatusRunning, now, job.ID, StatusPending)
	if err != nil {
		log.Error().Err(err).Str("job", job.ID).Msg("[job] Failed to start job")
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return // cancelled meanwhile
	}
	q.notify(job.ID)
	log.Info().Str("job", job.ID).Str("type", string(job.Type)).Str("run", job.RunID).Msg("[job] Started")

	ctx, cancelFn := context.WithCancel(q.ctx)
	q.mu.Lock()
	q.cancels[job.ID] = cancelFn
	q.mu.Unlock()

	updateProgress := func(progress float64) {
		q.UpdateProgress(job.ID, progress)
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler(ctx, job, updateProgress)
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		if q.ctx.Err() != nil {
			// Shutdown: leave the job for the next start.
			q.db.Exec("UPDATE jobs SET status = ? WHERE id = ? AND status = ?", StatusPending, job.ID, StatusRunning)
			log.Info().Str("job", job.ID).Msg("[job] Interrupted by shutdown")
		} else {
			log.Info().Str("job", job.ID).Msg("[job] Cancelled")
		}
	case o := <-done:
		if o.err != nil {
			q.failJob(job, o.err.Error())
		} else {
			q.completeJob(job, o.result)
		}
	}

	q.mu.Lock()
	delete(q.cancels, job.ID)
	q.mu.Unlock()
	cancelFn()
}

func (q *JobQueue) completeJob(job *Job, result any) {
	var resultJSON any
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			q.failJob(job, fmt.Sprintf("marshal result: %v", err))
			return
		}
		resultJSON = string(b)
	}
	q.db.Exec("UPDATE jobs SET status = ?, progress = 1.0, result = ?, completed_at = ? WHERE id = ? AND status = ?",
		StatusCompleted, resultJSON, time.Now(), job.ID, StatusRunning)
	q.notify(job.ID)
	log.Info().Str("job", job.ID).Msg("[job] Completed")
}

func (q *JobQueue) failJob(job *Job, errMsg string) {
	q.db.Exec("UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)",
		StatusFailed, errMsg, time.Now(), job.ID, StatusPending, StatusRunning)
	q.notify(job.ID)
	log.Warn().Str("job", job.ID).Str("error", errMsg).Msg("[job] Failed")
}

func (q *JobQueue) notify(id string) {
	if q.onUpdate == nil {
		return
	}
	job, err := q.GetJob(id)
	if err != nil {
		return
	}
	q.onUpdate(job)
}

// resumeJobs queues pending jobs found in the DB, oldest first
func (q *JobQueue) resumeJobs() {
	rows, err := q.db.Query("SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC", StatusPending)
	if err != nil {
		log.Error().Err(err).Msg("[job] Failed to resume jobs")
		return
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	count := 0
	for _, id := range ids {
		select {
		case q.pending <- id:
			count++
		default:
		}
	}
	if count > 0 {
		log.Info().Int("count", count).Msg("[job] Resumed pending jobs")
	}
}
