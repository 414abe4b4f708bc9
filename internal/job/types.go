package job

import (
	"context"
	"encoding/json"
	"time"
)

// JobType represents the kind of job
type JobType string

const (
	JobPostprocess JobType = "postprocess"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Job is a queued task over a stored run.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Status      JobStatus       `json:"status"`
	RunID       string          `json:"run_id"`
	Params      json.RawMessage `json:"params"`
	Progress    float64         `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// PostprocessParams are parameters for a post-processing job
type PostprocessParams struct {
	Mode              string `json:"mode"`               // clean, summary, atlas_codebook, ...
	Provider          string `json:"provider,omitempty"` // "openai" or "gemini"; empty uses the configured default
	Model             string `json:"model,omitempty"`
	Language          string `json:"language,omitempty"`
	IncludeTimestamps bool   `json:"include_timestamps"`
	// Text replaces the stored transcript, e.g. after manual edits.
	Text string `json:"text,omitempty"`
}

// PostprocessResult is the output of a successful post-processing job
type PostprocessResult struct {
	Mode     string  `json:"mode"`
	Provider string  `json:"provider"`
	Text     string  `json:"text"`
	Duration float64 `json:"duration"` // processing time in seconds
}

// JobHandler processes a job and returns its JSON-serializable result.
type JobHandler func(ctx context.Context, job *Job, updateProgress func(float64)) (any, error)
