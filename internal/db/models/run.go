package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run is one stored transcription run.
type Run struct {
	ID          string          `json:"id"`
	FileName    string          `json:"file_name"`
	Engine      string          `json:"engine"`
	Language    string          `json:"language"`
	Options     json.RawMessage `json:"options,omitempty"`
	Title       string          `json:"title,omitempty"`  // from embedded tags
	Artist      string          `json:"artist,omitempty"` // from embedded tags
	Status      RunStatus       `json:"status"`
	Error       string          `json:"error,omitempty"`
	Results     int             `json:"results"`
	Degraded    bool            `json:"degraded"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RunChunk is one streamed result of a run, stored in stream order.
type RunChunk struct {
	RunID     string          `json:"run_id"`
	Index     int             `json:"index"`
	Chunk     int             `json:"chunk"`
	Window    int             `json:"window,omitempty"`
	Kind      string          `json:"kind"`
	Start     float64         `json:"start"`
	End       float64         `json:"end"`
	Text      string          `json:"text"`
	Segments  json.RawMessage `json:"segments,omitempty"`
	PostMode  string          `json:"post_mode,omitempty"`
	PostText  string          `json:"post_text,omitempty"`
	PostError string          `json:"post_error,omitempty"`
}
