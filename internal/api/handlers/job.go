package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/audio-scribe/backend/internal/job"
	"github.com/go-chi/chi/v5"
)

type JobHandler struct {
	queue *job.JobQueue
}

func NewJobHandler(queue *job.JobQueue) *JobHandler {
	return &JobHandler{queue: queue}
}

// ListJobs returns all jobs, or those of one run with ?run_id=
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.ListJobs(r.URL.Query().Get("run_id"))
	if err != nil {
		jsonError(w, "failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, jobs, http.StatusOK)
}

// ListRunJobs returns the jobs of the run in the URL.
func (h *JobHandler) ListRunJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.ListJobs(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "failed to list jobs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, jobs, http.StatusOK)
}

// GetJob returns a single job by ID
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, "missing job ID", http.StatusBadRequest)
		return
	}

	j, err := h.queue.GetJob(id)
	if err != nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, j, http.StatusOK)
}

// CancelJob cancels a pending or running job
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, "missing job ID", http.StatusBadRequest)
		return
	}
	if _, err := h.queue.GetJob(id); err != nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}

	if err := h.queue.CancelJob(id); err != nil {
		jsonError(w, "failed to cancel job: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RetryJob re-queues a failed or cancelled job
func (h *JobHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, "missing job ID", http.StatusBadRequest)
		return
	}

	if err := h.queue.RetryJob(id); err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			jsonError(w, "job not found", http.StatusNotFound)
		case errors.Is(err, job.ErrNotRetryable):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			jsonError(w, "failed to retry job: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	jsonResponse(w, map[string]string{"status": "retrying"}, http.StatusOK)
}
