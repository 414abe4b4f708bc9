package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/audio-scribe/backend/internal/db"
	"github.com/audio-scribe/backend/internal/job"
	"github.com/audio-scribe/backend/internal/metrics"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/go-chi/chi/v5"
)

type PostprocessHandler struct {
	service   *postprocess.Service
	providers ProviderFactory
	queue     *job.JobQueue
	database  *db.Database
	metrics   *metrics.Metrics
}

func NewPostprocessHandler(service *postprocess.Service, providers ProviderFactory, queue *job.JobQueue,
	database *db.Database, m *metrics.Metrics) *PostprocessHandler {
	return &PostprocessHandler{service: service, providers: providers, queue: queue, database: database, metrics: m}
}

type postprocessRequest struct {
	Text              string `json:"text"`
	Mode              string `json:"mode"`
	Provider          string `json:"provider"`
	Model             string `json:"model"`
	Language          string `json:"language"`
	IncludeTimestamps bool   `json:"include_timestamps"`
}

type postprocessResponse struct {
	Mode     string `json:"mode"`
	Provider string `json:"provider,omitempty"`
	Text     string `json:"text"`
	Error    string `json:"error,omitempty"`
}

// Modes lists the available post-processing modes.
func (h *PostprocessHandler) Modes(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, postprocess.Modes, http.StatusOK)
}

// Process transforms text synchronously. When the provider fails the
// response is 502 and carries the original text unchanged.
func (h *PostprocessHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req postprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mode, err := postprocess.ParseMode(req.Mode)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}
	provider, err := h.providers(req.Provider, req.Model)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := h.service.Process(r.Context(), provider, postprocess.Request{
		Text:              req.Text,
		Mode:              mode,
		Language:          req.Language,
		IncludeTimestamps: req.IncludeTimestamps,
	})
	h.metrics.ObservePostprocess(provider.Name(), string(mode), err)
	if err != nil {
		jsonResponse(w, postprocessResponse{
			Mode: string(mode), Provider: provider.Name(), Text: req.Text, Error: err.Error(),
		}, http.StatusBadGateway)
		return
	}
	jsonResponse(w, postprocessResponse{Mode: string(mode), Provider: provider.Name(), Text: out}, http.StatusOK)
}

// EnqueueForRun queues a post-processing job over a stored run. A "text"
// field replaces the stored transcript, e.g. after manual edits.
func (h *PostprocessHandler) EnqueueForRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if _, err := h.database.GetRun(runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, "run not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var req postprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mode, err := postprocess.ParseMode(req.Mode)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Fail on missing credentials now rather than in the worker.
	if _, err := h.providers(req.Provider, req.Model); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	j, err := h.queue.Enqueue(job.JobPostprocess, runID, job.PostprocessParams{
		Mode:              string(mode),
		Provider:          req.Provider,
		Model:             req.Model,
		Language:          req.Language,
		IncludeTimestamps: req.IncludeTimestamps,
		Text:              req.Text,
	})
	if err != nil {
		jsonError(w, "failed to create job: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, j, http.StatusAccepted)
}
