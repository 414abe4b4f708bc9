package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/audio-scribe/backend/internal/db"
	"github.com/audio-scribe/backend/internal/db/models"
	"github.com/audio-scribe/backend/internal/export"
	"github.com/go-chi/chi/v5"
)

type RunsHandler struct {
	database *db.Database
}

func NewRunsHandler(database *db.Database) *RunsHandler {
	return &RunsHandler{database: database}
}

// ListRuns returns stored runs newest first, or ranked by ?q= when given.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	var runs []models.Run
	var err error
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		runs, err = h.database.SearchRuns(q, limit)
	} else {
		runs, err = h.database.ListRuns(limit, queryInt(r, "offset", 0))
	}
	if err != nil {
		jsonError(w, "failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runs, http.StatusOK)
}

// GetRun returns a run with its stored results.
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, chunks, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, struct {
		*models.Run
		Chunks []models.RunChunk `json:"chunks"`
	}{run, chunks}, http.StatusOK)
}

// DeleteRun removes a run and its results.
func (h *RunsHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.database.DeleteRun(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, "run not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to delete run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transcript returns the plain transcript text.
func (h *RunsHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	run, chunks, ok := h.load(w, r)
	if !ok {
		return
	}
	h.attach(w, r, run, ".txt", "text/plain; charset=utf-8")
	w.Write([]byte(export.Text(chunks)))
}

// VTT returns the stored segments as WebVTT.
func (h *RunsHandler) VTT(w http.ResponseWriter, r *http.Request) {
	run, chunks, ok := h.load(w, r)
	if !ok {
		return
	}
	vtt, err := export.VTT(chunks)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.attach(w, r, run, ".vtt", "text/vtt; charset=utf-8")
	w.Write([]byte(vtt))
}

// Markdown returns the run as a Markdown document.
func (h *RunsHandler) Markdown(w http.ResponseWriter, r *http.Request) {
	run, chunks, ok := h.load(w, r)
	if !ok {
		return
	}
	h.attach(w, r, run, ".md", "text/markdown; charset=utf-8")
	w.Write([]byte(export.Markdown(run, chunks)))
}

// HTML renders the run as a standalone page.
func (h *RunsHandler) HTML(w http.ResponseWriter, r *http.Request) {
	run, chunks, ok := h.load(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := export.HTML(w, run, chunks); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *RunsHandler) load(w http.ResponseWriter, r *http.Request) (*models.Run, []models.RunChunk, bool) {
	id := chi.URLParam(r, "id")
	run, err := h.database.GetRun(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			jsonError(w, "run not found", http.StatusNotFound)
		} else {
			jsonError(w, "failed to load run: "+err.Error(), http.StatusInternalServerError)
		}
		return nil, nil, false
	}
	chunks, err := h.database.RunChunks(id)
	if err != nil {
		jsonError(w, "failed to load results: "+err.Error(), http.StatusInternalServerError)
		return nil, nil, false
	}
	return run, chunks, true
}

// attach sets the content type and, with ?download=1, an attachment name
// derived from the uploaded file.
func (h *RunsHandler) attach(w http.ResponseWriter, r *http.Request, run *models.Run, ext, contentType string) {
	w.Header().Set("Content-Type", contentType)
	if r.URL.Query().Get("download") == "" {
		return
	}
	base := strings.TrimSuffix(filepath.Base(run.FileName), filepath.Ext(run.FileName))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+ext))
}
