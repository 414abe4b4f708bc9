package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/audio-scribe/backend/internal/config"
	"github.com/audio-scribe/backend/internal/db"
	"github.com/audio-scribe/backend/internal/db/models"
	"github.com/audio-scribe/backend/internal/events"
	"github.com/audio-scribe/backend/internal/export"
	"github.com/audio-scribe/backend/internal/pipeline"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/storage"
	"github.com/audio-scribe/backend/internal/transcribe"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to disk.
const multipartMemory = 32 << 20

// EngineFactory builds the named engine. Non-empty override fields replace
// the configured credentials.
type EngineFactory func(name string, override transcribe.Credentials) (transcribe.Engine, error)

// ProviderFactory builds a post-processing provider; empty arguments select
// the configured defaults.
type ProviderFactory func(name, model string) (postprocess.Provider, error)

// Broadcaster pushes live updates to connected clients.
type Broadcaster interface {
	Broadcast(msgType string, data any)
}

type TranscribeHandler struct {
	pipeline    *pipeline.Pipeline
	engines     EngineFactory
	providers   ProviderFactory
	defaults    func() config.PipelineConfig
	spool       *storage.Spool
	database    *db.Database
	events      Broadcaster
	uploadLimit int64
}

func NewTranscribeHandler(p *pipeline.Pipeline, engines EngineFactory, providers ProviderFactory,
	defaults func() config.PipelineConfig, spool *storage.Spool, database *db.Database,
	events Broadcaster, uploadLimit int64) *TranscribeHandler {
	return &TranscribeHandler{
		pipeline:    p,
		engines:     engines,
		providers:   providers,
		defaults:    defaults,
		spool:       spool,
		database:    database,
		events:      events,
		uploadLimit: uploadLimit,
	}
}

// Transcribe accepts a multipart upload ("file" plus option fields) and
// streams one JSON ChunkResult per line as chunks finish. Problems with the
// request are answered with a JSON error before streaming starts. The run
// and every streamed result are stored.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if h.uploadLimit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.uploadLimit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if err := storage.CheckFormat(header.Filename); err != nil {
		jsonError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	defaults := h.defaults()
	opts, err := parseOptions(r.MultipartForm.Value, defaults)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	engineName := formValue(r.MultipartForm.Value, "engine", defaults.Engine)
	engine, err := h.engines(engineName, transcribe.Credentials{
		APIKey:  formValue(r.MultipartForm.Value, "api_key", ""),
		Model:   formValue(r.MultipartForm.Value, "model", ""),
		BaseURL: formValue(r.MultipartForm.Value, "base_url", ""),
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if opts.PostMode != "" {
		provider, err := h.providers(formValue(r.MultipartForm.Value, "post_provider", defaults.PostProvider),
			formValue(r.MultipartForm.Value, "post_model", ""))
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.PostProvider = provider
	}

	path, err := h.spool.Save(header.Filename, file)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedFormat) {
			jsonError(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		log.Error().Err(err).Str("file", header.Filename).Msg("[api] Failed to spool upload")
		jsonError(w, "failed to store upload", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := h.spool.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("[api] Failed to remove upload")
		}
	}()

	seq, err := h.pipeline.Transcribe(r.Context(), path, engine, opts)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, storage.ErrUnsupportedFormat) {
			status = http.StatusUnsupportedMediaType
		}
		jsonError(w, err.Error(), status)
		return
	}

	run := &models.Run{
		ID:       uuid.New().String(),
		FileName: header.Filename,
		Engine:   engine.Name(),
		Language: opts.Language,
	}
	if raw, err := json.Marshal(opts); err == nil {
		run.Options = raw
	}
	if tags, err := storage.ReadTags(path); err == nil {
		run.Title, run.Artist = tags.Title, tags.Artist
	}
	if err := h.database.CreateRun(run); err != nil {
		log.Error().Err(err).Msg("[api] Failed to create run")
		jsonError(w, "failed to create run", http.StatusInternalServerError)
		return
	}
	h.broadcast(events.TypeRunStarted, run)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Run-ID", run.ID)
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	rc.Flush()

	status, errMsg := h.stream(w, rc, run.ID, seq)
	if r.Context().Err() != nil {
		status, errMsg = models.RunCancelled, "client disconnected"
	}
	if err := h.database.FinishRun(run.ID, status, errMsg); err != nil {
		log.Error().Err(err).Str("run", run.ID).Msg("[api] Failed to finish run")
	}
	if final, err := h.database.GetRun(run.ID); err == nil {
		h.broadcast(events.TypeRunFinished, final)
	}
}

// stream writes results until the run ends or the client goes away.
func (h *TranscribeHandler) stream(w http.ResponseWriter, rc *http.ResponseController, runID string, seq iter.Seq[pipeline.ChunkResult]) (models.RunStatus, string) {
	enc := json.NewEncoder(w)
	for res := range seq {
		chunk := export.Chunk(runID, res)
		if err := h.database.AddRunChunk(chunk, res.Degraded); err != nil {
			log.Error().Err(err).Str("run", runID).Int("index", res.Index).Msg("[api] Failed to store result")
		}
		h.broadcast(events.TypeRunChunk, chunk)

		if err := enc.Encode(res); err != nil {
			return models.RunCancelled, "client disconnected"
		}
		if err := rc.Flush(); err != nil {
			return models.RunCancelled, "client disconnected"
		}
	}
	return models.RunCompleted, ""
}

func (h *TranscribeHandler) broadcast(msgType string, data any) {
	if h.events != nil {
		h.events.Broadcast(msgType, data)
	}
}

func formValue(form url.Values, key, fallback string) string {
	if v := strings.TrimSpace(form.Get(key)); v != "" {
		return v
	}
	return fallback
}

// parseOptions applies the form fields present on top of the defaults.
func parseOptions(form url.Values, defaults config.PipelineConfig) (pipeline.Options, error) {
	o := pipeline.OptionsFromConfig(defaults)
	o.Language = formValue(form, "language", o.Language)

	ints := []struct {
		key string
		dst *int
	}{
		{"chunk_seconds", &o.ChunkSeconds},
		{"max_chars", &o.MaxChars},
		{"batch_threshold_sec", &o.BatchThresholdSec},
		{"batch_size_sec", &o.BatchSizeSec},
	}
	for _, f := range ints {
		if v := form.Get(f.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return o, fmt.Errorf("%s must be an integer, got %q", f.key, v)
			}
			*f.dst = n
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"do_diarization", &o.Diarize},
		{"diarize", &o.Diarize},
		{"include_timestamps", &o.IncludeTimestamps},
		{"remove_fillers", &o.RemoveFillers},
	}
	for _, f := range bools {
		if v := form.Get(f.key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return o, fmt.Errorf("%s must be a boolean, got %q", f.key, v)
			}
			*f.dst = b
		}
	}

	if v := form.Get("gap_threshold"); v != "" {
		g, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return o, fmt.Errorf("gap_threshold must be a number, got %q", v)
		}
		o.GapThreshold = g
	}
	if v := formValue(form, "post_mode", ""); v != "" {
		o.PostMode = postprocess.Mode(v)
	}
	return o, o.Validate()
}
