package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/audio-scribe/backend/internal/api/handlers"
	"github.com/audio-scribe/backend/internal/api/middleware"
	"github.com/audio-scribe/backend/internal/config"
	"github.com/audio-scribe/backend/internal/db"
	"github.com/audio-scribe/backend/internal/diarize"
	"github.com/audio-scribe/backend/internal/events"
	"github.com/audio-scribe/backend/internal/ffmpeg"
	"github.com/audio-scribe/backend/internal/job"
	"github.com/audio-scribe/backend/internal/metrics"
	"github.com/audio-scribe/backend/internal/pipeline"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/settings"
	"github.com/audio-scribe/backend/internal/storage"
	"github.com/audio-scribe/backend/internal/transcribe"
)

// jsonBodyLimit caps request bodies outside the upload route.
const jsonBodyLimit = 4 << 20

// Deps are the services the API is built on.
type Deps struct {
	Config      *config.Config
	Database    *db.Database
	Pipeline    *pipeline.Pipeline
	Engines     *transcribe.Registry
	Settings    *settings.Resolver
	Postprocess *postprocess.Service
	Queue       *job.JobQueue
	Spool       *storage.Spool
	Events      *events.Hub
	Metrics     *metrics.Metrics
	Tools       ffmpeg.Tools
	Diarization diarize.Availability
}

// NewRouter builds the HTTP API. Background helpers stop when ctx is done.
func NewRouter(ctx context.Context, d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(d.Metrics.APIMiddleware)
	r.Use(middleware.CORS(d.Config.CORSOrigins))

	// Handlers
	defaults := d.Settings.Pipeline
	providers := handlers.ProviderFactory(d.Settings.Provider)
	transcribeHandler := handlers.NewTranscribeHandler(d.Pipeline, d.Settings.EngineFactory(d.Engines), providers,
		defaults, d.Spool, d.Database, d.Events, d.Config.UploadLimitMB<<20)
	runsHandler := handlers.NewRunsHandler(d.Database)
	postHandler := handlers.NewPostprocessHandler(d.Postprocess, providers, d.Queue, d.Database, d.Metrics)
	jobHandler := handlers.NewJobHandler(d.Queue)
	settingsHandler := handlers.NewSettingsHandler(d.Database, d.Settings, d.Engines.Names())
	capsHandler := handlers.NewCapabilitiesHandler(d.Tools, d.Diarization, d.Engines.Names(), defaults)
	geminiModels := handlers.NewGeminiModelsHandler(d.Settings, d.Config.Gemini.BaseURL)
	limiter := middleware.NewRateLimiter(ctx, d.Config.TranscribeRateLimit, time.Minute)

	r.Handle("/metrics", d.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", capsHandler.Health)
		r.Get("/capabilities", capsHandler.Capabilities)
		r.Handle("/events", d.Events)

		// Uploads set their own, larger limit.
		r.With(limiter.Handler).Post("/transcribe", transcribeHandler.Transcribe)

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(jsonBodyLimit))

			// Runs
			r.Get("/runs", runsHandler.ListRuns)
			r.Get("/runs/{id}", runsHandler.GetRun)
			r.Delete("/runs/{id}", runsHandler.DeleteRun)
			r.Get("/runs/{id}/transcript", runsHandler.Transcript)
			r.Get("/runs/{id}/vtt", runsHandler.VTT)
			r.Get("/runs/{id}/markdown", runsHandler.Markdown)
			r.Get("/runs/{id}/html", runsHandler.HTML)
			r.Get("/runs/{id}/jobs", jobHandler.ListRunJobs)
			r.Post("/runs/{id}/postprocess", postHandler.EnqueueForRun)

			// Post-processing
			r.Get("/postprocess/modes", postHandler.Modes)
			r.Post("/postprocess", postHandler.Process)

			// Jobs
			r.Get("/jobs", jobHandler.ListJobs)
			r.Get("/jobs/{id}", jobHandler.GetJob)
			r.Delete("/jobs/{id}", jobHandler.CancelJob)
			r.Post("/jobs/{id}/retry", jobHandler.RetryJob)

			// Settings
			r.Get("/settings", settingsHandler.GetSettings)
			r.Put("/settings", settingsHandler.UpdateSettings)
			r.Get("/gemini/models", geminiModels.ListModels)
		})
	})

	return r
}
