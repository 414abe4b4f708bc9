package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/audio-scribe/backend/internal/api"
	"github.com/audio-scribe/backend/internal/app"
	"github.com/audio-scribe/backend/internal/config"
	"github.com/audio-scribe/backend/internal/db"
	"github.com/audio-scribe/backend/internal/events"
	"github.com/audio-scribe/backend/internal/job"
	"github.com/audio-scribe/backend/internal/logging"
	"github.com/audio-scribe/backend/internal/retention"
	"github.com/audio-scribe/backend/internal/settings"
	"github.com/audio-scribe/backend/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "console")
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataPath, 0755); err != nil {
		log.Fatal().Err(err).Str("path", cfg.DataPath).Msg("Failed to create data directory")
	}

	// Initialize database
	database, err := db.NewSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer database.Close()
	if n, err := database.FailStaleRuns(); err != nil {
		log.Warn().Err(err).Msg("Failed to close stale runs")
	} else if n > 0 {
		log.Info().Int64("count", n).Msg("Marked interrupted runs as failed")
	}

	svc, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build pipeline")
	}

	spool, err := storage.NewSpool(cfg.UploadPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create upload spool")
	}

	resolver := settings.NewResolver(cfg, database)
	hub := events.NewHub(cfg.CORSOrigins)
	defer hub.Close()

	queue := job.NewJobQueue(database.DB(),
		job.WithHandler(job.JobPostprocess, job.NewPostprocessHandler(database, svc.Postprocess, resolver.Provider)),
		job.WithUpdateHook(func(j *job.Job) {
			hub.Broadcast(events.TypeJob, j)
			if j.Finished() {
				svc.Metrics.ObserveJob(string(j.Type), string(j.Status))
			}
		}),
	)
	defer queue.Stop()

	if cfg.RetentionDays > 0 {
		sweeper, err := retention.New(database, spool, time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.RetentionSchedule)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule retention")
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	router := api.NewRouter(ctx, api.Deps{
		Config:      cfg,
		Database:    database,
		Pipeline:    svc.Pipeline,
		Engines:     svc.Engines,
		Settings:    resolver,
		Postprocess: svc.Postprocess,
		Queue:       queue,
		Spool:       spool,
		Events:      hub,
		Metrics:     svc.Metrics,
		Tools:       svc.Tools,
		Diarization: svc.Diarization,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("Server shutdown")
		}
	}()

	log.Info().Str("addr", srv.Addr).Str("data", cfg.DataPath).Msg("Starting server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Server failed")
	}
}
