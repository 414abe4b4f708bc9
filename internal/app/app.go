// Package app wires the transcription services shared by the server and
// the command-line tool.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/audio-scribe/backend/internal/config"
	"github.com/audio-scribe/backend/internal/diarize"
	"github.com/audio-scribe/backend/internal/ffmpeg"
	"github.com/audio-scribe/backend/internal/filler"
	"github.com/audio-scribe/backend/internal/metrics"
	"github.com/audio-scribe/backend/internal/pipeline"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/transcribe"
	"github.com/rs/zerolog/log"
)

// detectTimeout bounds the pyannote import check at startup.
const detectTimeout = 2 * time.Minute

type Services struct {
	Tools       ffmpeg.Tools
	Diarization diarize.Availability
	Engines     *transcribe.Registry
	Postprocess *postprocess.Service
	Pipeline    *pipeline.Pipeline
	Metrics     *metrics.Metrics
}

// Build detects external tools once and assembles the pipeline.
func Build(ctx context.Context, cfg *config.Config) (*Services, error) {
	cleaner, err := Cleaner(cfg.Fillers)
	if err != nil {
		return nil, err
	}
	post, err := postprocess.NewService()
	if err != nil {
		return nil, err
	}

	tools := ffmpeg.DetectTools()
	log.Info().Bool("ffmpeg", tools.HasFFmpeg()).Bool("ffprobe", tools.HasFFprobe()).Msg("[app] Media tools")

	dctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()
	ds := diarize.Settings{HFToken: cfg.Diarize.HFToken, Python: cfg.Diarize.Python, Model: cfg.Diarize.Model}
	avail := diarize.Detect(dctx, ds, ffmpeg.ExecRunner)
	if avail.Enabled {
		log.Info().Str("python", avail.Python).Msg("[app] Diarization available")
	} else {
		log.Info().Str("reason", avail.Reason).Msg("[app] Diarization disabled")
	}

	m := metrics.New()
	p := pipeline.New(pipeline.FFmpegStages(tools, ffmpeg.ExecRunner),
		pipeline.WithDiarizer(diarize.NewPyannote(avail, ds)),
		pipeline.WithCleaner(cleaner),
		pipeline.WithPostprocessor(post),
		pipeline.WithMetrics(m),
	)

	return &Services{
		Tools:       tools,
		Diarization: avail,
		Engines:     transcribe.DefaultRegistry(),
		Postprocess: post,
		Pipeline:    p,
		Metrics:     m,
	}, nil
}

// Cleaner returns the built-in filler tables with configured languages
// replacing or extending them.
func Cleaner(tables map[string][]config.FillerRule) (*filler.Cleaner, error) {
	all := []filler.Table{filler.Korean, filler.English}
	for lang, rules := range tables {
		specs := make([]filler.RuleSpec, len(rules))
		for i, r := range rules {
			specs[i] = filler.RuleSpec{Pattern: r.Pattern, Replacement: r.Replacement}
		}
		t, err := filler.Compile(lang, specs)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		all = append(all, t)
	}
	return filler.New(all...), nil
}
