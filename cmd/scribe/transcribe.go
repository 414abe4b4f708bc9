package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/audio-scribe/backend/internal/app"
	"github.com/audio-scribe/backend/internal/db/models"
	"github.com/audio-scribe/backend/internal/export"
	"github.com/audio-scribe/backend/internal/pipeline"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/settings"
	"github.com/audio-scribe/backend/internal/storage"
	"github.com/audio-scribe/backend/internal/transcribe"
)

type TranscribeCMD struct {
	File string `arg:"" type:"existingfile" help:"Audio file to transcribe"`

	Engine       string `short:"e" help:"Transcription engine (whisper, whisper.cpp, gemini)"`
	Model        string `short:"m" help:"Engine model override"`
	Language     string `short:"l" help:"Language code"`
	ChunkSeconds int    `help:"Chunk length in seconds"`
	Diarize      bool   `short:"d" help:"Mark speaker turns when pyannote is available"`
	NoTimestamps bool   `help:"Leave out timestamp markers"`
	KeepFillers  bool   `help:"Keep filler words"`

	PostMode     string `short:"p" help:"Post-process every chunk with this mode"`
	PostProvider string `help:"Post-processing provider (openai, gemini)"`

	Format string `short:"f" default:"text" enum:"text,markdown,vtt,json" help:"Output format"`
	Output string `short:"o" type:"path" help:"Write to this file instead of stdout"`
}

func (t *TranscribeCMD) Run(g *Globals) error {
	if err := storage.CheckFormat(t.File); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}
	svc, err := app.Build(g.ctx, cfg)
	if err != nil {
		return err
	}
	resolver := settings.NewResolver(cfg, nil)

	pc := resolver.Pipeline()
	opts := pipeline.OptionsFromConfig(pc)
	if t.Language != "" {
		opts.Language = t.Language
	}
	if t.ChunkSeconds > 0 {
		opts.ChunkSeconds = t.ChunkSeconds
	}
	opts.Diarize = opts.Diarize || t.Diarize
	if t.NoTimestamps {
		opts.IncludeTimestamps = false
	}
	if t.KeepFillers {
		opts.RemoveFillers = false
	}
	if t.PostMode != "" {
		mode, err := postprocess.ParseMode(t.PostMode)
		if err != nil {
			return err
		}
		provider, err := resolver.Provider(t.PostProvider, "")
		if err != nil {
			return err
		}
		opts.PostMode, opts.PostProvider = mode, provider
	}

	engineName := t.Engine
	if engineName == "" {
		engineName = pc.Engine
	}
	engine, err := resolver.EngineFactory(svc.Engines)(engineName, transcribe.Credentials{Model: t.Model})
	if err != nil {
		return err
	}

	seq, err := svc.Pipeline.Transcribe(g.ctx, t.File, engine, opts)
	if err != nil {
		return err
	}

	run := &models.Run{
		ID:        "cli",
		FileName:  filepath.Base(t.File),
		Engine:    engine.Name(),
		Language:  opts.Language,
		Status:    models.RunRunning,
		CreatedAt: time.Now(),
	}
	if tags, err := storage.ReadTags(t.File); err == nil {
		run.Title, run.Artist = tags.Title, tags.Artist
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(fmt.Sprintf("transcribing %s", run.FileName)),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var chunks []models.RunChunk
	for res := range seq {
		if res.Chunks > 0 && bar.GetMax() != res.Chunks {
			bar.ChangeMax(res.Chunks)
		}
		if err := bar.Set(res.Chunk + 1); err != nil {
			log.Debug().Err(err).Msg("progress bar")
		}
		if res.Kind == pipeline.KindDiagnostic {
			log.Warn().Int("chunk", res.Chunk).Msg(res.Text)
		}
		chunks = append(chunks, *export.Chunk(run.ID, res))
		if res.Degraded {
			run.Degraded = true
		}
	}
	bar.Finish()

	run.Results = len(chunks)
	run.Status = models.RunCompleted
	if err := g.ctx.Err(); err != nil {
		run.Status = models.RunCancelled
	}

	w := io.Writer(os.Stdout)
	if t.Output != "" {
		f, err := os.Create(t.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return writeRun(w, t.Format, run, chunks)
}

func writeRun(w io.Writer, format string, run *models.Run, chunks []models.RunChunk) error {
	switch format {
	case "markdown":
		_, err := io.WriteString(w, export.Markdown(run, chunks))
		return err
	case "vtt":
		vtt, err := export.VTT(chunks)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, vtt)
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Run    *models.Run       `json:"run"`
			Chunks []models.RunChunk `json:"chunks"`
		}{run, chunks})
	default:
		_, err := fmt.Fprintln(w, export.Text(chunks))
		return err
	}
}
