package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/audio-scribe/backend/internal/db/models"
	"github.com/audio-scribe/backend/internal/export"
	"github.com/audio-scribe/backend/internal/postprocess"
)

// ErrEmptyTranscript means the run has no transcript text to process.
var ErrEmptyTranscript = errors.New("run has no transcript text")

// RunReader loads the stored results of a run.
type RunReader interface {
	RunChunks(runID string) ([]models.RunChunk, error)
}

// ProviderFactory builds a post-processing provider by name. An empty name
// selects the configured default.
type ProviderFactory func(name, model string) (postprocess.Provider, error)

// NewPostprocessHandler runs a post-processing mode over a stored run.
func NewPostprocessHandler(runs RunReader, svc *postprocess.Service, providers ProviderFactory) JobHandler {
	return func(ctx context.Context, job *Job, updateProgress func(float64)) (any, error) {
		var params PostprocessParams
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return nil, fmt.Errorf("parse params: %w", err)
		}
		mode, err := postprocess.ParseMode(params.Mode)
		if err != nil {
			return nil, err
		}

		text := params.Text
		if strings.TrimSpace(text) == "" {
			chunks, err := runs.RunChunks(job.RunID)
			if err != nil {
				return nil, fmt.Errorf("load run %s: %w", job.RunID, err)
			}
			text = export.Text(chunks)
		}
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyTranscript
		}

		provider, err := providers(params.Provider, params.Model)
		if err != nil {
			return nil, err
		}
		updateProgress(0.1)

		start := time.Now()
		out, err := svc.Process(ctx, provider, postprocess.Request{
			Text:              text,
			Mode:              mode,
			Language:          params.Language,
			IncludeTimestamps: params.IncludeTimestamps,
		})
		if err != nil {
			return nil, err
		}
		return &PostprocessResult{
			Mode:     string(mode),
			Provider: provider.Name(),
			Text:     out,
			Duration: time.Since(start).Seconds(),
		}, nil
	}
}
