package transcribe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/audio-scribe/backend/internal/retry"
	"github.com/audio-scribe/backend/internal/transcript"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const defaultWhisperModel = openai.Whisper1

// OpenAIEngine transcribes chunks with the OpenAI audio API, requesting
// verbose_json with segment timestamps.
type OpenAIEngine struct {
	client      *openai.Client
	model       string
	retryPolicy retry.Policy
}

// NewOpenAIEngine needs an API key. BaseURL selects an OpenAI-compatible
// server instead of api.openai.com.
func NewOpenAIEngine(creds Credentials) (Engine, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("%s: %w: OpenAI API key", EngineWhisper, ErrMissingCredential)
	}
	cfg := openai.DefaultConfig(creds.APIKey)
	if creds.BaseURL != "" {
		cfg.BaseURL = creds.BaseURL
	}
	model := creds.Model
	if model == "" {
		model = defaultWhisperModel
	}
	return &OpenAIEngine{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		retryPolicy: retry.Default,
	}, nil
}

func (e *OpenAIEngine) Name() string {
	return EngineWhisper
}

func (e *OpenAIEngine) TranscribeSegments(ctx context.Context, req Request) ([]transcript.Segment, error) {
	log.Debug().Str("model", e.model).Str("chunk", filepath.Base(req.Path)).Msg("[whisper] Sending chunk")

	resp, err := retry.Do(ctx, e.retryPolicy, "whisper", func() (openai.AudioResponse, error) {
		resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
			Model:    e.model,
			FilePath: req.Path,
			Language: languageHint(req.Language),
			Format:   openai.AudioResponseFormatVerboseJSON,
			TimestampGranularities: []openai.TranscriptionTimestampGranularity{
				openai.TranscriptionTimestampGranularitySegment,
			},
		})
		return resp, statusError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	raw := make([]rawSegment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		raw = append(raw, rawSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	// Some compatible servers only fill Text.
	if len(raw) == 0 && resp.Text != "" {
		raw = append(raw, rawSegment{Start: 0, End: resp.Duration, Text: resp.Text})
	}
	return normalizeSegments(raw), nil
}

// statusError turns go-openai's HTTP errors into retry.StatusError so rate
// limits and gateway errors are retried.
func statusError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &retry.StatusError{Service: "openai", StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &retry.StatusError{Service: "openai", StatusCode: reqErr.HTTPStatusCode, Body: string(reqErr.Body)}
	}
	return err
}
