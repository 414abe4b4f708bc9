package job

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/audio-scribe/backend/internal/db/models"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRuns map[string][]models.RunChunk

func (s stubRuns) RunChunks(runID string) ([]models.RunChunk, error) {
	c, ok := s[runID]
	if !ok {
		return nil, errors.New("no such run")
	}
	return c, nil
}

type echoProvider struct {
	system, text string
	err          error
}

func (p *echoProvider) Name() string { return "echo" }

func (p *echoProvider) Complete(_ context.Context, system, text string) (string, error) {
	p.system, p.text = system, text
	if p.err != nil {
		return "", p.err
	}
	return "processed: " + text, nil
}

func runJob(t *testing.T, runs RunReader, p postprocess.Provider, runID string, params PostprocessParams) (any, error) {
	t.Helper()
	svc, err := postprocess.NewService()
	require.NoError(t, err)

	raw, err := json.Marshal(params)
	require.NoError(t, err)
	factory := func(name, model string) (postprocess.Provider, error) {
		if name == "missing" {
			return nil, postprocess.ErrMissingCredential
		}
		return p, nil
	}
	var progress []float64
	out, err := NewPostprocessHandler(runs, svc, factory)(context.Background(),
		&Job{ID: "j1", Type: JobPostprocess, RunID: runID, Params: raw},
		func(f float64) { progress = append(progress, f) })
	if err == nil {
		assert.NotEmpty(t, progress)
	}
	return out, err
}

func TestPostprocessHandlerUsesStoredRun(t *testing.T) {
	runs := stubRuns{"r1": {
		{Kind: "transcript", Text: "안녕하세요"},
		{Kind: "diagnostic", Text: "[transcription error: chunk 2/2 (10:00–20:00): boom]"},
	}}
	p := &echoProvider{}

	out, err := runJob(t, runs, p, "r1", PostprocessParams{Mode: "summary", Language: "ko"})
	require.NoError(t, err)

	res, ok := out.(*PostprocessResult)
	require.True(t, ok)
	assert.Equal(t, "summary", res.Mode)
	assert.Equal(t, "echo", res.Provider)
	assert.Equal(t, "processed: 안녕하세요", res.Text)
	assert.Equal(t, "안녕하세요", p.text)
	assert.Contains(t, p.system, "Korean")
}

func TestPostprocessHandlerTextOverride(t *testing.T) {
	p := &echoProvider{}
	out, err := runJob(t, stubRuns{}, p, "gone", PostprocessParams{Mode: "clean", Text: "edited text"})
	require.NoError(t, err)
	assert.Equal(t, "processed: edited text", out.(*PostprocessResult).Text)
}

func TestPostprocessHandlerErrors(t *testing.T) {
	providerErr := errors.New("429 too many requests")

	tests := []struct {
		name     string
		runs     stubRuns
		runID    string
		params   PostprocessParams
		provider *echoProvider
		wantErr  error
		wantMsg  string
	}{
		{
			name:     "unknown mode",
			runs:     stubRuns{"r1": {{Kind: "transcript", Text: "x"}}},
			runID:    "r1",
			params:   PostprocessParams{Mode: "poem"},
			provider: &echoProvider{},
			wantErr:  postprocess.ErrUnknownMode,
		},
		{
			name:     "only diagnostics",
			runs:     stubRuns{"r1": {{Kind: "diagnostic", Text: "[transcription error: window 00:00–10:00: boom]"}}},
			runID:    "r1",
			params:   PostprocessParams{Mode: "summary"},
			provider: &echoProvider{},
			wantErr:  ErrEmptyTranscript,
		},
		{
			name:     "missing run",
			runs:     stubRuns{},
			runID:    "r9",
			params:   PostprocessParams{Mode: "summary"},
			provider: &echoProvider{},
			wantMsg:  "load run r9",
		},
		{
			name:     "missing credential",
			runs:     stubRuns{"r1": {{Kind: "transcript", Text: "x"}}},
			runID:    "r1",
			params:   PostprocessParams{Mode: "summary", Provider: "missing"},
			provider: &echoProvider{},
			wantErr:  postprocess.ErrMissingCredential,
		},
		{
			name:     "provider failure",
			runs:     stubRuns{"r1": {{Kind: "transcript", Text: "x"}}},
			runID:    "r1",
			params:   PostprocessParams{Mode: "summary"},
			provider: &echoProvider{err: providerErr},
			wantErr:  providerErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runJob(t, tt.runs, tt.provider, tt.runID, tt.params)
			require.Error(t, err)
			assert.Nil(t, out)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.ErrorContains(t, err, tt.wantMsg)
			}
		})
	}
}
