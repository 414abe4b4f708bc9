package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/audio-scribe/backend/internal/config"
	"github.com/audio-scribe/backend/internal/db"
	"github.com/audio-scribe/backend/internal/events"
	"github.com/audio-scribe/backend/internal/ffmpeg"
	"github.com/audio-scribe/backend/internal/gemini/geminitest"
	"github.com/audio-scribe/backend/internal/job"
	"github.com/audio-scribe/backend/internal/metrics"
	"github.com/audio-scribe/backend/internal/pipeline"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/settings"
	"github.com/audio-scribe/backend/internal/storage"
	"github.com/audio-scribe/backend/internal/tempfiles"
	"github.com/audio-scribe/backend/internal/transcribe"
	"github.com/audio-scribe/backend/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noFFmpeg behaves like a host without ffmpeg: every upload is transcribed
// as a single degraded chunk.
type noFFmpeg struct{}

func (noFFmpeg) Normalize(ctx context.Context, input string) (string, error) {
	return "", ffmpeg.ErrToolUnavailable
}

func (noFFmpeg) Split(ctx context.Context, canonical string, chunkSeconds int) (*ffmpeg.Split, error) {
	return &ffmpeg.Split{Chunks: []string{canonical}, Degraded: true}, nil
}

func (noFFmpeg) Duration(ctx context.Context, path string) (float64, error) {
	return 4, nil
}

type fakeEngine struct{}

func (fakeEngine) Name() string { return "fake" }

func (fakeEngine) TranscribeSegments(ctx context.Context, req transcribe.Request) ([]transcript.Segment, error) {
	return []transcript.Segment{{Start: 0, End: 4, Text: "hello world"}}, nil
}

type testServer struct {
	*httptest.Server
	gemini *geminitest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gem := geminitest.NewServer(0)
	t.Cleanup(gem.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataPath = dir
	cfg.UploadPath = filepath.Join(dir, "uploads")
	cfg.UploadLimitMB = 1
	cfg.TranscribeRateLimit = 100
	cfg.Pipeline.Engine = "fake"
	cfg.Pipeline.PostProvider = postprocess.ProviderGemini
	cfg.Gemini.APIKey = "test-key"
	cfg.Gemini.BaseURL = gem.URL

	database, err := db.NewSQLite(filepath.Join(dir, "scribe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	spool, err := storage.NewSpool(cfg.UploadPath)
	require.NoError(t, err)

	post, err := postprocess.NewService()
	require.NoError(t, err)

	m := metrics.New()
	engines := transcribe.NewRegistry()
	engines.Register("fake", func(transcribe.Credentials) (transcribe.Engine, error) { return fakeEngine{}, nil })

	resolver := settings.NewResolver(cfg, database)
	hub := events.NewHub(nil)
	t.Cleanup(hub.Close)

	queue := job.NewJobQueue(database.DB(),
		job.WithHandler(job.JobPostprocess, job.NewPostprocessHandler(database, post, resolver.Provider)))
	t.Cleanup(queue.Stop)

	p := pipeline.New(pipeline.Stages{Normalizer: noFFmpeg{}, Splitter: noFFmpeg{}, Prober: noFFmpeg{}},
		pipeline.WithTrackerOptions(tempfiles.WithDelays(0, 0)),
		pipeline.WithWindowPause(0),
		pipeline.WithMetrics(m),
		pipeline.WithPostprocessor(post),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	router := NewRouter(ctx, Deps{
		Config:      cfg,
		Database:    database,
		Pipeline:    p,
		Engines:     engines,
		Settings:    resolver,
		Postprocess: post,
		Queue:       queue,
		Spool:       spool,
		Events:      hub,
		Metrics:     m,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, gemini: gem}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) upload(t *testing.T, name string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		fw.Write([]byte("not really audio"))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(s.URL+"/api/transcribe", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// transcribeRun uploads a file, drains the stream and returns the run ID
// with the streamed results.
func (s *testServer) transcribeRun(t *testing.T) (string, []pipeline.ChunkResult) {
	t.Helper()
	resp := s.upload(t, "standup.mp3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	runID := resp.Header.Get("X-Run-ID")
	require.NotEmpty(t, runID)

	var results []pipeline.ChunkResult
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var res pipeline.ChunkResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &res))
		results = append(results, res)
	}
	require.NoError(t, sc.Err())
	return runID, results
}

func TestHealthAndCapabilities(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	caps := decode[map[string]any](t, s.do(t, http.MethodGet, "/api/capabilities", nil))
	assert.Equal(t, false, caps["ffmpeg"])
	assert.Equal(t, []any{"fake"}, caps["engines"])
	assert.Contains(t, caps["modes"], "summary")
	assert.Contains(t, caps["formats"], "mp3")
}

func TestTranscribeStreamsAndStoresRun(t *testing.T) {
	s := newTestServer(t)
	runID, results := s.transcribeRun(t)

	require.Len(t, results, 1)
	assert.Equal(t, pipeline.KindTranscript, results[0].Kind)
	assert.Contains(t, results[0].Text, "hello world")
	assert.True(t, results[0].Degraded)

	run := decode[struct {
		Status   string `json:"status"`
		FileName string `json:"file_name"`
		Engine   string `json:"engine"`
		Results  int    `json:"results"`
		Degraded bool   `json:"degraded"`
		Chunks   []any  `json:"chunks"`
	}](t, s.do(t, http.MethodGet, "/api/runs/"+runID, nil))
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, "standup.mp3", run.FileName)
	assert.Equal(t, "fake", run.Engine)
	assert.Equal(t, 1, run.Results)
	assert.True(t, run.Degraded)
	assert.Len(t, run.Chunks, 1)

	resp := s.do(t, http.MethodGet, "/api/runs/"+runID+"/transcript?download=1", nil)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "hello world")
	assert.Equal(t, `attachment; filename="standup.txt"`, resp.Header.Get("Content-Disposition"))

	resp = s.do(t, http.MethodGet, "/api/runs/"+runID+"/vtt", nil)
	body, _ = io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "00:00:00.000 --> 00:00:04.000")

	resp = s.do(t, http.MethodGet, "/api/runs/"+runID+"/html", nil)
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "hello world")

	runs := decode[[]map[string]any](t, s.do(t, http.MethodGet, "/api/runs?q=standup", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0]["id"])

	resp = s.do(t, http.MethodDelete, "/api/runs/"+runID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodGet, "/api/runs/"+runID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTranscribePreflightErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		file   string
		fields map[string]string
		status int
	}{
		{"missing file", "", nil, http.StatusBadRequest},
		{"unsupported format", "notes.txt", nil, http.StatusUnsupportedMediaType},
		{"bad integer", "a.mp3", map[string]string{"chunk_seconds": "ten"}, http.StatusBadRequest},
		{"bad range", "a.mp3", map[string]string{"chunk_seconds": "0"}, http.StatusBadRequest},
		{"bad boolean", "a.mp3", map[string]string{"diarize": "maybe"}, http.StatusBadRequest},
		{"unknown engine", "a.mp3", map[string]string{"engine": "nope"}, http.StatusBadRequest},
		{"unknown post mode", "a.mp3", map[string]string{"post_mode": "poem"}, http.StatusBadRequest},
		{"unknown post provider", "a.mp3", map[string]string{"post_mode": "summary", "post_provider": "claude"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.upload(t, tt.file, tt.fields)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}

	runs := decode[[]any](t, s.do(t, http.MethodGet, "/api/runs", nil))
	assert.Empty(t, runs, "rejected uploads never create a run")
}

func TestTranscribeWithPostMode(t *testing.T) {
	s := newTestServer(t)
	resp := s.upload(t, "standup.mp3", map[string]string{"post_mode": "summary"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res pipeline.ChunkResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, postprocess.ModeSummary, res.PostMode)
	assert.Contains(t, res.PostText, "hello world")
	assert.Empty(t, res.PostError)
}

func TestPostprocess(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/postprocess", map[string]any{"text": "first line\nsecond", "mode": "clean"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[map[string]string](t, resp)
	assert.Equal(t, "first line", out["text"])
	assert.Equal(t, "gemini", out["provider"])

	s.gemini.Reply = func(geminitest.Request) (string, int) { return "bad request", http.StatusBadRequest }
	resp = s.do(t, http.MethodPost, "/api/postprocess", map[string]any{"text": "keep me", "mode": "summary"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	out = decode[map[string]string](t, resp)
	assert.Equal(t, "keep me", out["text"])
	assert.NotEmpty(t, out["error"])

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown mode", map[string]any{"text": "x", "mode": "poem"}},
		{"empty text", map[string]any{"text": "  ", "mode": "clean"}},
		{"unknown provider", map[string]any{"text": "x", "mode": "clean", "provider": "claude"}},
		{"missing key", map[string]any{"text": "x", "mode": "clean", "provider": "openai"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/postprocess", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestRunPostprocessJob(t *testing.T) {
	s := newTestServer(t)
	runID, _ := s.transcribeRun(t)

	resp := s.do(t, http.MethodPost, "/api/runs/"+runID+"/postprocess", map[string]any{"mode": "summary"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	j := decode[job.Job](t, resp)
	assert.Equal(t, runID, j.RunID)

	var got job.Job
	require.Eventually(t, func() bool {
		resp := s.do(t, http.MethodGet, "/api/jobs/"+j.ID, nil)
		got = decode[job.Job](t, resp)
		return got.Finished()
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, job.StatusCompleted, got.Status, got.Error)

	var result job.PostprocessResult
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Contains(t, result.Text, "hello world")

	jobs := decode[[]job.Job](t, s.do(t, http.MethodGet, "/api/runs/"+runID+"/jobs", nil))
	assert.Len(t, jobs, 1)

	resp = s.do(t, http.MethodPost, "/api/jobs/"+j.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = s.do(t, http.MethodPost, "/api/jobs/missing/retry", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/runs/missing/postprocess", map[string]any{"mode": "summary"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSettingsMaskingAndValidation(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPut, "/api/settings", map[string]string{
		settings.KeyOpenAIKey: "sk-secret-9876",
		settings.KeyLanguage:  "en",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	type entry struct {
		Key      string `json:"key"`
		Value    string `json:"value"`
		HasValue bool   `json:"has_value"`
		Saved    bool   `json:"saved"`
	}
	byKey := func() map[string]entry {
		out := map[string]entry{}
		for _, e := range decode[[]entry](t, s.do(t, http.MethodGet, "/api/settings", nil)) {
			out[e.Key] = e
		}
		return out
	}

	got := byKey()
	assert.Equal(t, settings.Mask("sk-secret-9876"), got[settings.KeyOpenAIKey].Value)
	assert.True(t, got[settings.KeyOpenAIKey].Saved)
	assert.Equal(t, "en", got[settings.KeyLanguage].Value)
	assert.Equal(t, settings.Mask("test-key"), got[settings.KeyGeminiKey].Value)
	assert.False(t, got[settings.KeyGeminiKey].Saved)

	// Sending the masked value back leaves the secret alone.
	resp = s.do(t, http.MethodPut, "/api/settings", map[string]string{settings.KeyOpenAIKey: got[settings.KeyOpenAIKey].Value})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, settings.Mask("sk-secret-9876"), byKey()[settings.KeyOpenAIKey].Value)

	// An empty value falls back to the configuration.
	resp = s.do(t, http.MethodPut, "/api/settings", map[string]string{settings.KeyLanguage: ""})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "ko", byKey()[settings.KeyLanguage].Value)

	for _, body := range []map[string]string{
		{"nope": "x"},
		{settings.KeyEngine: "vosk"},
		{settings.KeyPostProvider: "claude"},
	} {
		resp = s.do(t, http.MethodPut, "/api/settings", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestJobNotFound(t *testing.T) {
	s := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/jobs/missing"},
		{http.MethodDelete, "/api/jobs/missing"},
	} {
		resp := s.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tc.path)
	}
}

func TestGeminiModels(t *testing.T) {
	s := newTestServer(t)
	models := decode[[]map[string]any](t, s.do(t, http.MethodGet, "/api/gemini/models", nil))
	require.NotEmpty(t, models)
	assert.Equal(t, "gemini-2.5-pro", models[0]["id"])
}
