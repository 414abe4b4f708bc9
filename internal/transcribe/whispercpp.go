package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audio-scribe/backend/internal/retry"
	"github.com/audio-scribe/backend/internal/transcript"
	"github.com/rs/zerolog/log"
)

// WhisperCppEngine talks to the whisper.cpp HTTP server (whisper-server).
type WhisperCppEngine struct {
	baseURL     string
	httpClient  *http.Client
	retryPolicy retry.Policy
}

// NewWhisperCppEngine needs the server address in BaseURL.
func NewWhisperCppEngine(creds Credentials) (Engine, error) {
	if creds.BaseURL == "" {
		return nil, fmt.Errorf("%s: %w: server URL", EngineWhisperCpp, ErrMissingCredential)
	}
	return &WhisperCppEngine{
		baseURL: strings.TrimRight(creds.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Minute, // a chunk can take long on CPU
		},
		retryPolicy: retry.Default,
	}, nil
}

func (c *WhisperCppEngine) Name() string {
	return EngineWhisperCpp
}

func (c *WhisperCppEngine) TranscribeSegments(ctx context.Context, req Request) ([]transcript.Segment, error) {
	return retry.Do(ctx, c.retryPolicy, "whisper.cpp", func() ([]transcript.Segment, error) {
		return c.send(ctx, req)
	})
}

func (c *WhisperCppEngine) send(ctx context.Context, req Request) ([]transcript.Segment, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	audioFile, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer audioFile.Close()

	part, err := writer.CreateFormFile("file", filepath.Base(req.Path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("response_format", "verbose_json")
	writer.WriteField("temperature", "0.0")
	if lang := languageHint(req.Language); lang != "" {
		writer.WriteField("language", lang)
	}
	writer.Close()

	url := c.baseURL + "/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	log.Debug().Str("url", url).Str("chunk", filepath.Base(req.Path)).Msg("[whisper.cpp] Sending chunk")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper server request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{Service: "whisper server", StatusCode: resp.StatusCode, Body: string(body)}
	}

	return parseWhisperCppResponse(body)
}

// parseWhisperCppResponse accepts verbose_json, and WebVTT from servers
// that ignore the requested format.
func parseWhisperCppResponse(body []byte) ([]transcript.Segment, error) {
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("WEBVTT")) {
		return transcript.ParseVTT(string(trimmed)), nil
	}

	var out struct {
		Text     string  `json:"text"`
		Duration float64 `json:"duration"`
		Segments []struct {
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("parse whisper response: %w", err)
	}

	raw := make([]rawSegment, 0, len(out.Segments))
	for _, s := range out.Segments {
		raw = append(raw, rawSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	if len(raw) == 0 && out.Text != "" {
		raw = append(raw, rawSegment{Start: 0, End: out.Duration, Text: out.Text})
	}
	return normalizeSegments(raw), nil
}
