// Package gemini is a small client for the Gemini generateContent and File
// APIs, shared by the whole-text transcription engine and post-processing.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/audio-scribe/backend/internal/retry"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.0-flash"
)

// File states reported by the File API.
const (
	StateProcessing = "PROCESSING"
	StateActive     = "ACTIVE"
	StateFailed     = "FAILED"
)

// Client talks to the Gemini REST API.
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	retryPolicy  retry.Policy
}

type Option func(*Client)

// WithBaseURL points the client at another endpoint, such as a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval sets how often an uploaded file's state is checked.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.retryPolicy = p }
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		pollInterval: 2 * time.Second,
		retryPolicy:  retry.Default,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// File is an uploaded media file.
type File struct {
	Name           string `json:"name"`
	URI            string `json:"uri"`
	MimeType       string `json:"mimeType"`
	State          string `json:"state"`
	SizeBytes      string `json:"sizeBytes,omitempty"`
	ExpirationTime string `json:"expirationTime,omitempty"`
}

// FileData references an uploaded file inside a prompt.
type FileData struct {
	MimeType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

// Part is one piece of prompt content: text or a file reference.
type Part struct {
	Text     string    `json:"text,omitempty"`
	FileData *FileData `json:"file_data,omitempty"`
}

// GenerateRequest is a single-turn generateContent call.
type GenerateRequest struct {
	Model       string
	System      string
	Parts       []Part
	Temperature float64
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("Gemini API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, &retry.StatusError{Service: "Gemini API", StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, resp.Header, nil
}

// UploadFile sends a local file with the resumable upload protocol and
// returns the created file, which may still be processing.
func (c *Client) UploadFile(ctx context.Context, path, mimeType string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	return retry.Do(ctx, c.retryPolicy, "gemini", func() (*File, error) {
		meta, _ := json.Marshal(map[string]any{
			"file": map[string]string{"display_name": filepath.Base(path)},
		})
		req, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/upload/v1beta/files", bytes.NewReader(meta))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Goog-Upload-Protocol", "resumable")
		req.Header.Set("X-Goog-Upload-Command", "start")
		req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.Itoa(len(data)))
		req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)

		_, header, err := c.do(req)
		if err != nil {
			return nil, fmt.Errorf("start upload: %w", err)
		}
		uploadURL := header.Get("X-Goog-Upload-URL")
		if uploadURL == "" {
			return nil, fmt.Errorf("start upload: no upload URL returned")
		}

		req, err = c.newRequest(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Length", strconv.Itoa(len(data)))
		req.Header.Set("X-Goog-Upload-Offset", "0")
		req.Header.Set("X-Goog-Upload-Command", "upload, finalize")

		body, _, err := c.do(req)
		if err != nil {
			return nil, fmt.Errorf("upload bytes: %w", err)
		}

		var out struct {
			File File `json:"file"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("parse upload response: %w", err)
		}
		if out.File.Name == "" {
			return nil, fmt.Errorf("upload response missing file name")
		}
		log.Debug().Str("name", out.File.Name).Int("bytes", len(data)).Msg("[gemini] Uploaded file")
		return &out.File, nil
	})
}

// GetFile fetches the current metadata of an uploaded file.
func (c *Client) GetFile(ctx context.Context, name string) (*File, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/v1beta/"+name, nil)
	if err != nil {
		return nil, err
	}
	body, _, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("parse file: %w", err)
	}
	return &f, nil
}

// WaitActive polls until the file leaves the PROCESSING state.
func (c *Client) WaitActive(ctx context.Context, f *File) (*File, error) {
	for f.State == StateProcessing {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		next, err := c.GetFile(ctx, f.Name)
		if err != nil {
			return nil, fmt.Errorf("poll %s: %w", f.Name, err)
		}
		f = next
	}
	if f.State == StateFailed {
		return nil, fmt.Errorf("file %s failed processing", f.Name)
	}
	return f, nil
}

// DeleteFile removes an uploaded file.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.baseURL+"/v1beta/"+name, nil)
	if err != nil {
		return err
	}
	_, _, err = c.do(req)
	return err
}

// Generate runs one generateContent call and returns the concatenated text
// of the first candidate.
func (c *Client) Generate(ctx context.Context, gr GenerateRequest) (string, error) {
	model := gr.Model
	if model == "" {
		model = DefaultModel
	}

	reqBody := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": gr.Parts},
		},
		"generationConfig": map[string]any{
			"temperature": gr.Temperature,
		},
	}
	if gr.System != "" {
		reqBody["system_instruction"] = map[string]any{
			"parts": []Part{{Text: gr.System}},
		}
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	body, err := retry.Do(ctx, c.retryPolicy, "gemini", func() ([]byte, error) {
		req, err := c.newRequest(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		body, _, err := c.do(req)
		return body, err
	})
	if err != nil {
		return "", err
	}

	var geminiResp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		if geminiResp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("Gemini blocked: %s", geminiResp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("empty Gemini response")
	}

	cand := geminiResp.Candidates[0]
	if fr := cand.FinishReason; fr != "" && fr != "STOP" {
		log.Warn().Str("finish_reason", fr).Str("model", model).Msg("[gemini] Response did not finish cleanly")
	}

	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Model is a Gemini model usable with generateContent.
type Model struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// excludedModels are substrings of model families that cannot transcribe
// or rewrite text.
var excludedModels = []string{"embedding", "aqa", "imagen", "veo", "lyria", "learnlm"}

// ListModels returns the gemini-* models that support generateContent,
// newest version first.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/v1beta/models?pageSize=100", nil)
	if err != nil {
		return nil, err
	}
	body, _, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Models []struct {
			Name                       string   `json:"name"` // "models/gemini-2.5-flash"
			DisplayName                string   `json:"displayName"`
			Description                string   `json:"description"`
			SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse models: %w", err)
	}

	models := []Model{}
	seen := make(map[string]bool)
	for _, m := range resp.Models {
		if !slices.Contains(m.SupportedGenerationMethods, "generateContent") {
			continue
		}
		id := strings.TrimPrefix(m.Name, "models/")
		if !strings.HasPrefix(id, "gemini-") || seen[id] {
			continue
		}
		if slices.ContainsFunc(excludedModels, func(x string) bool { return strings.Contains(id, x) }) {
			continue
		}
		seen[id] = true
		models = append(models, Model{ID: id, DisplayName: m.DisplayName, Description: m.Description})
	}

	sort.Slice(models, func(i, j int) bool {
		return models[i].ID > models[j].ID
	})
	return models, nil
}
