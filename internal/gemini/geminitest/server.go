// Package geminitest provides an in-process fake of the Gemini REST API.
package geminitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Request is one recorded generateContent call.
type Request struct {
	Model  string
	System string
	Prompt string
	Files  []string
}

// Models is the model list the fake serves, in the API's shape.
var Models = []map[string]any{
	{"name": "models/gemini-2.0-flash", "displayName": "Gemini 2.0 Flash", "supportedGenerationMethods": []string{"generateContent", "countTokens"}},
	{"name": "models/gemini-2.5-pro", "displayName": "Gemini 2.5 Pro", "supportedGenerationMethods": []string{"generateContent"}},
	{"name": "models/gemini-embedding-001", "displayName": "Gemini Embedding", "supportedGenerationMethods": []string{"embedContent"}},
	{"name": "models/imagen-3.0-generate-002", "displayName": "Imagen 3", "supportedGenerationMethods": []string{"predict"}},
	{"name": "models/gemini-2.0-flash", "displayName": "Gemini 2.0 Flash", "supportedGenerationMethods": []string{"generateContent"}},
}

// Server fakes file upload, polling, deletion and generateContent.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	uploads   int
	deleted   []string
	requests  []Request
	pollsLeft int

	// Reply builds the model output for a request. The default echoes the
	// prompt's first line.
	Reply func(Request) (string, int)
}

// NewServer starts a fake whose uploaded files report PROCESSING for the
// given number of polls before becoming ACTIVE.
func NewServer(processingPolls int) *Server {
	s := &Server{pollsLeft: processingPolls}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) Uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

func (s *Server) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-goog-api-key") == "" {
		http.Error(w, `{"error":{"message":"missing key"}}`, http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/upload/v1beta/files":
		w.Header().Set("X-Goog-Upload-URL", s.URL+"/upload/session/1")
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/session/"):
		io.Copy(io.Discard, r.Body)
		s.mu.Lock()
		s.uploads++
		name := fmt.Sprintf("files/f%d", s.uploads)
		state := "ACTIVE"
		if s.pollsLeft > 0 {
			state = "PROCESSING"
		}
		s.mu.Unlock()
		writeJSON(w, map[string]any{"file": fileJSON(s.URL, name, state)})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1beta/files/"):
		name := strings.TrimPrefix(r.URL.Path, "/v1beta/")
		s.mu.Lock()
		state := "ACTIVE"
		if s.pollsLeft > 0 {
			s.pollsLeft--
			if s.pollsLeft > 0 {
				state = "PROCESSING"
			}
		}
		s.mu.Unlock()
		writeJSON(w, fileJSON(s.URL, name, state))

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1beta/files/"):
		s.mu.Lock()
		s.deleted = append(s.deleted, strings.TrimPrefix(r.URL.Path, "/v1beta/"))
		s.mu.Unlock()
		writeJSON(w, map[string]any{})

	case r.Method == http.MethodGet && r.URL.Path == "/v1beta/models":
		writeJSON(w, map[string]any{"models": Models})

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":generateContent"):
		s.generate(w, r)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SystemInstruction struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"system_instruction"`
		Contents []struct {
			Parts []struct {
				Text     string `json:"text"`
				FileData *struct {
					FileURI string `json:"file_uri"`
				} `json:"file_data"`
			} `json:"parts"`
		} `json:"contents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	model := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1beta/models/"), ":generateContent")
	req := Request{Model: model}
	for _, p := range body.SystemInstruction.Parts {
		req.System += p.Text
	}
	for _, c := range body.Contents {
		for _, p := range c.Parts {
			if p.FileData != nil {
				req.Files = append(req.Files, p.FileData.FileURI)
			}
			req.Prompt += p.Text
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	reply := s.Reply
	s.mu.Unlock()

	text, status := "", http.StatusOK
	if reply != nil {
		text, status = reply(req)
	} else {
		text = strings.SplitN(req.Prompt, "\n", 2)[0]
	}
	if status != http.StatusOK {
		http.Error(w, text, status)
		return
	}

	writeJSON(w, map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"parts": []map[string]string{{"text": text}}},
			"finishReason": "STOP",
		}},
	})
}

func fileJSON(base, name, state string) map[string]any {
	return map[string]any{
		"name":     name,
		"uri":      base + "/v1beta/" + name,
		"mimeType": "audio/wav",
		"state":    state,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
