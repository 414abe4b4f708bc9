// Package transcribe adapts speech-to-text providers to two shapes: engines
// that return time-stamped segments per chunk, and engines that return a
// whole text blob per chunk or per time window.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/audio-scribe/backend/internal/transcript"
)

var (
	// ErrMissingCredential means the engine cannot be used without an API
	// key or server address. It is returned before any network call.
	ErrMissingCredential = errors.New("missing credential")
	ErrUnknownEngine     = errors.New("unknown transcription engine")
)

// Engine names.
const (
	EngineWhisper    = "whisper"
	EngineWhisperCpp = "whisper.cpp"
	EngineGemini     = "gemini"
)

// Engine is implemented by every adapter. Concrete engines also implement
// exactly one of SegmentTranscriber or TextTranscriber.
type Engine interface {
	Name() string
}

// Request is a single chunk transcription.
type Request struct {
	Path     string
	Language string
}

// SegmentTranscriber returns chunk-relative segments with trimmed, non-empty
// text in the order the provider produced them.
type SegmentTranscriber interface {
	Engine
	TranscribeSegments(ctx context.Context, req Request) ([]transcript.Segment, error)
}

// Window scopes a whole-text request to [Start, End] seconds of the opened
// file.
type Window struct {
	Start float64
	End   float64
}

// TextRequest asks a session for a transcript of its file or of one window.
type TextRequest struct {
	Language          string
	IncludeTimestamps bool
	// Offset is the global time at which the opened file starts. Timestamp
	// markers are anchored at Offset plus the window start.
	Offset float64
	Window *Window
}

// Anchor is the global time of the first transcribed moment.
func (r TextRequest) Anchor() float64 {
	if r.Window != nil {
		return r.Offset + r.Window.Start
	}
	return r.Offset
}

// TextSession holds one uploaded file for any number of requests.
type TextSession interface {
	Transcribe(ctx context.Context, req TextRequest) (string, error)
	// EstimateDuration asks the model how long the file is. It is a rough
	// heuristic for when no local probe can measure the file.
	EstimateDuration(ctx context.Context) (float64, error)
	Close() error
}

// TextTranscriber opens sessions over whole files.
type TextTranscriber interface {
	Engine
	Open(ctx context.Context, path string) (TextSession, error)
}

// Credentials are the opaque per-run settings an engine is built from.
type Credentials struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Constructor builds an engine, returning ErrMissingCredential when creds
// are insufficient.
type Constructor func(creds Credentials) (Engine, error)

// Registry maps engine names to constructors.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry has the OpenAI Whisper, whisper.cpp and Gemini engines.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(EngineWhisper, NewOpenAIEngine)
	r.Register(EngineWhisperCpp, NewWhisperCppEngine)
	r.Register(EngineGemini, NewGeminiEngine)
	return r
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// New builds the named engine.
func (r *Registry) New(name string, creds Credentials) (Engine, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownEngine, name, strings.Join(r.Names(), ", "))
	}
	return ctor(creds)
}

// Names lists registered engines in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// rawSegment is a provider segment before normalization.
type rawSegment struct {
	Start float64
	End   float64
	Text  string
}

// normalizeSegments trims text, drops empty segments and clamps End to be
// no earlier than Start.
func normalizeSegments(raw []rawSegment) []transcript.Segment {
	out := make([]transcript.Segment, 0, len(raw))
	for _, r := range raw {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		start := max(r.Start, 0)
		out = append(out, transcript.Segment{
			Start: start,
			End:   max(r.End, start),
			Text:  text,
		})
	}
	return out
}

// languageHint maps "auto" and empty to no hint.
func languageHint(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "auto" {
		return ""
	}
	return lang
}
