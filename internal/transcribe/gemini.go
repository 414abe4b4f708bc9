package transcribe

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/audio-scribe/backend/internal/gemini"
	"github.com/audio-scribe/backend/internal/storage"
	"github.com/audio-scribe/backend/internal/transcript"
	"github.com/rs/zerolog/log"
)

// GeminiEngine produces whole-text transcripts with a multimodal model.
// Each opened file is uploaded once through the File API.
type GeminiEngine struct {
	client *gemini.Client
	model  string
}

// NewGeminiEngine needs an API key. BaseURL overrides the API endpoint.
func NewGeminiEngine(creds Credentials) (Engine, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("%s: %w: Gemini API key", EngineGemini, ErrMissingCredential)
	}
	return NewGeminiEngineWithClient(gemini.New(creds.APIKey, gemini.WithBaseURL(creds.BaseURL)), creds.Model), nil
}

// NewGeminiEngineWithClient wraps an existing client.
func NewGeminiEngineWithClient(client *gemini.Client, model string) *GeminiEngine {
	if model == "" {
		model = gemini.DefaultModel
	}
	return &GeminiEngine{client: client, model: model}
}

func (g *GeminiEngine) Name() string {
	return EngineGemini
}

func (g *GeminiEngine) Open(ctx context.Context, path string) (TextSession, error) {
	f, err := g.client.UploadFile(ctx, path, storage.MimeType(path))
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	s := &geminiSession{client: g.client, model: g.model, file: f}

	active, err := g.client.WaitActive(ctx, f)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.file = active
	return s, nil
}

type geminiSession struct {
	client *gemini.Client
	model  string
	file   *gemini.File
}

func (s *geminiSession) filePart() gemini.Part {
	return gemini.Part{FileData: &gemini.FileData{MimeType: s.file.MimeType, FileURI: s.file.URI}}
}

func (s *geminiSession) Transcribe(ctx context.Context, req TextRequest) (string, error) {
	text, err := s.client.Generate(ctx, gemini.GenerateRequest{
		Model: s.model,
		Parts: []gemini.Part{s.filePart(), {Text: TranscriptionPrompt(req)}},
	})
	if err != nil {
		return "", fmt.Errorf("gemini transcription: %w", err)
	}
	return text, nil
}

var durationRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

func (s *geminiSession) EstimateDuration(ctx context.Context) (float64, error) {
	text, err := s.client.Generate(ctx, gemini.GenerateRequest{
		Model: s.model,
		Parts: []gemini.Part{s.filePart(), {Text: durationPrompt}},
	})
	if err != nil {
		return 0, fmt.Errorf("gemini duration estimate: %w", err)
	}
	m := durationRe.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("gemini duration estimate: no number in %q", text)
	}
	d, err := strconv.ParseFloat(m, 64)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("gemini duration estimate: bad value %q", m)
	}
	log.Info().Float64("seconds", d).Msg("[gemini] Using model-estimated duration")
	return d, nil
}

// Close deletes the uploaded file. Failures are logged, the remote file
// expires on its own.
func (s *geminiSession) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.client.DeleteFile(ctx, s.file.Name); err != nil {
		log.Warn().Err(err).Str("file", s.file.Name).Msg("[gemini] Failed to delete uploaded file")
		return err
	}
	return nil
}

const durationPrompt = "How long is the attached audio? Reply with only the total duration in seconds as a number, nothing else."

// TranscriptionPrompt builds the instruction for one whole-text request.
func TranscriptionPrompt(req TextRequest) string {
	var b strings.Builder
	b.WriteString("Transcribe the attached audio completely and verbatim. Do not summarize or skip anything.\n")
	if lang := languageHint(req.Language); lang != "" {
		fmt.Fprintf(&b, "The audio is in language %q; write the transcript in that language.\n", lang)
	}
	b.WriteString("When the speaker changes and speakers can be told apart, start the line with a label such as \"Speaker 1:\".\n")

	if w := req.Window; w != nil {
		fmt.Fprintf(&b, "Transcribe ONLY the interval from %s to %s of the file, measured from its beginning. Ignore everything outside that interval.\n",
			transcript.FormatTimestamp(w.Start), transcript.FormatTimestamp(w.End))
	}
	if req.IncludeTimestamps {
		fmt.Fprintf(&b, "Prefix each utterance with a [MM:SS] timestamp. Timestamps are absolute: the first transcribed moment is [%s], and later markers add the elapsed time to it.\n",
			transcript.FormatTimestamp(req.Anchor()))
	}
	b.WriteString("Return only the transcript text.")
	return b.String()
}
