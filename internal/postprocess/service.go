package postprocess

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"
)

// Request is one transformation of a transcript.
type Request struct {
	Text              string
	Mode              Mode
	Language          string
	IncludeTimestamps bool
}

// Service renders mode instructions and dispatches them to a provider.
type Service struct {
	templates map[Mode]*template.Template
}

func NewService() (*Service, error) {
	t, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	return &Service{templates: t}, nil
}

// Instruction renders the system prompt for a mode.
func (s *Service) Instruction(mode Mode, language string, timestamps bool) (string, error) {
	t, ok := s.templates[mode]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, newInstructionData(language, timestamps)); err != nil {
		return "", fmt.Errorf("render %s instruction: %w", mode, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Process returns the transformed text. On error the caller keeps the
// original text; Process never returns partial output.
func (s *Service) Process(ctx context.Context, p Provider, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", nil
	}
	system, err := s.Instruction(req.Mode, req.Language, req.IncludeTimestamps)
	if err != nil {
		return "", err
	}

	start := time.Now()
	out, err := p.Complete(ctx, system, req.Text)
	if err != nil {
		log.Warn().Err(err).Str("provider", p.Name()).Str("mode", string(req.Mode)).Msg("[postprocess] Post-processing failed")
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("%s returned no text", p.Name())
	}
	log.Debug().Str("provider", p.Name()).Str("mode", string(req.Mode)).
		Dur("elapsed", time.Since(start)).Int("chars", len(out)).Msg("[postprocess] Done")
	return out, nil
}
