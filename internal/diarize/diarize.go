// Package diarize runs third-party speaker diarization over the canonical
// waveform of a run.
package diarize

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/audio-scribe/backend/internal/ffmpeg"
	"github.com/audio-scribe/backend/internal/transcript"
	"github.com/rs/zerolog/log"
)

//go:embed assets/pyannote_diarize.py
var helperScript []byte

// Provider returns speaker turns over the global timeline of path, in any
// order. Callers sort them once.
type Provider interface {
	Diarize(ctx context.Context, path string) ([]transcript.Turn, error)
}

// Availability is computed once at startup. When Enabled is false the
// pipeline skips diarization without reporting an error.
type Availability struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
	Python  string `json:"python,omitempty"`
}

// Settings configures the pyannote helper.
type Settings struct {
	HFToken string
	Python  string
	Model   string
}

// Detect checks for a Hugging Face token, a Python interpreter and an
// importable pyannote.audio, in that order.
func Detect(ctx context.Context, s Settings, run ffmpeg.Runner) Availability {
	if s.HFToken == "" {
		return Availability{Reason: "HF_TOKEN not set"}
	}
	python := s.Python
	if python == "" {
		python = "python3"
	}
	pyPath, err := exec.LookPath(python)
	if err != nil {
		return Availability{Reason: fmt.Sprintf("%s not found", python)}
	}
	if run == nil {
		run = ffmpeg.ExecRunner
	}

	script, cleanup, err := writeHelper()
	if err != nil {
		return Availability{Reason: err.Error()}
	}
	defer cleanup()

	if out, err := run(ctx, pyPath, script, "--check"); err != nil {
		return Availability{Reason: "pyannote.audio not importable: " + strings.TrimSpace(string(out)), Python: pyPath}
	}
	return Availability{Enabled: true, Python: pyPath}
}

// Pyannote runs the embedded helper script with pyannote.audio.
type Pyannote struct {
	python  string
	model   string
	hfToken string
	run     func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

// NewPyannote returns nil when diarization is unavailable, so callers can
// treat a nil Provider as "not configured".
func NewPyannote(avail Availability, s Settings) Provider {
	if !avail.Enabled {
		return nil
	}
	model := s.Model
	if model == "" {
		model = "pyannote/speaker-diarization"
	}
	return &Pyannote{python: avail.Python, model: model, hfToken: s.HFToken, run: runWithEnv}
}

func runWithEnv(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	out, err := cmd.Output()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(ee.Stderr)))
	}
	return out, err
}

type helperOutput struct {
	Turns []transcript.Turn `json:"turns"`
}

func (p *Pyannote) Diarize(ctx context.Context, path string) ([]transcript.Turn, error) {
	script, cleanup, err := writeHelper()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	env := append(os.Environ(), "HF_TOKEN="+p.hfToken)
	out, err := p.run(ctx, env, p.python, script, "--audio", path, "--model", p.model)
	if err != nil {
		return nil, fmt.Errorf("pyannote helper: %w", err)
	}

	var parsed helperOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse helper output: %w", err)
	}
	turns := parsed.Turns[:0]
	for _, t := range parsed.Turns {
		if t.End > t.Start && t.Speaker != "" {
			turns = append(turns, t)
		}
	}
	log.Info().Int("turns", len(turns)).Msg("[diarize] Diarization complete")
	return turns, nil
}

func writeHelper() (string, func(), error) {
	f, err := os.CreateTemp("", "scribe-diarize-*.py")
	if err != nil {
		return "", nil, fmt.Errorf("write helper script: %w", err)
	}
	if _, err := f.Write(helperScript); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("write helper script: %w", err)
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}
