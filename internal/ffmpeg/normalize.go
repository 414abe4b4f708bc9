package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/audio-scribe/backend/internal/storage"
	"github.com/rs/zerolog/log"
)

// Normalizer converts input media to the canonical waveform: mono, 16 kHz,
// signed 16-bit little-endian PCM in a WAV container.
type Normalizer struct {
	tools Tools
	run   Runner
}

func NewNormalizer(tools Tools, run Runner) *Normalizer {
	if run == nil {
		run = ExecRunner
	}
	return &Normalizer{tools: tools, run: run}
}

// Normalize writes the canonical waveform to a new temporary file and
// returns its path. Without ffmpeg the input path is returned unchanged and
// nothing is created.
func (n *Normalizer) Normalize(ctx context.Context, input string) (string, error) {
	if err := storage.CheckFormat(input); err != nil {
		return "", err
	}
	if !n.tools.HasFFmpeg() {
		log.Warn().Str("input", filepath.Base(input)).Msg("[ffmpeg] Normalization skipped, ffmpeg unavailable")
		return input, nil
	}

	out, err := os.CreateTemp("", "scribe-audio-*.wav")
	if err != nil {
		return "", fmt.Errorf("create temp wav: %w", err)
	}
	outPath := out.Name()
	out.Close()

	output, err := n.run(ctx, n.tools.FFmpeg,
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-i", input,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	)
	if err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("ffmpeg: %s: %w", string(output), err)
	}

	log.Debug().Str("input", filepath.Base(input)).Str("output", outPath).Msg("[ffmpeg] Normalized audio")
	return outPath, nil
}
