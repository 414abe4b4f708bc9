package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Split is the result of dividing a canonical waveform. Dir is empty in
// degraded mode, where the single chunk is the canonical file itself.
type Split struct {
	Dir      string
	Chunks   []string
	Degraded bool
}

// Splitter cuts a canonical waveform into fixed-length chunks with the
// ffmpeg segment muxer.
type Splitter struct {
	tools Tools
	run   Runner
}

func NewSplitter(tools Tools, run Runner) *Splitter {
	if run == nil {
		run = ExecRunner
	}
	return &Splitter{tools: tools, run: run}
}

// ChunkName is the file name of chunk i inside a split directory.
func ChunkName(i int) string {
	return fmt.Sprintf("chunk_%03d.wav", i)
}

// Split writes chunk_000.wav, chunk_001.wav, ... into a fresh temporary
// directory using stream copy. When ffmpeg is missing, fails, or produces no
// chunks, the canonical file is returned as the only chunk and the result
// is marked degraded. The returned error is reserved for context
// cancellation.
func (s *Splitter) Split(ctx context.Context, canonical string, chunkSeconds int) (*Split, error) {
	degraded := &Split{Chunks: []string{canonical}, Degraded: true}
	if !s.tools.HasFFmpeg() {
		return degraded, nil
	}
	if chunkSeconds <= 0 {
		return nil, fmt.Errorf("chunk length must be positive, got %d", chunkSeconds)
	}

	dir, err := os.MkdirTemp("", "scribe-chunks-*")
	if err != nil {
		log.Warn().Err(err).Msg("[ffmpeg] Cannot create chunk dir, using single chunk")
		return degraded, nil
	}

	output, err := s.run(ctx, s.tools.FFmpeg,
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-i", canonical,
		"-f", "segment",
		"-segment_time", strconv.Itoa(chunkSeconds),
		"-c", "copy",
		filepath.Join(dir, "chunk_%03d.wav"),
	)
	if err != nil {
		os.RemoveAll(dir)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("output", string(output)).Msg("[ffmpeg] Segmenting failed, using single chunk")
		return degraded, nil
	}

	chunks := collectChunks(dir)
	if len(chunks) == 0 {
		os.RemoveAll(dir)
		log.Warn().Str("input", filepath.Base(canonical)).Msg("[ffmpeg] Segmenter produced no chunks, using single chunk")
		return degraded, nil
	}

	log.Debug().Int("chunks", len(chunks)).Str("dir", dir).Msg("[ffmpeg] Split audio")
	return &Split{Dir: dir, Chunks: chunks}, nil
}

// collectChunks returns chunk files numbered contiguously from zero.
func collectChunks(dir string) []string {
	var chunks []string
	for i := 0; ; i++ {
		p := filepath.Join(dir, ChunkName(i))
		if _, err := os.Stat(p); err != nil {
			return chunks
		}
		chunks = append(chunks, p)
	}
}
