package pipeline

import (
	"fmt"

	"github.com/audio-scribe/backend/internal/config"
	"github.com/audio-scribe/backend/internal/postprocess"
)

// Options are the per-run settings. Zero values are not defaults; start from
// DefaultOptions or OptionsFromConfig.
type Options struct {
	Language          string  `json:"language"`
	ChunkSeconds      int     `json:"chunk_seconds"`
	Diarize           bool    `json:"diarize"`
	IncludeTimestamps bool    `json:"include_timestamps"`
	RemoveFillers     bool    `json:"remove_fillers"`
	GapThreshold      float64 `json:"gap_threshold"`
	MaxChars          int     `json:"max_chars"`

	// Whole-text engines split one request into windows of BatchSizeSec
	// when a chunk is longer than BatchThresholdSec.
	BatchThresholdSec int `json:"batch_threshold_sec"`
	BatchSizeSec      int `json:"batch_size_sec"`

	// PostMode, when set, post-processes every chunk right after it is
	// transcribed using PostProvider.
	PostMode     postprocess.Mode     `json:"post_mode,omitempty"`
	PostProvider postprocess.Provider `json:"-"`
}

func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Pipeline)
}

func OptionsFromConfig(pc config.PipelineConfig) Options {
	return Options{
		Language:          pc.Language,
		ChunkSeconds:      pc.ChunkSeconds,
		Diarize:           pc.Diarize,
		IncludeTimestamps: pc.IncludeTimestamps,
		RemoveFillers:     pc.RemoveFillers,
		GapThreshold:      pc.GapThreshold,
		MaxChars:          pc.MaxChars,
		BatchThresholdSec: pc.BatchThresholdSec,
		BatchSizeSec:      pc.BatchSizeSec,
	}
}

// Validate checks ranges and the post-processing mode.
func (o Options) Validate() error {
	if o.ChunkSeconds <= 0 {
		return fmt.Errorf("chunk_seconds must be > 0, got %d", o.ChunkSeconds)
	}
	if o.MaxChars <= 0 {
		return fmt.Errorf("max_chars must be > 0, got %d", o.MaxChars)
	}
	if o.GapThreshold < 0 {
		return fmt.Errorf("gap_threshold must be >= 0, got %v", o.GapThreshold)
	}
	if o.BatchSizeSec <= 0 {
		return fmt.Errorf("batch_size_sec must be > 0, got %d", o.BatchSizeSec)
	}
	if o.BatchThresholdSec < 0 {
		return fmt.Errorf("batch_threshold_sec must be >= 0, got %d", o.BatchThresholdSec)
	}
	if o.PostMode != "" {
		if _, err := postprocess.ParseMode(string(o.PostMode)); err != nil {
			return err
		}
	}
	return nil
}
