package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog/log"
)

// probeOutput is the part of ffprobe's JSON report the pipeline reads.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Prober measures media files with ffprobe, falling back to reading WAV and
// MP3 headers directly.
type Prober struct {
	tools Tools
	run   Runner
}

func NewProber(tools Tools, run Runner) *Prober {
	if run == nil {
		run = ExecRunner
	}
	return &Prober{tools: tools, run: run}
}

// probeDuration asks ffprobe for the container duration of path.
func (p *Prober) probeDuration(ctx context.Context, path string) (float64, error) {
	if !p.tools.HasFFprobe() {
		return 0, ErrToolUnavailable
	}

	output, err := p.run(ctx, p.tools.FFprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_entries", "format=duration",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}

	var result probeOutput
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, fmt.Errorf("ffprobe %s: parse output: %w", filepath.Base(path), err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(result.Format.Duration), 64)
	if err != nil || d <= 0 {
		return 0, errors.New("ffprobe reported no duration")
	}
	return d, nil
}

// Duration returns the length of path in seconds. ffprobe is tried first,
// then the WAV header, then an MP3 frame scan. An error means none of them
// could measure the file.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	var errs []error

	d, err := p.probeDuration(ctx, path)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrToolUnavailable) {
		log.Debug().Err(err).Str("path", path).Msg("[ffmpeg] ffprobe duration failed")
	}
	errs = append(errs, err)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		d, err := wavDuration(path)
		if err == nil {
			return d, nil
		}
		errs = append(errs, err)
	case ".mp3", ".mpga", ".mpeg":
		d, err := mp3Duration(path)
		if err == nil {
			return d, nil
		}
		errs = append(errs, err)
	}

	return 0, fmt.Errorf("measure %s: %w", filepath.Base(path), errors.Join(errs...))
}

func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if err := d.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("wav header: %w", err)
	}
	frameSize := int64(d.NumChans) * int64(d.BitDepth) / 8
	if frameSize <= 0 || d.SampleRate == 0 {
		return 0, fmt.Errorf("wav header: bad format")
	}
	return float64(d.PCMLen()/frameSize) / float64(d.SampleRate), nil
}

func mp3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("mp3 decoder: %w", err)
	}
	if d.SampleRate() <= 0 || d.Length() <= 0 {
		return 0, fmt.Errorf("mp3 length unknown")
	}
	// go-mp3 decodes to 16-bit stereo: 4 bytes per sample frame.
	return float64(d.Length()/4) / float64(d.SampleRate()), nil
}
