// Package ffmpeg wraps the external ffmpeg/ffprobe tools used to normalize,
// split and measure audio. Every invocation goes through a Runner so the
// package can be exercised without the binaries installed.
package ffmpeg

import (
	"context"
	"errors"
	"os/exec"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrToolUnavailable is returned when ffmpeg or ffprobe is not on PATH.
var ErrToolUnavailable = errors.New("ffmpeg: tool unavailable")

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Tools records where ffmpeg and ffprobe were found. An empty path means
// the tool is unavailable.
type Tools struct {
	FFmpeg  string `json:"ffmpeg"`
	FFprobe string `json:"ffprobe"`
}

func (t Tools) HasFFmpeg() bool  { return t.FFmpeg != "" }
func (t Tools) HasFFprobe() bool { return t.FFprobe != "" }

var (
	serverTools     Tools
	serverToolsOnce sync.Once
)

// DetectTools looks both binaries up on PATH. The lookup happens once per
// process; call it at startup and pass the result along.
func DetectTools() Tools {
	serverToolsOnce.Do(func() {
		serverTools = lookupTools(exec.LookPath)
		if serverTools.HasFFmpeg() {
			log.Info().Str("path", serverTools.FFmpeg).Msg("[ffmpeg] Found ffmpeg")
		} else {
			log.Warn().Msg("[ffmpeg] ffmpeg not found, audio will be passed through unsplit")
		}
		if serverTools.HasFFprobe() {
			log.Info().Str("path", serverTools.FFprobe).Msg("[ffmpeg] Found ffprobe")
		} else {
			log.Warn().Msg("[ffmpeg] ffprobe not found, durations come from file headers")
		}
	})
	return serverTools
}

func lookupTools(lookPath func(string) (string, error)) Tools {
	var t Tools
	if p, err := lookPath("ffmpeg"); err == nil {
		t.FFmpeg = p
	}
	if p, err := lookPath("ffprobe"); err == nil {
		t.FFprobe = p
	}
	return t
}
