package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/audio-scribe/backend/internal/audiotest"
	"github.com/audio-scribe/backend/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTools = Tools{FFmpeg: "/usr/bin/ffmpeg", FFprobe: "/usr/bin/ffprobe"}

type call struct {
	name string
	args []string
}

// recorder returns a Runner that records calls and delegates to fn.
func recorder(calls *[]call, fn func(args []string) ([]byte, error)) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, call{name: name, args: args})
		if fn == nil {
			return nil, nil
		}
		return fn(args)
	}
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestLookupTools(t *testing.T) {
	tools := lookupTools(func(name string) (string, error) {
		if name == "ffmpeg" {
			return "/opt/bin/ffmpeg", nil
		}
		return "", errors.New("not found")
	})
	assert.True(t, tools.HasFFmpeg())
	assert.False(t, tools.HasFFprobe())
	assert.Equal(t, "/opt/bin/ffmpeg", tools.FFmpeg)
}

func TestNormalizeWithoutFFmpeg(t *testing.T) {
	var calls []call
	n := NewNormalizer(Tools{}, recorder(&calls, nil))

	out, err := n.Normalize(context.Background(), "/data/talk.m4a")
	require.NoError(t, err)
	assert.Equal(t, "/data/talk.m4a", out)
	assert.Empty(t, calls)
}

func TestNormalizeRejectsUnsupported(t *testing.T) {
	var calls []call
	n := NewNormalizer(allTools, recorder(&calls, nil))

	_, err := n.Normalize(context.Background(), "/data/talk.aac")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrUnsupportedFormat))
	assert.Empty(t, calls)
}

func TestNormalizeCommand(t *testing.T) {
	var calls []call
	n := NewNormalizer(allTools, recorder(&calls, nil))

	out, err := n.Normalize(context.Background(), "/data/Talk.MP4")
	require.NoError(t, err)
	defer os.Remove(out)

	assert.FileExists(t, out)
	assert.Equal(t, ".wav", filepath.Ext(out))
	require.Len(t, calls, 1)
	args := calls[0].args
	assert.Equal(t, allTools.FFmpeg, calls[0].name)
	assert.Equal(t, "/data/Talk.MP4", argAfter(args, "-i"))
	assert.Contains(t, args, "-vn")
	assert.Equal(t, "1", argAfter(args, "-ac"))
	assert.Equal(t, "16000", argAfter(args, "-ar"))
	assert.Equal(t, "pcm_s16le", argAfter(args, "-c:a"))
	assert.Equal(t, out, args[len(args)-1])
}

func TestNormalizeFailureRemovesOutput(t *testing.T) {
	var calls []call
	n := NewNormalizer(allTools, recorder(&calls, func(args []string) ([]byte, error) {
		return []byte("Invalid data found when processing input"), errors.New("exit status 1")
	}))

	_, err := n.Normalize(context.Background(), "/data/broken.mp3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
	require.Len(t, calls, 1)
	assert.NoFileExists(t, calls[0].args[len(calls[0].args)-1])
}

func TestSplitDegradedWithoutFFmpeg(t *testing.T) {
	s := NewSplitter(Tools{}, nil)

	split, err := s.Split(context.Background(), "/data/talk.wav", 600)
	require.NoError(t, err)
	assert.True(t, split.Degraded)
	assert.Empty(t, split.Dir)
	assert.Equal(t, []string{"/data/talk.wav"}, split.Chunks)
}

func TestSplitCollectsChunks(t *testing.T) {
	var calls []call
	s := NewSplitter(allTools, recorder(&calls, func(args []string) ([]byte, error) {
		pattern := args[len(args)-1]
		dir := filepath.Dir(pattern)
		for i := 0; i < 3; i++ {
			if err := os.WriteFile(filepath.Join(dir, ChunkName(i)), []byte("x"), 0644); err != nil {
				return nil, err
			}
		}
		// A gap in numbering ends collection.
		return nil, os.WriteFile(filepath.Join(dir, ChunkName(5)), []byte("x"), 0644)
	}))

	split, err := s.Split(context.Background(), "/tmp/canonical.wav", 600)
	require.NoError(t, err)
	defer os.RemoveAll(split.Dir)

	assert.False(t, split.Degraded)
	require.Len(t, split.Chunks, 3)
	for i, c := range split.Chunks {
		assert.Equal(t, filepath.Join(split.Dir, ChunkName(i)), c)
	}

	args := calls[0].args
	assert.Equal(t, "segment", argAfter(args, "-f"))
	assert.Equal(t, "600", argAfter(args, "-segment_time"))
	assert.Equal(t, "copy", argAfter(args, "-c"))
	assert.True(t, strings.HasSuffix(args[len(args)-1], "chunk_%03d.wav"))
}

func TestSplitNoChunksDegrades(t *testing.T) {
	var calls []call
	s := NewSplitter(allTools, recorder(&calls, nil))

	split, err := s.Split(context.Background(), "/tmp/canonical.wav", 600)
	require.NoError(t, err)
	assert.True(t, split.Degraded)
	assert.Equal(t, []string{"/tmp/canonical.wav"}, split.Chunks)

	dir := filepath.Dir(calls[0].args[len(calls[0].args)-1])
	assert.NoDirExists(t, dir)
}

func TestSplitFailureDegrades(t *testing.T) {
	var calls []call
	s := NewSplitter(allTools, recorder(&calls, func([]string) ([]byte, error) {
		return []byte("boom"), errors.New("exit status 1")
	}))

	split, err := s.Split(context.Background(), "/tmp/canonical.wav", 600)
	require.NoError(t, err)
	assert.True(t, split.Degraded)
}

func TestDurationFromFFprobe(t *testing.T) {
	var calls []call
	p := NewProber(allTools, recorder(&calls, func([]string) ([]byte, error) {
		return []byte(`{"format": {"duration": "1500.250000"}}`), nil
	}))

	d, err := p.Duration(context.Background(), "a.m4a")
	require.NoError(t, err)
	assert.InDelta(t, 1500.25, d, 1e-9)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].args, "format=duration")
}

func TestDurationFFprobeWithoutDuration(t *testing.T) {
	p := NewProber(allTools, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(`{"format": {"duration": "N/A"}}`), nil
	})
	_, err := p.Duration(context.Background(), "a.m4a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffprobe reported no duration")
}

func TestDurationFallsBackToWAVHeader(t *testing.T) {
	path := audiotest.WriteWAV(t, filepath.Join(t.TempDir(), "clip.wav"), 2.5)

	p := NewProber(Tools{}, nil)
	d, err := p.Duration(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, d, 0.01)
}

func TestDurationFallsBackWhenFFprobeFails(t *testing.T) {
	path := audiotest.WriteWAV(t, filepath.Join(t.TempDir(), "clip.wav"), 1)

	p := NewProber(allTools, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("exit status 1")
	})
	d, err := p.Duration(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 0.01)
}

func TestDurationUnmeasurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS"), 0644))

	p := NewProber(Tools{}, nil)
	_, err := p.Duration(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolUnavailable)
}
