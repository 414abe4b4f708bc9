package tempfiles

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return path
}

func TestReleaseRemovesArtifacts(t *testing.T) {
	root := t.TempDir()
	input := touch(t, filepath.Join(root, "input.mp3"))
	canonical := touch(t, filepath.Join(root, "canonical.wav"))
	chunkDir := filepath.Join(root, "chunks")
	require.NoError(t, os.Mkdir(chunkDir, 0755))
	c0 := touch(t, filepath.Join(chunkDir, "chunk_000.wav"))
	c1 := touch(t, filepath.Join(chunkDir, "chunk_001.wav"))

	tr := NewTracker(input, WithDelays(0, 0))
	tr.SetCanonical(canonical)
	tr.AddDir(chunkDir)
	tr.AddChunks(c0, c1)
	tr.Release()

	assert.FileExists(t, input)
	assert.NoFileExists(t, canonical)
	assert.NoFileExists(t, c0)
	assert.NoFileExists(t, c1)
	assert.NoDirExists(t, chunkDir)
}

func TestReleaseKeepsInputInDegradedMode(t *testing.T) {
	input := touch(t, filepath.Join(t.TempDir(), "talk.wav"))

	tr := NewTracker(input, WithDelays(0, 0))
	tr.SetCanonical(input)
	tr.AddChunks(input)
	tr.Release()

	assert.FileExists(t, input)
}

func TestReleaseLeavesNonEmptyDir(t *testing.T) {
	dir := t.TempDir()
	stray := touch(t, filepath.Join(dir, "stray.txt"))
	chunk := touch(t, filepath.Join(dir, "chunk_000.wav"))

	tr := NewTracker("/nonexistent/input.wav", WithDelays(0, 0))
	tr.AddChunks(chunk)
	tr.AddDir(dir)
	tr.Release()

	assert.NoFileExists(t, chunk)
	assert.FileExists(t, stray)
	assert.DirExists(t, dir)
}

func TestReleaseOnce(t *testing.T) {
	dir := t.TempDir()
	chunk := touch(t, filepath.Join(dir, "chunk_000.wav"))

	tr := NewTracker("in.wav", WithDelays(0, 0))
	tr.AddChunks(chunk)
	tr.Release()

	// Recreated after release: a second Release must not touch it.
	touch(t, chunk)
	tr.Release()
	assert.FileExists(t, chunk)
}

func TestReleaseToleratesMissingFiles(t *testing.T) {
	var failures []string
	tr := NewTracker("in.wav",
		WithDelays(0, 0),
		WithFailureHook(func(path string, err error) { failures = append(failures, path) }),
	)
	tr.SetCanonical(filepath.Join(t.TempDir(), "gone.wav"))
	tr.AddChunks("/nonexistent/chunk_000.wav")
	tr.AddDir("/nonexistent")

	assert.NotPanics(t, tr.Release)
	assert.Empty(t, failures)
}

func TestRemoveRetriesOnce(t *testing.T) {
	locked := errors.New("file in use")

	var calls int
	var failed []string
	tr := NewTracker("in.wav",
		WithDelays(0, 0),
		WithFailureHook(func(path string, err error) { failed = append(failed, path) }),
	)

	tr.remove("a.wav", func(string) error {
		calls++
		if calls == 1 {
			return locked
		}
		return nil
	})
	assert.Equal(t, 2, calls)
	assert.Empty(t, failed)

	calls = 0
	tr.remove("b.wav", func(string) error {
		calls++
		return locked
	})
	assert.Equal(t, 2, calls, "exactly one retry")
	assert.Equal(t, []string{"b.wav"}, failed)
}
