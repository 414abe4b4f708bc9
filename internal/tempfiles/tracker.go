// Package tempfiles owns the temporary artifacts of a single pipeline run and
// releases them exactly once.
package tempfiles

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultSettleDelay = 50 * time.Millisecond
	defaultRetryDelay  = 100 * time.Millisecond
)

// Tracker records the canonical waveform, chunk files and chunk directories
// created for one run. The original input is never deleted.
type Tracker struct {
	mu        sync.Mutex
	input     string
	canonical string
	chunks    []string
	dirs      []string

	settle    time.Duration
	retry     time.Duration
	onFailure func(path string, err error)

	once sync.Once
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithDelays overrides the settle delay before deletion and the pause before
// the single retry.
func WithDelays(settle, retry time.Duration) Option {
	return func(t *Tracker) {
		t.settle = settle
		t.retry = retry
	}
}

// WithFailureHook is called once per artifact that could not be removed
// after the retry.
func WithFailureHook(fn func(path string, err error)) Option {
	return func(t *Tracker) {
		t.onFailure = fn
	}
}

// NewTracker starts tracking for a run over input.
func NewTracker(input string, opts ...Option) *Tracker {
	t := &Tracker{
		input:  filepath.Clean(input),
		settle: defaultSettleDelay,
		retry:  defaultRetryDelay,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// SetCanonical records the normalized waveform. A path equal to the input is
// ignored.
func (t *Tracker) SetCanonical(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if path == "" || t.isInput(path) {
		return
	}
	t.canonical = path
}

// AddChunks records chunk files.
func (t *Tracker) AddChunks(paths ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, paths...)
}

// AddDir records a chunk directory, removed only if empty at release.
func (t *Tracker) AddDir(dir string) {
	if dir == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirs = append(t.dirs, dir)
}

// Release deletes every tracked artifact. Only the first call does any work;
// it never fails and never panics on a missing file.
func (t *Tracker) Release() {
	t.once.Do(t.release)
}

func (t *Tracker) release() {
	t.mu.Lock()
	canonical := t.canonical
	chunks := append([]string(nil), t.chunks...)
	dirs := append([]string(nil), t.dirs...)
	t.mu.Unlock()

	// Let finished library calls drop their file handles.
	runtime.GC()
	if t.settle > 0 {
		time.Sleep(t.settle)
	}

	if canonical != "" {
		t.remove(canonical, os.Remove)
	}
	for _, c := range chunks {
		if t.isInput(c) || c == canonical {
			continue
		}
		t.remove(c, os.Remove)
	}
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Warn().Err(err).Str("dir", d).Msg("[tempfiles] Cannot read chunk dir")
			}
			continue
		}
		if len(entries) > 0 {
			log.Warn().Str("dir", d).Int("entries", len(entries)).Msg("[tempfiles] Chunk dir not empty, leaving it")
			continue
		}
		t.remove(d, os.Remove)
	}
}

// remove deletes path, retrying once after a pause. A missing path counts
// as removed.
func (t *Tracker) remove(path string, rm func(string) error) {
	err := rm(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	if t.retry > 0 {
		time.Sleep(t.retry)
	}
	err = rm(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}

	log.Warn().Err(err).Str("path", path).Msg("[tempfiles] Failed to remove temporary file")
	if t.onFailure != nil {
		t.onFailure(path, err)
	}
}

func (t *Tracker) isInput(path string) bool {
	return filepath.Clean(path) == t.input
}
