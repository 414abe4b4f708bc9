// Package audiotest generates audio fixtures for tests.
package audiotest

import (
	"math"
	"os"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const SampleRate = 16000

// WriteWAV writes a mono 16 kHz 16-bit WAV of the given length containing a
// quiet 440 Hz tone.
func WriteWAV(t testing.TB, path string, seconds float64) string {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	n := int(seconds * SampleRate)
	data := make([]int, n)
	for i := range data {
		data[i] = int(1000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}

	enc := wav.NewEncoder(f, SampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	return path
}
