// Package transcript holds the time-aligned transcript model and the pure
// transforms applied to it: offsetting chunk-relative segments onto the
// global timeline, overlaying diarization turns, grouping into paragraphs
// and rendering.
package transcript

import (
	"fmt"
	"sort"
)

// Segment is one time-stamped utterance. Start and End are seconds on the
// global timeline once a Timeline has been applied.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Turn is one diarization interval attributed to a single speaker.
type Turn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// SortTurns orders turns by end time, the order AssignSpeakers scans in.
func SortTurns(turns []Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].End < turns[j].End
	})
}

// FormatTimestamp renders seconds as zero-padded mm:ss. Minutes are not
// wrapped at the hour.
func FormatTimestamp(t float64) string {
	if t < 0 {
		t = 0
	}
	m := int(t) / 60
	s := int(t) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatRange renders "mm:ss–mm:ss".
func FormatRange(start, end float64) string {
	return FormatTimestamp(start) + "–" + FormatTimestamp(end)
}
