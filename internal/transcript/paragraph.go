package transcript

import (
	"strings"
	"unicode/utf8"
)

// Paragraph is a non-empty run of consecutive segments rendered as one block.
type Paragraph struct {
	Segments []Segment `json:"segments"`
}

func (p Paragraph) Start() float64 {
	return p.Segments[0].Start
}

func (p Paragraph) End() float64 {
	return p.Segments[len(p.Segments)-1].End
}

// Text joins the trimmed segment texts with single spaces.
func (p Paragraph) Text() string {
	parts := make([]string, 0, len(p.Segments))
	for _, s := range p.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Speaker is the label with the greatest summed segment duration, ties going
// to the label seen first. Empty when no segment is labelled.
func (p Paragraph) Speaker() string {
	totals := make(map[string]float64)
	var order []string
	for _, s := range p.Segments {
		if s.Speaker == "" {
			continue
		}
		if _, seen := totals[s.Speaker]; !seen {
			order = append(order, s.Speaker)
		}
		totals[s.Speaker] += s.Duration()
	}

	best := ""
	bestTotal := -1.0
	for _, spk := range order {
		if totals[spk] > bestTotal {
			best = spk
			bestTotal = totals[spk]
		}
	}
	return best
}

// Paragraphize groups segments in a single left-to-right pass. A new
// paragraph starts at the first segment, when the silence since the previous
// segment is at least gapThreshold seconds, or when appending the segment
// (plus a one-character separator) would push the rendered paragraph past
// maxChars runes. A segment longer than maxChars on its own still forms a
// paragraph.
func Paragraphize(segments []Segment, gapThreshold float64, maxChars int) []Paragraph {
	var paras []Paragraph
	var cur []Segment
	curLen := 0

	for _, seg := range segments {
		n := utf8.RuneCountInString(strings.TrimSpace(seg.Text))
		if len(cur) == 0 {
			cur = []Segment{seg}
			curLen = n
			continue
		}

		gap := seg.Start - cur[len(cur)-1].End
		if gap >= gapThreshold || curLen+1+n > maxChars {
			paras = append(paras, Paragraph{Segments: cur})
			cur = []Segment{seg}
			curLen = n
			continue
		}
		cur = append(cur, seg)
		curLen += 1 + n
	}

	if len(cur) > 0 {
		paras = append(paras, Paragraph{Segments: cur})
	}
	return paras
}
