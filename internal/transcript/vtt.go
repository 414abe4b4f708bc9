package transcript

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var cueTimingRe = regexp.MustCompile(`((?:\d{2}:)?\d{2}:\d{2}[.,]\d{3})\s*-->\s*((?:\d{2}:)?\d{2}:\d{2}[.,]\d{3})`)

var voiceTagRe = regexp.MustCompile(`^<v(?:\.[^ >]+)*\s+([^>]+)>(.*?)(?:</v>)?$`)

// ParseVTT reads WebVTT cues into segments. A leading <v Name> voice span
// becomes the segment speaker.
func ParseVTT(content string) []Segment {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	var segs []Segment
	var cur *Segment

	flush := func() {
		if cur != nil && strings.TrimSpace(cur.Text) != "" {
			cur.Text = strings.TrimSpace(cur.Text)
			segs = append(segs, *cur)
		}
		cur = nil
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)

		// Skip WEBVTT header and empty lines
		if line == "" || strings.HasPrefix(line, "WEBVTT") {
			flush()
			continue
		}

		if m := cueTimingRe.FindStringSubmatch(line); len(m) == 3 {
			flush()
			cur = &Segment{
				Start: parseVTTTimestamp(m[1]),
				End:   parseVTTTimestamp(m[2]),
			}
			continue
		}

		// Skip cue identifiers that precede the timing line
		if _, err := strconv.Atoi(line); err == nil && cur == nil {
			continue
		}
		if cur == nil {
			continue
		}

		if vm := voiceTagRe.FindStringSubmatch(line); vm != nil {
			if cur.Speaker == "" {
				cur.Speaker = strings.TrimSpace(vm[1])
			}
			line = vm[2]
		}
		if cur.Text != "" {
			cur.Text += " "
		}
		cur.Text += strings.TrimSpace(line)
	}
	flush()

	return segs
}

// ToVTT renders segments as WebVTT. Speakers are emitted as voice spans.
func ToVTT(segs []Segment) string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")

	for i, s := range segs {
		sb.WriteString(fmt.Sprintf("%d\n", i+1))
		sb.WriteString(fmt.Sprintf("%s --> %s\n", formatVTTTimestamp(s.Start), formatVTTTimestamp(s.End)))
		if s.Speaker != "" {
			sb.WriteString(fmt.Sprintf("<v %s>%s</v>", s.Speaker, s.Text))
		} else {
			sb.WriteString(s.Text)
		}
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func parseVTTTimestamp(ts string) float64 {
	ts = strings.Replace(ts, ",", ".", 1)
	var h, m, s, ms int
	if strings.Count(ts, ":") == 1 {
		fmt.Sscanf(ts, "%d:%d.%d", &m, &s, &ms)
	} else {
		fmt.Sscanf(ts, "%d:%d:%d.%d", &h, &m, &s, &ms)
	}
	return float64(h*3600+m*60+s) + float64(ms)/1000.0
}

func formatVTTTimestamp(seconds float64) string {
	totalMs := int(seconds*1000 + 0.5)
	h := totalMs / 3600000
	totalMs %= 3600000
	m := totalMs / 60000
	totalMs %= 60000
	s := totalMs / 1000
	ms := totalMs % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
