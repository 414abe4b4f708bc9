package transcript

import "strings"

// Render emits one block per paragraph separated by a blank line. Each block
// is optionally prefixed with "[mm:ss–mm:ss] " and, when the paragraph has a
// dominant speaker, "Speaker: ".
func Render(paras []Paragraph, includeTimestamps bool) string {
	blocks := make([]string, 0, len(paras))
	for _, p := range paras {
		var b strings.Builder
		if includeTimestamps {
			b.WriteString("[")
			b.WriteString(FormatRange(p.Start(), p.End()))
			b.WriteString("] ")
		}
		if spk := p.Speaker(); spk != "" {
			b.WriteString(spk)
			b.WriteString(": ")
		}
		b.WriteString(p.Text())
		blocks = append(blocks, strings.TrimSpace(b.String()))
	}
	return strings.TrimSpace(strings.Join(blocks, "\n\n"))
}
