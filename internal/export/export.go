// Package export renders stored runs as plain text, Markdown, HTML and
// WebVTT.
package export

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/Masterminds/sprig/v3"
	"github.com/audio-scribe/backend/internal/db/models"
	"github.com/audio-scribe/backend/internal/pipeline"
	"github.com/audio-scribe/backend/internal/transcript"
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday"
)

const (
	kindTranscript = "transcript"
	kindDiagnostic = "diagnostic"
)

// Chunk converts a streamed pipeline result into its stored form.
func Chunk(runID string, res pipeline.ChunkResult) *models.RunChunk {
	c := &models.RunChunk{
		RunID:     runID,
		Index:     res.Index,
		Chunk:     res.Chunk,
		Window:    res.Window,
		Kind:      string(res.Kind),
		Start:     res.Start,
		End:       res.End,
		Text:      res.Text,
		PostMode:  string(res.PostMode),
		PostText:  res.PostText,
		PostError: res.PostError,
	}
	if len(res.Segments) > 0 {
		if raw, err := json.Marshal(res.Segments); err == nil {
			c.Segments = raw
		}
	}
	return c
}

// Text joins the transcript results of a run in stream order. Diagnostics
// are left out.
func Text(chunks []models.RunChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.Kind != kindTranscript {
			continue
		}
		if t := strings.TrimSpace(c.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Segments collects the time-aligned segments of all transcript results.
func Segments(chunks []models.RunChunk) ([]transcript.Segment, error) {
	var out []transcript.Segment
	for _, c := range chunks {
		if c.Kind != kindTranscript || len(c.Segments) == 0 {
			continue
		}
		var segs []transcript.Segment
		if err := json.Unmarshal(c.Segments, &segs); err != nil {
			return nil, fmt.Errorf("chunk %d segments: %w", c.Index, err)
		}
		out = append(out, segs...)
	}
	return out, nil
}

// VTT renders the run's segments as WebVTT. Runs transcribed as whole text
// carry no segments; each result then becomes one cue over its range.
func VTT(chunks []models.RunChunk) (string, error) {
	segs, err := Segments(chunks)
	if err != nil {
		return "", err
	}
	if len(segs) == 0 {
		for _, c := range chunks {
			if c.Kind == kindTranscript && strings.TrimSpace(c.Text) != "" {
				segs = append(segs, transcript.Segment{Start: c.Start, End: c.End, Text: strings.TrimSpace(c.Text)})
			}
		}
	}
	return transcript.ToVTT(segs), nil
}

// Markdown renders the run as a Markdown document: a header, the transcript
// by chunk, then any post-processed text and diagnostics.
func Markdown(run *models.Run, chunks []models.RunChunk) string {
	var sb strings.Builder

	title := run.Title
	if title == "" {
		title = run.FileName
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	if run.Artist != "" {
		fmt.Fprintf(&sb, "- Artist: %s\n", run.Artist)
	}
	fmt.Fprintf(&sb, "- File: %s\n", run.FileName)
	fmt.Fprintf(&sb, "- Engine: %s\n", run.Engine)
	if run.Language != "" {
		fmt.Fprintf(&sb, "- Language: %s\n", run.Language)
	}
	fmt.Fprintf(&sb, "- Created: %s\n", run.CreatedAt.Format("2006-01-02 15:04"))
	if run.Degraded {
		sb.WriteString("- Note: processed without audio normalization\n")
	}

	sb.WriteString("\n## Transcript\n")
	var diagnostics []string
	for _, c := range chunks {
		if c.Kind == kindDiagnostic {
			diagnostics = append(diagnostics, c.Text)
			continue
		}
		fmt.Fprintf(&sb, "\n### %s\n\n%s\n", transcript.FormatRange(c.Start, c.End), strings.TrimSpace(c.Text))
	}

	var post []models.RunChunk
	for _, c := range chunks {
		if c.PostMode != "" && (c.PostText != "" || c.PostError != "") {
			post = append(post, c)
		}
	}
	if len(post) > 0 {
		fmt.Fprintf(&sb, "\n## Post-processed (%s)\n", post[0].PostMode)
		for _, c := range post {
			fmt.Fprintf(&sb, "\n### %s\n\n", transcript.FormatRange(c.Start, c.End))
			if c.PostError != "" {
				fmt.Fprintf(&sb, "> post-processing failed: %s\n", c.PostError)
			} else {
				sb.WriteString(strings.TrimSpace(c.PostText) + "\n")
			}
		}
	}

	if len(diagnostics) > 0 {
		sb.WriteString("\n## Errors\n\n")
		for _, d := range diagnostics {
			fmt.Fprintf(&sb, "- %s\n", d)
		}
	}
	return sb.String()
}

// MarkdownToHTML renders untrusted Markdown to sanitized HTML.
func MarkdownToHTML(md string) template.HTML {
	out := blackfriday.MarkdownCommon([]byte(md))
	return template.HTML(bluemonday.UGCPolicy().SanitizeBytes(out))
}

//go:embed page.html.tmpl
var pageSource string

var page = template.Must(template.New("page").
	Funcs(sprig.HtmlFuncMap()).
	Funcs(template.FuncMap{"markdown": MarkdownToHTML}).
	Parse(pageSource))

// HTML writes the run as a standalone HTML page.
func HTML(w io.Writer, run *models.Run, chunks []models.RunChunk) error {
	var buf bytes.Buffer
	if err := page.Execute(&buf, struct {
		Run      *models.Run
		Markdown string
	}{run, Markdown(run, chunks)}); err != nil {
		return fmt.Errorf("render run %s: %w", run.ID, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
