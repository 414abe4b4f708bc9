package postprocess

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// instructionSources are the system prompts per mode. They render with
// InstructionData and the sprig function map.
var instructionSources = map[Mode]string{
	ModeClean: `The following is a {{ .LanguageName | default "spoken" }} transcript.
Fix spacing and punctuation so it reads naturally and remove redundant repetition.
Do not change the meaning and do not add facts that are not in the text.
{{- if .Timestamps }}
Keep every [mm:ss] timestamp and speaker label exactly as written.
{{- end }}`,

	ModeSummary: `Summarize the following transcript as:
1) Key points ({{ .MinBullets }}-{{ .MaxBullets }} bullets)
2) Decisions, if any
3) Action items, including owner and due date when mentioned
Write "None" for a section with nothing to report. Do not add facts that are not in the text.
{{- if ne .LanguageName "" }}
Answer in {{ .LanguageName }}.
{{- end }}`,

	ModeAtlasCodebook: `Prepare the following transcript for qualitative research coding.
Output format:
- Candidate codes ({{ .MinCodes }}-{{ .MaxCodes }}): code name / definition / short example quote
- Tentative categories (3-7): category name / codes it contains
Do not invent facts. Keep quotes as close to the original wording as possible.`,

	ModeMeetingSummary: `The following is a transcript of a meeting recording{{ if .Timestamps }} with timestamps{{ end }}.
Write meeting minutes in this format:
1. Three-line summary
   - The three most important conclusions, as bullets
2. Detailed notes
   - Split the meeting where the topic changes
{{- if .Timestamps }}
   - Put each section's time range in its header as [mm:ss ~ mm:ss] topic
{{- end }}
   - Write each section as Q&A (Q: question, A: answer) or as concise prose
   - Stay with the facts in the transcript and tidy up the sentences
{{- if ne .LanguageName "" }}
Write the minutes in {{ .LanguageName }}.
{{- end }}`,

	ModeQAFormat: `Restructure the following transcript as questions and answers.
For every question asked or implied, write "Q:" followed by the question and "A:" followed by the answer given.
Group related questions under short topic headings. Do not add facts that are not in the text.`,

	ModePresentationFormat: `Restructure the following transcript as presentation slides in Markdown.
Start each slide with a "## " title, then {{ sub .MinBullets 2 }}-{{ sub .MaxBullets 4 }} short bullets.
End with a "## Summary" slide. Do not add facts that are not in the text.`,
}

// InstructionData is available to instruction templates.
type InstructionData struct {
	Language     string
	LanguageName string
	Timestamps   bool
	MinBullets   int
	MaxBullets   int
	MinCodes     int
	MaxCodes     int
}

func newInstructionData(language string, timestamps bool) InstructionData {
	return InstructionData{
		Language:     language,
		LanguageName: langName(strings.TrimSpace(language)),
		Timestamps:   timestamps,
		MinBullets:   5,
		MaxBullets:   10,
		MinCodes:     10,
		MaxCodes:     25,
	}
}

func parseTemplates() (map[Mode]*template.Template, error) {
	out := make(map[Mode]*template.Template, len(instructionSources))
	for mode, src := range instructionSources {
		t, err := template.New(string(mode)).Funcs(sprig.FuncMap()).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parse %s instruction: %w", mode, err)
		}
		out[mode] = t
	}
	return out, nil
}
