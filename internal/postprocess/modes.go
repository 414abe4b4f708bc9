// Package postprocess routes transcript text to a chat model with one of a
// closed set of transformation instructions.
package postprocess

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the transformation applied to a transcript.
type Mode string

const (
	ModeClean              Mode = "clean"
	ModeSummary            Mode = "summary"
	ModeAtlasCodebook      Mode = "atlas_codebook"
	ModeMeetingSummary     Mode = "meeting_summary"
	ModeQAFormat           Mode = "qa_format"
	ModePresentationFormat Mode = "presentation_format"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{
	ModeClean,
	ModeSummary,
	ModeAtlasCodebook,
	ModeMeetingSummary,
	ModeQAFormat,
	ModePresentationFormat,
}

var (
	ErrUnknownMode       = errors.New("unknown post-processing mode")
	ErrUnknownProvider   = errors.New("unknown post-processing provider")
	ErrMissingCredential = errors.New("missing credential")
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.TrimSpace(s))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	names := make([]string, len(Modes))
	for i, k := range Modes {
		names[i] = string(k)
	}
	return "", fmt.Errorf("%w: %q (supported: %s)", ErrUnknownMode, s, strings.Join(names, ", "))
}

func langName(code string) string {
	names := map[string]string{
		"ko":   "Korean",
		"en":   "English",
		"ja":   "Japanese",
		"zh":   "Chinese",
		"es":   "Spanish",
		"fr":   "French",
		"de":   "German",
		"pt":   "Portuguese",
		"it":   "Italian",
		"ru":   "Russian",
		"vi":   "Vietnamese",
		"id":   "Indonesian",
		"auto": "",
	}
	if name, ok := names[code]; ok {
		return name
	}
	return code
}
