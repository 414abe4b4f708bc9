package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is wrapped by every FormatError.
var ErrUnsupportedFormat = errors.New("unsupported format")

// SupportedFormats is the fixed extension allow-list, without dots.
var SupportedFormats = []string{"flac", "m4a", "mp3", "mp4", "mpeg", "mpga", "oga", "ogg", "wav", "webm"}

var audioExtensions = map[string]bool{
	".flac": true, ".m4a": true, ".mp3": true, ".mp4": true, ".mpeg": true,
	".mpga": true, ".oga": true, ".ogg": true, ".wav": true, ".webm": true,
}

var mimeTypes = map[string]string{
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mp3",
	".mp4":  "audio/mp4",
	".mpeg": "audio/mpeg",
	".mpga": "audio/mpeg",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".webm": "audio/webm",
}

// FormatError reports a file whose extension is outside the allow-list.
type FormatError struct {
	Name string
	Ext  string
}

func (e *FormatError) Error() string {
	ext := e.Ext
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Sprintf("%s: %s %q; supported formats: %s",
		ErrUnsupportedFormat, e.Name, ext, strings.Join(SupportedFormats, ", "))
}

func (e *FormatError) Unwrap() error {
	return ErrUnsupportedFormat
}

// IsAudioFile reports whether name carries a supported extension (case-insensitive).
func IsAudioFile(name string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(name))]
}

// CheckFormat returns a *FormatError when name is not an accepted input.
func CheckFormat(name string) error {
	if IsAudioFile(name) {
		return nil
	}
	return &FormatError{
		Name: filepath.Base(name),
		Ext:  strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
	}
}

// MimeType returns the upload MIME type for a supported file, audio/mpeg otherwise.
func MimeType(name string) string {
	if m, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return m
	}
	return "audio/mpeg"
}
