package main

import (
	"fmt"
	"strings"

	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/storage"
	"github.com/audio-scribe/backend/internal/transcribe"
)

type InfoCMD struct{}

func (InfoCMD) Run(g *Globals) error {
	var b strings.Builder
	b.WriteString("# scribe\n\n## Engines\n\n")
	for _, name := range transcribe.DefaultRegistry().Names() {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	b.WriteString("\n## Post-processing modes\n\n")
	for _, m := range postprocess.Modes {
		fmt.Fprintf(&b, "- %s\n", m)
	}
	fmt.Fprintf(&b, "\n## Providers\n\n%s\n", strings.Join(postprocess.Providers, ", "))
	fmt.Fprintf(&b, "\n## Formats\n\n%s\n", strings.Join(storage.SupportedFormats, ", "))
	printMarkdown(b.String(), false)
	return nil
}
