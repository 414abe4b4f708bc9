package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/settings"
)

type PostprocessCMD struct {
	File string `arg:"" type:"existingfile" help:"Transcript text file"`

	Mode       string `short:"m" required:"" help:"Post-processing mode"`
	Provider   string `short:"p" help:"Provider (openai, gemini)"`
	Model      string `help:"Provider model override"`
	Language   string `short:"l" help:"Transcript language code"`
	Timestamps bool   `help:"Keep timestamp markers in the output"`
	Raw        bool   `help:"Print plain Markdown instead of rendering it"`
}

func (p *PostprocessCMD) Run(g *Globals) error {
	mode, err := postprocess.ParseMode(p.Mode)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(p.File)
	if err != nil {
		return err
	}
	text := string(raw)
	if strings.TrimSpace(text) == "" {
		return errors.New("transcript is empty")
	}

	cfg, err := g.load()
	if err != nil {
		return err
	}
	resolver := settings.NewResolver(cfg, nil)
	provider, err := resolver.Provider(p.Provider, p.Model)
	if err != nil {
		return err
	}
	svc, err := postprocess.NewService()
	if err != nil {
		return err
	}

	language := p.Language
	if language == "" {
		language = resolver.Pipeline().Language
	}
	out, err := svc.Process(g.ctx, provider, postprocess.Request{
		Text:              text,
		Mode:              mode,
		Language:          language,
		IncludeTimestamps: p.Timestamps,
	})
	if err != nil {
		return err
	}
	printMarkdown(out, p.Raw)
	return nil
}

func printMarkdown(md string, raw bool) {
	if !raw && os.Getenv("NO_COLOR") == "" {
		if rendered, err := glamour.Render(md, "auto"); err == nil {
			fmt.Print(rendered)
			return
		}
	}
	fmt.Println(md)
}
