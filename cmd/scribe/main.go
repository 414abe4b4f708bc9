// Command scribe transcribes and post-processes audio files from the
// terminal using the same pipeline as the server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"

	"github.com/audio-scribe/backend/internal/config"
	"github.com/audio-scribe/backend/internal/logging"
)

// Globals are shared by every subcommand.
type Globals struct {
	Config    string `env:"SCRIBE_CONFIG" type:"path" help:"YAML configuration file"`
	LogLevel  string `env:"LOG_LEVEL" default:"warn" enum:"trace,debug,info,warn,error" help:"Log level"`
	LogFormat string `env:"LOG_FORMAT" default:"console" enum:"console,json" help:"Log format"`

	ctx context.Context `kong:"-"`
}

func (g *Globals) load() (*config.Config, error) {
	if g.Config != "" {
		os.Setenv("SCRIBE_CONFIG", g.Config)
	}
	return config.Load()
}

var cli struct {
	Globals

	Transcribe  TranscribeCMD  `cmd:"" help:"Transcribe an audio file"`
	Postprocess PostprocessCMD `cmd:"" help:"Post-process a transcript text file"`
	Info        InfoCMD        `cmd:"" help:"Show engines, modes and supported formats"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kctx := kong.Parse(&cli,
		kong.Name("scribe"),
		kong.Description("Chunked audio transcription with optional LLM post-processing."),
		kong.UsageOnError(),
	)
	logging.Setup(cli.LogLevel, cli.LogFormat)
	cli.Globals.ctx = ctx

	if err := kctx.Run(&cli.Globals); err != nil {
		log.Fatal().Err(err).Msg("scribe failed")
	}
}
