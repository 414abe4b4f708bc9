package handlers

import (
	"net/http"

	"github.com/audio-scribe/backend/internal/config"
	"github.com/audio-scribe/backend/internal/diarize"
	"github.com/audio-scribe/backend/internal/ffmpeg"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/storage"
)

type CapabilitiesHandler struct {
	tools    ffmpeg.Tools
	diarize  diarize.Availability
	engines  []string
	defaults func() config.PipelineConfig
}

func NewCapabilitiesHandler(tools ffmpeg.Tools, diarize diarize.Availability, engines []string,
	defaults func() config.PipelineConfig) *CapabilitiesHandler {
	return &CapabilitiesHandler{tools: tools, diarize: diarize, engines: engines, defaults: defaults}
}

type capabilities struct {
	FFmpeg      bool                  `json:"ffmpeg"`
	FFprobe     bool                  `json:"ffprobe"`
	Diarization diarize.Availability  `json:"diarization"`
	Engines     []string              `json:"engines"`
	Providers   []string              `json:"providers"`
	Modes       []postprocess.Mode    `json:"modes"`
	Formats     []string              `json:"formats"`
	Defaults    config.PipelineConfig `json:"defaults"`
}

// Capabilities reports what this server can do, as detected at startup.
func (h *CapabilitiesHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, capabilities{
		FFmpeg:      h.tools.HasFFmpeg(),
		FFprobe:     h.tools.HasFFprobe(),
		Diarization: h.diarize,
		Engines:     h.engines,
		Providers:   postprocess.Providers,
		Modes:       postprocess.Modes,
		Formats:     storage.SupportedFormats,
		Defaults:    h.defaults(),
	}, http.StatusOK)
}

// Health is a liveness probe.
func (h *CapabilitiesHandler) Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}
