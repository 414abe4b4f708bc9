// Package settings overlays values saved through the API on the loaded
// configuration and resolves per-run credentials from the result.
package settings

import (
	"strings"

	"github.com/audio-scribe/backend/internal/config"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/transcribe"
	"github.com/rs/zerolog/log"
)

// Setting keys.
const (
	KeyOpenAIKey       = "openai_api_key"
	KeyOpenAIBaseURL   = "openai_base_url"
	KeyWhisperModel    = "whisper_model"
	KeyChatModel       = "openai_chat_model"
	KeyWhisperCppURL   = "whisper_cpp_url"
	KeyGeminiKey       = "gemini_api_key"
	KeyGeminiModel     = "gemini_model"
	KeyGeminiPostModel = "gemini_post_model"
	KeyEngine          = "default_engine"
	KeyLanguage        = "language"
	KeyPostProvider    = "post_provider"
)

type Def struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Group       string `json:"group"`
	Placeholder string `json:"placeholder"`
	Secret      bool   `json:"secret"`
}

// Defs lists the settings the API accepts, in display order.
var Defs = []Def{
	{Key: KeyEngine, Label: "Default Engine", Group: "transcription", Placeholder: "whisper"},
	{Key: KeyLanguage, Label: "Default Language", Group: "transcription", Placeholder: "ko"},
	{Key: KeyOpenAIKey, Label: "OpenAI API Key", Group: "openai", Placeholder: "sk-...", Secret: true},
	{Key: KeyOpenAIBaseURL, Label: "OpenAI Base URL", Group: "openai", Placeholder: "https://api.openai.com/v1"},
	{Key: KeyWhisperModel, Label: "Whisper Model", Group: "openai", Placeholder: "whisper-1"},
	{Key: KeyChatModel, Label: "Chat Model", Group: "openai", Placeholder: "gpt-4o-mini"},
	{Key: KeyWhisperCppURL, Label: "whisper.cpp Server URL", Group: "whisper.cpp", Placeholder: "http://localhost:8081"},
	{Key: KeyGeminiKey, Label: "Gemini API Key", Group: "gemini", Placeholder: "AIza...", Secret: true},
	{Key: KeyGeminiModel, Label: "Gemini Transcription Model", Group: "gemini", Placeholder: "gemini-2.0-flash"},
	{Key: KeyGeminiPostModel, Label: "Gemini Post-processing Model", Group: "gemini", Placeholder: "gemini-2.0-flash"},
	{Key: KeyPostProvider, Label: "Post-processing Provider", Group: "postprocess", Placeholder: "openai"},
}

// Lookup returns the definition of key.
func Lookup(key string) (Def, bool) {
	for _, d := range Defs {
		if d.Key == key {
			return d, true
		}
	}
	return Def{}, false
}

const maskPrefix = "••••••••"

// Mask hides all but the last four characters of a secret.
func Mask(val string) string {
	if val == "" {
		return ""
	}
	if len(val) > 4 {
		return maskPrefix + val[len(val)-4:]
	}
	return maskPrefix
}

// IsMasked reports whether val is a value previously returned by Mask, which
// must never be saved back over the real secret.
func IsMasked(val string) bool {
	return strings.HasPrefix(val, maskPrefix)
}

type Store interface {
	GetAllSettings() (map[string]string, error)
}

// Resolver reads saved settings on every call so changes apply to the next
// run without a restart.
type Resolver struct {
	cfg   *config.Config
	store Store
}

func NewResolver(cfg *config.Config, store Store) *Resolver {
	return &Resolver{cfg: cfg, store: store}
}

// Values returns the effective value of every setting. Saved non-empty
// values win over the configuration.
func (r *Resolver) Values() map[string]string {
	c := r.cfg
	vals := map[string]string{
		KeyOpenAIKey:       c.OpenAI.APIKey,
		KeyOpenAIBaseURL:   c.OpenAI.BaseURL,
		KeyWhisperModel:    c.OpenAI.WhisperModel,
		KeyChatModel:       c.OpenAI.ChatModel,
		KeyWhisperCppURL:   c.WhisperCpp.URL,
		KeyGeminiKey:       c.Gemini.APIKey,
		KeyGeminiModel:     c.Gemini.Model,
		KeyGeminiPostModel: c.Gemini.PostModel,
		KeyEngine:          c.Pipeline.Engine,
		KeyLanguage:        c.Pipeline.Language,
		KeyPostProvider:    c.Pipeline.PostProvider,
	}
	if r.store == nil {
		return vals
	}
	saved, err := r.store.GetAllSettings()
	if err != nil {
		log.Warn().Err(err).Msg("[settings] Failed to load saved settings, using config")
		return vals
	}
	for k, v := range saved {
		if _, ok := vals[k]; ok && strings.TrimSpace(v) != "" {
			vals[k] = strings.TrimSpace(v)
		}
	}
	return vals
}

// Pipeline returns the pipeline defaults with saved overrides applied.
func (r *Resolver) Pipeline() config.PipelineConfig {
	vals := r.Values()
	pc := r.cfg.Pipeline
	pc.Engine = vals[KeyEngine]
	pc.Language = vals[KeyLanguage]
	pc.PostProvider = vals[KeyPostProvider]
	return pc
}

// EngineCredentials returns what the named engine is built from. Unknown
// engines get empty credentials and fail in the registry.
func (r *Resolver) EngineCredentials(engine string) transcribe.Credentials {
	vals := r.Values()
	switch engine {
	case transcribe.EngineWhisper:
		return transcribe.Credentials{APIKey: vals[KeyOpenAIKey], Model: vals[KeyWhisperModel], BaseURL: vals[KeyOpenAIBaseURL]}
	case transcribe.EngineWhisperCpp:
		return transcribe.Credentials{BaseURL: vals[KeyWhisperCppURL]}
	case transcribe.EngineGemini:
		return transcribe.Credentials{APIKey: vals[KeyGeminiKey], Model: vals[KeyGeminiModel], BaseURL: r.cfg.Gemini.BaseURL}
	}
	return transcribe.Credentials{}
}

// EngineFactory builds engines from the registry. Non-empty fields of
// override replace the resolved credentials, so a request can bring its own
// key or model.
func (r *Resolver) EngineFactory(reg *transcribe.Registry) func(name string, override transcribe.Credentials) (transcribe.Engine, error) {
	return func(name string, override transcribe.Credentials) (transcribe.Engine, error) {
		creds := r.EngineCredentials(name)
		if override.APIKey != "" {
			creds.APIKey = override.APIKey
		}
		if override.Model != "" {
			creds.Model = override.Model
		}
		if override.BaseURL != "" {
			creds.BaseURL = override.BaseURL
		}
		return reg.New(name, creds)
	}
}

// Provider builds a post-processing provider. An empty name selects the
// configured default and an empty model the provider's configured model.
func (r *Resolver) Provider(name, model string) (postprocess.Provider, error) {
	vals := r.Values()
	if strings.TrimSpace(name) == "" {
		name = vals[KeyPostProvider]
	}
	pc := postprocess.Config{Provider: name, Model: model}
	switch name {
	case postprocess.ProviderOpenAI:
		pc.APIKey = vals[KeyOpenAIKey]
		pc.BaseURL = vals[KeyOpenAIBaseURL]
		if pc.Model == "" {
			pc.Model = vals[KeyChatModel]
		}
	case postprocess.ProviderGemini:
		pc.APIKey = vals[KeyGeminiKey]
		pc.BaseURL = r.cfg.Gemini.BaseURL
		if pc.Model == "" {
			pc.Model = vals[KeyGeminiPostModel]
		}
	}
	return postprocess.NewProvider(pc)
}
