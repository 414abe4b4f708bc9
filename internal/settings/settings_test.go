package settings

import (
	"errors"
	"testing"

	"github.com/audio-scribe/backend/internal/config"
	"github.com/audio-scribe/backend/internal/postprocess"
	"github.com/audio-scribe/backend/internal/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	vals map[string]string
	err  error
}

func (m mapStore) GetAllSettings() (map[string]string, error) {
	return m.vals, m.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.OpenAI.APIKey = "sk-config"
	cfg.WhisperCpp.URL = "http://whisper:8081"
	return cfg
}

func TestMask(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "••••••••"},
		{"sk-1234567890", "••••••••7890"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Mask(tt.in))
	}
	assert.True(t, IsMasked(Mask("sk-1234567890")))
	assert.False(t, IsMasked("sk-1234567890"))
}

func TestSavedValuesWin(t *testing.T) {
	r := NewResolver(testConfig(), mapStore{vals: map[string]string{
		KeyOpenAIKey: "sk-saved",
		KeyLanguage:  "en",
		KeyEngine:    "  ",
		"unknown":    "ignored",
	}})

	vals := r.Values()
	assert.Equal(t, "sk-saved", vals[KeyOpenAIKey])
	assert.Equal(t, "en", vals[KeyLanguage])
	assert.Equal(t, "whisper", vals[KeyEngine], "blank saved values fall back to config")
	assert.NotContains(t, vals, "unknown")

	pc := r.Pipeline()
	assert.Equal(t, "en", pc.Language)
	assert.Equal(t, 600, pc.ChunkSeconds)
}

func TestStoreErrorFallsBackToConfig(t *testing.T) {
	r := NewResolver(testConfig(), mapStore{err: errors.New("database is locked")})
	assert.Equal(t, "sk-config", r.Values()[KeyOpenAIKey])
}

func TestEngineCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Gemini.APIKey = "AIza-config"
	r := NewResolver(cfg, nil)

	assert.Equal(t, transcribe.Credentials{APIKey: "sk-config", Model: "whisper-1"}, r.EngineCredentials(transcribe.EngineWhisper))
	assert.Equal(t, transcribe.Credentials{BaseURL: "http://whisper:8081"}, r.EngineCredentials(transcribe.EngineWhisperCpp))
	gem := r.EngineCredentials(transcribe.EngineGemini)
	assert.Equal(t, "AIza-config", gem.APIKey)
	assert.Equal(t, cfg.Gemini.Model, gem.Model)
	assert.Equal(t, transcribe.Credentials{}, r.EngineCredentials("vosk"))
}

func TestEngineFactoryOverrides(t *testing.T) {
	var got transcribe.Credentials
	reg := transcribe.NewRegistry()
	reg.Register("fake", func(c transcribe.Credentials) (transcribe.Engine, error) {
		got = c
		return nil, nil
	})
	cfg := testConfig()
	newEngine := NewResolver(cfg, nil).EngineFactory(reg)

	_, err := newEngine("fake", transcribe.Credentials{APIKey: "sk-request"})
	require.NoError(t, err)
	assert.Equal(t, "sk-request", got.APIKey)

	_, err = newEngine("missing", transcribe.Credentials{})
	assert.ErrorIs(t, err, transcribe.ErrUnknownEngine)

	reg.Register(transcribe.EngineWhisper, func(c transcribe.Credentials) (transcribe.Engine, error) {
		got = c
		return nil, nil
	})
	_, err = newEngine(transcribe.EngineWhisper, transcribe.Credentials{Model: "whisper-large"})
	require.NoError(t, err)
	assert.Equal(t, transcribe.Credentials{APIKey: "sk-config", Model: "whisper-large"}, got)
}

func TestProvider(t *testing.T) {
	r := NewResolver(testConfig(), nil)

	p, err := r.Provider("", "")
	require.NoError(t, err)
	assert.Equal(t, postprocess.ProviderOpenAI, p.Name())

	_, err = r.Provider(postprocess.ProviderGemini, "")
	assert.ErrorIs(t, err, postprocess.ErrMissingCredential)

	_, err = r.Provider("claude", "")
	assert.ErrorIs(t, err, postprocess.ErrUnknownProvider)
}

func TestLookup(t *testing.T) {
	d, ok := Lookup(KeyGeminiKey)
	require.True(t, ok)
	assert.True(t, d.Secret)

	_, ok = Lookup("deepl_api_key")
	assert.False(t, ok)
}
