package postprocess

import (
	"context"
	"fmt"
	"strings"

	"github.com/audio-scribe/backend/internal/gemini"
	openai "github.com/sashabaranov/go-openai"
)

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Providers lists the supported provider names.
var Providers = []string{ProviderOpenAI, ProviderGemini}

// Provider completes a single system + user exchange.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, text string) (string, error)
}

// Config selects and authenticates a provider. Model and BaseURL are
// optional.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// NewProvider builds the configured provider without any network call.
func NewProvider(cfg Config) (Provider, error) {
	name := strings.TrimSpace(cfg.Provider)
	if name == "" {
		name = ProviderOpenAI
	}
	switch name {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: %w: OpenAI API key", name, ErrMissingCredential)
		}
		return newOpenAIProvider(cfg), nil
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: %w: Gemini API key", name, ErrMissingCredential)
		}
		return NewGeminiProvider(gemini.New(cfg.APIKey, gemini.WithBaseURL(cfg.BaseURL)), cfg.Model), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

type openAIProvider struct {
	client *openai.Client
	model  string
}

func newOpenAIProvider(cfg Config) *openAIProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &openAIProvider{client: openai.NewClientWithConfig(oc), model: model}
}

func (p *openAIProvider) Name() string {
	return ProviderOpenAI
}

func (p *openAIProvider) Complete(ctx context.Context, system, text string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: empty response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GeminiProvider completes with generateContent.
type GeminiProvider struct {
	client *gemini.Client
	model  string
}

func NewGeminiProvider(client *gemini.Client, model string) *GeminiProvider {
	if model == "" {
		model = gemini.DefaultModel
	}
	return &GeminiProvider{client: client, model: model}
}

func (p *GeminiProvider) Name() string {
	return ProviderGemini
}

func (p *GeminiProvider) Complete(ctx context.Context, system, text string) (string, error) {
	out, err := p.client.Generate(ctx, gemini.GenerateRequest{
		Model:  p.model,
		System: system,
		Parts:  []gemini.Part{{Text: text}},
	})
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	return out, nil
}
