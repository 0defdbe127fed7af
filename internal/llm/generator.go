package llm

import (
	"context"
	"fmt"
)

// Provider identifies a language-model backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderBedrock   Provider = "bedrock"
)

// Request is a single system+user prompt completion.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	JSON        bool
}

// Completion is the text returned for a Request.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Generator produces completions for any model the provider serves.
// Errors for unknown models wrap ErrModelNotFound.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Completion, error)
	Provider() Provider
}

// Config holds provider credentials and endpoints.
type Config struct {
	Provider        Provider
	AnthropicAPIKey string
	AnthropicURL    string
	OpenAIAPIKey    string
	OpenAIURL       string
	OllamaHost      string
	AWSRegion       string
}

// NewGenerator creates the Generator for cfg.Provider.
func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	switch cfg.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama:
		return NewLangchainGenerator(cfg)
	case ProviderBedrock:
		return NewBedrockGenerator(ctx, cfg.AWSRegion)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// DefaultFallbacks lists the models tried, in order, after the configured
// primary model for each provider.
var DefaultFallbacks = map[Provider][]string{
	ProviderAnthropic: {"claude-sonnet-4-5", "claude-3-7-sonnet-latest", "claude-3-5-haiku-latest"},
	ProviderOpenAI:    {"gpt-4o-mini", "gpt-4.1-mini", "gpt-3.5-turbo"},
	ProviderOllama:    {"llama3.1:8b", "llama3.2", "mistral"},
	ProviderBedrock: {
		"anthropic.claude-3-5-sonnet-20240620-v1:0",
		"anthropic.claude-3-haiku-20240307-v1:0",
	},
}

// Ladder returns primary followed by fallbacks, without blanks or duplicates.
func Ladder(primary string, fallbacks []string) []string {
	seen := make(map[string]bool, len(fallbacks)+1)
	out := make([]string, 0, len(fallbacks)+1)
	for _, m := range append([]string{primary}, fallbacks...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
