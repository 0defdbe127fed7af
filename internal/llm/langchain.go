package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainGenerator serves anthropic, openai and ollama through langchaingo.
// One client is created lazily per model name and reused.
type LangchainGenerator struct {
	cfg Config

	mu     sync.Mutex
	models map[string]llms.Model
}

var _ Generator = (*LangchainGenerator)(nil)

// NewLangchainGenerator validates credentials for cfg.Provider.
func NewLangchainGenerator(cfg Config) (*LangchainGenerator, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
	case ProviderOllama:
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	return &LangchainGenerator{cfg: cfg, models: make(map[string]llms.Model)}, nil
}

// Provider returns the configured provider.
func (g *LangchainGenerator) Provider() Provider {
	return g.cfg.Provider
}

func (g *LangchainGenerator) model(name string) (llms.Model, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if m, ok := g.models[name]; ok {
		return m, nil
	}

	var (
		m   llms.Model
		err error
	)
	switch g.cfg.Provider {
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithToken(g.cfg.AnthropicAPIKey), anthropic.WithModel(name)}
		if g.cfg.AnthropicURL != "" {
			opts = append(opts, anthropic.WithBaseURL(g.cfg.AnthropicURL))
		}
		m, err = anthropic.New(opts...)
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithToken(g.cfg.OpenAIAPIKey), openai.WithModel(name)}
		if g.cfg.OpenAIURL != "" {
			opts = append(opts, openai.WithBaseURL(g.cfg.OpenAIURL))
		}
		m, err = openai.New(opts...)
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(name)}
		if g.cfg.OllamaHost != "" {
			opts = append(opts, ollama.WithServerURL(g.cfg.OllamaHost))
		}
		m, err = ollama.New(opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model %s: %w", g.cfg.Provider, name, err)
	}
	g.models[name] = m
	return m, nil
}

// Generate runs a system+user completion against req.Model.
func (g *LangchainGenerator) Generate(ctx context.Context, req Request) (*Completion, error) {
	m, err := g.model(req.Model)
	if err != nil {
		return nil, err
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}
	opts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	// Anthropic rejects the JSON response format option.
	if req.JSON && g.cfg.Provider != ProviderAnthropic {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := m.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate with %s: %w", req.Model, classifyError(req.Model, err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	choice := resp.Choices[0]
	return &Completion{
		Text:         choice.Content,
		Model:        req.Model,
		InputTokens:  intInfo(choice.GenerationInfo, "InputTokens", "PromptTokens", "prompt_eval_count"),
		OutputTokens: intInfo(choice.GenerationInfo, "OutputTokens", "CompletionTokens", "eval_count"),
	}, nil
}

// intInfo reads the first integer-valued key present in a langchaingo
// GenerationInfo map. Providers disagree on key names.
func intInfo(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
