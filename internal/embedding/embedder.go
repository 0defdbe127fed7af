// Package embedding provides text embedding generation with multiple backend support.
package embedding

import (
	"context"
	"fmt"
)

// Embedder defines the interface for text embedding providers.
type Embedder interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model being used.
	Model() string

	// Dimension returns the embedding vector dimension.
	// Must match the content_segment vector index dimension.
	Dimension() int
}

// ProviderType identifies the embedding provider.
type ProviderType string

const (
	ProviderOllama ProviderType = "ollama"
	ProviderOpenAI ProviderType = "openai"
	ProviderVoyage ProviderType = "voyage"
)

// Config holds configuration for creating an Embedder.
type Config struct {
	Provider ProviderType

	// Model is the embedding model name (provider-specific).
	// Ollama: "all-minilm:l6-v2" (384-dim), "nomic-embed-text" (768-dim)
	// OpenAI: "text-embedding-3-small" (1536-dim)
	// Voyage: "voyage-3" (1024-dim)
	Model string

	// Dimension is the required output dimension.
	Dimension int

	OllamaHost   string
	OpenAIAPIKey string
	OpenAIURL    string
	VoyageAPIKey string
}

// New creates an Embedder based on the provided configuration.
func New(cfg Config) (Embedder, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}

	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllama(cfg.OllamaHost, cfg.Model, cfg.Dimension)
	case ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIURL, cfg.Model, cfg.Dimension)
	case ProviderVoyage:
		return NewVoyageClient(cfg.VoyageAPIKey, cfg.Model, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
