package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Lister returns the model identifiers a provider currently serves.
type Lister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Catalog caches a provider's model list for the life of the process.
// The list is fetched on first use only; a failed probe leaves the catalog
// in "unknown" mode where every candidate is tried. Models that fail with
// ErrModelNotFound at call time are remembered as missing.
type Catalog struct {
	lister Lister
	logger *slog.Logger

	once   sync.Once
	models map[string]bool
	known  bool

	mu      sync.RWMutex
	missing map[string]bool
}

// NewCatalog creates a catalog. A nil lister means availability is unknown.
func NewCatalog(lister Lister, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		lister:  lister,
		logger:  logger.With("component", "model_catalog"),
		missing: make(map[string]bool),
	}
}

func (c *Catalog) load(ctx context.Context) {
	c.once.Do(func() {
		if c.lister == nil {
			return
		}
		start := time.Now()
		ids, err := c.lister.ListModels(ctx)
		if err != nil {
			c.logger.Warn("model list probe failed, trying all candidates", "error", err)
			return
		}
		c.models = make(map[string]bool, len(ids))
		for _, id := range ids {
			c.models[id] = true
		}
		c.known = true
		c.logger.Info("model list cached", "models", len(ids), "duration_ms", time.Since(start).Milliseconds())
	})
}

// Filter returns the candidates worth trying, in order.
func (c *Catalog) Filter(ctx context.Context, candidates []string) []string {
	c.load(ctx)
	out := make([]string, 0, len(candidates))
	for _, m := range candidates {
		if c.isMissing(m) {
			continue
		}
		if c.known && !c.listed(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// MarkMissing records that model was reported as not found.
func (c *Catalog) MarkMissing(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missing[model] = true
}

func (c *Catalog) isMissing(model string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.missing[model]
}

// listed matches exact ids plus the alias forms providers commonly accept:
// "name" for "name:latest" (ollama), an undated "family" for a dated
// "family-YYYYMMDD" id and "family-latest" for the same (anthropic).
func (c *Catalog) listed(model string) bool {
	if c.models[model] || c.models[model+":latest"] {
		return true
	}
	family := strings.TrimSuffix(model, "-latest")
	for id := range c.models {
		if strings.HasPrefix(id, family+"-") {
			return true
		}
	}
	return false
}

// NewLister returns the model lister for a provider, or nil when the
// provider has no listing endpoint.
func NewLister(cfg Config) Lister {
	client := &http.Client{Timeout: 10 * time.Second}
	switch cfg.Provider {
	case ProviderAnthropic:
		return &httpLister{
			client: client,
			url:    strings.TrimSuffix(orDefault(cfg.AnthropicURL, "https://api.anthropic.com/v1"), "/") + "/models?limit=1000",
			header: http.Header{"X-Api-Key": {cfg.AnthropicAPIKey}, "Anthropic-Version": {"2023-06-01"}},
			decode: decodeDataIDs,
		}
	case ProviderOpenAI:
		return &httpLister{
			client: client,
			url:    strings.TrimSuffix(orDefault(cfg.OpenAIURL, "https://api.openai.com/v1"), "/") + "/models",
			header: http.Header{"Authorization": {"Bearer " + cfg.OpenAIAPIKey}},
			decode: decodeDataIDs,
		}
	case ProviderOllama:
		return &httpLister{
			client: client,
			url:    strings.TrimSuffix(orDefault(cfg.OllamaHost, "http://localhost:11434"), "/") + "/api/tags",
			decode: decodeOllamaTags,
		}
	default:
		return nil
	}
}

type httpLister struct {
	client *http.Client
	url    string
	header http.Header
	decode func(io.Reader) ([]string, error)
}

func (l *httpLister) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range l.header {
		req.Header[k] = v
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("list models (status %d): %s", resp.StatusCode, string(body))
	}
	return l.decode(resp.Body)
}

func decodeDataIDs(r io.Reader) ([]string, error) {
	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	ids := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func decodeOllamaTags(r io.Reader) ([]string, error) {
	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(r).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode model tags: %w", err)
	}
	ids := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		ids = append(ids, m.Name)
	}
	return ids, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
