package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLister struct {
	mu    sync.Mutex
	calls int
	ids   []string
	err   error
}

func (l *countingLister) ListModels(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.ids, l.err
}

func TestCatalog_ProbesOnce(t *testing.T) {
	lister := &countingLister{ids: []string{"a", "c"}}
	cat := NewCatalog(lister, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cat.Filter(ctx, []string{"a", "b", "c"})
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"a", "c"}, cat.Filter(ctx, []string{"a", "b", "c"}))
	assert.Equal(t, 1, lister.calls)
}

func TestCatalog_UnknownTriesAll(t *testing.T) {
	ctx := context.Background()

	failing := NewCatalog(&countingLister{err: errors.New("offline")}, nil)
	assert.Equal(t, []string{"x", "y"}, failing.Filter(ctx, []string{"x", "y"}))

	none := NewCatalog(nil, nil)
	assert.Equal(t, []string{"x", "y"}, none.Filter(ctx, []string{"x", "y"}))
}

func TestCatalog_MarkMissing(t *testing.T) {
	cat := NewCatalog(nil, nil)
	cat.MarkMissing("x")
	assert.Equal(t, []string{"y"}, cat.Filter(context.Background(), []string{"x", "y"}))
}

func TestCatalog_AliasMatching(t *testing.T) {
	cat := NewCatalog(&countingLister{ids: []string{
		"claude-3-5-haiku-20241022",
		"claude-sonnet-4-5-20250929",
		"llama3.2:latest",
		"mistral:7b",
	}}, nil)

	got := cat.Filter(context.Background(), []string{
		"claude-sonnet-4-5",
		"claude-3-5-haiku-latest",
		"claude-3-7-sonnet-latest",
		"llama3.2",
		"mistral",
		"mistral:7b",
	})
	assert.Equal(t, []string{"claude-sonnet-4-5", "claude-3-5-haiku-latest", "llama3.2", "mistral:7b"}, got)
}

func TestCatalog_KeepsUndatedPrimary(t *testing.T) {
	cat := NewCatalog(&countingLister{ids: []string{
		"claude-sonnet-4-5-20250929",
		"claude-3-7-sonnet-20250219",
		"claude-3-5-haiku-20241022",
	}}, nil)

	got := cat.Filter(context.Background(), Ladder("claude-sonnet-4-5", DefaultFallbacks[ProviderAnthropic]))
	require.NotEmpty(t, got)
	assert.Equal(t, "claude-sonnet-4-5", got[0])
	assert.Equal(t, []string{"claude-sonnet-4-5", "claude-3-7-sonnet-latest", "claude-3-5-haiku-latest"}, got)
}

func TestHTTPListers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			assert.Equal(t, "ak", r.Header.Get("X-Api-Key"))
			assert.Equal(t, "2023-06-01", r.Header.Get("Anthropic-Version"))
			_, _ = w.Write([]byte(`{"data":[{"id":"claude-a"},{"id":"claude-b"}]}`))
		case "/models":
			assert.Equal(t, "Bearer ok", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"data":[{"id":"gpt-x"}]}`))
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"llama3.2:latest"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{"anthropic", Config{Provider: ProviderAnthropic, AnthropicAPIKey: "ak", AnthropicURL: srv.URL + "/v1"}, []string{"claude-a", "claude-b"}},
		{"openai", Config{Provider: ProviderOpenAI, OpenAIAPIKey: "ok", OpenAIURL: srv.URL}, []string{"gpt-x"}},
		{"ollama", Config{Provider: ProviderOllama, OllamaHost: srv.URL}, []string{"llama3.2:latest"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := NewLister(tt.cfg)
			require.NotNil(t, lister)
			ids, err := lister.ListModels(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids)
		})
	}

	assert.Nil(t, NewLister(Config{Provider: ProviderBedrock}))
}

func TestHTTPLister_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewLister(Config{Provider: ProviderOllama, OllamaHost: srv.URL}).ListModels(context.Background())
	assert.ErrorContains(t, err, "status 401")
}
