package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns vectors derived from text length and records calls.
type fakeEmbedder struct {
	mu     sync.Mutex
	dim    int
	calls  [][]string
	failOn int // 1-based call index to fail, 0 = never
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return nil, errors.New("provider unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dim)
		for j := range v {
			v[j] = float32(len(t) + j)
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string  { return "fake-embed" }
func (f *fakeEmbedder) Dimension() int { return f.dim }

func TestAverage(t *testing.T) {
	tests := []struct {
		name    string
		vectors [][]float32
		want    []float32
	}{
		{"no vectors", nil, nil},
		{"empty vector", [][]float32{{}}, nil},
		{"single vector identity", [][]float32{{0.1, -0.2, 0.3}}, []float32{0.1, -0.2, 0.3}},
		{"mean of two", [][]float32{{1, 2}, {3, 4}}, []float32{2, 3}},
		{"mismatched dimension", [][]float32{{1, 2}, {3}}, nil},
		{"mismatched later", [][]float32{{1, 2}, {3, 4}, {5, 6, 7}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Average(tt.vectors)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAverage_CopiesAreExact(t *testing.T) {
	v := []float32{0.1234567, -3.1415927, 1e-7, 42.42, 0}
	for _, n := range []int{1, 2, 3, 7, 100} {
		vectors := make([][]float32, n)
		for i := range vectors {
			vectors[i] = v
		}
		assert.Equal(t, v, Average(vectors), "n=%d", n)
	}
}

func TestAverage_DoesNotAliasInput(t *testing.T) {
	in := []float32{1, 2, 3}
	out := Average([][]float32{in})
	out[0] = 99
	assert.Equal(t, float32(1), in[0])
}

func TestBatcher_GroupsBySize(t *testing.T) {
	fake := &fakeEmbedder{dim: 2}
	b := NewBatcher(fake, 2, time.Second)

	vectors, err := b.Embed(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	assert.Equal(t, []float32{3, 4}, vectors[2])

	require.Len(t, fake.calls, 3)
	assert.Equal(t, []string{"a", "bb"}, fake.calls[0])
	assert.Equal(t, []string{"eeeee"}, fake.calls[2])
}

func TestBatcher_FailureDiscardsAll(t *testing.T) {
	fake := &fakeEmbedder{dim: 2, failOn: 2}
	b := NewBatcher(fake, 1, 0)

	vectors, err := b.Embed(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Nil(t, vectors)
	assert.Len(t, fake.calls, 2, "should stop after the failing request")
}

func TestBatcher_DefaultSize(t *testing.T) {
	b := NewBatcher(&fakeEmbedder{dim: 1}, 0, 0)
	assert.Equal(t, DefaultBatchSize, b.Size)
	assert.Equal(t, "fake-embed", b.Model())
}

func TestBatcher_Empty(t *testing.T) {
	fake := &fakeEmbedder{dim: 1}
	vectors, err := NewBatcher(fake, 4, 0).Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Empty(t, fake.calls)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Provider: ProviderOllama, Model: "m", Dimension: 0})
	assert.Error(t, err)

	_, err = New(Config{Provider: "bogus", Dimension: 3})
	assert.ErrorContains(t, err, "unknown embedding provider")

	_, err = New(Config{Provider: ProviderOpenAI, Model: "m", Dimension: 3})
	assert.ErrorContains(t, err, "API key")

	_, err = New(Config{Provider: ProviderVoyage, Dimension: 3})
	assert.ErrorContains(t, err, "API key")
}
