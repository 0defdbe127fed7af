package embedding

import (
	"context"
	"fmt"
	"time"
)

// DefaultBatchSize bounds how many chunks are sent per provider request.
const DefaultBatchSize = 16

// Batcher splits a list of chunks into provider requests of at most Size
// texts. Each request runs under its own Timeout.
type Batcher struct {
	Embedder Embedder
	Size     int
	Timeout  time.Duration
}

// NewBatcher creates a Batcher. Non-positive size falls back to DefaultBatchSize.
func NewBatcher(e Embedder, size int, timeout time.Duration) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{Embedder: e, Size: size, Timeout: timeout}
}

// Embed returns one vector per chunk. Any failed request fails the whole
// call; partial results are discarded so a segment never gets an average
// over a subset of its chunks.
func (b *Batcher) Embed(ctx context.Context, chunks []string) ([][]float32, error) {
	out := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += b.Size {
		end := min(start+b.Size, len(chunks))

		vectors, err := b.embedOne(ctx, chunks[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end-1, len(vectors))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (b *Batcher) embedOne(ctx context.Context, texts []string) ([][]float32, error) {
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	return b.Embedder.EmbedBatch(ctx, texts)
}

// Model returns the underlying embedder's model name.
func (b *Batcher) Model() string {
	return b.Embedder.Model()
}
