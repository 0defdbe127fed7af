package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Cache is an Embedder decorator that stores vectors in BadgerDB, keyed by
// model and text. Reprocessing a version only pays for chunks it has not
// embedded before.
type Cache struct {
	next   Embedder
	db     *badger.DB
	logger *slog.Logger
}

var _ Embedder = (*Cache)(nil)

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

// NewCache opens a Badger store at dir. An empty dir keeps the cache in memory.
func NewCache(next Embedder, dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "embedding_cache")

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &Cache{next: next, db: db, logger: logger}, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Model returns the wrapped embedder's model.
func (c *Cache) Model() string {
	return c.next.Model()
}

// Dimension returns the wrapped embedder's dimension.
func (c *Cache) Dimension() int {
	return c.next.Dimension()
}

// EmbedBatch serves cached vectors and sends only the misses upstream,
// in a single request.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	err := c.db.View(func(txn *badger.Txn) error {
		for i, t := range texts {
			item, err := txn.Get(c.key(t))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missIdx = append(missIdx, i)
				missTexts = append(missTexts, t)
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				v, err := decodeVector(val, c.next.Dimension())
				out[i] = v
				return err
			}); err != nil {
				missIdx = append(missIdx, i)
				missTexts = append(missTexts, t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("count mismatch: got %d, want %d", len(vectors), len(missTexts))
	}

	for j, i := range missIdx {
		out[i] = vectors[j]
	}

	wb := c.db.NewWriteBatch()
	for j := range missTexts {
		if err := wb.Set(c.key(missTexts[j]), encodeVector(vectors[j])); err != nil {
			wb.Cancel()
			c.logger.Warn("cache write failed", "error", err)
			return out, nil
		}
	}
	if err := wb.Flush(); err != nil {
		c.logger.Warn("cache flush failed", "error", err)
	}

	c.logger.Debug("embedding cache", "hits", len(texts)-len(missTexts), "misses", len(missTexts))
	return out, nil
}

func (c *Cache) key(text string) []byte {
	h := sha256.New()
	h.Write([]byte(c.next.Model()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum([]byte("emb:"))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte, dim int) ([]float32, error) {
	if len(buf) != 4*dim {
		return nil, fmt.Errorf("cached vector has %d bytes, want %d", len(buf), 4*dim)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
