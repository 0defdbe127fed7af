package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/raphaelgruber/kbingest/internal/annotate"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
)

// fakeEmbedder returns a 3-dim vector per chunk and fails for any chunk
// containing one of failOn.
type fakeEmbedder struct {
	mu     sync.Mutex
	failOn []string
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, chunks []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([][]float32, len(chunks))
	for i, c := range chunks {
		for _, bad := range f.failOn {
			if strings.Contains(c, bad) {
				return nil, errors.New("embedding provider timeout")
			}
		}
		out[i] = []float32{float32(len(c)), 1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

// fakeAnnotator returns a fixed annotation per text, or err.
type fakeAnnotator struct {
	mu     sync.Mutex
	byText map[string]*models.Annotation
	err    error
	seen   []annotate.Context
}

func (f *fakeAnnotator) Annotate(_ context.Context, text string, c annotate.Context) (*models.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, c)
	if f.err != nil {
		return nil, f.err
	}
	return f.byText[text], nil
}

// failingGraph fails every entity upsert whose name matches.
type failingGraph struct {
	inner    service.GraphStore
	failName string
}

func (g *failingGraph) UpsertEntity(ctx context.Context, e models.Entity) (string, error) {
	if strings.EqualFold(e.CanonicalName, g.failName) {
		return "", fmt.Errorf("graph store unavailable")
	}
	return g.inner.UpsertEntity(ctx, e)
}

func (g *failingGraph) UpsertRelationship(ctx context.Context, r models.Relationship) (string, error) {
	return g.inner.UpsertRelationship(ctx, r)
}

func ann(model string, entities []models.EntityDescriptor, rels []models.RelationshipDescriptor) *models.Annotation {
	return &models.Annotation{
		PersonaScores: map[string]int{"developer": 80},
		ContentType:   models.Ptr("explanation"),
		Topics:        []string{"go"},
		Confidence:    models.Ptr(0.9),
		Entities:      entities,
		Relationships: rels,
		Model:         model,
	}
}
