package annotate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/raphaelgruber/kbingest/internal/llm"
	"github.com/raphaelgruber/kbingest/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator answers per model: a response string or an error.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (g *scriptedGenerator) Generate(_ context.Context, req llm.Request) (*llm.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req.Model)
	if err, ok := g.errs[req.Model]; ok {
		return nil, err
	}
	if text, ok := g.responses[req.Model]; ok {
		return &llm.Completion{Text: text, Model: req.Model, InputTokens: 100, OutputTokens: 20}, nil
	}
	return nil, fmt.Errorf("%w: %s", llm.ErrModelNotFound, req.Model)
}

func (g *scriptedGenerator) Provider() llm.Provider { return llm.ProviderOllama }

const okResponse = `{"persona_scores":{"developer":70},"content_type":"example","topics":["go"],"confidence":0.9,"entities":[],"relationships":[]}`

func newTestAnnotator(gen llm.Generator, models ...string) *Annotator {
	return New(gen, nil, Config{Models: models, Personas: testPersonas}, metrics.NewCollector(), nil)
}

func TestAnnotate_PrimaryAnswers(t *testing.T) {
	gen := &scriptedGenerator{responses: map[string]string{"primary": okResponse, "fallback": okResponse}}
	a := newTestAnnotator(gen, "primary", "fallback")

	ann, err := a.Annotate(context.Background(), "some text", Context{SequenceNumber: 1})
	require.NoError(t, err)
	require.NotNil(t, ann)
	assert.Equal(t, "primary", ann.Model)
	assert.Equal(t, 70, ann.PersonaScores["developer"])
	assert.Equal(t, []string{"primary"}, gen.calls)
}

func TestAnnotate_FallsBackOnModelNotFound(t *testing.T) {
	gen := &scriptedGenerator{responses: map[string]string{"third": okResponse}}
	a := newTestAnnotator(gen, "first", "second", "third")

	ann, err := a.Annotate(context.Background(), "some text", Context{})
	require.NoError(t, err)
	require.NotNil(t, ann)
	assert.Equal(t, "third", ann.Model)
	assert.Equal(t, []string{"first", "second", "third"}, gen.calls)

	// Missing models are remembered for later segments.
	_, err = a.Annotate(context.Background(), "more text", Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third", "third"}, gen.calls)
}

func TestAnnotate_AllModelsMissing(t *testing.T) {
	gen := &scriptedGenerator{}
	a := newTestAnnotator(gen, "a", "b")

	ann, err := a.Annotate(context.Background(), "text", Context{})
	assert.ErrorIs(t, err, ErrNoModelAvailable)
	assert.Nil(t, ann)

	// Second call does not even reach the provider.
	_, err = a.Annotate(context.Background(), "text", Context{})
	assert.ErrorIs(t, err, ErrNoModelAvailable)
	assert.Len(t, gen.calls, 2)
}

func TestAnnotate_OtherErrorAborts(t *testing.T) {
	boom := errors.New("503 service unavailable")
	gen := &scriptedGenerator{
		errs:      map[string]error{"primary": boom},
		responses: map[string]string{"fallback": okResponse},
	}
	a := newTestAnnotator(gen, "primary", "fallback")

	ann, err := a.Annotate(context.Background(), "text", Context{})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoModelAvailable)
	assert.Nil(t, ann)
	assert.Equal(t, []string{"primary"}, gen.calls, "no retry with fallback on other errors")
}

func TestAnnotate_FatalErrorPausesProvider(t *testing.T) {
	gen := &scriptedGenerator{
		errs:      map[string]error{"primary": fmt.Errorf("%w: invalid x-api-key", llm.ErrFatalAPI)},
		responses: map[string]string{"fallback": okResponse},
	}
	a := New(gen, nil, Config{Models: []string{"primary", "fallback"}, Personas: testPersonas, FatalPause: time.Minute}, nil, nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	_, err := a.Annotate(context.Background(), "text", Context{})
	assert.ErrorIs(t, err, llm.ErrFatalAPI)

	_, err = a.Annotate(context.Background(), "more text", Context{})
	assert.ErrorIs(t, err, llm.ErrFatalAPI)
	assert.Equal(t, []string{"primary"}, gen.calls, "paused annotator must not call the provider")

	now = now.Add(2 * time.Minute)
	delete(gen.errs, "primary")
	gen.responses["primary"] = okResponse
	ann, err := a.Annotate(context.Background(), "later text", Context{})
	require.NoError(t, err)
	require.NotNil(t, ann)
	assert.Equal(t, "primary", ann.Model)
}

func TestTruncateKeepsRunes(t *testing.T) {
	got := truncate("héllo wörld", 7)
	assert.Equal(t, "héllo w...", got)
	assert.True(t, utf8.ValidString(truncate("ééééé", 3)))
}

func TestAnnotate_UnparseableIsNil(t *testing.T) {
	gen := &scriptedGenerator{responses: map[string]string{"m": "sorry, no"}}
	a := newTestAnnotator(gen, "m")

	ann, err := a.Annotate(context.Background(), "text", Context{})
	assert.NoError(t, err)
	assert.Nil(t, ann)
}

func TestAnnotate_EmptyText(t *testing.T) {
	gen := &scriptedGenerator{responses: map[string]string{"m": okResponse}}
	a := newTestAnnotator(gen, "m")

	ann, err := a.Annotate(context.Background(), "   ", Context{})
	assert.NoError(t, err)
	assert.Nil(t, ann)
	assert.Empty(t, gen.calls)
}

func TestAnnotate_RecordsUsage(t *testing.T) {
	collector := metrics.NewCollector()
	gen := &scriptedGenerator{responses: map[string]string{"m": okResponse}}
	a := New(gen, nil, Config{Models: []string{"m"}}, collector, nil)

	_, err := a.Annotate(context.Background(), "text", Context{})
	require.NoError(t, err)

	snap := collector.Snapshot().Annotate
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Count)
	assert.Equal(t, int64(100), *snap.TotalInputTokens)
}

func TestBuildPrompt(t *testing.T) {
	p := buildPrompt("hello world", Context{Title: "Weekly sync", SequenceNumber: 4}, []string{"developer", "executive"}, 3)
	assert.Contains(t, p, "hello world")
	assert.Contains(t, p, "Weekly sync")
	assert.Contains(t, p, "Segment #4")
	assert.Contains(t, p, "developer, executive")
	assert.Contains(t, p, "at most 3")
}
