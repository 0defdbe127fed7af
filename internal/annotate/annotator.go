// Package annotate classifies transcript segments and extracts knowledge
// graph descriptors with a language model.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/kbingest/internal/llm"
	"github.com/raphaelgruber/kbingest/internal/metrics"
	"github.com/raphaelgruber/kbingest/internal/models"
)

// ErrNoModelAvailable is returned when every candidate model is unavailable.
var ErrNoModelAvailable = errors.New("no annotation model available")

// DefaultPersonas are the audiences scored when none are configured.
var DefaultPersonas = []string{"developer", "product_manager", "executive", "researcher"}

// DefaultMaxTopics bounds the topic list of an annotation.
const DefaultMaxTopics = 5

// Config tunes an Annotator.
type Config struct {
	Models    []string // candidate ladder, primary first
	Personas  []string
	MaxTopics int
	Timeout   time.Duration
	MaxTokens int

	// FatalPause is how long provider calls are suspended after a fatal
	// API error such as bad credentials or exhausted credit.
	FatalPause time.Duration
}

// Annotator walks an ordered model ladder until one model answers.
type Annotator struct {
	gen     llm.Generator
	catalog *llm.Catalog
	cfg     Config
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	fatal       error
	pausedUntil time.Time
}

// New creates an Annotator. catalog and collector may be nil.
func New(gen llm.Generator, catalog *llm.Catalog, cfg Config, collector *metrics.Collector, logger *slog.Logger) *Annotator {
	if len(cfg.Personas) == 0 {
		cfg.Personas = DefaultPersonas
	}
	if cfg.MaxTopics <= 0 {
		cfg.MaxTopics = DefaultMaxTopics
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.FatalPause <= 0 {
		cfg.FatalPause = time.Minute
	}
	if catalog == nil {
		catalog = llm.NewCatalog(nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Annotator{
		gen:     gen,
		catalog: catalog,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With("component", "annotator"),
		now:     time.Now,
	}
}

// Annotate returns the annotation for one segment.
//
// A nil annotation with a nil error means the model answered but the
// response could not be parsed. ErrNoModelAvailable means every candidate
// was missing. Any other error aborts this segment without trying further
// candidates. After an llm.ErrFatalAPI the annotator fails fast with that
// error until Config.FatalPause has elapsed.
func (a *Annotator) Annotate(ctx context.Context, text string, c Context) (*models.Annotation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if err := a.paused(); err != nil {
		return nil, err
	}

	candidates := a.catalog.Filter(ctx, a.cfg.Models)
	if len(candidates) == 0 {
		return nil, ErrNoModelAvailable
	}

	prompt := buildPrompt(text, c, a.cfg.Personas, a.cfg.MaxTopics)
	for _, model := range candidates {
		completion, err := a.generate(ctx, model, prompt)
		if errors.Is(err, llm.ErrModelNotFound) {
			a.logger.Warn("model not found, trying next candidate", "model", model)
			a.catalog.MarkMissing(model)
			continue
		}
		if errors.Is(err, llm.ErrFatalAPI) {
			a.pause(err)
		}
		if err != nil {
			return nil, fmt.Errorf("annotate with %s: %w", model, err)
		}

		ann, err := Parse(completion.Text, a.cfg.Personas, a.cfg.MaxTopics)
		if err != nil {
			a.logger.Warn("unparseable annotation, skipping",
				"model", model, "sequence", c.SequenceNumber, "error", err,
				"response", truncate(completion.Text, 200))
			return nil, nil
		}
		ann.Model = model
		return ann, nil
	}
	return nil, ErrNoModelAvailable
}

func (a *Annotator) pause(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fatal = err
	a.pausedUntil = a.now().Add(a.cfg.FatalPause)
	a.logger.Error("fatal provider error, pausing annotation", "until", a.pausedUntil, "error", err)
}

func (a *Annotator) paused() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fatal == nil || !a.now().Before(a.pausedUntil) {
		return nil
	}
	return fmt.Errorf("annotation paused: %w", a.fatal)
}

func (a *Annotator) generate(ctx context.Context, model, prompt string) (*llm.Completion, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := a.gen.Generate(ctx, llm.Request{
		Model:       model,
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   a.cfg.MaxTokens,
		JSON:        true,
	})
	if a.metrics != nil {
		if err != nil {
			a.metrics.RecordFailure(metrics.OpAnnotate)
		} else {
			a.metrics.RecordLLMUsage(metrics.OpAnnotate, time.Since(start),
				int64(completion.InputTokens), int64(completion.OutputTokens))
		}
	}
	return completion, err
}

// Models returns the configured candidate ladder.
func (a *Annotator) Models() []string {
	return a.cfg.Models
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
