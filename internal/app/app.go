// Package app builds the ingestion pipeline from configuration and owns the
// lifetime of its connections.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/kbingest/internal/alert"
	"github.com/raphaelgruber/kbingest/internal/annotate"
	"github.com/raphaelgruber/kbingest/internal/config"
	"github.com/raphaelgruber/kbingest/internal/db"
	"github.com/raphaelgruber/kbingest/internal/embedding"
	"github.com/raphaelgruber/kbingest/internal/llm"
	"github.com/raphaelgruber/kbingest/internal/memstore"
	"github.com/raphaelgruber/kbingest/internal/metrics"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/neo4jgraph"
	"github.com/raphaelgruber/kbingest/internal/service"
)

// TranscriptWriter stores transcripts for the load command.
type TranscriptWriter interface {
	SaveTranscript(ctx context.Context, v models.TranscriptVersion, segs []models.TranscriptSegment) error
}

// App holds the wired pipeline and everything that must be closed with it.
type App struct {
	Config      config.Config
	Jobs        service.JobStore
	Transcripts TranscriptWriter
	Pipeline    *service.Pipeline
	Dispatcher  *service.Dispatcher
	Metrics     *metrics.Collector
	Logger      *slog.Logger

	closers []func(context.Context) error
}

// Option overrides a collaborator built from config.
type Option func(*options)

type options struct {
	embedder service.Embedder
	notifier alert.Notifier
}

// WithEmbedder replaces the configured embedding client.
func WithEmbedder(e service.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithNotifier replaces the configured alert sinks.
func WithNotifier(n alert.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// New connects to the configured stores and builds the pipeline and
// dispatcher. On error every connection opened so far is closed.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		Config:  cfg,
		Metrics: metrics.NewCollector(),
		Logger:  logger,
	}
	if err := a.build(ctx, o); err != nil {
		_ = a.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.Config

	var (
		transcripts service.TranscriptSource
		content     service.ContentStore
		graph       service.GraphStore
	)
	switch cfg.Store.Backend {
	case "memory":
		store := memstore.New()
		a.Jobs, a.Transcripts = store, store
		transcripts, content, graph = store, store, store
	case "surreal", "":
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDB.URL,
			Namespace: cfg.SurrealDB.Namespace,
			Database:  cfg.SurrealDB.Database,
			Username:  cfg.SurrealDB.User,
			Password:  cfg.SurrealDB.Pass,
			AuthLevel: cfg.SurrealDB.AuthLevel,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("connect surrealdb: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		if err := client.InitSchema(ctx, cfg.Embedding.Dimension); err != nil {
			return err
		}
		a.Jobs, a.Transcripts = client, client
		transcripts, content, graph = client, client, client

		if cfg.Store.Graph == "neo4j" {
			store, err := neo4jgraph.New(ctx, neo4jgraph.Config{
				URI:      cfg.Neo4j.URI,
				User:     cfg.Neo4j.User,
				Password: cfg.Neo4j.Password,
				Database: cfg.Neo4j.Database,
			}, a.Logger)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, store.Close)
			if err := store.InitSchema(ctx); err != nil {
				return err
			}
			graph = store
		}
	default:
		return fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}

	embedder := o.embedder
	if embedder == nil {
		e, err := a.buildEmbedder()
		if err != nil {
			return err
		}
		embedder = e
	}

	var annotator service.Annotator
	if cfg.Annotation.Enabled {
		ann, err := a.buildAnnotator(ctx)
		if err != nil {
			return err
		}
		annotator = ann
	}

	notifier := o.notifier
	if notifier == nil {
		n, err := a.buildNotifier(ctx)
		if err != nil {
			return err
		}
		notifier = n
	}

	pipeline, err := service.NewPipeline(service.PipelineDeps{
		Transcripts: transcripts,
		Content:     content,
		Graph:       graph,
		Embedder:    embedder,
		Annotator:   annotator,
		Notifier:    notifier,
		Metrics:     a.Metrics,
		Logger:      a.Logger,
	}, service.PipelineConfig{
		ChunkLimit:         cfg.Embedding.ChunkLimit,
		SegmentConcurrency: cfg.Dispatch.SegmentConcurrency,
	})
	if err != nil {
		return err
	}
	a.Pipeline = pipeline
	a.closers = append(a.closers, func(context.Context) error {
		pipeline.Close()
		return nil
	})

	a.Dispatcher = service.NewDispatcher(a.Jobs, pipeline, notifier, a.Metrics, a.Logger, service.DispatcherConfig{
		BacklogThreshold: cfg.Dispatch.BacklogThreshold,
		PollInterval:     cfg.Dispatch.PollInterval,
		PollBatch:        cfg.Dispatch.PollBatch,
	})
	return nil
}

func (a *App) buildEmbedder() (service.Embedder, error) {
	cfg := a.Config.Embedding
	e, err := embedding.New(embedding.Config{
		Provider:     embedding.ProviderType(cfg.Provider),
		Model:        cfg.Model,
		Dimension:    cfg.Dimension,
		OllamaHost:   cfg.OllamaHost,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OpenAIURL:    cfg.OpenAIURL,
		VoyageAPIKey: cfg.VoyageAPIKey,
	})
	if err != nil {
		return nil, err
	}

	if cfg.CacheDir != "" {
		cache, err := embedding.NewCache(e, cfg.CacheDir, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return cache.Close() })
		e = cache
	}

	return embedding.NewBatcher(e, cfg.BatchSize, cfg.Timeout), nil
}

func (a *App) buildAnnotator(ctx context.Context) (*annotate.Annotator, error) {
	cfg := a.Config.Annotation
	llmCfg := llm.Config{
		Provider:        llm.Provider(cfg.Provider),
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicURL:    cfg.AnthropicURL,
		OpenAIAPIKey:    a.Config.Embedding.OpenAIAPIKey,
		OpenAIURL:       a.Config.Embedding.OpenAIURL,
		OllamaHost:      a.Config.Embedding.OllamaHost,
		AWSRegion:       cfg.AWSRegion,
	}
	gen, err := llm.NewGenerator(ctx, llmCfg)
	if err != nil {
		return nil, fmt.Errorf("annotation generator: %w", err)
	}

	fallbacks := cfg.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = llm.DefaultFallbacks[llmCfg.Provider]
	}

	return annotate.New(gen, llm.NewCatalog(llm.NewLister(llmCfg), a.Logger), annotate.Config{
		Models:    llm.Ladder(cfg.Model, fallbacks),
		Personas:  cfg.Personas,
		MaxTopics: cfg.MaxTopics,
		Timeout:   cfg.Timeout,
		MaxTokens: cfg.MaxTokens,
	}, a.Metrics, a.Logger), nil
}

func (a *App) buildNotifier(ctx context.Context) (alert.Notifier, error) {
	cfg := a.Config.Alerts
	sinks := alert.Fanout{alert.NewLogger(a.Logger)}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, alert.NewWebhook(cfg.WebhookURL))
	}
	if cfg.RedisAddr != "" {
		r, err := alert.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisChannel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return r.Close() })
		sinks = append(sinks, r)
	}
	return sinks, nil
}

// Close releases resources in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
