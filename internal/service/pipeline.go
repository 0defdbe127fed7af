package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/raphaelgruber/kbingest/internal/alert"
	"github.com/raphaelgruber/kbingest/internal/annotate"
	"github.com/raphaelgruber/kbingest/internal/embedding"
	"github.com/raphaelgruber/kbingest/internal/metrics"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/parser"
)

// PipelineConfig tunes per-job processing.
type PipelineConfig struct {
	ChunkLimit int

	// SegmentConcurrency bounds how many segments are chunked, embedded and
	// annotated at once. Writes always happen in sequence order afterwards.
	SegmentConcurrency int
}

// Pipeline processes a single ingestion job. It is safe for sequential use
// by one dispatcher; the per-job graph cache lives in ProcessJob.
type Pipeline struct {
	transcripts TranscriptSource
	content     ContentStore
	graph       GraphStore
	embedder    Embedder
	annotator   Annotator
	notifier    alert.Notifier
	metrics     *metrics.Collector
	logger      *slog.Logger
	cfg         PipelineConfig
	pool        *ants.Pool
}

// PipelineDeps are the collaborators of a Pipeline. Annotator may be nil to
// disable annotation; Notifier and Metrics may be nil.
type PipelineDeps struct {
	Transcripts TranscriptSource
	Content     ContentStore
	Graph       GraphStore
	Embedder    Embedder
	Annotator   Annotator
	Notifier    alert.Notifier
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

// NewPipeline creates a pipeline. Call Close to release the worker pool.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) (*Pipeline, error) {
	if cfg.ChunkLimit == 0 {
		cfg.ChunkLimit = parser.DefaultChunkLimit
	}
	if cfg.SegmentConcurrency <= 0 {
		cfg.SegmentConcurrency = 1
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = alert.NewLogger(deps.Logger)
	}

	p := &Pipeline{
		transcripts: deps.Transcripts,
		content:     deps.Content,
		graph:       deps.Graph,
		embedder:    deps.Embedder,
		annotator:   deps.Annotator,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With("component", "pipeline"),
		cfg:         cfg,
	}
	if cfg.SegmentConcurrency > 1 {
		pool, err := ants.NewPool(cfg.SegmentConcurrency)
		if err != nil {
			return nil, fmt.Errorf("create segment pool: %w", err)
		}
		p.pool = pool
	}
	return p, nil
}

// Close releases the worker pool.
func (p *Pipeline) Close() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// segmentResult is the computed, not yet persisted, state of one segment.
type segmentResult struct {
	chunks     int
	embedding  []float32
	annotation *models.Annotation
	notes      []string
}

// ProcessJob runs one job. Missing upstream data and content write failures
// return an error before or instead of any write; per-segment provider
// failures are alerted and recorded in the summary notes.
func (p *Pipeline) ProcessJob(ctx context.Context, job models.IngestionJob) (*models.ResultSummary, error) {
	start := time.Now()
	log := p.logger.With("job_id", job.ID, "version_id", job.VersionID)

	version, err := p.transcripts.GetVersion(ctx, job.VersionID)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	if version == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, job.VersionID)
	}
	segments, err := p.transcripts.ListSegments(ctx, job.VersionID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSegments, job.VersionID)
	}
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].SequenceNumber < segments[j].SequenceNumber
	})

	log.Info("processing job", "segments", len(segments))

	results := p.computeAll(ctx, job, version, segments)

	rows := make([]models.ContentSegment, len(segments))
	for i, seg := range segments {
		rows[i] = models.ContentSegment{
			SourceID:       job.SourceID,
			VersionID:      job.VersionID,
			SegmentText:    strings.TrimSpace(seg.Text),
			SequenceNumber: seg.SequenceNumber,
			StartTimestamp: seg.StartTime,
			EndTimestamp:   seg.EndTime,
			Embedding:      results[i].embedding,
			Metadata: map[string]any{
				"transcript_segment_id": seg.ID,
				"job_id":                job.ID,
				"chunks":                results[i].chunks,
			},
		}
	}

	writeStart := time.Now()
	stored, err := p.content.ReplaceSegments(ctx, job.VersionID, rows)
	if err != nil {
		p.recordFailure(metrics.OpContentWrite)
		return nil, fmt.Errorf("replace segments: %w", err)
	}
	p.recordTiming(metrics.OpContentWrite, time.Since(writeStart))
	if len(stored) != len(rows) {
		return nil, fmt.Errorf("replace segments: stored %d of %d rows", len(stored), len(rows))
	}

	summary := &models.ResultSummary{
		SegmentsProcessed: len(segments),
		EmbeddingModel:    p.embedder.Model(),
		Notes:             []string{},
	}
	annotationModels := make(map[string]int)

	for i, row := range stored {
		res := results[i]
		summary.Notes = append(summary.Notes, res.notes...)
		if res.embedding != nil {
			summary.EmbeddingsCreated++
			summary.EmbeddingChunks += res.chunks
		}
		if res.annotation != nil {
			annotationModels[res.annotation.Model]++
		}

		rel := models.RelevanceFrom(row.ID, job.VersionID, res.annotation)
		if err := p.content.UpsertRelevance(ctx, rel); err != nil {
			log.Warn("relevance write failed", "segment_id", row.ID, "error", err)
			summary.Notes = append(summary.Notes, fmt.Sprintf("segment %d: relevance write failed", row.SequenceNumber))
		}
	}

	builder := NewGraphBuilder(p.graph)
	graphStart := time.Now()
	for i, row := range stored {
		if ann := results[i].annotation; ann != nil {
			p.linkGraph(ctx, builder, job, row, ann, summary)
		}
	}
	p.recordTiming(metrics.OpGraphWrite, time.Since(graphStart))
	summary.EntitiesLinked = builder.Entities()
	summary.RelationshipsLinked = builder.Relationships()
	if n := builder.Skipped(); n > 0 {
		summary.Notes = append(summary.Notes, fmt.Sprintf("%d relationships skipped: endpoint not resolved in this job", n))
	}

	if err := p.content.MarkSourceIndexed(ctx, job.SourceID, job.VersionID, time.Now().UTC()); err != nil {
		log.Warn("source pointer update failed", "source_id", job.SourceID, "error", err)
		summary.Notes = append(summary.Notes, "source pointer update failed")
	}

	summary.AnnotationModel = dominantModel(annotationModels)
	summary.DurationMS = time.Since(start).Milliseconds()

	log.Info("job processed",
		"segments", summary.SegmentsProcessed,
		"embeddings", summary.EmbeddingsCreated,
		"entities", summary.EntitiesLinked,
		"relationships", summary.RelationshipsLinked,
		"duration_ms", summary.DurationMS)
	return summary, nil
}

// computeAll chunks, embeds and annotates every segment. Results are indexed
// by position so ordering is independent of completion order.
func (p *Pipeline) computeAll(ctx context.Context, job models.IngestionJob, version *models.TranscriptVersion, segments []models.TranscriptSegment) []segmentResult {
	results := make([]segmentResult, len(segments))
	title, _ := version.Metadata["title"].(string)

	task := func(i int) func() {
		return func() {
			c := annotate.Context{
				SourceID:       job.SourceID,
				VersionID:      job.VersionID,
				SequenceNumber: segments[i].SequenceNumber,
				Title:          title,
			}
			if i > 0 {
				c.Previous = segments[i-1].Text
			}
			results[i] = p.computeSegment(ctx, job, segments[i], c)
		}
	}

	if p.pool == nil {
		for i := range segments {
			task(i)()
		}
		return results
	}

	var wg sync.WaitGroup
	for i := range segments {
		wg.Add(1)
		run := task(i)
		if err := p.pool.Submit(func() {
			defer wg.Done()
			run()
		}); err != nil {
			// Pool closed or saturated: fall back to inline work.
			run()
			wg.Done()
		}
	}
	wg.Wait()
	return results
}

func (p *Pipeline) computeSegment(ctx context.Context, job models.IngestionJob, seg models.TranscriptSegment, c annotate.Context) segmentResult {
	var res segmentResult

	chunks := parser.Chunk(seg.Text, p.cfg.ChunkLimit)
	res.chunks = len(chunks)
	if len(chunks) == 0 {
		res.notes = append(res.notes, fmt.Sprintf("segment %d: empty text", seg.SequenceNumber))
		return res
	}

	embedStart := time.Now()
	vectors, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		p.recordFailure(metrics.OpEmbedding)
		p.notify(ctx, alert.KindEmbeddingFailed,
			fmt.Sprintf("embedding failed for segment %d of version %s", seg.SequenceNumber, job.VersionID),
			map[string]any{"job_id": job.ID, "version_id": job.VersionID, "sequence_number": seg.SequenceNumber, "error": err.Error()})
		res.notes = append(res.notes, fmt.Sprintf("segment %d: embedding failed", seg.SequenceNumber))
	} else {
		p.recordTiming(metrics.OpEmbedding, time.Since(embedStart))
		res.embedding = embedding.Average(vectors)
		if res.embedding == nil {
			p.logger.Warn("embedding dimensions disagree, storing null",
				"job_id", job.ID, "sequence_number", seg.SequenceNumber)
			res.notes = append(res.notes, fmt.Sprintf("segment %d: inconsistent embedding dimensions", seg.SequenceNumber))
		}
	}

	if p.annotator == nil {
		return res
	}

	ann, err := p.annotator.Annotate(ctx, seg.Text, c)
	switch {
	case errors.Is(err, annotate.ErrNoModelAvailable):
		p.notify(ctx, alert.KindAnnotationFailed,
			fmt.Sprintf("no annotation model available for segment %d of version %s", seg.SequenceNumber, job.VersionID),
			map[string]any{"job_id": job.ID, "version_id": job.VersionID, "sequence_number": seg.SequenceNumber})
		res.notes = append(res.notes, fmt.Sprintf("segment %d: no annotation model available", seg.SequenceNumber))
	case err != nil:
		p.notify(ctx, alert.KindAnnotationFailed,
			fmt.Sprintf("annotation failed for segment %d of version %s", seg.SequenceNumber, job.VersionID),
			map[string]any{"job_id": job.ID, "version_id": job.VersionID, "sequence_number": seg.SequenceNumber, "error": err.Error()})
		res.notes = append(res.notes, fmt.Sprintf("segment %d: annotation failed", seg.SequenceNumber))
	case ann == nil:
		res.notes = append(res.notes, fmt.Sprintf("segment %d: annotation unparseable", seg.SequenceNumber))
	default:
		res.annotation = ann
	}
	return res
}

func (p *Pipeline) linkGraph(ctx context.Context, b *GraphBuilder, job models.IngestionJob, row models.ContentSegment, ann *models.Annotation, summary *models.ResultSummary) {
	for _, d := range ann.Entities {
		if _, err := b.ResolveEntity(ctx, d); err != nil {
			p.graphFailed(ctx, job, row, summary, err)
		}
	}
	for _, d := range ann.Relationships {
		if _, err := b.LinkRelationship(ctx, d, row.ID); err != nil {
			p.graphFailed(ctx, job, row, summary, err)
		}
	}
}

func (p *Pipeline) graphFailed(ctx context.Context, job models.IngestionJob, row models.ContentSegment, summary *models.ResultSummary, err error) {
	p.recordFailure(metrics.OpGraphWrite)
	p.notify(ctx, alert.KindGraphFailed,
		fmt.Sprintf("graph write failed for segment %d of version %s", row.SequenceNumber, job.VersionID),
		map[string]any{"job_id": job.ID, "segment_id": row.ID, "error": err.Error()})
	summary.Notes = append(summary.Notes, fmt.Sprintf("segment %d: graph write failed", row.SequenceNumber))
}

func (p *Pipeline) notify(ctx context.Context, kind alert.Kind, text string, payload map[string]any) {
	if err := p.notifier.Notify(ctx, alert.New(kind, text, payload)); err != nil {
		p.logger.Warn("alert delivery failed", "kind", kind, "error", err)
	}
}

func (p *Pipeline) recordTiming(op string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.RecordTiming(op, d)
	}
}

func (p *Pipeline) recordFailure(op string) {
	if p.metrics != nil {
		p.metrics.RecordFailure(op)
	}
}

// dominantModel returns the model that annotated the most segments, or nil.
func dominantModel(counts map[string]int) *string {
	best, bestN := "", 0
	for m, n := range counts {
		if n > bestN || (n == bestN && m < best) {
			best, bestN = m, n
		}
	}
	if bestN == 0 {
		return nil
	}
	return &best
}
