// Package service implements the transcript ingestion pipeline: claim a job,
// chunk and embed its segments, annotate them, persist content and graph
// rows, and finalize the job.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/raphaelgruber/kbingest/internal/annotate"
	"github.com/raphaelgruber/kbingest/internal/models"
)

var (
	// ErrVersionNotFound means the job references a transcript version that does not exist.
	ErrVersionNotFound = errors.New("transcript version not found")

	// ErrNoSegments means the version exists but has no segments.
	ErrNoSegments = errors.New("transcript version has no segments")

	// ErrJobNotProcessing is returned by Finalize when the job is not in
	// status processing, e.g. because it was already finalized.
	ErrJobNotProcessing = errors.New("job is not processing")

	// ErrJobNotFound is returned when a job id does not exist.
	ErrJobNotFound = errors.New("job not found")
)

// QueueSource is the shared job queue.
type QueueSource interface {
	// CountQueued returns the number of jobs in status queued.
	CountQueued(ctx context.Context) (int, error)

	// ClaimBatch moves up to n of the oldest queued jobs to processing.
	// Jobs claimed concurrently by another worker are omitted.
	ClaimBatch(ctx context.Context, n int) ([]models.IngestionJob, error)

	// Finalize writes the terminal status of a processing job once.
	Finalize(ctx context.Context, jobID string, outcome models.JobOutcome) error
}

// TranscriptSource reads finalized transcripts.
type TranscriptSource interface {
	// GetVersion returns nil, nil when the version does not exist.
	GetVersion(ctx context.Context, versionID string) (*models.TranscriptVersion, error)

	// ListSegments returns the version's segments ordered by sequence number.
	ListSegments(ctx context.Context, versionID string) ([]models.TranscriptSegment, error)
}

// ContentStore persists searchable segment rows.
type ContentStore interface {
	// ReplaceSegments deletes every row of versionID and inserts rows,
	// returning them with their new identities in sequence order.
	ReplaceSegments(ctx context.Context, versionID string, rows []models.ContentSegment) ([]models.ContentSegment, error)

	// UpsertRelevance writes the annotation row for a segment.
	UpsertRelevance(ctx context.Context, rel models.SegmentRelevance) error

	// MarkSourceIndexed points the content source at its newest indexed version.
	MarkSourceIndexed(ctx context.Context, sourceID, versionID string, at time.Time) error
}

// GraphStore upserts knowledge-graph nodes and edges. Both methods return
// the id of the existing row on a composite-key conflict.
type GraphStore interface {
	UpsertEntity(ctx context.Context, e models.Entity) (string, error)
	UpsertRelationship(ctx context.Context, r models.Relationship) (string, error)
}

// Embedder turns a segment's chunks into one vector per chunk.
type Embedder interface {
	Embed(ctx context.Context, chunks []string) ([][]float32, error)
	Model() string
}

// Annotator produces semantic annotations. A nil annotation with a nil
// error means the response was unusable.
type Annotator interface {
	Annotate(ctx context.Context, text string, c annotate.Context) (*models.Annotation, error)
}

// JobStore is the queue surface used by operators: submitting and
// inspecting jobs.
type JobStore interface {
	QueueSource
	Enqueue(ctx context.Context, sub models.JobSubmission) (*models.IngestionJob, error)
	GetJob(ctx context.Context, id string) (*models.IngestionJob, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.IngestionJob, error)
}

// JobProcessor runs one claimed job to a summary or an error.
type JobProcessor interface {
	ProcessJob(ctx context.Context, job models.IngestionJob) (*models.ResultSummary, error)
}
