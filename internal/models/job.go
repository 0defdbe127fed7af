// Package models defines data structures for the transcript ingestion pipeline.
package models

import "time"

// JobStatus is the lifecycle state of an IngestionJob.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobComplete   JobStatus = "complete"
	JobError      JobStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobError
}

// IngestionJob is a queued request to index one transcript version.
// Jobs are created externally; only the dispatcher mutates them.
type IngestionJob struct {
	ID            string         `json:"id"`
	SourceID      string         `json:"source_id"`
	VersionID     string         `json:"version_id"`
	SubmittedBy   string         `json:"submitted_by,omitempty"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	Status        JobStatus      `json:"status"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
	ResultSummary *ResultSummary `json:"result_summary,omitempty"`
	ErrorDetail   *string        `json:"error_detail,omitempty"`
}

// ResultSummary holds the counters written on successful completion.
type ResultSummary struct {
	SegmentsProcessed   int      `json:"segments_processed"`
	EmbeddingsCreated   int      `json:"embeddings_created"`
	EmbeddingChunks     int      `json:"embedding_chunks"`
	EntitiesLinked      int      `json:"entities_linked"`
	RelationshipsLinked int      `json:"relationships_linked"`
	DurationMS          int64    `json:"duration_ms"`
	EmbeddingModel      string   `json:"embedding_model"`
	AnnotationModel     *string  `json:"annotation_model"`
	Notes               []string `json:"notes"`
}

// JobOutcome is the terminal state handed to Finalize.
// Exactly one of Summary or Err is set. Detail, when set, is the
// serialized form of Err stored as error_detail.
type JobOutcome struct {
	Summary *ResultSummary
	Err     error
	Detail  string
}

// ErrorDetail returns the text stored in error_detail.
func (o JobOutcome) ErrorDetail() string {
	if o.Detail != "" {
		return o.Detail
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	return ""
}

// Status returns the terminal status this outcome maps to.
func (o JobOutcome) Status() JobStatus {
	if o.Err != nil {
		return JobError
	}
	return JobComplete
}

// JobSubmission is the input for enqueueing a job.
type JobSubmission struct {
	SourceID    string `json:"source_id"`
	VersionID   string `json:"version_id"`
	SubmittedBy string `json:"submitted_by,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
