package db

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Row types mirror the stored shape; record ids are converted to plain
// strings before leaving the package.

type jobRow struct {
	ID            surrealmodels.RecordID `json:"id"`
	SourceID      string                 `json:"source_id"`
	VersionID     string                 `json:"version_id"`
	SubmittedBy   *string                `json:"submitted_by,omitempty"`
	SubmittedAt   time.Time              `json:"submitted_at"`
	Status        string                 `json:"status"`
	ClaimedAt     *time.Time             `json:"claimed_at,omitempty"`
	ProcessedAt   *time.Time             `json:"processed_at,omitempty"`
	ResultSummary *models.ResultSummary  `json:"result_summary,omitempty"`
	ErrorDetail   *string                `json:"error_detail,omitempty"`
}

func (r jobRow) toModel() (models.IngestionJob, error) {
	id, err := recordKey(r.ID, "job")
	if err != nil {
		return models.IngestionJob{}, err
	}
	job := models.IngestionJob{
		ID:            id,
		SourceID:      r.SourceID,
		VersionID:     r.VersionID,
		SubmittedAt:   r.SubmittedAt,
		Status:        models.JobStatus(r.Status),
		ClaimedAt:     r.ClaimedAt,
		ProcessedAt:   r.ProcessedAt,
		ResultSummary: r.ResultSummary,
		ErrorDetail:   r.ErrorDetail,
	}
	if r.SubmittedBy != nil {
		job.SubmittedBy = *r.SubmittedBy
	}
	return job, nil
}

func jobsFromRows(rows []jobRow) ([]models.IngestionJob, error) {
	out := make([]models.IngestionJob, 0, len(rows))
	for _, r := range rows {
		job, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

type versionRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	SourceID       string                 `json:"source_id"`
	TranscriptText string                 `json:"transcript_text"`
	Metadata       map[string]any         `json:"metadata,omitempty"`
}

type segmentRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	VersionID      string                 `json:"version_id"`
	SequenceNumber int                    `json:"sequence_number"`
	Text           string                 `json:"text"`
	StartTime      float64                `json:"start_time"`
	EndTime        float64                `json:"end_time"`
}

type contentRow struct {
	ID             surrealmodels.RecordID `json:"id"`
	SourceID       string                 `json:"source_id"`
	VersionID      string                 `json:"version_id"`
	SegmentText    string                 `json:"segment_text"`
	SequenceNumber int                    `json:"sequence_number"`
	StartTimestamp float64                `json:"start_timestamp"`
	EndTimestamp   float64                `json:"end_timestamp"`
	Embedding      []float32              `json:"embedding,omitempty"`
	Metadata       map[string]any         `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

type relevanceRow struct {
	ID            surrealmodels.RecordID `json:"id"`
	VersionID     string                 `json:"version_id"`
	PersonaScores map[string]int         `json:"persona_scores,omitempty"`
	ContentType   *string                `json:"content_type,omitempty"`
	Complexity    *string                `json:"complexity,omitempty"`
	Focus         *string                `json:"focus,omitempty"`
	Topics        []string               `json:"topics,omitempty"`
	Confidence    *float64               `json:"confidence,omitempty"`
	Model         *string                `json:"model,omitempty"`
}

type entityRow struct {
	ID            surrealmodels.RecordID `json:"id"`
	EntityType    string                 `json:"entity_type"`
	CanonicalName string                 `json:"canonical_name"`
	Aliases       []string               `json:"aliases,omitempty"`
	Definition    *string                `json:"definition,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

type idRow struct {
	ID surrealmodels.RecordID `json:"id"`
}

type countRow struct {
	Count int `json:"count"`
}

// lastResult returns the rows of the final statement in a multi-statement
// query, or nil when there are none.
func lastResult[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[len(*results)-1].Result
}

// firstRow returns the first row of the first statement.
func firstRow[T any](results *[]surrealdb.QueryResult[[]T]) (*T, bool) {
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, false
	}
	return &(*results)[0].Result[0], true
}

func recordID(table, id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(table, id)
}

// recordKey returns the key part of a record id. Every table here uses
// string keys; anything else means the row was written by another tool.
func recordKey(id surrealmodels.RecordID, what string) (string, error) {
	key, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("%s id %s: unexpected key type %T", what, id.Table, id.ID)
	}
	return key, nil
}
