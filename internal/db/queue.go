package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
	"github.com/surrealdb/surrealdb.go"
)

var _ service.JobStore = (*Client)(nil)

// Enqueue creates a queued job.
func (c *Client) Enqueue(ctx context.Context, sub models.JobSubmission) (*models.IngestionJob, error) {
	var submittedBy *string
	if sub.SubmittedBy != "" {
		submittedBy = &sub.SubmittedBy
	}

	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		CREATE type::record("ingestion_job", $id) SET
			source_id = $source_id,
			version_id = $version_id,
			submitted_by = $submitted_by,
			submitted_at = time::now(),
			status = "queued"
		RETURN AFTER
	`, map[string]any{
		"id":           uuid.NewString(),
		"source_id":    sub.SourceID,
		"version_id":   sub.VersionID,
		"submitted_by": submittedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", wrapQueryError(err))
	}

	row, ok := firstRow(results)
	if !ok {
		return nil, fmt.Errorf("enqueue job: no result returned")
	}
	job, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return &job, nil
}

// GetJob returns a job by id.
func (c *Client) GetJob(ctx context.Context, id string) (*models.IngestionJob, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT * FROM type::record("ingestion_job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	row, ok := firstRow(results)
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrJobNotFound, id)
	}
	job, err := row.toModel()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns jobs newest first. An empty status lists all jobs.
func (c *Client) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.IngestionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ""
	vars := map[string]any{"limit": limit}
	if status != "" {
		where = "WHERE status = $status"
		vars["status"] = string(status)
	}

	sql := fmt.Sprintf(`
		SELECT * FROM ingestion_job %s ORDER BY submitted_at DESC LIMIT $limit
	`, where)

	results, err := surrealdb.Query[[]jobRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := jobsFromRows(lastResult(results))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// CountQueued returns the number of queued jobs.
func (c *Client) CountQueued(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]countRow](ctx, c.db, `
		SELECT count() AS count FROM ingestion_job WHERE status = "queued" GROUP ALL
	`, nil)
	if err != nil {
		return 0, fmt.Errorf("count queued: %w", err)
	}
	row, ok := firstRow(results)
	if !ok {
		return 0, nil
	}
	return row.Count, nil
}

// ClaimBatch moves up to n of the oldest queued jobs to processing in one
// transaction. The status guard on the UPDATE skips rows another worker
// claimed first; a transaction conflict yields an empty batch.
func (c *Client) ClaimBatch(ctx context.Context, n int) ([]models.IngestionJob, error) {
	if n <= 0 {
		return []models.IngestionJob{}, nil
	}

	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		BEGIN TRANSACTION;
		UPDATE (
			SELECT VALUE id FROM ingestion_job
			WHERE status = "queued"
			ORDER BY submitted_at ASC
			LIMIT $n
		) SET
			status = "processing",
			claimed_at = time::now()
		WHERE status = "queued"
		RETURN AFTER;
		COMMIT TRANSACTION;
	`, map[string]any{"n": n})
	if err != nil {
		err = wrapQueryError(err)
		if errors.Is(err, ErrTransactionConflict) {
			c.logger.Warn("claim conflicted with another worker", "error", err)
			return []models.IngestionJob{}, nil
		}
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	jobs, err := jobsFromRows(lastResult(results))
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	sortBySubmitted(jobs)
	return jobs, nil
}

// Finalize writes the outcome of a processing job. It fails with
// service.ErrJobNotProcessing when the job already reached a terminal state.
func (c *Client) Finalize(ctx context.Context, jobID string, outcome models.JobOutcome) error {
	vars := map[string]any{
		"id":     jobID,
		"status": string(outcome.Status()),
	}
	set := "result_summary = $summary, error_detail = NONE"
	if outcome.Err != nil {
		set = "error_detail = $detail, result_summary = NONE"
		vars["detail"] = outcome.ErrorDetail()
	} else {
		vars["summary"] = outcome.Summary
	}

	sql := fmt.Sprintf(`
		UPDATE type::record("ingestion_job", $id) SET
			status = $status,
			processed_at = time::now(),
			%s
		WHERE status = "processing"
		RETURN AFTER
	`, set)

	results, err := surrealdb.Query[[]jobRow](ctx, c.db, sql, vars)
	if err != nil {
		return fmt.Errorf("finalize job: %w", wrapQueryError(err))
	}
	if _, ok := firstRow(results); ok {
		return nil
	}

	job, err := c.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", service.ErrJobNotProcessing, jobID, job.Status)
}

func sortBySubmitted(jobs []models.IngestionJob) {
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].SubmittedAt.Before(jobs[b].SubmittedAt)
	})
}
