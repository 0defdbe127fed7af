package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
	"github.com/surrealdb/surrealdb.go"
)

var _ service.TranscriptSource = (*Client)(nil)

// GetVersion returns nil, nil when the version does not exist.
func (c *Client) GetVersion(ctx context.Context, versionID string) (*models.TranscriptVersion, error) {
	results, err := surrealdb.Query[[]versionRow](ctx, c.db, `
		SELECT * FROM type::record("transcript_version", $id)
	`, map[string]any{"id": versionID})
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	row, ok := firstRow(results)
	if !ok {
		return nil, nil
	}
	id, err := recordKey(row.ID, "version")
	if err != nil {
		return nil, err
	}
	return &models.TranscriptVersion{
		ID:             id,
		SourceID:       row.SourceID,
		TranscriptText: row.TranscriptText,
		Metadata:       row.Metadata,
	}, nil
}

// ListSegments returns the version's segments ordered by sequence number.
func (c *Client) ListSegments(ctx context.Context, versionID string) ([]models.TranscriptSegment, error) {
	results, err := surrealdb.Query[[]segmentRow](ctx, c.db, `
		SELECT * FROM transcript_segment
		WHERE version_id = $version_id
		ORDER BY sequence_number ASC
	`, map[string]any{"version_id": versionID})
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	rows := lastResult(results)
	out := make([]models.TranscriptSegment, 0, len(rows))
	for _, r := range rows {
		id, err := recordKey(r.ID, "segment")
		if err != nil {
			return nil, err
		}
		out = append(out, models.TranscriptSegment{
			ID:             id,
			VersionID:      r.VersionID,
			SequenceNumber: r.SequenceNumber,
			Text:           r.Text,
			StartTime:      r.StartTime,
			EndTime:        r.EndTime,
		})
	}
	return out, nil
}

// SaveTranscript writes a version and replaces its segments. Transcripts
// are normally produced upstream; this backs the load command and tests.
func (c *Client) SaveTranscript(ctx context.Context, v models.TranscriptVersion, segs []models.TranscriptSegment) error {
	if v.ID == "" {
		return fmt.Errorf("save transcript: version id is required")
	}

	rows := make([]map[string]any, len(segs))
	for i, s := range segs {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", v.ID, s.SequenceNumber)
		}
		rows[i] = map[string]any{
			"id":              recordID(tableSegment, id),
			"version_id":      v.ID,
			"sequence_number": s.SequenceNumber,
			"text":            s.Text,
			"start_time":      s.StartTime,
			"end_time":        s.EndTime,
		}
	}

	metadata := v.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		BEGIN TRANSACTION;
		UPSERT type::record("transcript_version", $id) SET
			source_id = $source_id,
			transcript_text = $text,
			metadata = $metadata;
		DELETE transcript_segment WHERE version_id = $id;
		INSERT INTO transcript_segment $rows;
		COMMIT TRANSACTION;
	`, map[string]any{
		"id":        v.ID,
		"source_id": v.SourceID,
		"text":      v.TranscriptText,
		"metadata":  metadata,
		"rows":      rows,
	})
	if err != nil {
		return fmt.Errorf("save transcript: %w", wrapQueryError(err))
	}
	return nil
}
