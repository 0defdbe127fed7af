package db

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
	"github.com/surrealdb/surrealdb.go"
)

var _ service.ContentStore = (*Client)(nil)

// ReplaceSegments deletes the version's content and relevance rows and
// inserts rows in one transaction. Ids are assigned here so the returned
// rows need no read-back.
func (c *Client) ReplaceSegments(ctx context.Context, versionID string, rows []models.ContentSegment) ([]models.ContentSegment, error) {
	now := time.Now().UTC()
	stored := make([]models.ContentSegment, len(rows))
	inserts := make([]map[string]any, len(rows))

	for i, r := range rows {
		r.ID = uuid.NewString()
		r.VersionID = versionID
		r.CreatedAt = now
		stored[i] = r

		row := map[string]any{
			"id":              recordID(tableContent, r.ID),
			"source_id":       r.SourceID,
			"version_id":      versionID,
			"segment_text":    r.SegmentText,
			"sequence_number": r.SequenceNumber,
			"start_timestamp": r.StartTimestamp,
			"end_timestamp":   r.EndTimestamp,
		}
		// Absent rather than null so the HNSW index skips the row.
		if r.Embedding != nil {
			row["embedding"] = r.Embedding
		}
		if r.Metadata != nil {
			row["metadata"] = r.Metadata
		}
		inserts[i] = row
	}

	sql := `
		BEGIN TRANSACTION;
		DELETE segment_relevance WHERE version_id = $version_id;
		DELETE content_segment WHERE version_id = $version_id;
	`
	if len(inserts) > 0 {
		sql += "INSERT INTO content_segment $rows;\n"
	}
	sql += "COMMIT TRANSACTION;"

	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"version_id": versionID,
		"rows":       inserts,
	}); err != nil {
		return nil, fmt.Errorf("replace segments: %w", wrapQueryError(err))
	}

	sortBySequence(stored)
	return stored, nil
}

// UpsertRelevance writes the annotation row keyed by the segment id.
// Absent fields are stored as NONE.
func (c *Client) UpsertRelevance(ctx context.Context, rel models.SegmentRelevance) error {
	content := map[string]any{"version_id": rel.VersionID}
	if rel.PersonaScores != nil {
		content["persona_scores"] = rel.PersonaScores
	}
	if rel.ContentType != nil {
		content["content_type"] = *rel.ContentType
	}
	if rel.Complexity != nil {
		content["complexity"] = *rel.Complexity
	}
	if rel.Focus != nil {
		content["focus"] = *rel.Focus
	}
	if rel.Topics != nil {
		content["topics"] = rel.Topics
	}
	if rel.Confidence != nil {
		content["confidence"] = *rel.Confidence
	}
	if rel.Model != nil {
		content["model"] = *rel.Model
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("segment_relevance", $id) CONTENT $content
	`, map[string]any{"id": rel.SegmentID, "content": content})
	if err != nil {
		return fmt.Errorf("upsert relevance: %w", wrapQueryError(err))
	}
	return nil
}

// MarkSourceIndexed points the content source at versionID.
func (c *Client) MarkSourceIndexed(ctx context.Context, sourceID, versionID string, at time.Time) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("content_source", $id) SET
			indexed_version_id = $version_id,
			indexed_at = type::datetime($at)
	`, map[string]any{
		"id":         sourceID,
		"version_id": versionID,
		"at":         at.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("mark source indexed: %w", err)
	}
	return nil
}

// ListContent returns the stored rows of a version in sequence order.
func (c *Client) ListContent(ctx context.Context, versionID string) ([]models.ContentSegment, error) {
	results, err := surrealdb.Query[[]contentRow](ctx, c.db, `
		SELECT * FROM content_segment
		WHERE version_id = $version_id
		ORDER BY sequence_number ASC
	`, map[string]any{"version_id": versionID})
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}

	rows := lastResult(results)
	out := make([]models.ContentSegment, 0, len(rows))
	for _, r := range rows {
		id, err := recordKey(r.ID, "content segment")
		if err != nil {
			return nil, err
		}
		out = append(out, models.ContentSegment{
			ID:             id,
			SourceID:       r.SourceID,
			VersionID:      r.VersionID,
			SegmentText:    r.SegmentText,
			SequenceNumber: r.SequenceNumber,
			StartTimestamp: r.StartTimestamp,
			EndTimestamp:   r.EndTimestamp,
			Embedding:      r.Embedding,
			Metadata:       r.Metadata,
			CreatedAt:      r.CreatedAt,
		})
	}
	return out, nil
}

// GetRelevance returns the annotation row of a segment, or nil.
func (c *Client) GetRelevance(ctx context.Context, segmentID string) (*models.SegmentRelevance, error) {
	results, err := surrealdb.Query[[]relevanceRow](ctx, c.db, `
		SELECT * FROM type::record("segment_relevance", $id)
	`, map[string]any{"id": segmentID})
	if err != nil {
		return nil, fmt.Errorf("get relevance: %w", err)
	}
	row, ok := firstRow(results)
	if !ok {
		return nil, nil
	}
	return &models.SegmentRelevance{
		SegmentID:     segmentID,
		VersionID:     row.VersionID,
		PersonaScores: row.PersonaScores,
		ContentType:   row.ContentType,
		Complexity:    row.Complexity,
		Focus:         row.Focus,
		Topics:        row.Topics,
		Confidence:    row.Confidence,
		Model:         row.Model,
	}, nil
}

// IndexedVersion returns the version a content source points at.
func (c *Client) IndexedVersion(ctx context.Context, sourceID string) (string, error) {
	results, err := surrealdb.Query[[]struct {
		VersionID *string `json:"indexed_version_id"`
	}](ctx, c.db, `
		SELECT indexed_version_id FROM type::record("content_source", $id)
	`, map[string]any{"id": sourceID})
	if err != nil {
		return "", fmt.Errorf("indexed version: %w", err)
	}
	row, ok := firstRow(results)
	if !ok || row.VersionID == nil {
		return "", nil
	}
	return *row.VersionID, nil
}

func sortBySequence(rows []models.ContentSegment) {
	sort.SliceStable(rows, func(a, b int) bool {
		return rows[a].SequenceNumber < rows[b].SequenceNumber
	})
}
