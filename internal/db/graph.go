package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
	"github.com/surrealdb/surrealdb.go"
)

var _ service.GraphStore = (*Client)(nil)

// UpsertEntity creates or updates an entity keyed by (entity_type, name_key).
// Aliases are merged with array::union; the first canonical name and an
// existing definition are kept unless a new definition is given.
func (c *Client) UpsertEntity(ctx context.Context, e models.Entity) (string, error) {
	key := models.NewEntityKey(e.EntityType, e.CanonicalName)
	if key.Name == "" {
		return "", fmt.Errorf("upsert entity: empty name")
	}
	id := e.ID
	if id == "" {
		id = key.ID()
	}
	aliases := e.Aliases
	if aliases == nil {
		aliases = []string{}
	}

	results, err := surrealdb.Query[[]idRow](ctx, c.db, `
		UPSERT type::record("kg_entity", $id) SET
			entity_type = $entity_type,
			canonical_name = IF canonical_name THEN canonical_name ELSE $canonical_name END,
			name_key = $name_key,
			aliases = array::union(aliases ?? [], $aliases),
			definition = $definition ?? definition,
			updated_at = time::now()
		RETURN id
	`, map[string]any{
		"id":             id,
		"entity_type":    key.Type,
		"canonical_name": e.CanonicalName,
		"name_key":       key.Name,
		"aliases":        aliases,
		"definition":     e.Definition,
	})
	if err != nil {
		err = wrapQueryError(err)
		if errors.Is(err, ErrAlreadyExists) {
			// Row written under another id by an older writer.
			return c.entityIDByKey(ctx, key)
		}
		return "", fmt.Errorf("upsert entity: %w", err)
	}

	row, ok := firstRow(results)
	if !ok {
		return "", fmt.Errorf("upsert entity: no result returned")
	}
	return recordKey(row.ID, "entity")
}

func (c *Client) entityIDByKey(ctx context.Context, key models.EntityKey) (string, error) {
	results, err := surrealdb.Query[[]idRow](ctx, c.db, `
		SELECT id FROM kg_entity WHERE entity_type = $entity_type AND name_key = $name_key LIMIT 1
	`, map[string]any{"entity_type": key.Type, "name_key": key.Name})
	if err != nil {
		return "", fmt.Errorf("lookup entity: %w", err)
	}
	row, ok := firstRow(results)
	if !ok {
		return "", fmt.Errorf("lookup entity %s/%s: not found after conflict", key.Type, key.Name)
	}
	return recordKey(row.ID, "entity")
}

// UpsertRelationship inserts an edge or updates the existing edge with the
// same (in, out, relationship_type).
func (c *Client) UpsertRelationship(ctx context.Context, r models.Relationship) (string, error) {
	id := r.ID
	if id == "" {
		id = models.RelationshipID(r.SourceEntityID, r.TargetEntityID, r.RelationshipType)
	}

	vars := map[string]any{
		"id":         recordID(tableRelationship, id),
		"in":         recordID(tableEntity, r.SourceEntityID),
		"out":        recordID(tableEntity, r.TargetEntityID),
		"type":       r.RelationshipType,
		"strength":   r.Strength,
		"confidence": r.Confidence,
		"context":    optional(r.Context),
		"segment_id": optional(r.SegmentID),
	}

	results, err := surrealdb.Query[[]idRow](ctx, c.db, `
		INSERT RELATION INTO kg_relationship {
			id: $id,
			in: $in,
			out: $out,
			relationship_type: $type,
			strength: $strength,
			confidence: $confidence,
			context: $context,
			segment_id: $segment_id,
			updated_at: time::now()
		} ON DUPLICATE KEY UPDATE
			strength = $strength,
			confidence = $confidence,
			context = $context ?? context,
			segment_id = $segment_id ?? segment_id,
			updated_at = time::now()
		RETURN id
	`, vars)
	if err != nil {
		return "", fmt.Errorf("upsert relationship: %w", wrapQueryError(err))
	}

	row, ok := firstRow(results)
	if !ok {
		return "", fmt.Errorf("upsert relationship: no result returned")
	}
	return recordKey(row.ID, "relationship")
}

// GetEntity returns an entity by id, or nil.
func (c *Client) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	results, err := surrealdb.Query[[]entityRow](ctx, c.db, `
		SELECT * FROM type::record("kg_entity", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	row, ok := firstRow(results)
	if !ok {
		return nil, nil
	}
	return &models.Entity{
		ID:            id,
		EntityType:    row.EntityType,
		CanonicalName: row.CanonicalName,
		Aliases:       row.Aliases,
		Definition:    row.Definition,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// CountRelationships returns the number of edges leaving an entity.
func (c *Client) CountRelationships(ctx context.Context, sourceEntityID string) (int, error) {
	results, err := surrealdb.Query[[]countRow](ctx, c.db, `
		SELECT count() AS count FROM kg_relationship WHERE in = $in GROUP ALL
	`, map[string]any{"in": recordID(tableEntity, sourceEntityID)})
	if err != nil {
		return 0, fmt.Errorf("count relationships: %w", err)
	}
	row, ok := firstRow(results)
	if !ok {
		return 0, nil
	}
	return row.Count, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
