package service

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/kbingest/internal/models"
)

// GraphBuilder deduplicates entities and relationships for one job.
// It must not be shared across jobs.
type GraphBuilder struct {
	store GraphStore

	entities map[models.EntityKey]string
	byName   map[string]string // lower-cased name -> first resolved id
	links    map[string]bool
	skipped  int
}

// NewGraphBuilder creates a builder with an empty cache.
func NewGraphBuilder(store GraphStore) *GraphBuilder {
	return &GraphBuilder{
		store:    store,
		entities: make(map[models.EntityKey]string),
		byName:   make(map[string]string),
		links:    make(map[string]bool),
	}
}

// ResolveEntity returns the id for d, upserting it on first sight in this job.
func (b *GraphBuilder) ResolveEntity(ctx context.Context, d models.EntityDescriptor) (string, error) {
	key := d.Key()
	if key.Name == "" {
		return "", fmt.Errorf("entity has no name")
	}
	if id, ok := b.entities[key]; ok {
		return id, nil
	}

	e := models.Entity{
		ID:            key.ID(),
		EntityType:    key.Type,
		CanonicalName: d.Name,
		Aliases:       d.Aliases,
		UpdatedAt:     time.Now().UTC(),
	}
	if d.Definition != "" {
		e.Definition = models.Ptr(d.Definition)
	}

	id, err := b.store.UpsertEntity(ctx, e)
	if err != nil {
		return "", fmt.Errorf("upsert entity %s/%s: %w", key.Type, key.Name, err)
	}

	b.entities[key] = id
	if _, ok := b.byName[key.Name]; !ok {
		b.byName[key.Name] = id
	}
	return id, nil
}

// LinkRelationship upserts d when both endpoints were resolved earlier in
// this job. Otherwise it is skipped and false is returned; endpoints are
// never looked up in previously stored data.
func (b *GraphBuilder) LinkRelationship(ctx context.Context, d models.RelationshipDescriptor, segmentID string) (bool, error) {
	src, ok := b.lookup(d.SourceType, d.Source)
	if !ok {
		b.skipped++
		return false, nil
	}
	dst, ok := b.lookup(d.TargetType, d.Target)
	if !ok {
		b.skipped++
		return false, nil
	}

	rel := models.Relationship{
		ID:               models.RelationshipID(src, dst, d.Type),
		SourceEntityID:   src,
		TargetEntityID:   dst,
		RelationshipType: models.NewEntityKey("", d.Type).Name,
		Strength:         d.Strength,
		Confidence:       d.Confidence,
		Context:          d.Context,
		SegmentID:        segmentID,
		UpdatedAt:        time.Now().UTC(),
	}
	id, err := b.store.UpsertRelationship(ctx, rel)
	if err != nil {
		return false, fmt.Errorf("upsert relationship %s: %w", rel.RelationshipType, err)
	}
	b.links[id] = true
	return true, nil
}

func (b *GraphBuilder) lookup(entityType, name string) (string, bool) {
	key := models.NewEntityKey(entityType, name)
	if key.Type != "" {
		id, ok := b.entities[key]
		return id, ok
	}
	id, ok := b.byName[key.Name]
	return id, ok
}

// Entities returns the number of distinct entities resolved.
func (b *GraphBuilder) Entities() int {
	return len(b.entities)
}

// Relationships returns the number of distinct relationships linked.
func (b *GraphBuilder) Relationships() int {
	return len(b.links)
}

// Skipped returns how many relationships had an unresolved endpoint.
func (b *GraphBuilder) Skipped() int {
	return b.skipped
}
