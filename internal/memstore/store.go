// Package memstore is an in-memory implementation of the pipeline's
// storage interfaces, used by tests and by the "memory" store backend.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
)

var (
	_ service.JobStore         = (*Store)(nil)
	_ service.TranscriptSource = (*Store)(nil)
	_ service.ContentStore     = (*Store)(nil)
	_ service.GraphStore       = (*Store)(nil)
)

// SourcePointer records the last indexed version of a content source.
type SourcePointer struct {
	VersionID string
	IndexedAt time.Time
}

// Store holds all pipeline tables in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	jobs      map[string]*models.IngestionJob
	versions  map[string]models.TranscriptVersion
	segments  map[string][]models.TranscriptSegment
	content   map[string][]models.ContentSegment
	relevance map[string]models.SegmentRelevance
	entities  map[string]models.Entity
	entityIDs map[models.EntityKey]string
	rels      map[string]models.Relationship
	relIDs    map[string]string
	sources   map[string]SourcePointer
}

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*models.IngestionJob),
		versions:  make(map[string]models.TranscriptVersion),
		segments:  make(map[string][]models.TranscriptSegment),
		content:   make(map[string][]models.ContentSegment),
		relevance: make(map[string]models.SegmentRelevance),
		entities:  make(map[string]models.Entity),
		entityIDs: make(map[models.EntityKey]string),
		rels:      make(map[string]models.Relationship),
		relIDs:    make(map[string]string),
		sources:   make(map[string]SourcePointer),
	}
}

// PutTranscript stores a version and its segments.
func (s *Store) PutTranscript(v models.TranscriptVersion, segs []models.TranscriptSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[v.ID] = v
	s.segments[v.ID] = append([]models.TranscriptSegment(nil), segs...)
}

// SaveTranscript stores a version and its segments, replacing earlier ones.
func (s *Store) SaveTranscript(_ context.Context, v models.TranscriptVersion, segs []models.TranscriptSegment) error {
	if v.ID == "" {
		return fmt.Errorf("save transcript: version id is required")
	}
	s.PutTranscript(v, segs)
	return nil
}

// Enqueue adds a queued job.
func (s *Store) Enqueue(_ context.Context, sub models.JobSubmission) (*models.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &models.IngestionJob{
		ID:          uuid.NewString(),
		SourceID:    sub.SourceID,
		VersionID:   sub.VersionID,
		SubmittedBy: sub.SubmittedBy,
		SubmittedAt: time.Now().UTC(),
		Status:      models.JobQueued,
	}
	// Keep submission order strict even when the clock does not advance.
	for _, j := range s.jobs {
		if !job.SubmittedAt.After(j.SubmittedAt) {
			job.SubmittedAt = j.SubmittedAt.Add(time.Microsecond)
		}
	}
	s.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

// GetJob returns a copy of the job.
func (s *Store) GetJob(_ context.Context, id string) (*models.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrJobNotFound, id)
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(_ context.Context, status models.JobStatus, limit int) ([]models.IngestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.IngestionJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if status == "" || j.Status == status {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SubmittedAt.After(out[b].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountQueued returns the number of queued jobs.
func (s *Store) CountQueued(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobQueued {
			n++
		}
	}
	return n, nil
}

// ClaimBatch moves the oldest n queued jobs to processing.
func (s *Store) ClaimBatch(_ context.Context, n int) ([]models.IngestionJob, error) {
	if n <= 0 {
		return []models.IngestionJob{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []*models.IngestionJob
	for _, j := range s.jobs {
		if j.Status == models.JobQueued {
			queued = append(queued, j)
		}
	}
	sort.Slice(queued, func(a, b int) bool {
		if queued[a].SubmittedAt.Equal(queued[b].SubmittedAt) {
			return queued[a].ID < queued[b].ID
		}
		return queued[a].SubmittedAt.Before(queued[b].SubmittedAt)
	})

	now := time.Now().UTC()
	out := make([]models.IngestionJob, 0, min(n, len(queued)))
	for _, j := range queued {
		if len(out) >= n {
			break
		}
		j.Status = models.JobProcessing
		j.ClaimedAt = &now
		out = append(out, *j)
	}
	return out, nil
}

// Finalize records the terminal state of a processing job.
func (s *Store) Finalize(_ context.Context, jobID string, outcome models.JobOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", service.ErrJobNotFound, jobID)
	}
	if j.Status != models.JobProcessing {
		return fmt.Errorf("%w: %s is %s", service.ErrJobNotProcessing, jobID, j.Status)
	}

	now := time.Now().UTC()
	j.Status = outcome.Status()
	j.ProcessedAt = &now
	if outcome.Err != nil {
		j.ErrorDetail = models.Ptr(outcome.ErrorDetail())
	} else {
		j.ResultSummary = outcome.Summary
	}
	return nil
}

// GetVersion returns nil, nil for unknown versions.
func (s *Store) GetVersion(_ context.Context, versionID string) (*models.TranscriptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// ListSegments returns the version's segments by sequence number.
func (s *Store) ListSegments(_ context.Context, versionID string) ([]models.TranscriptSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	segs := append([]models.TranscriptSegment(nil), s.segments[versionID]...)
	sort.Slice(segs, func(a, b int) bool { return segs[a].SequenceNumber < segs[b].SequenceNumber })
	return segs, nil
}

// ReplaceSegments swaps the version's content rows and drops their relevance rows.
func (s *Store) ReplaceSegments(_ context.Context, versionID string, rows []models.ContentSegment) ([]models.ContentSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, old := range s.content[versionID] {
		delete(s.relevance, old.ID)
	}

	now := time.Now().UTC()
	stored := make([]models.ContentSegment, len(rows))
	for i, r := range rows {
		r.ID = uuid.NewString()
		r.VersionID = versionID
		r.CreatedAt = now
		stored[i] = r
	}
	sort.SliceStable(stored, func(a, b int) bool { return stored[a].SequenceNumber < stored[b].SequenceNumber })
	s.content[versionID] = stored
	return append([]models.ContentSegment(nil), stored...), nil
}

// UpsertRelevance writes the annotation row for a segment.
func (s *Store) UpsertRelevance(_ context.Context, rel models.SegmentRelevance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relevance[rel.SegmentID] = rel
	return nil
}

// MarkSourceIndexed updates the source pointer.
func (s *Store) MarkSourceIndexed(_ context.Context, sourceID, versionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[sourceID] = SourcePointer{VersionID: versionID, IndexedAt: at}
	return nil
}

// UpsertEntity inserts or updates an entity keyed by (type, name).
func (s *Store) UpsertEntity(_ context.Context, e models.Entity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.NewEntityKey(e.EntityType, e.CanonicalName)
	if id, ok := s.entityIDs[key]; ok {
		existing := s.entities[id]
		existing.Aliases = mergeAliases(existing.Aliases, e.Aliases)
		if e.Definition != nil {
			existing.Definition = e.Definition
		}
		existing.UpdatedAt = e.UpdatedAt
		s.entities[id] = existing
		return id, nil
	}

	if e.ID == "" {
		e.ID = key.ID()
	}
	s.entities[e.ID] = e
	s.entityIDs[key] = e.ID
	return e.ID, nil
}

// UpsertRelationship inserts or updates an edge keyed by (source, target, type).
func (s *Store) UpsertRelationship(_ context.Context, r models.Relationship) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.SourceEntityID + "\x00" + r.TargetEntityID + "\x00" + r.RelationshipType
	if id, ok := s.relIDs[key]; ok {
		r.ID = id
		s.rels[id] = r
		return id, nil
	}
	if r.ID == "" {
		r.ID = models.RelationshipID(r.SourceEntityID, r.TargetEntityID, r.RelationshipType)
	}
	s.rels[r.ID] = r
	s.relIDs[key] = r.ID
	return r.ID, nil
}

// Content returns the stored rows of a version.
func (s *Store) Content(versionID string) []models.ContentSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ContentSegment(nil), s.content[versionID]...)
}

// Relevance returns the annotation row of a segment.
func (s *Store) Relevance(segmentID string) (models.SegmentRelevance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relevance[segmentID]
	return r, ok
}

// RelevanceCount returns the number of annotation rows.
func (s *Store) RelevanceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.relevance)
}

// Entities returns all entities.
func (s *Store) Entities() []models.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e)
	}
	return out
}

// Relationships returns all relationships.
func (s *Store) Relationships() []models.Relationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Relationship, 0, len(s.rels))
	for _, r := range s.rels {
		out = append(out, r)
	}
	return out
}

// Source returns the pointer for a content source.
func (s *Store) Source(sourceID string) (SourcePointer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sources[sourceID]
	return p, ok
}

func mergeAliases(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
