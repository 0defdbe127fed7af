package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueueN(t *testing.T, s *Store, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		job, err := s.Enqueue(context.Background(), models.JobSubmission{SourceID: "src", VersionID: fmt.Sprintf("v%d", i)})
		require.NoError(t, err)
		ids[i] = job.ID
	}
	return ids
}

func TestClaimBatch_OldestFirst(t *testing.T) {
	s := New()
	ids := enqueueN(t, s, 5)
	ctx := context.Background()

	jobs, err := s.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[0], jobs[0].ID)
	assert.Equal(t, ids[1], jobs[1].ID)
	assert.Equal(t, models.JobProcessing, jobs[0].Status)
	assert.NotNil(t, jobs[0].ClaimedAt)

	n, _ := s.CountQueued(ctx)
	assert.Equal(t, 3, n)

	jobs, err = s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 3, "returns fewer than n without blocking")

	jobs, err = s.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestClaimBatch_NonPositiveBatch(t *testing.T) {
	s := New()
	enqueueN(t, s, 2)

	for _, n := range []int{0, -3} {
		claimed, err := s.ClaimBatch(context.Background(), n)
		require.NoError(t, err)
		assert.Empty(t, claimed, "n=%d", n)
	}
	queued, err := s.CountQueued(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
}

func TestClaimBatch_ConcurrentNoOverlap(t *testing.T) {
	s := New()
	enqueueN(t, s, 40)

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.ClaimBatch(context.Background(), 3)
				if err != nil || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					claimed[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 40)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestFinalize_ExactlyOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	enqueueN(t, s, 1)

	jobs, err := s.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	id := jobs[0].ID

	require.NoError(t, s.Finalize(ctx, id, models.JobOutcome{Summary: &models.ResultSummary{SegmentsProcessed: 3}}))
	err = s.Finalize(ctx, id, models.JobOutcome{Err: errors.New("late")})
	assert.ErrorIs(t, err, service.ErrJobNotProcessing)

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.JobComplete, job.Status)
	assert.Equal(t, 3, job.ResultSummary.SegmentsProcessed)
	assert.Nil(t, job.ErrorDetail)
	assert.NotNil(t, job.ProcessedAt)
}

func TestFinalize_QueuedJobRejected(t *testing.T) {
	s := New()
	ids := enqueueN(t, s, 1)
	err := s.Finalize(context.Background(), ids[0], models.JobOutcome{Summary: &models.ResultSummary{}})
	assert.ErrorIs(t, err, service.ErrJobNotProcessing)

	err = s.Finalize(context.Background(), "nope", models.JobOutcome{})
	assert.ErrorIs(t, err, service.ErrJobNotFound)
}

func TestFinalize_ErrorDetail(t *testing.T) {
	s := New()
	ctx := context.Background()
	enqueueN(t, s, 1)
	jobs, _ := s.ClaimBatch(ctx, 1)

	require.NoError(t, s.Finalize(ctx, jobs[0].ID, models.JobOutcome{Err: errors.New("boom"), Detail: `{"kind":"internal"}`}))
	job, _ := s.GetJob(ctx, jobs[0].ID)
	assert.Equal(t, models.JobError, job.Status)
	assert.Equal(t, `{"kind":"internal"}`, *job.ErrorDetail)
}

func TestReplaceSegments_DropsOldRowsAndRelevance(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.ReplaceSegments(ctx, "v1", []models.ContentSegment{{SequenceNumber: 2}, {SequenceNumber: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, first[0].SequenceNumber)
	require.NoError(t, s.UpsertRelevance(ctx, models.SegmentRelevance{SegmentID: first[0].ID}))

	second, err := s.ReplaceSegments(ctx, "v1", []models.ContentSegment{{SequenceNumber: 1}})
	require.NoError(t, err)
	assert.Len(t, s.Content("v1"), 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Equal(t, 0, s.RelevanceCount())
}

func TestUpsertEntity_SameKeySameID(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.UpsertEntity(ctx, models.Entity{EntityType: "tool", CanonicalName: "Go", Aliases: []string{"golang"}})
	require.NoError(t, err)
	b, err := s.UpsertEntity(ctx, models.Entity{EntityType: "Tool", CanonicalName: "go", Aliases: []string{"go-lang"}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, s.Entities(), 1)
	assert.Equal(t, []string{"golang", "go-lang"}, s.Entities()[0].Aliases)
}

func TestUpsertRelationship_SameKeySameID(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.UpsertRelationship(ctx, models.Relationship{SourceEntityID: "e1", TargetEntityID: "e2", RelationshipType: "uses", Strength: 0.5})
	require.NoError(t, err)
	b, err := s.UpsertRelationship(ctx, models.Relationship{SourceEntityID: "e1", TargetEntityID: "e2", RelationshipType: "uses", Strength: 0.9})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, s.Relationships(), 1)
	assert.Equal(t, 0.9, s.Relationships()[0].Strength)
}

func TestListJobs(t *testing.T) {
	s := New()
	ctx := context.Background()
	ids := enqueueN(t, s, 3)
	_, _ = s.ClaimBatch(ctx, 1)

	all, err := s.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")

	queued, err := s.ListJobs(ctx, models.JobQueued, 1)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, ids[2], queued[0].ID)
}
