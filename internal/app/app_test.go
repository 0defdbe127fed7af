package app_test

import (
	"context"
	"strings"
	"testing"

	"github.com/raphaelgruber/kbingest/internal/alert"
	"github.com/raphaelgruber/kbingest/internal/app"
	"github.com/raphaelgruber/kbingest/internal/config"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lengthEmbedder struct{}

func (lengthEmbedder) Embed(_ context.Context, chunks []string) ([][]float32, error) {
	out := make([][]float32, len(chunks))
	for i, c := range chunks {
		out[i] = []float32{float32(len(c)), 1}
	}
	return out, nil
}

func (lengthEmbedder) Model() string { return "length" }

func memoryConfig() config.Config {
	cfg := config.Defaults()
	cfg.Store.Backend = "memory"
	cfg.Annotation.Enabled = false
	return cfg
}

func TestNewMemoryBackendRunsJob(t *testing.T) {
	ctx := context.Background()
	alerts := &alert.Recorder{}

	a, err := app.New(ctx, memoryConfig(), nil, app.WithEmbedder(lengthEmbedder{}), app.WithNotifier(alerts))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	require.NoError(t, a.Transcripts.SaveTranscript(ctx,
		models.TranscriptVersion{ID: "v1", SourceID: "src1", TranscriptText: "hello there. general kenobi."},
		[]models.TranscriptSegment{
			{VersionID: "v1", SequenceNumber: 1, Text: "hello there."},
			{VersionID: "v1", SequenceNumber: 2, Text: "general kenobi."},
		}))

	job, err := a.Jobs.Enqueue(ctx, models.JobSubmission{SourceID: "src1", VersionID: "v1"})
	require.NoError(t, err)

	report, err := a.Dispatcher.RunCycle(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Completed)

	got, err := a.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobComplete, got.Status)
	require.NotNil(t, got.ResultSummary)
	assert.Equal(t, 2, got.ResultSummary.SegmentsProcessed)
	assert.Equal(t, "length", got.ResultSummary.EmbeddingModel)
	assert.Nil(t, got.ResultSummary.AnnotationModel)
	assert.Empty(t, alerts.Events())

	snap := a.Metrics.Snapshot()
	require.NotNil(t, snap.Job)
	assert.EqualValues(t, 1, snap.Job.Count)
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		want   string
	}{
		{
			name:   "unknown backend",
			modify: func(c *config.Config) { c.Store.Backend = "sqlite" },
			want:   "unknown store backend",
		},
		{
			name:   "unknown embedding provider",
			modify: func(c *config.Config) { c.Embedding.Provider = "word2vec" },
			want:   "unknown embedding provider",
		},
		{
			name: "annotation without api key",
			modify: func(c *config.Config) {
				c.Annotation.Enabled = true
				c.Annotation.Provider = "anthropic"
				c.Annotation.AnthropicAPIKey = ""
			},
			want: "annotation generator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := memoryConfig()
			tt.modify(&cfg)
			_, err := app.New(context.Background(), cfg, nil)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}

func TestNewBuildsConfiguredEmbedder(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Embedding.CacheDir = t.TempDir()

	a, err := app.New(ctx, cfg, nil, app.WithNotifier(&alert.Recorder{}))
	require.NoError(t, err)
	require.NotNil(t, a.Pipeline)
	require.NoError(t, a.Close(ctx))
	// Second close is a no-op.
	require.NoError(t, a.Close(ctx))
}
