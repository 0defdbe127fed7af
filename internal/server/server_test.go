package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/kbingest/internal/memstore"
	"github.com/raphaelgruber/kbingest/internal/metrics"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/server"
	"github.com/raphaelgruber/kbingest/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu    sync.Mutex
	calls []int
	err   error

	started chan struct{}
	block   chan struct{}
}

func (s *stubRunner) RunCycle(_ context.Context, n int) (service.CycleReport, error) {
	if s.block != nil {
		close(s.started)
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, n)
	if s.err != nil {
		return service.CycleReport{}, s.err
	}
	return service.CycleReport{Claimed: n, Completed: n, Jobs: []service.JobReport{}}, nil
}

func newTestServer(t *testing.T, runner *stubRunner) (*httptest.Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	srv := server.New(store, runner, metrics.NewCollector(), 7, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func TestRunEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		status   int
		wantCall int
	}{
		{"default batch", "", http.StatusOK, 7},
		{"explicit batch", "?batch=3", http.StatusOK, 3},
		{"zero batch", "?batch=0", http.StatusBadRequest, 0},
		{"too large", "?batch=1000", http.StatusBadRequest, 0},
		{"not a number", "?batch=x", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{}
			ts, _ := newTestServer(t, runner)

			resp, err := http.Post(ts.URL+"/ingest/run"+tt.query, "application/json", nil)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.wantCall > 0 {
				require.Equal(t, []int{tt.wantCall}, runner.calls)
				var report service.CycleReport
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
				assert.Equal(t, tt.wantCall, report.Claimed)
			} else {
				assert.Empty(t, runner.calls)
			}
		})
	}
}

func TestRunEndpointError(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{err: errors.New("queue unreachable")})

	resp, err := http.Post(ts.URL+"/ingest/run", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRunEndpointRejectsOverlap(t *testing.T) {
	runner := &stubRunner{started: make(chan struct{}), block: make(chan struct{})}
	ts, _ := newTestServer(t, runner)

	first := make(chan int, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/ingest/run", "application/json", nil)
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not start")
	}

	resp, err := http.Post(ts.URL+"/ingest/run", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(runner.block)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestJobEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{})

	resp, err := http.Post(ts.URL+"/jobs", "application/json",
		strings.NewReader(`{"source_id":"src1","version_id":"v1","submitted_by":"ops"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.IngestionJob
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, models.JobQueued, created.Status)

	got, err := http.Get(ts.URL + "/jobs/" + created.ID)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
	var job models.IngestionJob
	require.NoError(t, json.NewDecoder(got.Body).Decode(&job))
	assert.Equal(t, "ops", job.SubmittedBy)

	missing, err := http.Get(ts.URL + "/jobs/nope")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	list, err := http.Get(ts.URL + "/jobs?status=queued&limit=5")
	require.NoError(t, err)
	defer list.Body.Close()
	var body struct {
		Jobs  []models.IngestionJob `json:"jobs"`
		Count int                   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)

	bad, err := http.Get(ts.URL + "/jobs?status=weird")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestEnqueueValidation(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{})

	for _, body := range []string{`{`, `{"source_id":"s"}`, `{"version_id":"v"}`} {
		resp, err := http.Post(ts.URL+"/jobs", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestHealthAndStats(t *testing.T) {
	ts, _ := newTestServer(t, &stubRunner{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stats, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer stats.Body.Close()
	assert.Equal(t, http.StatusOK, stats.StatusCode)
	var snap map[string]any
	require.NoError(t, json.NewDecoder(stats.Body).Decode(&snap))
	assert.Contains(t, snap, "uptime_seconds")
}

type downStore struct {
	*memstore.Store
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthReportsStoreOutage(t *testing.T) {
	srv := server.New(downStore{memstore.New()}, &stubRunner{}, metrics.NewCollector(), 7, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
