package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotifier struct{ err error }

func (f failingNotifier) Notify(context.Context, Event) error { return f.err }

func TestFanout_DeliversToAll(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	boom := errors.New("sink down")
	fan := Fanout{a, failingNotifier{boom}, b}

	err := fan.Notify(context.Background(), New(KindJobFailed, "job failed", map[string]any{"job_id": "j1"}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.Count(KindJobFailed))
	assert.Equal(t, 1, b.Count(KindJobFailed), "failure of one sink must not block the next")
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ctx := context.Background()
	_ = r.Notify(ctx, New(KindQueueBacklog, "backlog", nil))
	_ = r.Notify(ctx, New(KindEmbeddingFailed, "embed", nil))
	_ = r.Notify(ctx, New(KindQueueBacklog, "backlog", nil))

	assert.Equal(t, 2, r.Count(KindQueueBacklog))
	assert.Len(t, r.Events(), 3)
	assert.False(t, r.Events()[0].At.IsZero())
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, l.Notify(context.Background(), New(KindQueueBacklog, "queue backlog", map[string]any{"queued": 30})))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "queue backlog", line["msg"])
	assert.Equal(t, "queue_backlog", line["kind"])
	assert.Equal(t, float64(30), line["queued"])
	assert.Equal(t, "WARN", line["level"])
}

func TestWebhook(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Notify(context.Background(), New(KindJobFailed, "job j1 failed", map[string]any{"job_id": "j1"}))
	require.NoError(t, err)
	assert.Equal(t, KindJobFailed, got.Kind)
	assert.Equal(t, "job j1 failed", got.Text)
	assert.Equal(t, "j1", got.Payload["job_id"])
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).Notify(context.Background(), New(KindJobFailed, "x", nil))
	assert.ErrorContains(t, err, "status 502")
}
