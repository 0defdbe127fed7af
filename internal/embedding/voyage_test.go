package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoyageClient_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req voyageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "voyage-3", req.Model)
		assert.Equal(t, []string{"one", "two"}, req.Input)

		// Out of order on purpose.
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[0.3,0.4]},
			{"index":0,"embedding":[0.1,0.2]}
		],"usage":{"total_tokens":4}}`))
	}))
	defer srv.Close()

	client, err := NewVoyageClient("test-key", "", 2)
	require.NoError(t, err)
	client.WithEndpoint(srv.URL)

	vectors, err := client.EmbedBatch(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, vectors)
}

func TestVoyageClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http error", http.StatusTooManyRequests, `{"detail":"rate limited"}`, "status 429"},
		{"count mismatch", http.StatusOK, `{"data":[{"index":0,"embedding":[1,2]}]}`, "count mismatch"},
		{"dimension mismatch", http.StatusOK, `{"data":[{"index":0,"embedding":[1]},{"index":1,"embedding":[1,2]}]}`, "dimension mismatch"},
		{"bad index", http.StatusOK, `{"data":[{"index":0,"embedding":[1,2]},{"index":5,"embedding":[1,2]}]}`, "invalid embedding index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := NewVoyageClient("k", "voyage-3", 2)
			require.NoError(t, err)
			client.WithEndpoint(srv.URL)

			_, err = client.EmbedBatch(context.Background(), []string{"a", "b"})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
