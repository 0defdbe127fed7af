// Package client is an HTTP client for the kbingest server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/kbingest/internal/metrics"
	"github.com/raphaelgruber/kbingest/internal/models"
	"github.com/raphaelgruber/kbingest/internal/service"
)

// ErrCycleRunning is returned by RunCycle when the server is already
// running a manual cycle.
var ErrCycleRunning = errors.New("a cycle is already running")

// Client talks to kbingest-server.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client.
// If endpoint is empty, uses KBINGEST_SERVER_URL or defaults to localhost:8484.
// Timeout can be configured via KBINGEST_CLIENT_TIMEOUT (default 10m, since
// a manual cycle runs inside the request).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("KBINGEST_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8484"
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("KBINGEST_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// do sends a request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e errorResponse
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", service.ErrJobNotFound, msg)
		case http.StatusConflict:
			return ErrCycleRunning
		default:
			return fmt.Errorf("server error: %s - %s", resp.Status, msg)
		}
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// RunCycle triggers one dispatch cycle on the server.
func (c *Client) RunCycle(ctx context.Context, n int) (service.CycleReport, error) {
	path := "/ingest/run"
	if n > 0 {
		path += "?batch=" + strconv.Itoa(n)
	}
	var report service.CycleReport
	err := c.do(ctx, http.MethodPost, path, nil, &report)
	return report, err
}

// Enqueue submits a job.
func (c *Client) Enqueue(ctx context.Context, sub models.JobSubmission) (*models.IngestionJob, error) {
	var job models.IngestionJob
	if err := c.do(ctx, http.MethodPost, "/jobs", sub, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches a job. Unknown ids wrap service.ErrJobNotFound.
func (c *Client) GetJob(ctx context.Context, id string) (*models.IngestionJob, error) {
	var job models.IngestionJob
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs newest first. An empty status lists all.
func (c *Client) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.IngestionJob, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result struct {
		Jobs []models.IngestionJob `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
