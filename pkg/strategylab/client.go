// Package strategylab is a Go client for the strategylab-server HTTP API.
package strategylab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"strategylab/internal/jobs"
	"strategylab/internal/scenario"
	"strategylab/internal/store"
)

// Re-exported request and response types.
type (
	Request    = scenario.Request
	RunResult  = scenario.RunResult
	RunRecord  = store.RunRecord
	JobStatus  = jobs.Status
	Variant    = scenario.Variant
	ParamRange = scenario.ParamRange
)

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strategylab api: %d: %s", e.StatusCode, e.Message)
}

// Job is a submitted run as reported by the server. Result stays raw until
// decoded with DecodeResult.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Status     JobStatus       `json:"status"`
	Progress   float64         `json:"progress"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt time.Time       `json:"finished_at,omitzero"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// DecodeResult unmarshals the job result into v, which should be a
// *RunResult, *scenario.OptimizationResult or *scenario.ComparisonResult
// matching the job kind.
func (j *Job) DecodeResult(v any) error {
	if len(j.Result) == 0 {
		return fmt.Errorf("job %s has no result (status %s)", j.ID, j.Status)
	}
	return json.Unmarshal(j.Result, v)
}

// Client provides a Go SDK for interacting with the strategylab-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new strategylab API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit starts a run and returns its job ID.
func (c *Client) Submit(ctx context.Context, req Request) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/backtests", req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Get fetches a job by ID.
func (c *Client) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/api/backtests/"+id, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Wait polls a job every interval until it reaches a terminal status or ctx
// is done. A job that ends in error is returned together with an error.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Done() {
			if job.Status != jobs.StatusSuccess {
				return job, fmt.Errorf("job %s %s: %s", id, job.Status, job.Error)
			}
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Delete cancels and removes a job and its archived run.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/backtests/"+id, nil, nil)
}

// Strategies returns the registered strategy names.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var out struct {
		Strategies []string `json:"strategies"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/strategies", nil, &out); err != nil {
		return nil, err
	}
	return out.Strategies, nil
}

// Runs lists archived runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	var out []RunRecord
	if err := c.do(ctx, http.MethodGet, "/api/runs?limit="+strconv.Itoa(limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: e.Error}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrNotFound, apiErr)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
