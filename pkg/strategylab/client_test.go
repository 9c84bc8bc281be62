package strategylab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestSubmitWaitDecode(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/backtests", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Config.Symbols) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"job-1"}`))
	})
	mux.HandleFunc("GET /api/backtests/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "job-1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"missing"}`))
			return
		}
		if polls.Add(1) < 3 {
			w.Write([]byte(`{"id":"job-1","status":"running","progress":0.5}`))
			return
		}
		w.Write([]byte(`{"id":"job-1","status":"success","progress":1,"result":{"status":"success","metrics":{"total_trades":4}}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	req := Request{}
	req.Config.Symbols = []string{"BTCUSDT"}
	id, err := c.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "job-1" {
		t.Errorf("id = %q", id)
	}

	job, err := c.Wait(ctx, id, time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", polls.Load())
	}
	var res RunResult
	if err := job.DecodeResult(&res); err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if res.Metrics.TotalTrades != 4 {
		t.Errorf("total trades = %d", res.Metrics.TotalTrades)
	}

	_, err = c.Get(ctx, "other")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(other) = %v, want ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "missing" {
		t.Errorf("api error = %v", err)
	}
}

func TestWaitReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"j","status":"error","error":"no data"}`))
	}))
	defer srv.Close()

	job, err := NewClient(srv.URL).Wait(context.Background(), "j", time.Millisecond)
	if err == nil {
		t.Fatal("expected error")
	}
	if job == nil || job.Error != "no data" {
		t.Fatalf("job = %+v", job)
	}
	if job.DecodeResult(&RunResult{}) == nil {
		t.Error("DecodeResult on failed job should error")
	}
}
