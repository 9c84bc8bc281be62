package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"strategylab/internal/scenario"
)

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func sampleResult() *scenario.RunResult {
	res := &scenario.RunResult{Status: scenario.StatusSuccess}
	res.Config.Symbols = []string{"BTCUSDT"}
	res.Config.Interval = "1h"
	return res
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, sampleResult(), true, 0); err != nil {
		t.Fatalf("render: %v", err)
	}
	var got scenario.RunResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got.Status != scenario.StatusSuccess {
		t.Errorf("status = %q", got.Status)
	}
}

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, sampleResult(), false, 0); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), "BTCUSDT") {
		t.Errorf("report does not mention the symbol:\n%s", buf.String())
	}
}

func TestRenderReportsWriteErrors(t *testing.T) {
	for _, asJSON := range []bool{true, false} {
		err := render(brokenWriter{}, sampleResult(), asJSON, 0)
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("render(json=%v) = %v, want io.ErrClosedPipe", asJSON, err)
		}
	}
	if err := render(io.Discard, "not a result", false, 0); err == nil {
		t.Error("render of an unknown type should fail")
	}
}
