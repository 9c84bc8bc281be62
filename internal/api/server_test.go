package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"strategylab/internal/domain"
	"strategylab/internal/gather"
	"strategylab/internal/jobs"
	"strategylab/internal/scenario"
	"strategylab/internal/store"
	"strategylab/internal/strategy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type loaderFunc func(symbols []string) map[string][]domain.Bar

func (f loaderFunc) Load(_ context.Context, symbols []string, _ string, _ gather.DateRange) (map[string][]domain.Bar, []string, error) {
	out := f(symbols)
	if len(out) == 0 {
		return nil, nil, domain.ErrBacktest
	}
	return out, nil, nil
}

func risingSeries(symbols []string) map[string][]domain.Bar {
	out := map[string][]domain.Bar{}
	for _, s := range symbols {
		bars := make([]domain.Bar, 80)
		for i := range bars {
			p := 100 + float64(i)*0.25
			bars[i] = domain.Bar{Symbol: s, Timestamp: t0.Add(time.Duration(i) * time.Hour), Open: p, High: p, Low: p, Close: p, Volume: 1}
		}
		out[s] = bars
	}
	return out
}

type fixture struct {
	srv  *Server
	orch *scenario.Orchestrator
	jobs *jobs.Store
	runs *store.SQLiteStore
	http *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := strategy.NewRegistry()
	reg.Register("buyer", func(map[string]float64) (strategy.Provider, error) {
		return strategy.ProviderFunc(func(_ context.Context, _ string, w []domain.Bar) (domain.Signal, error) {
			if len(w) == 51 {
				return domain.Signal{Action: domain.ActionBuy, Confidence: 0.8, RiskLevel: domain.RiskLow}, nil
			}
			return domain.Hold, nil
		}), nil
	})

	runs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	js := jobs.NewStore(time.Hour, nil)
	orch := scenario.New(loaderFunc(risingSeries), reg, scenario.Options{MaxParallel: 2, Jobs: js, Runs: runs})

	f := &fixture{orch: orch, jobs: js, runs: runs}
	f.srv = NewServer(orch, js, runs, nil)
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.http.Close()
		orch.Close()
		runs.Close()
	})
	return f
}

func requestBody() scenario.Request {
	return scenario.Request{
		Kind: scenario.KindSingle,
		Config: domain.RunConfig{
			Symbols:        []string{"BTCUSDT"},
			Start:          t0,
			End:            t0.AddDate(0, 1, 0),
			Interval:       "1h",
			InitialBalance: 10000,
			CommissionRate: 0.0004,
			SlippageRate:   0.0001,
			Strategy:       domain.StrategyParams{Type: "buyer"},
		},
	}
}

func (f *fixture) post(t *testing.T, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.http.URL+"/api/backtests", "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) submit(t *testing.T) string {
	t.Helper()
	resp := f.post(t, requestBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.ID)
	return out.ID
}

func (f *fixture) waitDone(t *testing.T, id string) jobs.Job {
	t.Helper()
	var job jobs.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.jobs.Get(id)
		return err == nil && job.Status.Done()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

func TestSubmitAndFetch(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t)
	require.Equal(t, jobs.StatusSuccess, f.waitDone(t, id).Status)

	var job struct {
		ID     string             `json:"id"`
		Status jobs.Status        `json:"status"`
		Result scenario.RunResult `json:"result"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, f.http.URL+"/api/backtests/"+id, &job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, jobs.StatusSuccess, job.Status)
	assert.Equal(t, scenario.StatusSuccess, job.Result.Status)
	assert.Equal(t, 1, job.Result.Metrics.TotalTrades)
	assert.Len(t, job.Result.EquityCurve, 80)

	var list []jobs.Job
	require.Equal(t, http.StatusOK, getJSON(t, f.http.URL+"/api/backtests", &list))
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Result)

	var runs []store.RunRecord
	require.Equal(t, http.StatusOK, getJSON(t, f.http.URL+"/api/runs?limit=5", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
}

func TestGetFallsBackToArchive(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t)
	f.waitDone(t, id)
	require.NoError(t, f.jobs.Delete(id))

	var rec store.RunRecord
	require.Equal(t, http.StatusOK, getJSON(t, f.http.URL+"/api/backtests/"+id, &rec))
	assert.Equal(t, "single", rec.Kind)
	assert.Len(t, rec.Trades, 1)

	req, _ := http.NewRequest(http.MethodDelete, f.http.URL+"/api/backtests/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, http.StatusNotFound, getJSON(t, f.http.URL+"/api/backtests/"+id, nil))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	f := newFixture(t)

	bad := requestBody()
	bad.Config.InitialBalance = -1
	resp := f.post(t, bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["error"], "invalid configuration")

	resp = f.post(t, map[string]any{"kind": "single", "surprise": true})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r, err := http.Post(f.http.URL+"/api/backtests", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	assert.Empty(t, f.jobs.List())
}

func TestStrategiesAndCORS(t *testing.T) {
	f := newFixture(t)
	var out StrategiesResponse
	require.Equal(t, http.StatusOK, getJSON(t, f.http.URL+"/api/strategies", &out))
	assert.Equal(t, []string{"buyer"}, out.Strategies)
	assert.Contains(t, out.Metrics, "sharpe_ratio")

	req, _ := http.NewRequest(http.MethodOptions, f.http.URL+"/api/backtests", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.http.URL+"/api/runs?limit=x", nil))
}

func TestStreamEndsWithFinishedJob(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/api/backtests/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var events []jobs.Event
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var evt jobs.Event
		if err := conn.ReadJSON(&evt); err != nil {
			break
		}
		events = append(events, evt)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, "snapshot", events[0].Type)
	last := events[len(events)-1]
	assert.Equal(t, jobs.StatusSuccess, last.Job.Status)
	for _, e := range events {
		assert.Nil(t, e.Job.Result)
		assert.Equal(t, id, e.Job.ID)
	}

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.http.URL, "http")+"/api/backtests/nope/stream", nil)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

func TestGRPCService(t *testing.T) {
	f := newFixture(t)

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	NewGRPCService(f.orch, f.jobs, nil).RegisterGRPC(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := NewBacktestClient(conn)
	ctx := context.Background()

	req := requestBody()
	id, err := client.Submit(ctx, &req)
	require.NoError(t, err)
	f.waitDone(t, id)

	job, err := client.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusSuccess, job.Status)
	assert.NotNil(t, job.Result)

	require.NoError(t, client.Delete(ctx, id))
	_, err = client.Get(ctx, id)
	assert.Equal(t, codes.NotFound, status.Code(err))

	req.Config.Interval = "3x"
	_, err = client.Submit(ctx, &req)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
