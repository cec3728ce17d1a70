// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/internal/api"
	"github.com/atlas-desktop/alpha-engine/internal/backtester"
	"github.com/atlas-desktop/alpha-engine/internal/dispatcher"
	"github.com/atlas-desktop/alpha-engine/internal/events"
	"github.com/atlas-desktop/alpha-engine/internal/feed"
	"github.com/atlas-desktop/alpha-engine/internal/sink"
	"github.com/atlas-desktop/alpha-engine/internal/strategy"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// countingSink records backtest writes
type countingSink struct {
	sink.Nop
	mu        sync.Mutex
	backtests int
}

func (c *countingSink) WriteBacktest(context.Context, *types.BacktestResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backtests++
	return nil
}

func (c *countingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backtests
}

type testEnv struct {
	server *api.Server
	ts     *httptest.Server
	store  *feed.Store
	sink   *countingSink
	bus    *events.EventBus
}

func setupTestServer(t *testing.T, mutate func(cfg *types.ServerConfig, deps *api.Dependencies)) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store, err := feed.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create data store: %v", err)
	}
	engine, err := backtester.NewEngine(logger, types.DefaultBacktestConfig())
	if err != nil {
		t.Fatalf("Failed to create backtester: %v", err)
	}

	bus := events.NewEventBus(logger, events.EventBusConfig{NumWorkers: 1, BufferSize: 1000})
	out := &countingSink{}

	cfg := types.DefaultServerConfig()
	deps := api.Dependencies{
		Store:      store,
		Backtester: engine,
		Strategies: strategy.NewStrategyRegistry(logger),
		Sink:       out,
		Bus:        bus,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	server, err := api.NewServer(logger, cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		ts.Close()
		_ = server.Stop(context.Background())
		bus.Stop()
	})
	return &testEnv{server: server, ts: ts, store: store, sink: out, bus: bus}
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var result map[string]interface{}
	decodeBody(t, resp, &result)
	if result["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", result["status"])
	}
	if result["live"] != false {
		t.Errorf("Expected live false without a dispatcher, got %v", result["live"])
	}
}

func TestLiveEndpointsWithDispatcher(t *testing.T) {
	var disp *dispatcher.Dispatcher
	env := setupTestServer(t, func(cfg *types.ServerConfig, deps *api.Dependencies) {
		d, err := dispatcher.New(zap.NewNop(), dispatcher.DefaultConfig(), nil, nil)
		if err != nil {
			t.Fatalf("Failed to create dispatcher: %v", err)
		}
		disp = d
		deps.Dispatcher = d
	})
	if err := disp.Start(); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer disp.Stop()

	if err := env.store.SaveTicks("ETHUSDT", feed.GenerateTicks(feed.DefaultSyntheticConfig("ETHUSDT"))); err != nil {
		t.Fatalf("Failed to save ticks: %v", err)
	}
	tick := types.Tick{Symbol: "BTCUSDT", Price: 50000, Volume: 1, Timestamp: 1000}
	if err := disp.Dispatch(context.Background(), tick); err != nil {
		t.Fatalf("Failed to dispatch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := disp.Snapshot("BTCUSDT"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get(env.ts.URL + "/api/v1/symbols")
	if err != nil {
		t.Fatalf("Symbols request failed: %v", err)
	}
	var symbols []string
	decodeBody(t, resp, &symbols)
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Errorf("Expected [BTCUSDT ETHUSDT], got %v", symbols)
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/snapshots/BTCUSDT")
	if err != nil {
		t.Fatalf("Snapshot request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var snap types.SymbolSnapshot
	decodeBody(t, resp, &snap)
	if snap.Price != 50000 {
		t.Errorf("Expected price 50000, got %v", snap.Price)
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/snapshots/XRPUSDT")
	if err != nil {
		t.Fatalf("Snapshot request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("Stats request failed: %v", err)
	}
	var stats map[string]json.RawMessage
	decodeBody(t, resp, &stats)
	var dstats dispatcher.Stats
	if err := json.Unmarshal(stats["dispatcher"], &dstats); err != nil {
		t.Fatalf("Failed to decode dispatcher stats: %v", err)
	}
	if dstats.Processed != 1 {
		t.Errorf("Expected 1 processed tick, got %d", dstats.Processed)
	}
}

func TestSnapshotsWithoutDispatcher(t *testing.T) {
	env := setupTestServer(t, nil)

	resp, err := http.Get(env.ts.URL + "/api/v1/snapshots")
	if err != nil {
		t.Fatalf("Snapshots request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
}

func TestStrategiesEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	resp, err := http.Get(env.ts.URL + "/api/v1/strategies")
	if err != nil {
		t.Fatalf("Strategies request failed: %v", err)
	}
	var infos []strategy.StrategyInfo
	decodeBody(t, resp, &infos)

	found := false
	for _, info := range infos {
		if info.Name == "momentum" {
			found = true
			if len(info.Parameters) == 0 {
				t.Error("Expected momentum to expose parameters")
			}
		}
	}
	if !found {
		t.Errorf("Expected momentum strategy in %d strategies", len(infos))
	}
}

func TestRunBacktestSynthetic(t *testing.T) {
	env := setupTestServer(t, nil)

	done := make(chan *events.BacktestEvent, 1)
	env.bus.Subscribe(events.EventTypeBacktest, func(e events.Event) error {
		done <- e.(*events.BacktestEvent)
		return nil
	})

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest/run", map[string]interface{}{
		"strategy":  "hold",
		"synthetic": map[string]interface{}{"count": 500, "seed": 3},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var rec api.RunRecord
	decodeBody(t, resp, &rec)

	if rec.Status != api.StatusCompleted {
		t.Errorf("Expected status completed, got %s", rec.Status)
	}
	if rec.Symbol != "SYNTH" {
		t.Errorf("Expected default synthetic symbol SYNTH, got %s", rec.Symbol)
	}
	if rec.Ticks != 500 {
		t.Errorf("Expected 500 ticks, got %d", rec.Ticks)
	}
	if rec.Result == nil {
		t.Fatal("Expected a backtest result")
	}
	if len(rec.Result.Trades) != 0 {
		t.Errorf("Expected no trades for hold, got %d", len(rec.Result.Trades))
	}
	if !rec.Result.FinalEquity.Equal(types.DefaultBacktestConfig().InitialCapital) {
		t.Errorf("Expected final equity to equal initial capital, got %s", rec.Result.FinalEquity)
	}
	if env.sink.count() != 1 {
		t.Errorf("Expected 1 persisted backtest, got %d", env.sink.count())
	}

	select {
	case ev := <-done:
		if ev.ResultID != rec.ID || ev.Kind != api.KindBacktest {
			t.Errorf("Expected backtest event for %s, got %s/%s", rec.ID, ev.Kind, ev.ResultID)
		}
	case <-time.After(2 * time.Second):
		t.Error("Timed out waiting for backtest event")
	}

	resp, err := http.Get(env.ts.URL + "/api/v1/backtest/" + rec.ID)
	if err != nil {
		t.Fatalf("Get backtest failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(env.ts.URL + "/api/v1/backtest/" + rec.ID + "/trades")
	if err != nil {
		t.Fatalf("Get trades failed: %v", err)
	}
	var trades map[string]interface{}
	decodeBody(t, resp, &trades)
	if trades["count"] != float64(0) {
		t.Errorf("Expected 0 trades, got %v", trades["count"])
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/backtests")
	if err != nil {
		t.Fatalf("List backtests failed: %v", err)
	}
	var list map[string]interface{}
	decodeBody(t, resp, &list)
	if list["count"] != float64(1) {
		t.Errorf("Expected 1 run, got %v", list["count"])
	}
}

func TestRunBacktestOverrides(t *testing.T) {
	env := setupTestServer(t, nil)

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest/run", map[string]interface{}{
		"strategy":  "momentum",
		"params":    map[string]float64{"window": 10},
		"synthetic": map[string]interface{}{"count": 400},
		"config": map[string]interface{}{
			"initialCapital": 5000,
			"executionModel": "volume_impact",
			"impactFactor":   0.2,
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var rec api.RunRecord
	decodeBody(t, resp, &rec)
	if rec.Result == nil {
		t.Fatal("Expected a backtest result")
	}
	if got := rec.Result.Config.InitialCapital.IntPart(); got != 5000 {
		t.Errorf("Expected initial capital 5000, got %d", got)
	}
}

func TestRunBacktestValidation(t *testing.T) {
	env := setupTestServer(t, nil)
	url := env.ts.URL + "/api/v1/backtest/run"

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"malformed json", "{", http.StatusBadRequest},
		{"no source", map[string]interface{}{"strategy": "hold"}, http.StatusBadRequest},
		{"two sources", map[string]interface{}{
			"symbol":    "BTCUSDT",
			"synthetic": map[string]interface{}{"count": 10},
		}, http.StatusBadRequest},
		{"unknown strategy", map[string]interface{}{
			"strategy":  "nope",
			"synthetic": map[string]interface{}{"count": 10},
		}, http.StatusBadRequest},
		{"bad execution model", map[string]interface{}{
			"synthetic": map[string]interface{}{"count": 10},
			"config":    map[string]interface{}{"executionModel": "magic"},
		}, http.StatusBadRequest},
		{"bad position size", map[string]interface{}{
			"synthetic": map[string]interface{}{"count": 10},
			"config":    map[string]interface{}{"maxPositionSize": 2},
		}, http.StatusBadRequest},
		{"missing stored symbol", map[string]interface{}{"symbol": "DOGEUSDT"}, http.StatusNotFound},
		{"unusable ticks", map[string]interface{}{
			"ticks": []types.Tick{
				{Symbol: "X", Price: 100, Volume: 1, Timestamp: 1000},
				{Symbol: "X", Price: -1, Volume: 1, Timestamp: 2000},
			},
		}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, url, tt.body)
			var body map[string]string
			decodeBody(t, resp, &body)
			if resp.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d (%s)", tt.status, resp.StatusCode, body["error"])
			}
			if body["error"] == "" {
				t.Error("Expected an error message")
			}
		})
	}

	if env.sink.count() != 0 {
		t.Errorf("Expected no persisted backtests, got %d", env.sink.count())
	}
}

func TestRunBacktestFromStore(t *testing.T) {
	env := setupTestServer(t, nil)

	cfg := feed.DefaultSyntheticConfig("ETHUSDT")
	cfg.Count = 300
	if err := env.store.SaveTicks("ETHUSDT", feed.GenerateTicks(cfg)); err != nil {
		t.Fatalf("Failed to save ticks: %v", err)
	}

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest/run", map[string]interface{}{
		"symbol":   "ethusdt",
		"end":      100000,
		"strategy": "mean_reversion",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var rec api.RunRecord
	decodeBody(t, resp, &rec)
	if rec.Symbol != "ETHUSDT" {
		t.Errorf("Expected symbol ETHUSDT, got %s", rec.Symbol)
	}
	// ticks at 1000, 2000, ... 100000
	if rec.Ticks != 100 {
		t.Errorf("Expected 100 ticks in range, got %d", rec.Ticks)
	}
}

func TestMaxTicksLimit(t *testing.T) {
	env := setupTestServer(t, func(cfg *types.ServerConfig, _ *api.Dependencies) {
		cfg.MaxTicks = 100
	})

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest/run", map[string]interface{}{
		"synthetic": map[string]interface{}{"count": 500},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestRunEviction(t *testing.T) {
	env := setupTestServer(t, func(cfg *types.ServerConfig, _ *api.Dependencies) {
		cfg.MaxBacktestRuns = 2
	})

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		resp := postJSON(t, env.ts.URL+"/api/v1/backtest/run", map[string]interface{}{
			"strategy":  "hold",
			"synthetic": map[string]interface{}{"count": 50, "seed": i + 1},
		})
		var rec api.RunRecord
		decodeBody(t, resp, &rec)
		ids = append(ids, rec.ID)
	}

	resp, err := http.Get(env.ts.URL + "/api/v1/backtest/" + ids[0])
	if err != nil {
		t.Fatalf("Get backtest failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected oldest run evicted, got status %d", resp.StatusCode)
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/backtest/" + ids[2])
	if err != nil {
		t.Fatalf("Get backtest failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected newest run retained, got status %d", resp.StatusCode)
	}
}

func TestWalkForwardEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest/walkforward", map[string]interface{}{
		"strategy":  "momentum",
		"synthetic": map[string]interface{}{"count": 600},
		"trainSize": 200,
		"testSize":  100,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var rec api.RunRecord
	decodeBody(t, resp, &rec)
	if rec.WalkForward == nil {
		t.Fatal("Expected a walk-forward result")
	}
	if len(rec.WalkForward.Windows) != 4 {
		t.Errorf("Expected 4 windows, got %d", len(rec.WalkForward.Windows))
	}
	if env.sink.count() != 4 {
		t.Errorf("Expected each window persisted, got %d", env.sink.count())
	}

	resp = postJSON(t, env.ts.URL+"/api/v1/backtest/walkforward", map[string]interface{}{
		"synthetic": map[string]interface{}{"count": 100},
		"trainSize": 200,
		"testSize":  100,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for oversized windows, got %d", resp.StatusCode)
	}

	resp = postJSON(t, env.ts.URL+"/api/v1/backtest/walkforward", map[string]interface{}{
		"synthetic": map[string]interface{}{"count": 100},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 without window sizes, got %d", resp.StatusCode)
	}
}

func TestMonteCarloEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest/montecarlo", map[string]interface{}{
		"strategy":  "mean_reversion",
		"synthetic": map[string]interface{}{"count": 200},
		"runs":      5,
		"seed":      7,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var rec api.RunRecord
	decodeBody(t, resp, &rec)
	if rec.MonteCarlo == nil {
		t.Fatal("Expected a Monte Carlo result")
	}
	if len(rec.MonteCarlo.Runs) != 5 {
		t.Errorf("Expected 5 runs, got %d", len(rec.MonteCarlo.Runs))
	}
	if rec.MonteCarlo.Seeds[0] != 7 || rec.MonteCarlo.Seeds[4] != 11 {
		t.Errorf("Expected seeds 7..11, got %v", rec.MonteCarlo.Seeds)
	}

	resp = postJSON(t, env.ts.URL+"/api/v1/backtest/montecarlo", map[string]interface{}{
		"synthetic": map[string]interface{}{"count": 200},
		"runs":      20000,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for too many runs, got %d", resp.StatusCode)
	}
}

func TestOptimizeEndpoint(t *testing.T) {
	env := setupTestServer(t, nil)

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest/optimize", map[string]interface{}{
		"strategy":   "momentum",
		"params":     map[string]float64{"threshold": 0.001},
		"synthetic":  map[string]interface{}{"count": 300},
		"parameters": []string{"window"},
		"bounds":     map[string]interface{}{"window": map[string]float64{"min": 5, "max": 25}},
		"objective":  "pnl",
		"top":        3,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var rec api.RunRecord
	decodeBody(t, resp, &rec)
	if rec.Kind != api.KindOptimize {
		t.Errorf("Expected kind %s, got %s", api.KindOptimize, rec.Kind)
	}
	opt := rec.Optimization
	if opt == nil || opt.Result == nil || opt.Best == nil {
		t.Fatal("Expected an optimization result with a best backtest")
	}
	if len(opt.Evaluations) != 5 {
		t.Errorf("Expected 5 evaluations, got %d", len(opt.Evaluations))
	}
	if len(opt.Top) != 3 {
		t.Errorf("Expected 3 leaders, got %d", len(opt.Top))
	}
	if opt.Best.Stats.TotalPnL != opt.BestScore {
		t.Errorf("Expected best backtest PnL %v, got %v", opt.BestScore, opt.Best.Stats.TotalPnL)
	}
	if env.sink.count() != 1 {
		t.Errorf("Expected the best backtest persisted once, got %d", env.sink.count())
	}

	bad := []struct {
		name string
		body map[string]interface{}
	}{
		{"unknown method", map[string]interface{}{"synthetic": map[string]interface{}{"count": 100}, "method": "annealing"}},
		{"bounds outside limits", map[string]interface{}{
			"synthetic": map[string]interface{}{"count": 100},
			"bounds":    map[string]interface{}{"window": map[string]float64{"min": 1, "max": 10}},
		}},
		{"too many candidates", map[string]interface{}{"synthetic": map[string]interface{}{"count": 100}, "resolution": 100}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, env.ts.URL+"/api/v1/backtest/optimize", tt.body)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestDataEndpoints(t *testing.T) {
	env := setupTestServer(t, nil)

	cfg := feed.DefaultSyntheticConfig("SOLUSDT")
	cfg.Count = 50
	if err := env.store.SaveTicks("SOLUSDT", feed.GenerateTicks(cfg)); err != nil {
		t.Fatalf("Failed to save ticks: %v", err)
	}

	resp, err := http.Get(env.ts.URL + "/api/v1/data/ticks/SOLUSDT?start=10000&end=19000")
	if err != nil {
		t.Fatalf("Ticks request failed: %v", err)
	}
	var ticks struct {
		Ticks []types.Tick `json:"ticks"`
		Count int          `json:"count"`
	}
	decodeBody(t, resp, &ticks)
	if ticks.Count != 10 {
		t.Errorf("Expected 10 ticks in range, got %d", ticks.Count)
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/data/ticks/SOLUSDT?start=abc")
	if err != nil {
		t.Fatalf("Ticks request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad range, got %d", resp.StatusCode)
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/data/quality/SOLUSDT")
	if err != nil {
		t.Fatalf("Quality request failed: %v", err)
	}
	var report feed.QualityReport
	decodeBody(t, resp, &report)
	if !report.IsUsable || report.TotalTicks != 50 {
		t.Errorf("Expected usable report over 50 ticks, got usable=%v total=%d", report.IsUsable, report.TotalTicks)
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/data/symbols")
	if err != nil {
		t.Fatalf("Data symbols request failed: %v", err)
	}
	var metas []feed.SymbolMetadata
	decodeBody(t, resp, &metas)
	if len(metas) != 1 || metas[0].TickCount != 50 {
		t.Errorf("Expected one symbol with 50 ticks, got %+v", metas)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom, err := sink.NewPrometheusSink(reg)
	if err != nil {
		t.Fatalf("Failed to create prometheus sink: %v", err)
	}
	env := setupTestServer(t, func(_ *types.ServerConfig, deps *api.Dependencies) {
		deps.Sink = prom
		deps.Gatherer = reg
	})

	resp := postJSON(t, env.ts.URL+"/api/v1/backtest/run", map[string]interface{}{
		"strategy":  "hold",
		"synthetic": map[string]interface{}{"count": 20},
	})
	resp.Body.Close()

	resp, err = http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !bytes.Contains(buf.Bytes(), []byte("alpha_backtests_total 1")) {
		t.Error("Expected alpha_backtests_total 1 in scrape output")
	}
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/v1/backtest/run", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Preflight request failed: %v", err)
	}
	resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected Access-Control-Allow-Origin header")
	}
}

func TestNewServerRequiresBacktester(t *testing.T) {
	_, err := api.NewServer(zap.NewNop(), types.DefaultServerConfig(), api.Dependencies{})
	if err == nil {
		t.Error("Expected error without a backtester")
	}
}
