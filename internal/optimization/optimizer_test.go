package optimization_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/internal/backtester"
	"github.com/atlas-desktop/alpha-engine/internal/feed"
	"github.com/atlas-desktop/alpha-engine/internal/optimization"
	"github.com/atlas-desktop/alpha-engine/internal/strategy"
	"github.com/atlas-desktop/alpha-engine/internal/workers"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

func newOptimizer(t *testing.T, cfg optimization.Config, pool *workers.Pool) *optimization.Optimizer {
	t.Helper()
	opt, err := optimization.NewOptimizer(zap.NewNop(), cfg, pool)
	if err != nil {
		t.Fatalf("Failed to create optimizer: %v", err)
	}
	return opt
}

// parabola peaks at x = 3
func parabola(_ context.Context, p optimization.ParamSet) (float64, error) {
	x := p["x"]
	return -(x - 3) * (x - 3), nil
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*optimization.Config)
	}{
		{"unknown method", func(c *optimization.Config) { c.Method = "annealing" }},
		{"unknown objective", func(c *optimization.Config) { c.Objective = "alpha" }},
		{"zero resolution", func(c *optimization.Config) { c.GridResolution = 0 }},
		{"zero iterations", func(c *optimization.Config) { c.Method = optimization.MethodRandom; c.Iterations = 0 }},
		{"zero max candidates", func(c *optimization.Config) { c.MaxCandidates = 0 }},
	}

	if err := optimization.DefaultConfig().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := optimization.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestGrid(t *testing.T) {
	params := []optimization.Parameter{
		{Name: "window", Integer: true, Min: 2, Max: 10},
		{Name: "mult", Min: 1, Max: 2},
	}
	sets := optimization.Grid(params, 4)
	if len(sets) != 25 {
		t.Fatalf("Expected 25 combinations, got %d", len(sets))
	}
	if sets[0]["window"] != 2 || sets[0]["mult"] != 1 {
		t.Errorf("Expected first combination {2, 1}, got %v", sets[0])
	}
	if sets[1]["window"] != 2 || sets[1]["mult"] != 1.25 {
		t.Errorf("Expected second combination {2, 1.25}, got %v", sets[1])
	}
	if last := sets[24]; last["window"] != 10 || last["mult"] != 2 {
		t.Errorf("Expected last combination {10, 2}, got %v", last)
	}
}

func TestGridRoundsIntegers(t *testing.T) {
	sets := optimization.Grid([]optimization.Parameter{{Name: "n", Integer: true, Min: 1, Max: 2}}, 4)
	if len(sets) != 2 {
		t.Fatalf("Expected duplicates removed leaving 2 values, got %d", len(sets))
	}
	if sets[0]["n"] != 1 || sets[1]["n"] != 2 {
		t.Errorf("Expected values 1 and 2, got %v and %v", sets[0]["n"], sets[1]["n"])
	}

	fixed := optimization.Grid([]optimization.Parameter{{Name: "n", Min: 5, Max: 5}}, 4)
	if len(fixed) != 1 || fixed[0]["n"] != 5 {
		t.Errorf("Expected a single value for an empty range, got %v", fixed)
	}
}

func TestRandomIsSeeded(t *testing.T) {
	params := []optimization.Parameter{
		{Name: "window", Integer: true, Min: 2, Max: 50},
		{Name: "threshold", Min: 0.001, Max: 0.01},
	}
	a := optimization.Random(params, 20, 7)
	b := optimization.Random(params, 20, 7)

	for i := range a {
		if a[i]["window"] != b[i]["window"] || a[i]["threshold"] != b[i]["threshold"] {
			t.Fatalf("Expected identical samples for the same seed at %d, got %v and %v", i, a[i], b[i])
		}
		w := a[i]["window"]
		if w < 2 || w > 50 || w != float64(int(w)) {
			t.Errorf("Expected integer window in [2, 50], got %v", w)
		}
		if th := a[i]["threshold"]; th < 0.001 || th > 0.01 {
			t.Errorf("Expected threshold in range, got %v", th)
		}
	}
}

func TestOptimizeGrid(t *testing.T) {
	cfg := optimization.DefaultConfig()
	cfg.GridResolution = 6
	opt := newOptimizer(t, cfg, nil)

	result, err := opt.Optimize(context.Background(), []optimization.Parameter{{Name: "x", Min: 0, Max: 6}}, parabola)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if result.BestParams["x"] != 3 {
		t.Errorf("Expected best x 3, got %v", result.BestParams["x"])
	}
	if result.BestScore != 0 {
		t.Errorf("Expected best score 0, got %v", result.BestScore)
	}
	if len(result.Evaluations) != 7 || len(result.Convergence) != 7 {
		t.Fatalf("Expected 7 evaluations and convergence points, got %d and %d", len(result.Evaluations), len(result.Convergence))
	}
	for i := 1; i < len(result.Convergence); i++ {
		if result.Convergence[i] < result.Convergence[i-1] {
			t.Errorf("Expected non-decreasing convergence, got %v", result.Convergence)
			break
		}
	}

	top := optimization.Top(result, 3)
	if len(top) != 3 || top[0].Params["x"] != 3 {
		t.Errorf("Expected top 3 led by x=3, got %v", top)
	}
	if top[1].Score != -1 || top[2].Score != -1 {
		t.Errorf("Expected runners-up scoring -1, got %v and %v", top[1].Score, top[2].Score)
	}
}

func TestOptimizeOnPoolMatchesSequential(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("optimize"))
	pool.Start()
	defer pool.Stop()

	cfg := optimization.DefaultConfig()
	cfg.Method = optimization.MethodRandom
	cfg.Iterations = 40
	cfg.Seed = 3
	params := []optimization.Parameter{{Name: "x", Min: 0, Max: 6}}

	seq, err := newOptimizer(t, cfg, nil).Optimize(context.Background(), params, parabola)
	if err != nil {
		t.Fatalf("Sequential optimize failed: %v", err)
	}
	par, err := newOptimizer(t, cfg, pool).Optimize(context.Background(), params, parabola)
	if err != nil {
		t.Fatalf("Pooled optimize failed: %v", err)
	}

	if seq.BestScore != par.BestScore || seq.BestParams["x"] != par.BestParams["x"] {
		t.Errorf("Expected identical best results, got %v/%v and %v/%v",
			seq.BestParams, seq.BestScore, par.BestParams, par.BestScore)
	}
	for i := range seq.Evaluations {
		if seq.Evaluations[i].Score != par.Evaluations[i].Score {
			t.Fatalf("Expected evaluation %d to match, got %v and %v", i, seq.Evaluations[i].Score, par.Evaluations[i].Score)
		}
	}
}

func TestOptimizeRecordsFailures(t *testing.T) {
	cfg := optimization.DefaultConfig()
	cfg.GridResolution = 6
	opt := newOptimizer(t, cfg, nil)
	params := []optimization.Parameter{{Name: "x", Min: 0, Max: 6}}

	failLow := func(ctx context.Context, p optimization.ParamSet) (float64, error) {
		if p["x"] < 4 {
			return 0, fmt.Errorf("x %v too small", p["x"])
		}
		return parabola(ctx, p)
	}
	result, err := opt.Optimize(context.Background(), params, failLow)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if result.Failed != 4 {
		t.Errorf("Expected 4 failed candidates, got %d", result.Failed)
	}
	if result.BestParams["x"] != 4 {
		t.Errorf("Expected best x 4 among survivors, got %v", result.BestParams["x"])
	}
	if result.Evaluations[0].Error == "" {
		t.Error("Expected the first evaluation to carry its error")
	}

	failAll := func(context.Context, optimization.ParamSet) (float64, error) {
		return 0, errors.New("boom")
	}
	if _, err := opt.Optimize(context.Background(), params, failAll); !errors.Is(err, optimization.ErrNoValidEvaluation) {
		t.Errorf("Expected ErrNoValidEvaluation, got %v", err)
	}
}

func TestOptimizeCandidateLimit(t *testing.T) {
	cfg := optimization.DefaultConfig()
	cfg.GridResolution = 10
	cfg.MaxCandidates = 50
	opt := newOptimizer(t, cfg, nil)

	params := []optimization.Parameter{{Name: "a", Min: 0, Max: 1}, {Name: "b", Min: 0, Max: 1}}
	if _, err := opt.Optimize(context.Background(), params, parabola); !errors.Is(err, optimization.ErrTooManyCandidates) {
		t.Errorf("Expected ErrTooManyCandidates, got %v", err)
	}
}

func TestOptimizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opt := newOptimizer(t, optimization.DefaultConfig(), nil)
	_, err := opt.Optimize(ctx, []optimization.Parameter{{Name: "x", Min: 0, Max: 6}}, parabola)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestSearchSpace(t *testing.T) {
	params := strategy.NewMomentumStrategy().Parameters()

	space, err := optimization.SearchSpace(params, nil, nil)
	if err != nil {
		t.Fatalf("SearchSpace failed: %v", err)
	}
	if len(space) != 2 || space[0].Name != "threshold" || space[1].Name != "window" {
		t.Fatalf("Expected [threshold window], got %v", space)
	}
	if !space[1].Integer {
		t.Error("Expected window to be an integer dimension")
	}

	narrowed, err := optimization.SearchSpace(params, []string{"window"}, map[string]optimization.Bounds{
		"window": {Min: 5.5, Max: 30},
	})
	if err != nil {
		t.Fatalf("SearchSpace failed: %v", err)
	}
	if len(narrowed) != 1 || narrowed[0].Min != 6 || narrowed[0].Max != 30 {
		t.Errorf("Expected window in [6, 30], got %v", narrowed)
	}

	if _, err := optimization.SearchSpace(params, []string{"lookback"}, nil); err == nil {
		t.Error("Expected error for unknown parameter")
	}
	if _, err := optimization.SearchSpace(params, nil, map[string]optimization.Bounds{"window": {Min: 1, Max: 10}}); err == nil {
		t.Error("Expected error for bounds outside the strategy limits")
	}
	if _, err := optimization.SearchSpace(params, nil, map[string]optimization.Bounds{"window": {Min: 10, Max: 5}}); err == nil {
		t.Error("Expected error for inverted bounds")
	}
}

func TestBacktestObjective(t *testing.T) {
	engine, err := backtester.NewEngine(zap.NewNop(), types.DefaultBacktestConfig())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	registry := strategy.NewStrategyRegistry(zap.NewNop())
	ticks := feed.GenerateTicks(feed.SyntheticConfig{Symbol: "SYNTH", Count: 400, StartPrice: 100, StartMs: 1000, StepMs: 1000, Seed: 5})

	params, err := optimization.SearchSpace(strategy.NewMomentumStrategy().Parameters(), []string{"window"}, map[string]optimization.Bounds{
		"window": {Min: 5, Max: 25},
	})
	if err != nil {
		t.Fatalf("SearchSpace failed: %v", err)
	}

	cfg := optimization.DefaultConfig()
	cfg.Objective = optimization.ObjectivePnL
	opt := newOptimizer(t, cfg, nil)
	objective := optimization.BacktestObjective(engine, registry, "momentum", map[string]float64{"threshold": 0.001}, ticks, cfg.Objective)

	result, err := opt.Optimize(context.Background(), params, objective)
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	if len(result.Evaluations) != 5 {
		t.Fatalf("Expected 5 candidates, got %d", len(result.Evaluations))
	}
	if result.Failed != 0 {
		t.Errorf("Expected no failed candidates, got %d", result.Failed)
	}
	for _, ev := range result.Evaluations {
		if ev.Score > result.BestScore {
			t.Errorf("Expected best score %v to dominate %v", result.BestScore, ev.Score)
		}
	}

	// the best candidate reproduces its score in a standalone run
	factory, err := registry.Factory("momentum", map[string]float64{"threshold": 0.001, "window": result.BestParams["window"]})
	if err != nil {
		t.Fatalf("Factory failed: %v", err)
	}
	rerun, err := engine.Run(context.Background(), ticks, factory(nil))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rerun.Stats.TotalPnL != result.BestScore {
		t.Errorf("Expected rerun PnL %v, got %v", result.BestScore, rerun.Stats.TotalPnL)
	}
}
