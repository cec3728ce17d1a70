package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/atlas-desktop/alpha-engine/internal/backtester"
	"github.com/atlas-desktop/alpha-engine/internal/strategy"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// Bounds narrows a strategy parameter's search range
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// SearchSpace turns strategy parameter limits into search dimensions, sorted by name.
// names restricts the space (nil selects every parameter) and bounds narrows individual ranges,
// which must stay inside the strategy's own limits.
func SearchSpace(params map[string]strategy.StrategyParameter, names []string, bounds map[string]Bounds) ([]Parameter, error) {
	if len(names) == 0 {
		for name := range params {
			names = append(names, name)
		}
	}
	for name := range bounds {
		if _, ok := params[name]; !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
	}

	space := make([]Parameter, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		sp, ok := params[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		p := Parameter{Name: name, Integer: sp.Integer, Min: sp.Min, Max: sp.Max}
		if b, ok := bounds[name]; ok {
			if b.Min > b.Max {
				return nil, fmt.Errorf("parameter %s: min %g above max %g", name, b.Min, b.Max)
			}
			if b.Min < sp.Min || b.Max > sp.Max {
				return nil, fmt.Errorf("parameter %s must stay in [%g, %g]", name, sp.Min, sp.Max)
			}
			p.Min, p.Max = b.Min, b.Max
		}
		if p.Integer {
			// keep rounded samples inside the limits
			p.Min, p.Max = math.Ceil(p.Min), math.Floor(p.Max)
		}
		space = append(space, p)
	}
	SortParameters(space)
	return space, nil
}

// BacktestObjective scores a parameter set by backtesting the named strategy over ticks.
// Candidate values override base; base supplies the parameters not being searched.
func BacktestObjective(engine *backtester.Engine, registry *strategy.StrategyRegistry, name string,
	base map[string]float64, ticks []types.Tick, objective Objective) ObjectiveFunc {
	return func(ctx context.Context, params ParamSet) (float64, error) {
		merged := make(map[string]float64, len(base)+len(params))
		for k, v := range base {
			merged[k] = v
		}
		for k, v := range params {
			merged[k] = v
		}

		factory, err := registry.Factory(name, merged)
		if err != nil {
			return 0, err
		}
		result, err := engine.Run(ctx, ticks, factory(nil))
		if err != nil {
			return 0, err
		}
		score := Score(objective, result)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return 0, fmt.Errorf("non-finite %s score", objective)
		}
		return score, nil
	}
}

// Top returns the n best successful evaluations, highest score first
func Top(result *Result, n int) []Evaluation {
	out := make([]Evaluation, 0, len(result.Evaluations))
	for _, ev := range result.Evaluations {
		if ev.Error == "" {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
