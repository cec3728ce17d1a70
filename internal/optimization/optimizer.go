// Package optimization searches strategy parameter spaces by scoring each candidate with a backtest.
// Methods: grid search and seeded random search.
package optimization

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/internal/workers"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

var (
	// ErrTooManyCandidates is returned when a search would exceed MaxCandidates evaluations
	ErrTooManyCandidates = errors.New("optimization: too many candidates")
	// ErrNoValidEvaluation is returned when every candidate failed
	ErrNoValidEvaluation = errors.New("optimization: no candidate evaluated successfully")
)

// Method represents the search algorithm
type Method string

const (
	MethodGrid   Method = "grid"
	MethodRandom Method = "random"
)

// Objective names the backtest statistic being maximized
type Objective string

const (
	ObjectiveSharpe       Objective = "sharpe"
	ObjectiveSortino      Objective = "sortino"
	ObjectivePnL          Objective = "pnl"
	ObjectiveReturn       Objective = "return"
	ObjectiveProfitFactor Objective = "profit_factor"
	// ObjectiveDrawdown maximizes the negated max drawdown percentage
	ObjectiveDrawdown Objective = "drawdown"
)

// Config configures the optimizer
type Config struct {
	Method         Method
	Objective      Objective
	GridResolution int   // grid steps per parameter; each range yields up to GridResolution+1 values
	Iterations     int   // random search samples
	Seed           int64 // random search seed
	MaxCandidates  int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Method:         MethodGrid,
		Objective:      ObjectiveSharpe,
		GridResolution: 4,
		Iterations:     50,
		Seed:           1,
		MaxCandidates:  2000,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch c.Method {
	case MethodGrid:
		if c.GridResolution < 1 {
			return fmt.Errorf("grid resolution must be at least 1, got %d", c.GridResolution)
		}
	case MethodRandom:
		if c.Iterations < 1 {
			return fmt.Errorf("iterations must be at least 1, got %d", c.Iterations)
		}
	default:
		return fmt.Errorf("unknown method %q", c.Method)
	}
	switch c.Objective {
	case ObjectiveSharpe, ObjectiveSortino, ObjectivePnL, ObjectiveReturn, ObjectiveProfitFactor, ObjectiveDrawdown:
	default:
		return fmt.Errorf("unknown objective %q", c.Objective)
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("max candidates must be at least 1, got %d", c.MaxCandidates)
	}
	return nil
}

// Parameter is one dimension of the search space
type Parameter struct {
	Name    string  `json:"name"`
	Integer bool    `json:"integer"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// ParamSet represents a set of parameter values
type ParamSet map[string]float64

// ObjectiveFunc scores a parameter set; higher is better
type ObjectiveFunc func(ctx context.Context, params ParamSet) (float64, error)

// Evaluation is the outcome of one candidate
type Evaluation struct {
	Index  int      `json:"index"`
	Params ParamSet `json:"params"`
	Score  float64  `json:"score"`
	Error  string   `json:"error,omitempty"`
}

// Result contains optimization results. Evaluations and Convergence are in candidate order.
type Result struct {
	Method      Method        `json:"method"`
	Objective   Objective     `json:"objective"`
	BestParams  ParamSet      `json:"bestParams"`
	BestScore   float64       `json:"bestScore"`
	Evaluations []Evaluation  `json:"evaluations"`
	Convergence []float64     `json:"convergence"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

// Optimizer performs strategy parameter optimization
type Optimizer struct {
	logger *zap.Logger
	config Config
	pool   *workers.Pool
}

// NewOptimizer creates an optimizer. Candidates are scored on pool when it is running.
func NewOptimizer(logger *zap.Logger, config Config, pool *workers.Pool) (*Optimizer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer config: %w", err)
	}
	return &Optimizer{logger: logger, config: config, pool: pool}, nil
}

// Candidates returns the parameter sets the configured method will evaluate
func (o *Optimizer) Candidates(params []Parameter) []ParamSet {
	if o.config.Method == MethodRandom {
		return Random(params, o.config.Iterations, o.config.Seed)
	}
	return Grid(params, o.config.GridResolution)
}

// Optimize scores every candidate and returns the best. Ties keep the earliest candidate.
func (o *Optimizer) Optimize(ctx context.Context, params []Parameter, objective ObjectiveFunc) (*Result, error) {
	start := time.Now()

	candidates := o.Candidates(params)
	if len(candidates) > o.config.MaxCandidates {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyCandidates, len(candidates), o.config.MaxCandidates)
	}

	evals := make([]Evaluation, len(candidates))
	evaluate := func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		evals[i] = Evaluation{Index: i, Params: candidates[i]}
		score, err := objective(ctx, candidates[i])
		if err != nil {
			evals[i].Error = err.Error()
			return nil
		}
		evals[i].Score = score
		return nil
	}

	if o.pool != nil && o.pool.IsRunning() {
		if err := o.pool.ForEach(ctx, len(candidates), evaluate); err != nil {
			return nil, fmt.Errorf("optimization: %w", err)
		}
	} else {
		for i := range candidates {
			if err := evaluate(i); err != nil {
				return nil, fmt.Errorf("optimization: %w", err)
			}
		}
	}

	result := &Result{
		Method:      o.config.Method,
		Objective:   o.config.Objective,
		Evaluations: evals,
		Convergence: make([]float64, 0, len(evals)),
	}
	best := math.Inf(-1)
	found := false
	for _, ev := range evals {
		if ev.Error != "" {
			result.Failed++
		} else if !found || ev.Score > best {
			best = ev.Score
			result.BestParams = ev.Params
			result.BestScore = ev.Score
			found = true
		}
		result.Convergence = append(result.Convergence, best)
	}
	if !found {
		return nil, ErrNoValidEvaluation
	}
	result.Duration = time.Since(start)

	o.logger.Info("Optimization completed",
		zap.String("method", string(o.config.Method)),
		zap.String("objective", string(o.config.Objective)),
		zap.Int("candidates", len(candidates)),
		zap.Int("failed", result.Failed),
		zap.Float64("bestScore", result.BestScore),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// Score extracts the objective from a backtest result
func Score(objective Objective, r *types.BacktestResult) float64 {
	s := r.Stats
	switch objective {
	case ObjectiveSortino:
		return s.SortinoRatio
	case ObjectivePnL:
		return s.TotalPnL
	case ObjectiveReturn:
		return s.TotalReturnPct
	case ObjectiveProfitFactor:
		return s.ProfitFactor
	case ObjectiveDrawdown:
		return -s.MaxDrawdownPct
	default:
		return s.SharpeRatio
	}
}

// Grid returns the Cartesian product of each parameter's values, in parameter order.
// Integer parameters are rounded and deduplicated.
func Grid(params []Parameter, resolution int) []ParamSet {
	values := make([][]float64, len(params))
	for i, p := range params {
		values[i] = gridValues(p, resolution)
	}
	return cartesianProduct(params, values, 0, make(ParamSet))
}

func gridValues(p Parameter, resolution int) []float64 {
	if p.Max <= p.Min || resolution < 1 {
		return []float64{roundIf(p.Min, p.Integer)}
	}
	out := make([]float64, 0, resolution+1)
	for k := 0; k <= resolution; k++ {
		v := roundIf(p.Min+float64(k)*(p.Max-p.Min)/float64(resolution), p.Integer)
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

// cartesianProduct generates all combinations recursively
func cartesianProduct(params []Parameter, values [][]float64, idx int, current ParamSet) []ParamSet {
	if idx == len(params) {
		result := make(ParamSet, len(current))
		for k, v := range current {
			result[k] = v
		}
		return []ParamSet{result}
	}

	var combinations []ParamSet
	for _, val := range values[idx] {
		current[params[idx].Name] = val
		combinations = append(combinations, cartesianProduct(params, values, idx+1, current)...)
	}
	return combinations
}

// Random draws n parameter sets uniformly from each range with a seeded generator
func Random(params []Parameter, n int, seed int64) []ParamSet {
	rng := rand.New(rand.NewSource(seed))
	out := make([]ParamSet, n)
	for i := range out {
		set := make(ParamSet, len(params))
		for _, p := range params {
			set[p.Name] = roundIf(p.Min+rng.Float64()*(p.Max-p.Min), p.Integer)
		}
		out[i] = set
	}
	return out
}

func roundIf(v float64, integer bool) float64 {
	if integer {
		return math.Round(v)
	}
	return v
}

// SortParameters orders parameters by name so searches are reproducible
func SortParameters(params []Parameter) {
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
}
