package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/internal/backtester"
	"github.com/atlas-desktop/alpha-engine/internal/events"
	"github.com/atlas-desktop/alpha-engine/internal/feed"
	"github.com/atlas-desktop/alpha-engine/internal/optimization"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// Run kinds
const (
	KindBacktest    = "backtest"
	KindWalkForward = "walkforward"
	KindMonteCarlo  = "montecarlo"
	KindOptimize    = "optimize"
)

// Run statuses
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// maxRequestBytes bounds run request bodies, which may carry inline ticks
const maxRequestBytes = 64 << 20

// SyntheticSource asks the server to generate a seeded random walk
type SyntheticSource struct {
	Symbol     string  `json:"symbol" default:"SYNTH"`
	Count      int     `json:"count" default:"1000" validate:"min=1"`
	StartPrice float64 `json:"startPrice" default:"280" validate:"gt=0"`
	StartMs    int64   `json:"startMs" default:"1000"`
	StepMs     int64   `json:"stepMs" default:"1000" validate:"gt=0"`
	Seed       int64   `json:"seed" default:"1"`
}

// TickSource selects the series to backtest. Exactly one of Ticks, Symbol or Synthetic must be set;
// Symbol reads the tick store bounded by Start/End in milliseconds (End 0 is open).
type TickSource struct {
	Ticks     []types.Tick     `json:"ticks,omitempty"`
	Symbol    string           `json:"symbol,omitempty"`
	Start     int64            `json:"start,omitempty" validate:"gte=0"`
	End       int64            `json:"end,omitempty" validate:"gte=0"`
	Synthetic *SyntheticSource `json:"synthetic,omitempty"`
}

// ConfigOverrides replace individual fields of the server's default backtest configuration
type ConfigOverrides struct {
	InitialCapital     *float64 `json:"initialCapital,omitempty" validate:"omitempty,gt=0"`
	CommissionRate     *float64 `json:"commissionRate,omitempty" validate:"omitempty,gte=0"`
	SlippageBps        *float64 `json:"slippageBps,omitempty" validate:"omitempty,gte=0"`
	MaxPositionSize    *float64 `json:"maxPositionSize,omitempty" validate:"omitempty,gt=0,lte=1"`
	EnableShortSelling *bool    `json:"enableShortSelling,omitempty"`
	PeriodsPerYear     *int     `json:"periodsPerYear,omitempty" validate:"omitempty,min=1"`
	RiskFreeRate       *float64 `json:"riskFreeRate,omitempty"`
	ExecutionModel     string   `json:"executionModel,omitempty" validate:"omitempty,oneof=fixed_bps volume_impact"`
	ImpactFactor       float64  `json:"impactFactor,omitempty" validate:"gte=0"`
}

// BacktestRequest runs one strategy over one tick series
type BacktestRequest struct {
	TickSource
	Strategy string             `json:"strategy" default:"momentum" validate:"required"`
	Params   map[string]float64 `json:"params,omitempty"`
	Config   *ConfigOverrides   `json:"config,omitempty"`
	// SkipQuality runs even when the quality validator marks the series unusable
	SkipQuality bool `json:"skipQuality,omitempty"`
}

// WalkForwardRequest runs a walk-forward analysis
type WalkForwardRequest struct {
	BacktestRequest
	TrainSize int `json:"trainSize" validate:"min=1"`
	TestSize  int `json:"testSize" validate:"min=1"`
}

// MonteCarloRequest runs shuffled-tick simulations
type MonteCarloRequest struct {
	BacktestRequest
	Runs int   `json:"runs" default:"100" validate:"min=1,max=10000"`
	Seed int64 `json:"seed" default:"42"`
}

// OptimizeRequest searches a strategy's parameter space. Params fixes the parameters that are
// not searched; Parameters restricts the search (empty searches all) and Bounds narrows ranges.
type OptimizeRequest struct {
	BacktestRequest
	Method     string                         `json:"method" default:"grid" validate:"oneof=grid random"`
	Objective  string                         `json:"objective" default:"sharpe" validate:"oneof=sharpe sortino pnl return profit_factor drawdown"`
	Resolution int                            `json:"resolution" default:"4" validate:"min=1,max=100"`
	Iterations int                            `json:"iterations" default:"50" validate:"min=1,max=10000"`
	Seed       int64                          `json:"seed" default:"1"`
	Parameters []string                       `json:"parameters,omitempty"`
	Bounds     map[string]optimization.Bounds `json:"bounds,omitempty"`
	Top        int                            `json:"top" default:"10" validate:"min=1"`
}

// OptimizationRun is a parameter search and the full backtest of its winner
type OptimizationRun struct {
	*optimization.Result
	Top  []optimization.Evaluation `json:"top"`
	Best *types.BacktestResult     `json:"best"`
}

// RunRecord is a retained backtest, walk-forward, Monte Carlo or optimization run
type RunRecord struct {
	ID           string                   `json:"id"`
	Kind         string                   `json:"kind"`
	Symbol       string                   `json:"symbol"`
	Strategy     string                   `json:"strategy"`
	Status       string                   `json:"status"`
	Error        string                   `json:"error,omitempty"`
	Ticks        int                      `json:"ticks"`
	Started      time.Time                `json:"started"`
	Completed    time.Time                `json:"completed"`
	Quality      *feed.QualityReport      `json:"quality,omitempty"`
	Result       *types.BacktestResult    `json:"result,omitempty"`
	WalkForward  *types.WalkForwardResult `json:"walkForward,omitempty"`
	MonteCarlo   *types.MonteCarloResult  `json:"monteCarlo,omitempty"`
	Optimization *OptimizationRun         `json:"optimization,omitempty"`
}

// summary omits the heavy result payloads
func (r *RunRecord) summary() map[string]interface{} {
	out := map[string]interface{}{
		"id":        r.ID,
		"kind":      r.Kind,
		"symbol":    r.Symbol,
		"strategy":  r.Strategy,
		"status":    r.Status,
		"ticks":     r.Ticks,
		"started":   r.Started.Unix(),
		"completed": r.Completed.Unix(),
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// requestError carries the HTTP status a failed run maps to
type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...interface{}) error {
	return &requestError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

// runContext is the resolved input shared by every run kind
type runContext struct {
	engine  *backtester.Engine
	factory backtester.SignalFactory
	ticks   []types.Tick
	symbol  string
	quality *feed.QualityReport
}

// handleRunBacktest runs a single backtest
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := s.decode(w, r, &req); err != nil {
		writeRunError(w, err)
		return
	}

	s.execute(w, r, KindBacktest, &req, func(ctx context.Context, rc *runContext, rec *RunRecord) error {
		result, err := rc.engine.Run(ctx, rc.ticks, rc.factory(nil))
		if err != nil {
			return err
		}
		rec.Result = result
		s.persist(ctx, result)
		s.announce(KindBacktest, rec.ID, rc.symbol, result.Stats.TotalPnL, result.Stats.SharpeRatio)
		return nil
	})
}

// handleRunWalkForward runs a walk-forward analysis
func (s *Server) handleRunWalkForward(w http.ResponseWriter, r *http.Request) {
	var req WalkForwardRequest
	if err := s.decode(w, r, &req); err != nil {
		writeRunError(w, err)
		return
	}

	s.execute(w, r, KindWalkForward, &req.BacktestRequest, func(ctx context.Context, rc *runContext, rec *RunRecord) error {
		result, err := rc.engine.WalkForward(ctx, rc.ticks, rc.factory, req.TrainSize, req.TestSize)
		if err != nil {
			return err
		}
		rec.WalkForward = result
		for _, window := range result.Windows {
			s.persist(ctx, window.Result)
		}
		s.announce(KindWalkForward, rec.ID, rc.symbol, result.TotalPnL, result.AvgSharpe)
		return nil
	})
}

// handleRunMonteCarlo runs shuffled-tick simulations
func (s *Server) handleRunMonteCarlo(w http.ResponseWriter, r *http.Request) {
	var req MonteCarloRequest
	if err := s.decode(w, r, &req); err != nil {
		writeRunError(w, err)
		return
	}

	s.execute(w, r, KindMonteCarlo, &req.BacktestRequest, func(ctx context.Context, rc *runContext, rec *RunRecord) error {
		result, err := rc.engine.MonteCarlo(ctx, rc.ticks, rc.factory, req.Runs, req.Seed)
		if err != nil {
			return err
		}
		rec.MonteCarlo = result
		s.announce(KindMonteCarlo, rec.ID, rc.symbol, result.MeanPnL, 0)
		return nil
	})
}

// handleRunOptimize searches strategy parameters and backtests the best set
func (s *Server) handleRunOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := s.decode(w, r, &req); err != nil {
		writeRunError(w, err)
		return
	}

	s.execute(w, r, KindOptimize, &req.BacktestRequest, func(ctx context.Context, rc *runContext, rec *RunRecord) error {
		probe, ok := s.deps.Strategies.Create(req.Strategy)
		if !ok {
			return badRequest("unknown strategy %q", req.Strategy)
		}
		space, err := optimization.SearchSpace(probe.Parameters(), req.Parameters, req.Bounds)
		if err != nil {
			return badRequest("%v", err)
		}

		cfg := optimization.DefaultConfig()
		cfg.Method = optimization.Method(req.Method)
		cfg.Objective = optimization.Objective(req.Objective)
		cfg.GridResolution = req.Resolution
		cfg.Iterations = req.Iterations
		cfg.Seed = req.Seed
		opt, err := optimization.NewOptimizer(s.logger, cfg, s.deps.Pool)
		if err != nil {
			return badRequest("%v", err)
		}

		objective := optimization.BacktestObjective(rc.engine, s.deps.Strategies, req.Strategy, req.Params, rc.ticks, cfg.Objective)
		result, err := opt.Optimize(ctx, space, objective)
		switch {
		case errors.Is(err, optimization.ErrTooManyCandidates):
			return badRequest("%v", err)
		case errors.Is(err, optimization.ErrNoValidEvaluation):
			return &requestError{status: http.StatusUnprocessableEntity, err: err}
		case err != nil:
			return err
		}

		params := make(map[string]float64, len(req.Params)+len(result.BestParams))
		for k, v := range req.Params {
			params[k] = v
		}
		for k, v := range result.BestParams {
			params[k] = v
		}
		factory, err := s.deps.Strategies.Factory(req.Strategy, params)
		if err != nil {
			return err
		}
		best, err := rc.engine.Run(ctx, rc.ticks, factory(nil))
		if err != nil {
			return err
		}

		rec.Optimization = &OptimizationRun{Result: result, Top: optimization.Top(result, req.Top), Best: best}
		s.persist(ctx, best)
		s.announce(KindOptimize, rec.ID, rc.symbol, best.Stats.TotalPnL, best.Stats.SharpeRatio)
		return nil
	})
}

// execute resolves the request, runs fn under the backtest timeout and records the outcome
func (s *Server) execute(w http.ResponseWriter, r *http.Request, kind string, req *BacktestRequest,
	fn func(ctx context.Context, rc *runContext, rec *RunRecord) error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.BacktestTimeout)
	defer cancel()

	rc, err := s.prepare(ctx, req)
	if err != nil {
		writeRunError(w, err)
		return
	}

	rec := &RunRecord{
		ID:       uuid.New().String(),
		Kind:     kind,
		Symbol:   rc.symbol,
		Strategy: req.Strategy,
		Ticks:    len(rc.ticks),
		Started:  time.Now(),
		Quality:  rc.quality,
	}

	err = fn(ctx, rc, rec)
	rec.Completed = time.Now()
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
		s.store(rec)
		s.logger.Warn("Run failed",
			zap.String("id", rec.ID),
			zap.String("kind", kind),
			zap.String("strategy", req.Strategy),
			zap.Error(err),
		)
		writeRunError(w, err)
		return
	}

	rec.Status = StatusCompleted
	s.store(rec)
	s.logger.Info("Run completed",
		zap.String("id", rec.ID),
		zap.String("kind", kind),
		zap.String("symbol", rec.Symbol),
		zap.String("strategy", req.Strategy),
		zap.Int("ticks", rec.Ticks),
		zap.Duration("elapsed", rec.Completed.Sub(rec.Started)),
	)
	writeJSON(w, http.StatusOK, rec)
}

// decode reads a JSON request, fills zero fields from their defaults and validates it.
// Defaults are applied after decoding so optional nested sources get them too.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, req interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(req); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	if err := defaults.Set(req); err != nil {
		return fmt.Errorf("request defaults: %w", err)
	}

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return badRequest("invalid request: %s", strings.Join(msgs, "; "))
		}
		return badRequest("invalid request: %v", err)
	}
	return nil
}

// prepare builds the engine, strategy factory and tick series for a request
func (s *Server) prepare(ctx context.Context, req *BacktestRequest) (*runContext, error) {
	factory, err := s.deps.Strategies.Factory(req.Strategy, req.Params)
	if err != nil {
		return nil, badRequest("%v", err)
	}

	engine, err := s.engineFor(req.Config)
	if err != nil {
		return nil, badRequest("%v", err)
	}

	ticks, symbol, err := s.resolveTicks(ctx, &req.TickSource)
	if err != nil {
		return nil, err
	}
	if s.config.MaxTicks > 0 && len(ticks) > s.config.MaxTicks {
		return nil, badRequest("%d ticks exceeds the limit of %d", len(ticks), s.config.MaxTicks)
	}

	report := s.quality.Validate(symbol, ticks)
	if !report.IsUsable && !req.SkipQuality {
		return nil, &requestError{
			status: http.StatusUnprocessableEntity,
			err:    fmt.Errorf("tick series unusable: quality score %d with %d issues", report.QualityScore, len(report.Issues)),
		}
	}

	return &runContext{engine: engine, factory: factory, ticks: ticks, symbol: symbol, quality: report}, nil
}

// resolveTicks loads the series named by exactly one source
func (s *Server) resolveTicks(ctx context.Context, src *TickSource) ([]types.Tick, string, error) {
	sources := 0
	if len(src.Ticks) > 0 {
		sources++
	}
	if src.Symbol != "" {
		sources++
	}
	if src.Synthetic != nil {
		sources++
	}
	if sources != 1 {
		return nil, "", badRequest("exactly one of ticks, symbol or synthetic is required, got %d", sources)
	}

	switch {
	case len(src.Ticks) > 0:
		return src.Ticks, src.Ticks[0].Symbol, nil

	case src.Synthetic != nil:
		syn := src.Synthetic
		ticks := feed.GenerateTicks(feed.SyntheticConfig{
			Symbol:     syn.Symbol,
			Count:      syn.Count,
			StartPrice: syn.StartPrice,
			StartMs:    syn.StartMs,
			StepMs:     syn.StepMs,
			Seed:       syn.Seed,
		})
		return ticks, syn.Symbol, nil

	default:
		if s.deps.Store == nil {
			return nil, "", &requestError{status: http.StatusServiceUnavailable, err: errors.New("tick store not configured")}
		}
		if src.End != 0 && src.End < src.Start {
			return nil, "", badRequest("end %d before start %d", src.End, src.Start)
		}
		ticks, err := s.deps.Store.LoadTicks(ctx, src.Symbol, src.Start, src.End)
		if err != nil {
			if errors.Is(err, feed.ErrNoData) {
				return nil, "", &requestError{status: http.StatusNotFound, err: err}
			}
			return nil, "", err
		}
		return ticks, strings.ToUpper(src.Symbol), nil
	}
}

// engineFor returns the shared engine, or a dedicated one when the request overrides its config
func (s *Server) engineFor(o *ConfigOverrides) (*backtester.Engine, error) {
	if o == nil {
		return s.deps.Backtester, nil
	}

	cfg := s.deps.Backtester.Config()
	if o.InitialCapital != nil {
		cfg.InitialCapital = decimal.NewFromFloat(*o.InitialCapital)
	}
	if o.CommissionRate != nil {
		cfg.CommissionRate = decimal.NewFromFloat(*o.CommissionRate)
	}
	if o.SlippageBps != nil {
		cfg.SlippageBps = decimal.NewFromFloat(*o.SlippageBps)
	}
	if o.MaxPositionSize != nil {
		cfg.MaxPositionSize = decimal.NewFromFloat(*o.MaxPositionSize)
	}
	if o.EnableShortSelling != nil {
		cfg.EnableShortSelling = *o.EnableShortSelling
	}
	if o.PeriodsPerYear != nil {
		cfg.PeriodsPerYear = *o.PeriodsPerYear
	}
	if o.RiskFreeRate != nil {
		cfg.RiskFreeRate = *o.RiskFreeRate
	}

	opts := []backtester.Option{}
	if o.ExecutionModel != "" {
		opts = append(opts, backtester.WithExecutionModel(backtester.NewExecutionModel(o.ExecutionModel, cfg, o.ImpactFactor)))
	}
	if s.deps.Pool != nil {
		opts = append(opts, backtester.WithPool(s.deps.Pool))
	}
	return backtester.NewEngine(s.logger, cfg, opts...)
}

// persist writes a result to the sink without failing the run
func (s *Server) persist(ctx context.Context, result *types.BacktestResult) {
	if result == nil {
		return
	}
	if err := s.deps.Sink.WriteBacktest(ctx, result); err != nil {
		s.logger.Warn("Failed to persist backtest result",
			zap.String("id", result.ID),
			zap.Error(err),
		)
	}
}

func (s *Server) announce(kind, id, symbol string, pnl, sharpe float64) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(events.NewBacktestEvent(kind, id, symbol, pnl, sharpe))
}

// store retains rec, evicting the oldest run beyond MaxBacktestRuns
func (s *Server) store(rec *RunRecord) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	s.runs[rec.ID] = rec
	s.runOrder = append(s.runOrder, rec.ID)
	for len(s.runOrder) > s.config.MaxBacktestRuns {
		delete(s.runs, s.runOrder[0])
		s.runOrder = s.runOrder[1:]
	}
}

func (s *Server) lookup(id string) (*RunRecord, bool) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()
	rec, ok := s.runs[id]
	return rec, ok
}

// handleListBacktests lists retained runs, newest first
func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	s.runsMu.RLock()
	out := make([]map[string]interface{}, 0, len(s.runOrder))
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		out = append(out, s.runs[s.runOrder[i]].summary())
	}
	s.runsMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  out,
		"count": len(out),
	})
}

// handleGetBacktest returns a retained run
func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "backtest not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetBacktestTrades returns the trades of a single backtest run
func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := s.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "backtest not found")
		return
	}
	if rec.Result == nil {
		writeError(w, http.StatusBadRequest, "run has no single trade list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"trades": rec.Result.Trades,
		"count":  len(rec.Result.Trades),
	})
}

// writeRunError maps run failures onto HTTP statuses
func writeRunError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		writeError(w, reqErr.status, reqErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "backtest timed out")
	case errors.Is(err, backtester.ErrEmptySeries), errors.Is(err, backtester.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
