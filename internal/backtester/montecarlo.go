package backtester

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/atlas-desktop/alpha-engine/pkg/utils"
	"go.uber.org/zap"
)

// MonteCarlo runs n backtests over independently shuffled copies of ticks. Run i shuffles with
// its own generator seeded seed+i, so results are reproducible and independent of scheduling.
// Shuffled prices are re-stamped onto the original timestamps to keep each curve chronological.
// The factory is calibrated once per run on the unshuffled series.
func (e *Engine) MonteCarlo(ctx context.Context, ticks []types.Tick, factory SignalFactory, n int, seed int64) (*types.MonteCarloResult, error) {
	if len(ticks) == 0 {
		return nil, ErrEmptySeries
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d simulations", ErrInvalidWindow, n)
	}

	runs := make([]*types.BacktestResult, n)
	seeds := make([]int64, n)

	simulate := func(i int) error {
		seeds[i] = seed + int64(i)
		shuffled := Shuffle(ticks, rand.New(rand.NewSource(seeds[i])))
		run, err := e.run(ctx, shuffled, factory(ticks))
		if err != nil {
			return err
		}
		runs[i] = run
		return nil
	}

	if e.pool != nil && e.pool.IsRunning() {
		if err := e.pool.ForEach(ctx, n, simulate); err != nil {
			return nil, fmt.Errorf("monte carlo: %w", err)
		}
	} else {
		for i := 0; i < n; i++ {
			if err := simulate(i); err != nil {
				return nil, fmt.Errorf("monte carlo: task %d: %w", i, err)
			}
		}
	}

	result := aggregateMonteCarlo(runs, seeds)
	e.logger.Info("Monte Carlo simulation completed",
		zap.Int("runs", n),
		zap.Int64("seed", seed),
		zap.Float64("meanPnl", result.MeanPnL),
		zap.Float64("p5Pnl", result.P5PnL),
		zap.Float64("p95Pnl", result.P95PnL),
		zap.Float64("worstDrawdown", result.WorstDrawdown),
	)
	return result, nil
}

// Shuffle returns a permuted copy of ticks carrying the original timestamp sequence
func Shuffle(ticks []types.Tick, rng *rand.Rand) []types.Tick {
	out := make([]types.Tick, len(ticks))
	copy(out, ticks)
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	for i := range out {
		out[i].Timestamp = ticks[i].Timestamp
	}
	return out
}

func aggregateMonteCarlo(runs []*types.BacktestResult, seeds []int64) *types.MonteCarloResult {
	pnls := make([]float64, len(runs))
	result := &types.MonteCarloResult{Runs: runs, Seeds: seeds}
	profitable := 0
	for i, run := range runs {
		pnls[i] = run.Stats.TotalPnL
		if pnls[i] > 0 {
			profitable++
		}
		if run.Stats.MaxDrawdownPct > result.WorstDrawdown {
			result.WorstDrawdown = run.Stats.MaxDrawdownPct
		}
	}
	result.MeanPnL = utils.Mean(pnls)
	result.MedianPnL = utils.Percentile(pnls, 0.5)
	result.P5PnL = utils.Percentile(pnls, 0.05)
	result.P95PnL = utils.Percentile(pnls, 0.95)
	result.ProfitableRate = float64(profitable) / float64(len(runs))
	return result
}
