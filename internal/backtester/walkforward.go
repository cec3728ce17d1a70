package backtester

import (
	"context"
	"fmt"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"go.uber.org/zap"
)

// WalkForward partitions ticks into consecutive (train, test) windows advancing by testSize.
// The factory is calibrated on each train slice and the resulting signal is backtested on the
// following test slice with fresh capital.
func (e *Engine) WalkForward(ctx context.Context, ticks []types.Tick, factory SignalFactory, trainSize, testSize int) (*types.WalkForwardResult, error) {
	if len(ticks) == 0 {
		return nil, ErrEmptySeries
	}
	if trainSize <= 0 || testSize <= 0 {
		return nil, fmt.Errorf("%w: train %d, test %d", ErrInvalidWindow, trainSize, testSize)
	}
	if trainSize+testSize > len(ticks) {
		return nil, fmt.Errorf("%w: train+test %d exceeds %d ticks", ErrInvalidWindow, trainSize+testSize, len(ticks))
	}

	result := &types.WalkForwardResult{Windows: make([]types.WalkForwardWindow, 0)}
	profitable := 0
	sharpeSum := 0.0

	for start := 0; start+trainSize+testSize <= len(ticks); start += testSize {
		trainEnd := start + trainSize
		testEnd := trainEnd + testSize

		signal := factory(ticks[start:trainEnd])
		run, err := e.run(ctx, ticks[trainEnd:testEnd], signal)
		if err != nil {
			return nil, fmt.Errorf("walk-forward window %d: %w", len(result.Windows), err)
		}

		result.Windows = append(result.Windows, types.WalkForwardWindow{
			Index:      len(result.Windows),
			TrainStart: start,
			TrainEnd:   trainEnd,
			TestStart:  trainEnd,
			TestEnd:    testEnd,
			Result:     run,
		})
		result.TotalPnL += run.Stats.TotalPnL
		sharpeSum += run.Stats.SharpeRatio
		if run.Stats.TotalPnL > 0 {
			profitable++
		}
	}

	n := float64(len(result.Windows))
	result.AvgSharpe = sharpeSum / n
	result.ProfitableRate = float64(profitable) / n

	e.logger.Info("Walk-forward analysis completed",
		zap.Int("windows", len(result.Windows)),
		zap.Int("trainSize", trainSize),
		zap.Int("testSize", testSize),
		zap.Float64("totalPnl", result.TotalPnL),
		zap.Float64("profitableRate", result.ProfitableRate),
	)
	return result, nil
}
