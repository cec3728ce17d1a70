package backtester

import (
	"math"

	"github.com/atlas-desktop/alpha-engine/internal/performance"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/shopspring/decimal"
)

// computeStats builds the statistics table. Trade statistics come from net trade PnL,
// risk ratios from the per-tick equity returns.
func computeStats(config types.BacktestConfig, trades []types.Trade, curve []types.EquityCurvePoint, commission, slippage decimal.Decimal) types.BacktestStats {
	stats := types.BacktestStats{NumTrades: len(trades)}
	stats.TotalCommission, _ = commission.Float64()
	stats.TotalSlippage, _ = slippage.Float64()

	initial, _ := config.InitialCapital.Float64()
	equity := equitySeries(curve)
	if len(equity) > 0 {
		stats.TotalPnL = equity[len(equity)-1] - initial
		if initial > 0 {
			stats.TotalReturnPct = stats.TotalPnL / initial * 100
		}
	}

	pnls := make([]float64, len(trades))
	totalWin, totalLoss, total := 0.0, 0.0, 0.0
	for i, trade := range trades {
		pnls[i], _ = trade.PnL.Float64()
		total += pnls[i]
		switch {
		case pnls[i] > 0:
			stats.WinningTrades++
			totalWin += pnls[i]
			stats.LargestWin = math.Max(stats.LargestWin, pnls[i])
		case pnls[i] < 0:
			stats.LosingTrades++
			totalLoss -= pnls[i]
			stats.LargestLoss = math.Min(stats.LargestLoss, pnls[i])
		}
	}

	if stats.NumTrades > 0 {
		stats.WinRate = performance.WinRate(pnls)
		stats.ProfitFactor = performance.ProfitFactor(pnls)
		stats.Expectancy = total / float64(stats.NumTrades)
	}
	if stats.WinningTrades > 0 {
		stats.AvgWin = totalWin / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = totalLoss / float64(stats.LosingTrades)
	}

	returns := performance.Returns(equity)
	ppy := float64(config.PeriodsPerYear)
	stats.SharpeRatio = performance.SharpeRatio(returns, config.RiskFreeRate, ppy)
	stats.SortinoRatio = performance.SortinoRatio(returns, config.RiskFreeRate, ppy)
	stats.MaxDrawdown = performance.MaxDrawdown(equity)
	stats.MaxDrawdownPct = performance.MaxDrawdownPercent(equity)

	return stats
}

func equitySeries(curve []types.EquityCurvePoint) []float64 {
	out := make([]float64, len(curve))
	for i, p := range curve {
		out[i], _ = p.Equity.Float64()
	}
	return out
}
