// Package performance provides risk-adjusted performance statistics over return and equity series.
package performance

import (
	"math"
	"sort"

	"github.com/atlas-desktop/alpha-engine/pkg/utils"
)

// TradingDaysPerYear is the default annualization factor
const TradingDaysPerYear = 252

const minStdDev = 1e-10

// Metrics is the full statistics table for one series
type Metrics struct {
	TotalReturn        float64 `json:"totalReturn"`
	AverageReturn      float64 `json:"averageReturn"`
	AnnualizedReturn   float64 `json:"annualizedReturn"`
	Volatility         float64 `json:"volatility"`
	SharpeRatio        float64 `json:"sharpeRatio"`
	SortinoRatio       float64 `json:"sortinoRatio"`
	CalmarRatio        float64 `json:"calmarRatio"`
	MaxDrawdown        float64 `json:"maxDrawdown"`
	MaxDrawdownPercent float64 `json:"maxDrawdownPercent"`
	VaR95              float64 `json:"var95"`
	CVaR95             float64 `json:"cvar95"`
	WinRate            float64 `json:"winRate"`
	ProfitFactor       float64 `json:"profitFactor"`
}

// Returns converts an equity curve into simple period returns. Non-positive bases yield 0.
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] > 0 {
			out[i-1] = equity[i]/equity[i-1] - 1
		}
	}
	return out
}

// SharpeRatio is the annualized excess return over sample standard deviation.
// Returns 0 with fewer than 2 samples or a flat series.
func SharpeRatio(returns []float64, riskFreeRate, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := utils.SampleStdDev(returns)
	if sd < minStdDev {
		return 0
	}
	excess := utils.Mean(returns) - riskFreeRate/periodsPerYear
	return excess / sd * math.Sqrt(periodsPerYear)
}

// DownsideDeviation is the root mean square of the negative returns only
func DownsideDeviation(returns []float64) float64 {
	sum, n := 0.0, 0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// SortinoRatio is SharpeRatio with downside deviation in place of standard deviation
func SortinoRatio(returns []float64, riskFreeRate, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	dd := DownsideDeviation(returns)
	if dd < minStdDev {
		return 0
	}
	excess := utils.Mean(returns) - riskFreeRate/periodsPerYear
	return excess / dd * math.Sqrt(periodsPerYear)
}

// CalmarRatio is the annualized mean return divided by maxDrawdown (a fraction).
func CalmarRatio(returns []float64, maxDrawdown, periodsPerYear float64) float64 {
	if len(returns) == 0 || maxDrawdown < minStdDev {
		return 0
	}
	return utils.Mean(returns) * periodsPerYear / maxDrawdown
}

// MaxDrawdown is the largest running-peak minus current value
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak, maxDD := equity[0], 0.0
	for _, e := range equity {
		peak = math.Max(peak, e)
		maxDD = math.Max(maxDD, peak-e)
	}
	return maxDD
}

// MaxDrawdownPercent is the largest drawdown relative to its running peak, in percent
func MaxDrawdownPercent(equity []float64) float64 {
	maxDD := 0.0
	for _, dd := range DrawdownSeries(equity) {
		maxDD = math.Max(maxDD, dd)
	}
	return maxDD * 100
}

// DrawdownSeries returns (peak - value)/peak at each point, 0 while the peak is not positive
func DrawdownSeries(equity []float64) []float64 {
	if len(equity) == 0 {
		return nil
	}
	out := make([]float64, len(equity))
	peak := equity[0]
	for i, e := range equity {
		peak = math.Max(peak, e)
		if peak > 0 {
			out[i] = (peak - e) / peak
		}
	}
	return out
}

// tailIndex is the nearest-rank index of the (1-confidence) quantile
func tailIndex(n int, confidence float64) int {
	idx := int((1 - confidence) * float64(n))
	if idx > n-1 {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

// VaR is the negated (1-confidence) quantile return, without interpolation
func VaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := sortedCopy(returns)
	return -sorted[tailIndex(len(sorted), confidence)]
}

// CVaR is the negated mean of all returns at or below the VaR rank
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := sortedCopy(returns)
	idx := tailIndex(len(sorted), confidence)
	return -utils.Mean(sorted[:idx+1])
}

// InformationRatio is mean excess return over tracking error against an equal-length benchmark
func InformationRatio(returns, benchmark []float64) float64 {
	if len(returns) != len(benchmark) || len(returns) < 2 {
		return 0
	}
	excess := make([]float64, len(returns))
	for i := range returns {
		excess[i] = returns[i] - benchmark[i]
	}
	te := utils.SampleStdDev(excess)
	if te < minStdDev {
		return 0
	}
	return utils.Mean(excess) / te
}

// WinRate is the fraction of strictly positive values
func WinRate(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	wins := 0
	for _, v := range values {
		if v > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(values))
}

// ProfitFactor is gross gains over gross losses, 0 without losses
func ProfitFactor(values []float64) float64 {
	gains, losses := 0.0, 0.0
	for _, v := range values {
		if v > 0 {
			gains += v
		} else {
			losses -= v
		}
	}
	if losses <= 0 {
		return 0
	}
	return gains / losses
}

// ComputeAll fills the statistics table from a return series and its equity curve
func ComputeAll(returns, equity []float64, riskFreeRate, periodsPerYear float64) Metrics {
	var m Metrics
	if len(returns) == 0 {
		return m
	}
	if periodsPerYear <= 0 {
		periodsPerYear = TradingDaysPerYear
	}

	m.AverageReturn = utils.Mean(returns)
	for _, r := range returns {
		m.TotalReturn += r
	}
	m.AnnualizedReturn = m.AverageReturn * periodsPerYear
	m.Volatility = utils.SampleStdDev(returns) * math.Sqrt(periodsPerYear)
	m.SharpeRatio = SharpeRatio(returns, riskFreeRate, periodsPerYear)
	m.SortinoRatio = SortinoRatio(returns, riskFreeRate, periodsPerYear)
	m.MaxDrawdown = MaxDrawdown(equity)
	m.MaxDrawdownPercent = MaxDrawdownPercent(equity)
	m.CalmarRatio = CalmarRatio(returns, m.MaxDrawdownPercent/100, periodsPerYear)
	m.VaR95 = VaR(returns, 0.95)
	m.CVaR95 = CVaR(returns, 0.95)
	m.WinRate = WinRate(returns)
	m.ProfitFactor = ProfitFactor(returns)
	return m
}

// RollingSharpe computes SharpeRatio over each full window of returns
func RollingSharpe(returns []float64, window int, riskFreeRate, periodsPerYear float64) []float64 {
	if window <= 0 || len(returns) < window {
		return nil
	}
	out := make([]float64, 0, len(returns)-window+1)
	for i := window; i <= len(returns); i++ {
		out = append(out, SharpeRatio(returns[i-window:i], riskFreeRate, periodsPerYear))
	}
	return out
}
