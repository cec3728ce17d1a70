package regime

import (
	"math"

	"github.com/atlas-desktop/alpha-engine/pkg/utils"
)

// HurstExponent estimates H by rescaled-range analysis over the log returns of prices.
// Returns 0.5 when there is not enough data or fewer than 3 usable lags.
func HurstExponent(prices []float64, maxLag int) float64 {
	if maxLag < 2 || len(prices) < maxLag*2 {
		return 0.5
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i] > 0 && prices[i-1] > 0 {
			returns = append(returns, math.Log(prices[i]/prices[i-1]))
		}
	}
	if len(returns) < maxLag {
		return 0.5
	}

	logLags := make([]float64, 0, maxLag)
	logRS := make([]float64, 0, maxLag)

	for lag := 2; lag <= maxLag && lag <= len(returns)/2; lag++ {
		segments := len(returns) / lag
		avgRS := 0.0
		for seg := 0; seg < segments; seg++ {
			avgRS += rescaledRange(returns[seg*lag : (seg+1)*lag])
		}
		avgRS /= float64(segments)
		if avgRS <= 0 {
			continue
		}
		logLags = append(logLags, math.Log(float64(lag)))
		logRS = append(logRS, math.Log(avgRS))
	}

	if len(logLags) < 3 {
		return 0.5
	}
	return utils.Clamp(utils.OLSSlope(logLags, logRS), 0, 1)
}

// rescaledRange is R/S for one segment: range of cumulative mean deviation over population stddev.
func rescaledRange(segment []float64) float64 {
	mean := utils.Mean(segment)

	cum, lo, hi := 0.0, math.Inf(1), math.Inf(-1)
	variance := 0.0
	for _, x := range segment {
		d := x - mean
		cum += d
		lo = math.Min(lo, cum)
		hi = math.Max(hi, cum)
		variance += d * d
	}

	s := math.Sqrt(variance / float64(len(segment)))
	if s <= 1e-10 {
		return 0
	}
	return (hi - lo) / s
}

// Autocorrelation of returns at the given lag. Requires lag+10 observations, else 0.
func Autocorrelation(returns []float64, lag int) float64 {
	if lag < 1 || len(returns) < lag+10 {
		return 0
	}
	mean := utils.Mean(returns)

	num, den := 0.0, 0.0
	for i := 0; i+lag < len(returns); i++ {
		num += (returns[i] - mean) * (returns[i+lag] - mean)
	}
	for _, r := range returns {
		den += (r - mean) * (r - mean)
	}
	if den <= 1e-10 {
		return 0
	}
	return utils.Clamp(num/den, -1, 1)
}

// DetectRegimeChange runs a CUSUM test for a mean shift in returns.
// It reports true when the maximum absolute cumulative deviation exceeds threshold standard deviations.
func DetectRegimeChange(returns []float64, threshold float64) bool {
	if len(returns) < 20 {
		return false
	}
	mean := utils.Mean(returns)

	cusum, maxCusum := 0.0, 0.0
	for _, r := range returns {
		cusum += r - mean
		maxCusum = math.Max(maxCusum, math.Abs(cusum))
	}

	sd := utils.PopulationStdDev(returns)
	return sd > 1e-10 && maxCusum/sd > threshold
}

// TrendStrength maps the OLS slope of price vs index, as a percentage of the average price, to [0,1].
// A 5% slope per observation is full strength.
func TrendStrength(prices []float64) float64 {
	n := len(prices)
	if n < 2 {
		return 0
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
	}
	avg := utils.Mean(prices)
	if avg <= 0 {
		return 0
	}
	pct := math.Abs(utils.OLSSlope(x, prices)/avg) * 100
	return math.Min(pct/5, 1)
}

// RealizedVolatility annualizes the root mean squared return with periodsPerYear.
func RealizedVolatility(returns []float64, periodsPerYear float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, r := range returns {
		sumSq += r * r
	}
	return math.Sqrt(sumSq / float64(len(returns)) * periodsPerYear)
}
