package indicators

import "math"

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// RSI averages gains and losses over the last period−1 differences.
// Returns 50 without enough data and 100 when there were no losses.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period {
		return 50
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes)-1; i++ {
		diff := closes[i+1] - closes[i]
		if diff > 0 {
			gain += diff
		} else {
			loss -= diff
		}
	}
	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// VolumeRatio is Σup/Σdown, 1 when there is no down volume.
func VolumeRatio(upVol, downVol []float64) float64 {
	sumUp, sumDown := 0.0, 0.0
	for _, v := range upVol {
		sumUp += v
	}
	for _, v := range downVol {
		sumDown += v
	}
	if sumDown == 0 {
		return 1
	}
	return sumUp / sumDown
}

// EMA seeds with the first value and smooths with α = 2/(period+1).
func EMA(data []float64, period int) float64 {
	if len(data) == 0 || period <= 0 {
		return 0
	}
	alpha := 2.0 / (float64(period) + 1)
	ema := data[0]
	for _, v := range data[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// emaSeries returns the EMA after every element.
func emaSeries(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 || period <= 0 {
		return out
	}
	alpha := 2.0 / (float64(period) + 1)
	out[0] = data[0]
	for i := 1; i < len(data); i++ {
		out[i] = alpha*data[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACDResult is the MACD line, its signal line and the histogram.
type MACDResult struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD returns fast EMA − slow EMA. The signal line is approximated as 0.9×MACD, not an EMA of MACD;
// use MACDSmoothed for the textbook signal line. Zero without slow+signal closes.
func MACD(closes []float64, fast, slow, signal int) MACDResult {
	if len(closes) < slow+signal {
		return MACDResult{}
	}
	macd := EMA(closes, fast) - EMA(closes, slow)
	sig := macd * 0.9
	return MACDResult{MACD: macd, Signal: sig, Histogram: macd - sig}
}

// MACDSmoothed computes the signal line as a signal-period EMA of the MACD series.
func MACDSmoothed(closes []float64, fast, slow, signal int) MACDResult {
	if len(closes) < slow+signal {
		return MACDResult{}
	}
	fastSeries := emaSeries(closes, fast)
	slowSeries := emaSeries(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastSeries[i] - slowSeries[i]
	}
	macd := line[len(line)-1]
	sig := EMA(line[slow-1:], signal)
	return MACDResult{MACD: macd, Signal: sig, Histogram: macd - sig}
}

// ATR is the mean true range over the last period bars. Zero without period+1 bars.
func ATR(highs, lows, closes []float64, period int) float64 {
	if period <= 0 || len(highs) < period+1 || len(lows) < period+1 || len(closes) < period+1 {
		return 0
	}
	n := len(closes)
	if len(highs) < n || len(lows) < n {
		return 0
	}
	sum := 0.0
	for i := n - period; i < n; i++ {
		sum += TrueRange(highs[i], lows[i], closes[i-1])
	}
	return sum / float64(period)
}

// TrueRange is max(H−L, |H−prevC|, |L−prevC|).
func TrueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

// StochasticResult holds %K and %D.
type StochasticResult struct {
	K float64 `json:"k"`
	D float64 `json:"d"`
}

func stochasticK(highs, lows, closes []float64, end, period int) (float64, bool) {
	start := end - period
	highest, lowest := highs[start], lows[start]
	for i := start + 1; i < end; i++ {
		highest = math.Max(highest, highs[i])
		lowest = math.Min(lowest, lows[i])
	}
	if highest == lowest {
		return 50, false
	}
	return 100 * (closes[end-1] - lowest) / (highest - lowest), true
}

// Stochastic returns min-max normalized %K over period bars with %D approximated as 0.9×%K.
// Both are 50 without enough data or a flat range.
func Stochastic(highs, lows, closes []float64, period int) StochasticResult {
	neutral := StochasticResult{K: 50, D: 50}
	n := len(closes)
	if period <= 0 || n < period || len(highs) < n || len(lows) < n {
		return neutral
	}
	k, ok := stochasticK(highs, lows, closes, n, period)
	if !ok {
		return neutral
	}
	return StochasticResult{K: k, D: k * 0.9}
}

// StochasticSmoothed computes %D as the dPeriod simple average of %K.
func StochasticSmoothed(highs, lows, closes []float64, period, dPeriod int) StochasticResult {
	neutral := StochasticResult{K: 50, D: 50}
	n := len(closes)
	if period <= 0 || dPeriod <= 0 || n < period+dPeriod-1 || len(highs) < n || len(lows) < n {
		return neutral
	}
	ks := make([]float64, 0, dPeriod)
	for end := n - dPeriod + 1; end <= n; end++ {
		k, _ := stochasticK(highs, lows, closes, end, period)
		ks = append(ks, k)
	}
	return StochasticResult{K: ks[len(ks)-1], D: Mean(ks)}
}

// SimpleVWAP returns Σpv/Σv, 0 for mismatched or empty input.
func SimpleVWAP(prices, volumes []float64) float64 {
	if len(prices) != len(volumes) || len(prices) == 0 {
		return 0
	}
	sumPV, sumV := 0.0, 0.0
	for i := range prices {
		sumPV += prices[i] * volumes[i]
		sumV += volumes[i]
	}
	if sumV <= 0 {
		return 0
	}
	return sumPV / sumV
}
