// Package regime classifies the market into a trending/mean-reverting by high/low volatility grid
// using R/S Hurst analysis, return autocorrelation, realized volatility and trend strength.
package regime

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/alpha-engine/internal/rolling"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// RegimeType represents the market regimes
type RegimeType string

const (
	RegimeTrendingHighVol      RegimeType = "TRENDING_HIGH_VOL"
	RegimeTrendingLowVol       RegimeType = "TRENDING_LOW_VOL"
	RegimeMeanRevertingHighVol RegimeType = "MEAN_REV_HIGH_VOL"
	RegimeMeanRevertingLowVol  RegimeType = "MEAN_REV_LOW_VOL"
	RegimeTransitioning        RegimeType = "TRANSITIONING"
	RegimeUnknown              RegimeType = "UNKNOWN"
)

const (
	historyCap        = 50
	trendLookback     = 50
	minTrendPrices    = 20
	minVolReturns     = 10
	confidenceSamples = 5
	transitionSamples = 10
)

// Config configures the regime detector
type Config struct {
	Window          int     // price and return window
	HurstLag        int     // max R/S lag; metrics start after 2x this many prices
	VolWindow       int     // returns used for realized volatility
	PeriodsPerYear  float64 // annualization factor
	HurstTrending   float64
	TrendThreshold  float64
	HighVolRegime   float64
	VolNormalizer   float64 // annualized vol mapped to volatility regime 1.0
	ChangeThreshold float64 // CUSUM threshold in standard deviations
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Window:          100,
		HurstLag:        20,
		VolWindow:       50,
		PeriodsPerYear:  252,
		HurstTrending:   0.55,
		TrendThreshold:  0.6,
		HighVolRegime:   0.6,
		VolNormalizer:   1.0,
		ChangeThreshold: 3,
	}
}

// Validate rejects unusable configurations
func (c Config) Validate() error {
	if c.Window <= 0 || c.VolWindow <= 0 {
		return fmt.Errorf("regime: window and vol window must be positive (window=%d volWindow=%d)", c.Window, c.VolWindow)
	}
	if c.HurstLag < 2 {
		return fmt.Errorf("regime: hurst lag must be at least 2, got %d", c.HurstLag)
	}
	if c.HurstLag*2 > c.Window {
		return fmt.Errorf("regime: window %d cannot hold 2x hurst lag %d", c.Window, c.HurstLag)
	}
	if c.PeriodsPerYear <= 0 || c.VolNormalizer <= 0 {
		return fmt.Errorf("regime: periods per year and vol normalizer must be positive")
	}
	return nil
}

// Detector tracks regime metrics for one symbol. Not safe for concurrent use.
type Detector struct {
	config Config

	prices  *rolling.Window
	returns *rolling.Window
	history *rolling.Ring[RegimeType]

	current         RegimeType
	hurst           float64
	autocorrelation float64
	volatility      float64
	trendStrength   float64
}

// NewDetector creates a regime detector
func NewDetector(config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	prices, err := rolling.NewWindow(config.Window)
	if err != nil {
		return nil, err
	}
	returns, err := rolling.NewWindow(config.Window)
	if err != nil {
		return nil, err
	}
	history, err := rolling.NewRing[RegimeType](historyCap)
	if err != nil {
		return nil, err
	}
	return &Detector{
		config:  config,
		prices:  prices,
		returns: returns,
		history: history,
		current: RegimeUnknown,
		hurst:   0.5,
	}, nil
}

// OnTick ingests a trade price. History is appended only when the regime changes.
func (d *Detector) OnTick(tick types.Tick) (types.RegimeSnapshot, bool) {
	if !d.push(tick.Price) {
		return types.RegimeSnapshot{}, false
	}
	if next := d.classify(); next != d.current {
		d.current = next
		d.history.Push(next)
	}
	return d.Snapshot(tick.Symbol, tick.Timestamp), true
}

// OnCandle ingests a candle close. Every classification is appended to history.
func (d *Detector) OnCandle(candle types.Candle) (types.RegimeSnapshot, bool) {
	if !d.push(candle.Close) {
		return types.RegimeSnapshot{}, false
	}
	d.current = d.classify()
	d.history.Push(d.current)
	return d.Snapshot(candle.Symbol, candle.EndTime.UnixMilli()), true
}

// push records the price and return, and recomputes metrics once enough history exists.
func (d *Detector) push(price float64) bool {
	if d.prices.Len() > 0 {
		prev := d.prices.Newest()
		if prev > 0 && price > 0 {
			d.returns.Push(math.Log(price / prev))
		}
	}
	d.prices.Push(price)

	if d.prices.Len() < d.config.HurstLag*2 {
		return false
	}
	d.updateMetrics()
	return true
}

func (d *Detector) updateMetrics() {
	prices := d.prices.Values()
	returns := d.returns.Values()

	d.hurst = HurstExponent(prices, d.config.HurstLag)
	d.autocorrelation = Autocorrelation(returns, 1)

	d.volatility = 0
	if len(returns) >= minVolReturns {
		d.volatility = RealizedVolatility(d.returns.Last(d.config.VolWindow), d.config.PeriodsPerYear)
	}

	d.trendStrength = 0
	if len(prices) >= minTrendPrices {
		d.trendStrength = TrendStrength(d.prices.Last(trendLookback))
	}
}

// VolatilityRegime normalizes realized volatility to [0,1]; 0.5 before any volatility is observed.
func (d *Detector) VolatilityRegime() float64 {
	if d.volatility <= 0 {
		return 0.5
	}
	return math.Min(d.volatility/d.config.VolNormalizer, 1)
}

func (d *Detector) classify() RegimeType {
	highVol := d.VolatilityRegime() > d.config.HighVolRegime
	trending := d.hurst > d.config.HurstTrending || d.trendStrength > d.config.TrendThreshold

	switch {
	case trending && highVol:
		return RegimeTrendingHighVol
	case trending:
		return RegimeTrendingLowVol
	case highVol:
		return RegimeMeanRevertingHighVol
	default:
		return RegimeMeanRevertingLowVol
	}
}

// Regime returns the current regime
func (d *Detector) Regime() RegimeType { return d.current }

// Confidence is the fraction of the last 5 recorded regimes matching the current one.
func (d *Detector) Confidence() float64 {
	if d.history.Len() < confidenceSamples {
		return 0.3
	}
	matches := 0
	for _, r := range d.history.Last(confidenceSamples) {
		if r == d.current {
			matches++
		}
	}
	return float64(matches) / confidenceSamples
}

// TransitionProbability is the fraction of adjacent changes among the last 10 recorded regimes.
func (d *Detector) TransitionProbability() float64 {
	if d.history.Len() < transitionSamples {
		return 0.5
	}
	recent := d.history.Last(transitionSamples)
	changes := 0
	for i := 0; i+1 < len(recent); i++ {
		if recent[i] != recent[i+1] {
			changes++
		}
	}
	return float64(changes) / float64(transitionSamples-1)
}

// HasRegimeChanged compares the latest recorded regime with the one lookback entries earlier.
func (d *Detector) HasRegimeChanged(lookback int) bool {
	n := d.history.Len()
	if lookback < 1 || n < lookback+1 {
		return false
	}
	return d.history.Newest() != d.history.At(n-lookback-1)
}

// MeanShiftDetected runs the CUSUM test over the return window.
func (d *Detector) MeanShiftDetected() bool {
	return DetectRegimeChange(d.returns.Values(), d.config.ChangeThreshold)
}

// Weights returns the adaptive signal weights for the current regime
func (d *Detector) Weights() types.RegimeWeights {
	return WeightsFor(d.current)
}

// WeightsFor maps a regime to its signal weights
func WeightsFor(r RegimeType) types.RegimeWeights {
	switch r {
	case RegimeTrendingHighVol:
		return types.RegimeWeights{Momentum: 0.7, MeanReversion: 0.2, Breakout: 0.5, VolatilityAdj: 1.5}
	case RegimeTrendingLowVol:
		return types.RegimeWeights{Momentum: 0.8, MeanReversion: 0.1, Breakout: 0.6, VolatilityAdj: 1.0}
	case RegimeMeanRevertingHighVol:
		return types.RegimeWeights{Momentum: 0.2, MeanReversion: 0.7, Breakout: 0.3, VolatilityAdj: 1.2}
	case RegimeMeanRevertingLowVol:
		return types.RegimeWeights{Momentum: 0.3, MeanReversion: 0.8, Breakout: 0.4, VolatilityAdj: 0.8}
	default:
		return types.RegimeWeights{Momentum: 0.5, MeanReversion: 0.5, Breakout: 0.5, VolatilityAdj: 1.0}
	}
}

// Snapshot returns the current metrics
func (d *Detector) Snapshot(symbol string, timestamp int64) types.RegimeSnapshot {
	return types.RegimeSnapshot{
		Symbol:                symbol,
		Timestamp:             timestamp,
		Regime:                string(d.current),
		HurstExponent:         d.hurst,
		Autocorrelation:       d.autocorrelation,
		Volatility:            d.volatility,
		VolatilityRegime:      d.VolatilityRegime(),
		TrendStrength:         d.trendStrength,
		Confidence:            d.Confidence(),
		TransitionProbability: d.TransitionProbability(),
		Weights:               d.Weights(),
	}
}

// Statistics contains regime occurrence statistics over the retained history
type Statistics struct {
	CurrentRegime     RegimeType             `json:"currentRegime"`
	CurrentConfidence float64                `json:"currentConfidence"`
	RegimeCounts      map[RegimeType]int     `json:"regimeCounts"`
	RegimePercentages map[RegimeType]float64 `json:"regimePercentages"`
	TotalObservations int                    `json:"totalObservations"`
}

// Stats returns regime statistics
func (d *Detector) Stats() Statistics {
	stats := Statistics{
		CurrentRegime:     d.current,
		CurrentConfidence: d.Confidence(),
		RegimeCounts:      make(map[RegimeType]int),
		RegimePercentages: make(map[RegimeType]float64),
	}
	for _, r := range d.history.Slice() {
		stats.RegimeCounts[r]++
		stats.TotalObservations++
	}
	for r, count := range stats.RegimeCounts {
		stats.RegimePercentages[r] = float64(count) / float64(stats.TotalObservations)
	}
	return stats
}

// Reset clears all state
func (d *Detector) Reset() {
	d.prices.Reset()
	d.returns.Reset()
	d.history.Reset()
	d.current = RegimeUnknown
	d.hurst = 0.5
	d.autocorrelation = 0
	d.volatility = 0
	d.trendStrength = 0
}
