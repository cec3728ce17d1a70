// Package microstructure provides trade classification, VPIN flow toxicity and price impact estimation.
package microstructure

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/alpha-engine/internal/rolling"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/atlas-desktop/alpha-engine/pkg/utils"
)

// Config configures the analyzer
type Config struct {
	BucketSize      float64 // Volume per VPIN bucket
	VPINWindow      int     // Closed buckets retained for VPIN
	ImpactWindow    int     // Price change / signed volume pairs retained for the lambda regression
	HistorySize     int     // Classified trades retained
	RecentWindow    int     // Trades used for the buy/sell volume split of the VPIN snapshot
	OFIWindow       int     // Trades used for order flow imbalance
	MinImpactPoints int     // Minimum observations before lambda is estimated
}

// DefaultConfig returns the standard analyzer configuration
func DefaultConfig() Config {
	return Config{
		BucketSize:      50,
		VPINWindow:      50,
		ImpactWindow:    100,
		HistorySize:     1000,
		RecentWindow:    50,
		OFIWindow:       20,
		MinImpactPoints: 10,
	}
}

// Validate rejects unusable configurations
func (c Config) Validate() error {
	switch {
	case c.BucketSize <= 0:
		return fmt.Errorf("microstructure: bucket size must be positive, got %f", c.BucketSize)
	case c.VPINWindow < 2:
		return fmt.Errorf("microstructure: vpin window must be at least 2, got %d", c.VPINWindow)
	case c.ImpactWindow < 2:
		return fmt.Errorf("microstructure: impact window must be at least 2, got %d", c.ImpactWindow)
	case c.HistorySize <= 0 || c.RecentWindow <= 0 || c.OFIWindow <= 0:
		return fmt.Errorf("microstructure: history, recent and ofi windows must be positive")
	case c.MinImpactPoints < 2:
		return fmt.Errorf("microstructure: min impact points must be at least 2, got %d", c.MinImpactPoints)
	}
	return nil
}

// Analyzer classifies trades and maintains VPIN buckets and the price impact regression.
// Not safe for concurrent use.
type Analyzer struct {
	config Config

	classified *rolling.Ring[types.TradeClassification]
	prices     *rolling.Ring[float64]

	buckets       *rolling.Window
	bucketVolume  float64
	bucketBuy     float64
	closedBuckets int

	priceChanges  *rolling.Ring[float64]
	signedVolumes *rolling.Ring[float64]

	lastPrice float64
	lastSide  types.TradeSide

	cumulativeVolume float64
	cumulativeBuy    float64
	cumulativeSell   float64
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(config Config) (*Analyzer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	a := &Analyzer{config: config, lastSide: types.TradeSideUnknown}
	var err error
	if a.classified, err = rolling.NewRing[types.TradeClassification](config.HistorySize); err != nil {
		return nil, err
	}
	if a.prices, err = rolling.NewRing[float64](config.HistorySize); err != nil {
		return nil, err
	}
	if a.buckets, err = rolling.NewWindow(config.VPINWindow); err != nil {
		return nil, err
	}
	if a.priceChanges, err = rolling.NewRing[float64](config.ImpactWindow); err != nil {
		return nil, err
	}
	if a.signedVolumes, err = rolling.NewRing[float64](config.ImpactWindow); err != nil {
		return nil, err
	}
	return a, nil
}

// Classify assigns a side to a trade without mutating state. The quote rule applies when
// bid and ask are present; at the midpoint, or without quotes, the tick rule applies.
func (a *Analyzer) Classify(price, volume, bid, ask float64) types.TradeClassification {
	var side types.TradeSide
	if bid > 0 && ask > 0 {
		mid := (bid + ask) / 2
		switch {
		case price > mid:
			side = types.TradeSideBuy
		case price < mid:
			side = types.TradeSideSell
		default:
			side = a.tickRule(price)
		}
	} else {
		side = a.tickRule(price)
	}
	return types.TradeClassification{Side: side, SignedVolume: side.Sign() * volume}
}

// tickRule: up-tick buys, down-tick sells, zero-tick repeats the previous side.
func (a *Analyzer) tickRule(price float64) types.TradeSide {
	if a.lastPrice <= 0 {
		return types.TradeSideUnknown
	}
	switch {
	case price > a.lastPrice:
		return types.TradeSideBuy
	case price < a.lastPrice:
		return types.TradeSideSell
	default:
		return a.lastSide
	}
}

// OnTick classifies the tick and updates buckets and the impact regression.
func (a *Analyzer) OnTick(tick types.Tick) types.TradeClassification {
	c := a.Classify(tick.Price, tick.Volume, tick.Bid, tick.Ask)

	a.classified.Push(c)
	a.prices.Push(tick.Price)

	a.cumulativeVolume += tick.Volume
	switch c.Side {
	case types.TradeSideBuy:
		a.cumulativeBuy += tick.Volume
	case types.TradeSideSell:
		a.cumulativeSell += tick.Volume
	}

	a.updateBuckets(c, tick.Volume)

	if a.lastPrice > 0 {
		a.priceChanges.Push(tick.Price - a.lastPrice)
		a.signedVolumes.Push(c.SignedVolume)
	}

	a.lastPrice = tick.Price
	a.lastSide = c.Side
	return c
}

// updateBuckets accumulates trade volume into the active bucket and closes it at BucketSize.
// Volume beyond the boundary is not carried into the next bucket.
func (a *Analyzer) updateBuckets(c types.TradeClassification, volume float64) {
	a.bucketVolume += volume
	if c.Side == types.TradeSideBuy {
		a.bucketBuy += volume
	}
	if a.bucketVolume >= a.config.BucketSize {
		a.buckets.Push(math.Abs(2*a.bucketBuy - a.bucketVolume))
		a.closedBuckets++
		a.bucketVolume = 0
		a.bucketBuy = 0
	}
}

// VPIN returns the mean closed-bucket imbalance over bucket size, clamped to [0,1].
// Zero until two buckets have closed.
func (a *Analyzer) VPIN() float64 {
	if a.buckets.Len() < 2 {
		return 0
	}
	return utils.Clamp(a.buckets.Mean()/a.config.BucketSize, 0, 1)
}

// VPINMetrics returns VPIN with the recent buy/sell split and toxicity = VPIN × imbalance.
func (a *Analyzer) VPINMetrics() types.VPINMetrics {
	m := types.VPINMetrics{VPIN: a.VPIN()}
	for _, c := range a.classified.Last(a.config.RecentWindow) {
		switch c.Side {
		case types.TradeSideBuy:
			m.BuyVolume += c.SignedVolume
		case types.TradeSideSell:
			m.SellVolume -= c.SignedVolume
		}
	}
	total := m.BuyVolume + m.SellVolume
	if total > 0 {
		m.Imbalance = utils.Clamp(math.Abs(m.BuyVolume-m.SellVolume)/total, 0, 1)
	}
	m.Toxicity = m.VPIN * m.Imbalance
	return m
}

// PriceImpact estimates Kyle's lambda as Cov(Δp, signedVol)/Var(signedVol) over the impact window.
func (a *Analyzer) PriceImpact() types.PriceImpactMetrics {
	var m types.PriceImpactMetrics
	n := a.priceChanges.Len()
	if n < a.config.MinImpactPoints {
		return m
	}

	dp := a.priceChanges.Slice()
	sv := a.signedVolumes.Slice()
	meanDP, meanSV := utils.Mean(dp), utils.Mean(sv)

	cov, variance := 0.0, 0.0
	for i := 0; i < n; i++ {
		d := sv[i] - meanSV
		cov += (dp[i] - meanDP) * d
		variance += d * d
	}
	if variance > 1e-10 {
		m.Lambda = cov / variance
	}
	m.PermanentImpact = 0.8 * m.Lambda
	m.TransientImpact = 0.2 * m.Lambda
	m.AdverseSelection = math.Abs(m.Lambda)
	return m
}

// OrderFlowImbalance returns (buy−sell)/(buy+sell) over the last OFIWindow classified trades.
func (a *Analyzer) OrderFlowImbalance() float64 {
	buy, sell := 0.0, 0.0
	for _, c := range a.classified.Last(a.config.OFIWindow) {
		switch c.Side {
		case types.TradeSideBuy:
			buy += c.SignedVolume
		case types.TradeSideSell:
			sell -= c.SignedVolume
		}
	}
	total := buy + sell
	if total <= 0 {
		return 0
	}
	return utils.Clamp((buy-sell)/total, -1, 1)
}

// EffectiveSpread returns the Roll spread of the retained price changes.
func (a *Analyzer) EffectiveSpread() float64 {
	return RollSpread(a.priceChanges.Slice())
}

// RealizedVolatility returns the population stddev of log returns over the retained prices.
func (a *Analyzer) RealizedVolatility() float64 {
	return RealizedVolatility(a.prices.Slice())
}

// Snapshot assembles the full microstructure view after the last tick.
func (a *Analyzer) Snapshot(tick types.Tick, c types.TradeClassification) types.MicrostructureSnapshot {
	return types.MicrostructureSnapshot{
		Symbol:             tick.Symbol,
		Timestamp:          tick.Timestamp,
		Classification:     c,
		VPIN:               a.VPINMetrics(),
		Impact:             a.PriceImpact(),
		OrderFlowImbalance: a.OrderFlowImbalance(),
		RollSpread:         a.EffectiveSpread(),
		RealizedVolatility: a.RealizedVolatility(),
	}
}

// ClosedBuckets returns the total number of VPIN buckets closed since creation or reset.
func (a *Analyzer) ClosedBuckets() int { return a.closedBuckets }

// CumulativeVolume returns total, buy and sell volume seen.
func (a *Analyzer) CumulativeVolume() (total, buy, sell float64) {
	return a.cumulativeVolume, a.cumulativeBuy, a.cumulativeSell
}

// Reset clears all state.
func (a *Analyzer) Reset() {
	a.classified.Reset()
	a.prices.Reset()
	a.buckets.Reset()
	a.priceChanges.Reset()
	a.signedVolumes.Reset()
	a.bucketVolume, a.bucketBuy, a.closedBuckets = 0, 0, 0
	a.lastPrice, a.lastSide = 0, types.TradeSideUnknown
	a.cumulativeVolume, a.cumulativeBuy, a.cumulativeSell = 0, 0, 0
}

// RollSpread returns 2·sqrt(−Cov(Δp_t, Δp_{t−1})), 0 when the autocovariance is not negative.
func RollSpread(priceChanges []float64) float64 {
	if len(priceChanges) < 2 {
		return 0
	}
	sum := 0.0
	for i := 1; i < len(priceChanges); i++ {
		sum += priceChanges[i] * priceChanges[i-1]
	}
	cov := sum / float64(len(priceChanges)-1)
	if cov >= 0 {
		return 0
	}
	return 2 * math.Sqrt(-cov)
}

// RealizedVolatility returns the population stddev of log returns of prices.
func RealizedVolatility(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && prices[i] > 0 {
			returns = append(returns, math.Log(prices[i]/prices[i-1]))
		}
	}
	return utils.PopulationStdDev(returns)
}
