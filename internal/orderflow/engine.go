// Package orderflow provides order flow imbalance, pressure, aggression and toxicity tracking.
package orderflow

import (
	"fmt"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/atlas-desktop/alpha-engine/pkg/utils"
)

// Flow direction labels
const (
	DirectionBuyDominant  = "BUY_DOMINANT"
	DirectionSellDominant = "SELL_DOMINANT"
	DirectionNeutral      = "NEUTRAL"
)

// Config configures the order flow engine
type Config struct {
	ImbalanceWindow   int
	PressureWindow    int
	AggressionWindow  int
	DeltaWindow       int
	ToxicityThreshold float64
	DirectionBand     float64
}

// DefaultConfig returns the standard window sizes
func DefaultConfig() Config {
	return Config{
		ImbalanceWindow:   100,
		PressureWindow:    50,
		AggressionWindow:  30,
		DeltaWindow:       50,
		ToxicityThreshold: 0.7,
		DirectionBand:     0.2,
	}
}

// Validate rejects unusable configurations
func (c Config) Validate() error {
	if c.ImbalanceWindow <= 0 || c.PressureWindow <= 0 || c.AggressionWindow <= 0 || c.DeltaWindow <= 0 {
		return fmt.Errorf("orderflow: windows must be positive (imbalance=%d pressure=%d aggression=%d delta=%d)",
			c.ImbalanceWindow, c.PressureWindow, c.AggressionWindow, c.DeltaWindow)
	}
	if c.ToxicityThreshold <= 0 || c.ToxicityThreshold > 1 {
		return fmt.Errorf("orderflow: toxicity threshold must be in (0, 1], got %f", c.ToxicityThreshold)
	}
	return nil
}

// Engine feeds four bounded accumulators on every trade. Not safe for concurrent use.
type Engine struct {
	config Config

	imbalance  *imbalanceWindow
	pressure   *pressureWindow
	aggression *aggressionScores
	delta      *volumeDelta

	avgVolume float64
	count     int64
}

// NewEngine creates an order flow engine
func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{config: config}
	var err error
	if e.imbalance, err = newImbalanceWindow(config.ImbalanceWindow); err != nil {
		return nil, err
	}
	if e.pressure, err = newPressureWindow(config.PressureWindow); err != nil {
		return nil, err
	}
	if e.aggression, err = newAggressionScores(config.AggressionWindow); err != nil {
		return nil, err
	}
	if e.delta, err = newVolumeDelta(config.DeltaWindow); err != nil {
		return nil, err
	}
	return e, nil
}

// OnTick records a trade whose aggressor side was determined by the caller.
func (e *Engine) OnTick(tick types.Tick, isBuy bool) types.OrderFlowSignal {
	e.count++
	e.avgVolume = (float64(e.count-1)*e.avgVolume + tick.Volume) / float64(e.count)

	e.imbalance.add(tick.Volume, isBuy)
	e.pressure.add(tick.Volume, isBuy)
	e.aggression.add(tick.Volume, e.avgVolume, isBuy)
	e.delta.add(tick.Volume, isBuy)

	imb := e.imbalance.result()
	press := e.pressure.result()
	aggr := e.aggression.value()
	tox := Toxicity(imb.Imbalance, press.Ratio, aggr, e.config.ToxicityThreshold)

	return types.OrderFlowSignal{
		Symbol:      tick.Symbol,
		Imbalance:   imb.Imbalance,
		BidPressure: imb.BidPressure,
		AskPressure: imb.AskPressure,
		Aggression:  utils.Clamp(aggr, -1, 1),
		VolumeDelta: e.delta.cumulative,
		Toxicity:    tox.Toxicity,
		IsToxic:     tox.IsToxic,
		Direction:   e.direction(imb.Imbalance, press.Ratio),
		Timestamp:   tick.Timestamp,
	}
}

func (e *Engine) direction(imbalance, pressure float64) string {
	combined := (imbalance + pressure) / 2
	switch {
	case combined > e.config.DirectionBand:
		return DirectionBuyDominant
	case combined < -e.config.DirectionBand:
		return DirectionSellDominant
	default:
		return DirectionNeutral
	}
}

// Imbalance returns the imbalance accumulator view including large-trade aggression and momentum.
func (e *Engine) Imbalance() ImbalanceResult { return e.imbalance.result() }

// Pressure returns the bid/ask pressure view.
func (e *Engine) Pressure() PressureResult { return e.pressure.result() }

// IsExtremeImbalance reports whether |imbalance| exceeds threshold.
func (e *Engine) IsExtremeImbalance(threshold float64) bool {
	imb := e.imbalance.imbalance()
	return imb > threshold || imb < -threshold
}

// CumulativeDelta returns buy minus sell volume since creation or reset.
func (e *Engine) CumulativeDelta() float64 { return e.delta.cumulative }

// RecentDelta returns the signed volume over the delta window.
func (e *Engine) RecentDelta() float64 { return e.delta.recent.Sum() }

// AverageVolume returns the running mean trade size.
func (e *Engine) AverageVolume() float64 { return e.avgVolume }

// Reset clears all accumulators.
func (e *Engine) Reset() {
	fresh, _ := NewEngine(e.config)
	*e = *fresh
}
