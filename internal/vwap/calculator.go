// Package vwap computes session or rolling volume-weighted average price with variance bands.
package vwap

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/alpha-engine/internal/rolling"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// Signal tiers by percentage deviation from VWAP
const (
	SignalStrongAbove = "STRONG_ABOVE"
	SignalAbove       = "ABOVE"
	SignalNeutral     = "NEUTRAL"
	SignalBelow       = "BELOW"
	SignalStrongBelow = "STRONG_BELOW"
)

const (
	recentPriceCap     = 10
	minReversionPoints = 5
	reversionRatio     = 0.8
)

// Config configures the VWAP calculator. RollingWindow 0 selects session mode.
type Config struct {
	BandMultiplier  float64
	RollingWindow   int
	StrongThreshold float64 // percent
	WeakThreshold   float64 // percent
}

// DefaultConfig returns a session VWAP with 2 sigma bands
func DefaultConfig() Config {
	return Config{
		BandMultiplier:  2,
		RollingWindow:   0,
		StrongThreshold: 2.0,
		WeakThreshold:   0.5,
	}
}

// Validate rejects unusable configurations
func (c Config) Validate() error {
	if c.BandMultiplier < 0 {
		return fmt.Errorf("vwap: band multiplier must not be negative, got %f", c.BandMultiplier)
	}
	if c.RollingWindow < 0 {
		return fmt.Errorf("vwap: rolling window must not be negative, got %d", c.RollingWindow)
	}
	if c.WeakThreshold <= 0 || c.StrongThreshold <= c.WeakThreshold {
		return fmt.Errorf("vwap: thresholds must satisfy 0 < weak < strong (weak=%f strong=%f)", c.WeakThreshold, c.StrongThreshold)
	}
	return nil
}

// Calculator maintains ΣPV, ΣV and ΣP²V either cumulatively or over a bounded tick window.
// Not safe for concurrent use.
type Calculator struct {
	config Config

	sumPV  float64
	sumV   float64
	sumPV2 float64

	ticks    *rolling.Ring[types.Tick] // rolling mode only
	recent   *rolling.Window
	anchored bool
	anchorAt int64
}

// NewCalculator creates a VWAP calculator
func NewCalculator(config Config) (*Calculator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	recent, err := rolling.NewWindow(recentPriceCap)
	if err != nil {
		return nil, err
	}
	c := &Calculator{config: config, recent: recent}
	if config.RollingWindow > 0 {
		if c.ticks, err = rolling.NewRing[types.Tick](config.RollingWindow); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Rolling reports whether the calculator runs over a bounded tick window
func (c *Calculator) Rolling() bool { return c.ticks != nil }

// OnTick ingests a trade. The snapshot is available once any volume has been seen.
func (c *Calculator) OnTick(tick types.Tick) (types.VWAPSnapshot, bool) {
	c.add(tick)
	if c.Rolling() {
		if old, evicted := c.ticks.Push(tick); evicted {
			c.subtract(old)
		}
	}
	c.recent.Push(tick.Price)

	if c.sumV <= 0 {
		return types.VWAPSnapshot{}, false
	}
	return c.Snapshot(tick.Symbol, tick.Timestamp), true
}

func (c *Calculator) add(t types.Tick) {
	c.sumPV += t.Price * t.Volume
	c.sumV += t.Volume
	c.sumPV2 += t.Price * t.Price * t.Volume
}

func (c *Calculator) subtract(t types.Tick) {
	c.sumPV -= t.Price * t.Volume
	c.sumV -= t.Volume
	c.sumPV2 -= t.Price * t.Price * t.Volume
	if c.sumV < 1e-12 {
		c.sumPV, c.sumV, c.sumPV2 = 0, 0, 0
	}
}

// VWAP returns ΣPV/ΣV, or 0 before any volume
func (c *Calculator) VWAP() float64 {
	if c.sumV <= 0 {
		return 0
	}
	return c.sumPV / c.sumV
}

// StdDev is the volume-weighted price standard deviation
func (c *Calculator) StdDev() float64 {
	if c.sumV <= 0 {
		return 0
	}
	v := c.VWAP()
	return math.Sqrt(math.Max(0, c.sumPV2/c.sumV-v*v))
}

// Bands returns the lower and upper bands
func (c *Calculator) Bands() (lower, upper float64) {
	v, sd := c.VWAP(), c.StdDev()
	return v - c.config.BandMultiplier*sd, v + c.config.BandMultiplier*sd
}

// DeviationPercent returns (price - VWAP)/VWAP in percent, 0 before any volume
func (c *Calculator) DeviationPercent(price float64) float64 {
	v := c.VWAP()
	if v <= 0 {
		return 0
	}
	return (price - v) / v * 100
}

// Signal buckets the deviation of price from VWAP into five tiers
func (c *Calculator) Signal(price float64) string {
	if c.VWAP() <= 0 {
		return SignalNeutral
	}
	dev := c.DeviationPercent(price)
	switch {
	case dev > c.config.StrongThreshold:
		return SignalStrongAbove
	case dev > c.config.WeakThreshold:
		return SignalAbove
	case dev < -c.config.StrongThreshold:
		return SignalStrongBelow
	case dev < -c.config.WeakThreshold:
		return SignalBelow
	default:
		return SignalNeutral
	}
}

// IsMeanReverting reports whether the distance to VWAP over the last 10 prices shrank by at least 20%.
func (c *Calculator) IsMeanReverting() bool {
	if c.recent.Len() < minReversionPoints {
		return false
	}
	v := c.VWAP()
	first := math.Abs(c.recent.Oldest() - v)
	last := math.Abs(c.recent.Newest() - v)
	return last < first*reversionRatio
}

// Snapshot returns the current metrics against the latest price
func (c *Calculator) Snapshot(symbol string, timestamp int64) types.VWAPSnapshot {
	price := 0.0
	if c.recent.Len() > 0 {
		price = c.recent.Newest()
	}
	v := c.VWAP()
	lower, upper := c.Bands()
	ratio := 1.0
	if v > 0 {
		ratio = price / v
	}
	return types.VWAPSnapshot{
		Symbol:           symbol,
		Timestamp:        timestamp,
		VWAP:             v,
		UpperBand:        upper,
		LowerBand:        lower,
		DeviationPct:     c.DeviationPercent(price),
		PriceAboveVWAP:   price > v,
		VolumeAtVWAP:     c.sumV,
		PriceToVWAPRatio: ratio,
		Signal:           c.Signal(price),
	}
}

// Anchor starts a new reference point. Sums are cleared, recent prices are kept.
// In rolling mode the tick window is cleared as well since it is the source of the sums.
func (c *Calculator) Anchor(at int64) {
	c.sumPV, c.sumV, c.sumPV2 = 0, 0, 0
	if c.Rolling() {
		c.ticks.Reset()
	}
	c.anchored = true
	c.anchorAt = at
}

// AnchoredAt returns the last anchor timestamp, if any
func (c *Calculator) AnchoredAt() (int64, bool) { return c.anchorAt, c.anchored }

// Ticks returns the retained tick window in rolling mode, nil in session mode
func (c *Calculator) Ticks() []types.Tick {
	if !c.Rolling() {
		return nil
	}
	return c.ticks.Slice()
}

// VWAPInPeriod computes VWAP over retained ticks with start <= timestamp <= end.
func (c *Calculator) VWAPInPeriod(start, end int64) float64 {
	return InPeriod(c.Ticks(), start, end)
}

// Reset clears all state including the anchor
func (c *Calculator) Reset() {
	c.sumPV, c.sumV, c.sumPV2 = 0, 0, 0
	if c.Rolling() {
		c.ticks.Reset()
	}
	c.recent.Reset()
	c.anchored = false
	c.anchorAt = 0
}
