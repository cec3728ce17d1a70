package indicators

import (
	"fmt"

	"github.com/atlas-desktop/alpha-engine/internal/rolling"
)

// BandSignal labels emitted by BollingerTracker.
const (
	BandSignalBuy          = "BUY"
	BandSignalSell         = "SELL"
	BandSignalBreakoutUp   = "BREAKOUT_UP"
	BandSignalBreakoutDown = "BREAKOUT_DOWN"
	BandSignalNeutral      = "NEUTRAL"
)

// BandMetrics is one BollingerTracker observation.
type BandMetrics struct {
	Bands
	Bandwidth   float64 `json:"bandwidth"`
	PercentB    float64 `json:"percentB"`
	IsSqueezing bool    `json:"isSqueezing"`
	Signal      string  `json:"signal"`
}

// BollingerTracker maintains a bounded price window and classifies each new price against its bands.
type BollingerTracker struct {
	period int
	mult   float64
	prices *rolling.Ring[float64]
}

// NewBollingerTracker creates a tracker over period prices.
func NewBollingerTracker(period int, mult float64) (*BollingerTracker, error) {
	if period < 2 {
		return nil, fmt.Errorf("indicators: bollinger period must be at least 2, got %d", period)
	}
	if mult <= 0 {
		return nil, fmt.Errorf("indicators: bollinger multiplier must be positive, got %f", mult)
	}
	prices, err := rolling.NewRing[float64](period)
	if err != nil {
		return nil, err
	}
	return &BollingerTracker{period: period, mult: mult, prices: prices}, nil
}

// OnPrice records price and returns band metrics once the window is full.
func (t *BollingerTracker) OnPrice(price float64) (BandMetrics, bool) {
	t.prices.Push(price)
	if !t.prices.Full() {
		return BandMetrics{}, false
	}

	b := Bollinger(t.prices.Slice(), t.period, t.mult)
	m := BandMetrics{Bands: b, PercentB: PercentB(price, b)}
	if b.Middle > 0 {
		m.Bandwidth = (b.Upper - b.Lower) / b.Middle
	}
	m.IsSqueezing = m.Bandwidth < DefaultSqueezeThreshold

	switch {
	case price < b.Lower && m.PercentB < 0.1:
		m.Signal = BandSignalBuy
	case price > b.Upper && m.PercentB > 0.9:
		m.Signal = BandSignalSell
	case m.IsSqueezing && m.PercentB > 0.5:
		m.Signal = BandSignalBreakoutUp
	case m.IsSqueezing && m.PercentB < 0.5:
		m.Signal = BandSignalBreakoutDown
	default:
		m.Signal = BandSignalNeutral
	}
	return m, true
}

// Reset clears the price window.
func (t *BollingerTracker) Reset() {
	t.prices.Reset()
}
