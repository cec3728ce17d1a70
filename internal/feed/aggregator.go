package feed

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// CandleAggregator buckets ticks into fixed-interval candles. The first tick opens a candle;
// a tick arriving at least interval after the open is folded into the current candle, which is
// then emitted, and the next candle opens at that tick's price with zero volume.
// Not safe for concurrent use.
type CandleAggregator struct {
	symbol   string
	interval time.Duration
	current  types.Candle
	open     bool
}

// NewCandleAggregator creates an aggregator for one symbol
func NewCandleAggregator(symbol string, interval time.Duration) (*CandleAggregator, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("feed: candle interval must be positive, got %s", interval)
	}
	return &CandleAggregator{symbol: symbol, interval: interval}, nil
}

// OnTick folds the tick in and returns the closed candle, if this tick closed one
func (a *CandleAggregator) OnTick(tick types.Tick) (types.Candle, bool) {
	ts := tick.Time()
	if !a.open {
		a.open = true
		a.current = a.newCandle(tick.Price, tick.Volume, ts)
		return types.Candle{}, false
	}

	c := &a.current
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
	c.Close = tick.Price
	c.Volume += tick.Volume
	c.EndTime = ts

	if ts.Sub(c.StartTime) < a.interval {
		return types.Candle{}, false
	}

	closed := *c
	a.current = a.newCandle(tick.Price, 0, ts)
	return closed, true
}

func (a *CandleAggregator) newCandle(price, volume float64, ts time.Time) types.Candle {
	return types.Candle{
		Symbol:    a.symbol,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
		StartTime: ts,
		EndTime:   ts,
	}
}

// Current returns the candle being built
func (a *CandleAggregator) Current() (types.Candle, bool) {
	return a.current, a.open
}

// Interval returns the candle interval
func (a *CandleAggregator) Interval() time.Duration { return a.interval }

// Reset discards the candle being built
func (a *CandleAggregator) Reset() {
	a.current = types.Candle{}
	a.open = false
}
