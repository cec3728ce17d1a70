// Package alpha provides the per-symbol momentum and mean-reversion signal engine.
package alpha

import (
	"fmt"

	"github.com/atlas-desktop/alpha-engine/internal/indicators"
	"github.com/atlas-desktop/alpha-engine/internal/rolling"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// Config configures the alpha engine
type Config struct {
	WindowSize      int     // Ticks in the momentum/z-score window, also the minimum candle history
	Timeframe       string  // Label suffix, e.g. "1m"
	BollingerPeriod int     // Candle Bollinger period
	BollingerMult   float64 // Candle Bollinger width in standard deviations
	RSIPeriod       int     // Candle RSI period
	MaxCandles      int     // Cap on retained candle history
}

// DefaultConfig returns the standard 20-tick, 1m configuration
func DefaultConfig() Config {
	return Config{
		WindowSize:      20,
		Timeframe:       "1m",
		BollingerPeriod: 20,
		BollingerMult:   2.0,
		RSIPeriod:       14,
		MaxCandles:      1000,
	}
}

// Validate rejects unusable configurations
func (c Config) Validate() error {
	if c.WindowSize < 2 {
		return fmt.Errorf("alpha: window size must be at least 2, got %d", c.WindowSize)
	}
	if c.BollingerPeriod < 2 || c.RSIPeriod < 1 {
		return fmt.Errorf("alpha: invalid indicator periods (bollinger=%d rsi=%d)", c.BollingerPeriod, c.RSIPeriod)
	}
	if c.MaxCandles < c.WindowSize {
		return fmt.Errorf("alpha: max candles %d below window size %d", c.MaxCandles, c.WindowSize)
	}
	return nil
}

// Engine produces tick-level momentum/mean-reversion signals and candle-level band/RSI signals.
// Not safe for concurrent use.
type Engine struct {
	config Config
	window *rolling.Window

	closes  *rolling.Ring[float64]
	highs   *rolling.Ring[float64]
	lows    *rolling.Ring[float64]
	volumes *rolling.Ring[float64]
}

// NewEngine creates an alpha engine
func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	window, err := rolling.NewWindow(config.WindowSize)
	if err != nil {
		return nil, err
	}
	e := &Engine{config: config, window: window}
	if e.closes, err = rolling.NewRing[float64](config.MaxCandles); err != nil {
		return nil, err
	}
	e.highs, _ = rolling.NewRing[float64](config.MaxCandles)
	e.lows, _ = rolling.NewRing[float64](config.MaxCandles)
	e.volumes, _ = rolling.NewRing[float64](config.MaxCandles)
	return e, nil
}

// OnTick pushes the tick price and returns a signal once the window is full.
func (e *Engine) OnTick(tick types.Tick) (types.AlphaSignal, bool) {
	e.window.Push(tick.Price)
	if !e.window.Full() {
		return types.AlphaSignal{}, false
	}

	mean := e.window.Mean()
	vol := e.window.StdDev()

	momentum := tick.Price/e.window.Oldest() - 1
	z := 0.0
	if vol > 1e-8 {
		z = (tick.Price - mean) / vol
	}

	return types.AlphaSignal{
		Symbol:     tick.Symbol,
		Timestamp:  tick.Timestamp,
		Momentum:   momentum,
		MeanRevZ:   z,
		SignalType: "TICK_" + e.config.Timeframe,
	}, true
}

// OnCandle appends the candle and, once enough history exists, classifies it.
func (e *Engine) OnCandle(c types.Candle) (types.AlphaSignal, bool) {
	e.closes.Push(c.Close)
	e.highs.Push(c.High)
	e.lows.Push(c.Low)
	e.volumes.Push(c.Volume)

	if e.closes.Len() < e.config.WindowSize {
		return types.AlphaSignal{}, false
	}

	closes := e.closes.Slice()
	volumes := e.volumes.Slice()

	bands := indicators.Bollinger(closes, e.config.BollingerPeriod, e.config.BollingerMult)
	rsi := indicators.RSI(closes, e.config.RSIPeriod)

	var upVol, downVol []float64
	for i := 1; i < len(closes); i++ {
		if closes[i] > closes[i-1] {
			upVol = append(upVol, volumes[i])
		} else {
			downVol = append(downVol, volumes[i])
		}
	}
	ratio := indicators.VolumeRatio(upVol, downVol)
	price := closes[len(closes)-1]

	label := "NONE_"
	switch {
	case price < bands.Lower && rsi < 30 && ratio < 0.7:
		label = "BUY_"
	case price > bands.Upper && rsi > 70 && ratio > 1.3:
		label = "SELL_"
	}

	return types.AlphaSignal{
		Symbol:      c.Symbol,
		Timestamp:   c.EndTime.UnixMilli(),
		RSI:         rsi,
		VolumeRatio: ratio,
		SignalType:  label + e.config.Timeframe,
	}, true
}

// CandleCount returns the number of retained candles
func (e *Engine) CandleCount() int {
	return e.closes.Len()
}

// Reset clears the tick window and candle history
func (e *Engine) Reset() {
	e.window.Reset()
	e.closes.Reset()
	e.highs.Reset()
	e.lows.Reset()
	e.volumes.Reset()
}
