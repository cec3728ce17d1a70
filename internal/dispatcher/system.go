package dispatcher

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/alpha-engine/internal/alpha"
	"github.com/atlas-desktop/alpha-engine/internal/feed"
	"github.com/atlas-desktop/alpha-engine/internal/indicators"
	"github.com/atlas-desktop/alpha-engine/internal/microstructure"
	"github.com/atlas-desktop/alpha-engine/internal/orderflow"
	"github.com/atlas-desktop/alpha-engine/internal/regime"
	"github.com/atlas-desktop/alpha-engine/internal/vwap"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// Composite classification thresholds
const (
	ScoreThreshold    = 0.01
	MaxEntryToxicity  = 0.5
	WaitToxicityLevel = 0.7
)

// SystemConfig configures every estimator owned by one symbol
type SystemConfig struct {
	Alpha           alpha.Config
	Microstructure  microstructure.Config
	OrderFlow       orderflow.Config
	Regime          regime.Config
	VWAP            vwap.Config
	BollingerPeriod int
	BollingerMult   float64
	CandleInterval  time.Duration
}

// DefaultSystemConfig returns the estimator defaults with 20/2 bands and one minute candles
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		Alpha:           alpha.DefaultConfig(),
		Microstructure:  microstructure.DefaultConfig(),
		OrderFlow:       orderflow.DefaultConfig(),
		Regime:          regime.DefaultConfig(),
		VWAP:            vwap.DefaultConfig(),
		BollingerPeriod: 20,
		BollingerMult:   2,
		CandleInterval:  time.Minute,
	}
}

// Update is everything one tick produced for its symbol
type Update struct {
	Snapshot     types.SymbolSnapshot
	Candle       *types.Candle
	CandleSignal *types.AlphaSignal
}

// System owns one instance of each estimator for a single symbol.
// It is single-writer: the dispatcher routes all ticks of a symbol to one goroutine.
type System struct {
	symbol     string
	alpha      *alpha.Engine
	micro      *microstructure.Analyzer
	flow       *orderflow.Engine
	regime     *regime.Detector
	vwap       *vwap.Calculator
	bollinger  *indicators.BollingerTracker
	candles    *feed.CandleAggregator
	lastPrice  float64
	tickCount  int64
	lastUpdate Update
}

// NewSystem builds the estimators for symbol
func NewSystem(symbol string, config SystemConfig) (*System, error) {
	s := &System{symbol: symbol}
	var err error

	if s.alpha, err = alpha.NewEngine(config.Alpha); err != nil {
		return nil, fmt.Errorf("alpha: %w", err)
	}
	if s.micro, err = microstructure.NewAnalyzer(config.Microstructure); err != nil {
		return nil, fmt.Errorf("microstructure: %w", err)
	}
	if s.flow, err = orderflow.NewEngine(config.OrderFlow); err != nil {
		return nil, fmt.Errorf("orderflow: %w", err)
	}
	if s.regime, err = regime.NewDetector(config.Regime); err != nil {
		return nil, fmt.Errorf("regime: %w", err)
	}
	if s.vwap, err = vwap.NewCalculator(config.VWAP); err != nil {
		return nil, fmt.Errorf("vwap: %w", err)
	}
	if s.bollinger, err = indicators.NewBollingerTracker(config.BollingerPeriod, config.BollingerMult); err != nil {
		return nil, err
	}
	if s.candles, err = feed.NewCandleAggregator(symbol, config.CandleInterval); err != nil {
		return nil, err
	}
	return s, nil
}

// Symbol returns the symbol this system tracks
func (s *System) Symbol() string { return s.symbol }

// TickCount returns the number of ticks processed
func (s *System) TickCount() int64 { return s.tickCount }

// OnTick runs the tick through every estimator and classifies the composite signal
func (s *System) OnTick(tick types.Tick) Update {
	snap := types.SymbolSnapshot{
		Symbol:    s.symbol,
		Timestamp: tick.Timestamp,
		Price:     tick.Price,
	}

	if a, ok := s.alpha.OnTick(tick); ok {
		snap.Alpha = &a
	}

	c := s.micro.OnTick(tick)
	snap.Microstructure = s.micro.Snapshot(tick, c)

	// the flow engine sees direction from the previous print, not the classifier
	isBuy := tick.Price > s.lastPrice
	snap.OrderFlow = s.flow.OnTick(tick, isBuy)

	if r, ok := s.regime.OnTick(tick); ok {
		snap.Regime = &r
	}
	if v, ok := s.vwap.OnTick(tick); ok {
		snap.VWAP = &v
	}

	band, hasBand := s.bollinger.OnPrice(tick.Price)
	snap.Composite = s.composite(tick, snap, band, hasBand)

	update := Update{Snapshot: snap}
	if candle, ok := s.candles.OnTick(tick); ok {
		update.Candle = &candle
		if sig, ok := s.alpha.OnCandle(candle); ok {
			update.CandleSignal = &sig
		}
	}

	s.lastPrice = tick.Price
	s.tickCount++
	s.lastUpdate = update
	return update
}

func (s *System) composite(tick types.Tick, snap types.SymbolSnapshot, band indicators.BandMetrics, hasBand bool) types.CompositeSignal {
	out := types.CompositeSignal{
		Symbol:    s.symbol,
		Timestamp: tick.Timestamp,
		Price:     tick.Price,
		Signal:    types.CompositeNeutral,
		Regime:    string(s.regime.Regime()),
		Toxicity:  snap.Microstructure.VPIN.Toxicity,
	}
	if hasBand {
		out.BandSignal = band.Signal
		out.PercentB = band.PercentB
		out.Squeeze = band.IsSqueezing
	}
	if snap.Alpha == nil {
		return out
	}

	w := s.regime.Weights()
	out.Score = w.Momentum*snap.Alpha.Momentum + w.MeanReversion*snap.Alpha.MeanRevZ
	out.Signal = Classify(out.Score, out.Toxicity, out.BandSignal, out.Squeeze)
	return out
}

// Classify maps a regime-weighted score, VPIN toxicity and the Bollinger state to a composite label.
// Band-confirmed entries take precedence, then plain entries, then the wait states.
func Classify(score, toxicity float64, bandSignal string, squeezing bool) string {
	calm := toxicity < MaxEntryToxicity
	switch {
	case bandSignal == indicators.BandSignalBuy && score > ScoreThreshold && calm:
		return types.CompositeStrongBuy
	case bandSignal == indicators.BandSignalSell && score < -ScoreThreshold && calm:
		return types.CompositeStrongSell
	case score > ScoreThreshold && calm:
		return types.CompositeBuy
	case score < -ScoreThreshold && calm:
		return types.CompositeSell
	case toxicity > WaitToxicityLevel:
		return types.CompositeWaitToxic
	case squeezing:
		return types.CompositeWaitSqueeze
	default:
		return types.CompositeNeutral
	}
}

// Last returns the update produced by the most recent tick
func (s *System) Last() (Update, bool) {
	return s.lastUpdate, s.tickCount > 0
}

// Reset clears all estimator state
func (s *System) Reset() {
	s.alpha.Reset()
	s.micro.Reset()
	s.flow.Reset()
	s.regime.Reset()
	s.vwap.Reset()
	s.bollinger.Reset()
	s.candles.Reset()
	s.lastPrice = 0
	s.tickCount = 0
	s.lastUpdate = Update{}
}
