package strategy

import (
	"github.com/atlas-desktop/alpha-engine/internal/alpha"
	"github.com/atlas-desktop/alpha-engine/internal/indicators"
	"github.com/atlas-desktop/alpha-engine/internal/regime"
	"github.com/atlas-desktop/alpha-engine/internal/vwap"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/atlas-desktop/alpha-engine/pkg/utils"
)

// HoldStrategy never trades.
type HoldStrategy struct {
	BaseStrategy
}

// NewHoldStrategy creates a hold strategy.
func NewHoldStrategy() *HoldStrategy {
	return &HoldStrategy{BaseStrategy: newBaseStrategy()}
}

func (s *HoldStrategy) Name() string { return "hold" }
func (s *HoldStrategy) Description() string {
	return "Never trades, the equity curve stays at initial capital"
}
func (s *HoldStrategy) OnTick(types.Tick) types.Signal { return types.SignalHold }
func (s *HoldStrategy) Reset()                         {}

// MomentumStrategy follows the alpha engine's tick momentum.
type MomentumStrategy struct {
	BaseStrategy
	engine *alpha.Engine
}

// NewMomentumStrategy creates a new momentum strategy.
func NewMomentumStrategy() *MomentumStrategy {
	return &MomentumStrategy{BaseStrategy: newBaseStrategy(
		StrategyParameter{Name: "window", Description: "Ticks in the momentum window", Integer: true, Default: 20, Min: 2, Max: 1000},
		StrategyParameter{Name: "threshold", Description: "Minimum fractional momentum for a signal", Default: 0.002, Min: 0, Max: 0.5},
	)}
}

func (s *MomentumStrategy) Name() string { return "momentum" }
func (s *MomentumStrategy) Description() string {
	return "Buys when price has risen more than threshold over the window and sells on the mirror move"
}

// SetParameter rebuilds the engine on the next tick
func (s *MomentumStrategy) SetParameter(name string, value float64) error {
	if err := s.BaseStrategy.SetParameter(name, value); err != nil {
		return err
	}
	s.engine = nil
	return nil
}

func (s *MomentumStrategy) OnTick(tick types.Tick) types.Signal {
	if s.engine == nil {
		s.engine = newAlphaEngine(s.intValue("window"))
	}
	sig, ok := s.engine.OnTick(tick)
	if !ok {
		return types.SignalHold
	}
	threshold := s.value("threshold")
	switch {
	case sig.Momentum > threshold:
		return types.SignalBuy
	case sig.Momentum < -threshold:
		return types.SignalSell
	default:
		return types.SignalHold
	}
}

func (s *MomentumStrategy) Reset() { s.engine = nil }

// MeanReversionStrategy fades z-score extremes from the alpha engine.
type MeanReversionStrategy struct {
	BaseStrategy
	engine *alpha.Engine
}

// NewMeanReversionStrategy creates a new mean reversion strategy.
func NewMeanReversionStrategy() *MeanReversionStrategy {
	return &MeanReversionStrategy{BaseStrategy: newBaseStrategy(
		StrategyParameter{Name: "window", Description: "Ticks in the z-score window", Integer: true, Default: 20, Min: 2, Max: 1000},
		StrategyParameter{Name: "entry_z", Description: "Absolute z-score that triggers a fade", Default: 2.0, Min: 0.1, Max: 10},
	)}
}

func (s *MeanReversionStrategy) Name() string { return "mean_reversion" }
func (s *MeanReversionStrategy) Description() string {
	return "Buys below -entry_z standard deviations from the rolling mean and sells above +entry_z"
}

// SetParameter rebuilds the engine on the next tick
func (s *MeanReversionStrategy) SetParameter(name string, value float64) error {
	if err := s.BaseStrategy.SetParameter(name, value); err != nil {
		return err
	}
	s.engine = nil
	return nil
}

func (s *MeanReversionStrategy) OnTick(tick types.Tick) types.Signal {
	if s.engine == nil {
		s.engine = newAlphaEngine(s.intValue("window"))
	}
	sig, ok := s.engine.OnTick(tick)
	if !ok {
		return types.SignalHold
	}
	entry := s.value("entry_z")
	switch {
	case sig.MeanRevZ < -entry:
		return types.SignalBuy
	case sig.MeanRevZ > entry:
		return types.SignalSell
	default:
		return types.SignalHold
	}
}

func (s *MeanReversionStrategy) Reset() { s.engine = nil }

// VWAPReversionStrategy trades strong deviations from a rolling VWAP back toward it.
type VWAPReversionStrategy struct {
	BaseStrategy
	calc *vwap.Calculator
}

// NewVWAPReversionStrategy creates a new VWAP reversion strategy.
func NewVWAPReversionStrategy() *VWAPReversionStrategy {
	return &VWAPReversionStrategy{BaseStrategy: newBaseStrategy(
		StrategyParameter{Name: "window", Description: "Ticks in the rolling VWAP, 0 for a session VWAP", Integer: true, Default: 200, Min: 0, Max: 100000},
		StrategyParameter{Name: "deviation_pct", Description: "Percent deviation from VWAP that triggers a fade", Default: 1.0, Min: 0.01, Max: 50},
	)}
}

func (s *VWAPReversionStrategy) Name() string { return "vwap_reversion" }
func (s *VWAPReversionStrategy) Description() string {
	return "Buys when price is deviation_pct below VWAP and sells when it is deviation_pct above"
}

// SetParameter rebuilds the calculator on the next tick
func (s *VWAPReversionStrategy) SetParameter(name string, value float64) error {
	if err := s.BaseStrategy.SetParameter(name, value); err != nil {
		return err
	}
	s.calc = nil
	return nil
}

func (s *VWAPReversionStrategy) OnTick(tick types.Tick) types.Signal {
	if s.calc == nil {
		cfg := vwap.DefaultConfig()
		cfg.RollingWindow = s.intValue("window")
		cfg.StrongThreshold = s.value("deviation_pct")
		cfg.WeakThreshold = cfg.StrongThreshold / 4
		calc, err := vwap.NewCalculator(cfg)
		if err != nil {
			return types.SignalHold
		}
		s.calc = calc
	}
	if _, ok := s.calc.OnTick(tick); !ok {
		return types.SignalHold
	}
	switch s.calc.Signal(tick.Price) {
	case vwap.SignalStrongBelow:
		return types.SignalBuy
	case vwap.SignalStrongAbove:
		return types.SignalSell
	default:
		return types.SignalHold
	}
}

func (s *VWAPReversionStrategy) Reset() { s.calc = nil }

// BollingerStrategy trades the tracker's band touches.
type BollingerStrategy struct {
	BaseStrategy
	tracker *indicators.BollingerTracker
}

// NewBollingerStrategy creates a new Bollinger band strategy.
func NewBollingerStrategy() *BollingerStrategy {
	return &BollingerStrategy{BaseStrategy: newBaseStrategy(
		StrategyParameter{Name: "period", Description: "Band period in ticks", Integer: true, Default: 20, Min: 2, Max: 1000},
		StrategyParameter{Name: "mult", Description: "Band width in standard deviations", Default: 2.0, Min: 0.5, Max: 5},
	)}
}

func (s *BollingerStrategy) Name() string { return "bollinger" }
func (s *BollingerStrategy) Description() string {
	return "Buys below the lower band and sells above the upper band"
}

// SetParameter rebuilds the tracker on the next tick
func (s *BollingerStrategy) SetParameter(name string, value float64) error {
	if err := s.BaseStrategy.SetParameter(name, value); err != nil {
		return err
	}
	s.tracker = nil
	return nil
}

func (s *BollingerStrategy) OnTick(tick types.Tick) types.Signal {
	if s.tracker == nil {
		tracker, err := indicators.NewBollingerTracker(s.intValue("period"), s.value("mult"))
		if err != nil {
			return types.SignalHold
		}
		s.tracker = tracker
	}
	m, ok := s.tracker.OnPrice(tick.Price)
	if !ok {
		return types.SignalHold
	}
	switch m.Signal {
	case indicators.BandSignalBuy:
		return types.SignalBuy
	case indicators.BandSignalSell:
		return types.SignalSell
	default:
		return types.SignalHold
	}
}

func (s *BollingerStrategy) Reset() { s.tracker = nil }

// RegimeAdaptiveStrategy blends momentum and mean-reversion votes with the regime detector's weights.
type RegimeAdaptiveStrategy struct {
	BaseStrategy
	engine   *alpha.Engine
	detector *regime.Detector
}

// NewRegimeAdaptiveStrategy creates a new regime adaptive strategy.
func NewRegimeAdaptiveStrategy() *RegimeAdaptiveStrategy {
	return &RegimeAdaptiveStrategy{BaseStrategy: newBaseStrategy(
		StrategyParameter{Name: "window", Description: "Ticks in the alpha window", Integer: true, Default: 20, Min: 2, Max: 1000},
		StrategyParameter{Name: "threshold", Description: "Momentum that counts as a full vote", Default: 0.002, Min: 0.0001, Max: 0.5},
		StrategyParameter{Name: "entry_z", Description: "Z-score that counts as a full vote", Default: 2.0, Min: 0.1, Max: 10},
		StrategyParameter{Name: "score", Description: "Blended score needed to trade", Default: 0.5, Min: 0.01, Max: 1},
	)}
}

func (s *RegimeAdaptiveStrategy) Name() string { return "regime_adaptive" }
func (s *RegimeAdaptiveStrategy) Description() string {
	return "Weights momentum and mean-reversion votes by the detected market regime"
}

// SetParameter rebuilds the engines on the next tick
func (s *RegimeAdaptiveStrategy) SetParameter(name string, value float64) error {
	if err := s.BaseStrategy.SetParameter(name, value); err != nil {
		return err
	}
	s.Reset()
	return nil
}

func (s *RegimeAdaptiveStrategy) OnTick(tick types.Tick) types.Signal {
	if s.engine == nil {
		s.engine = newAlphaEngine(s.intValue("window"))
		s.detector, _ = regime.NewDetector(regime.DefaultConfig())
	}
	s.detector.OnTick(tick)
	sig, ok := s.engine.OnTick(tick)
	if !ok {
		return types.SignalHold
	}

	w := s.detector.Weights()
	momentumVote := utils.Clamp(sig.Momentum/s.value("threshold"), -1, 1)
	reversionVote := utils.Clamp(-sig.MeanRevZ/s.value("entry_z"), -1, 1)
	score := w.Momentum*momentumVote + w.MeanReversion*reversionVote

	switch {
	case score > s.value("score"):
		return types.SignalBuy
	case score < -s.value("score"):
		return types.SignalSell
	default:
		return types.SignalHold
	}
}

func (s *RegimeAdaptiveStrategy) Reset() {
	s.engine = nil
	s.detector = nil
}

func newAlphaEngine(window int) *alpha.Engine {
	cfg := alpha.DefaultConfig()
	cfg.WindowSize = window
	if cfg.MaxCandles < window {
		cfg.MaxCandles = window
	}
	engine, err := alpha.NewEngine(cfg)
	if err != nil {
		// parameter bounds keep window >= 2
		engine, _ = alpha.NewEngine(alpha.DefaultConfig())
	}
	return engine
}
