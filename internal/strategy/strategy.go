// Package strategy provides the built-in tick signal strategies used by the backtester.
package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/atlas-desktop/alpha-engine/internal/backtester"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"go.uber.org/zap"
)

// Strategy is the interface all strategies must implement.
type Strategy interface {
	Name() string
	Description() string
	Parameters() map[string]StrategyParameter
	SetParameter(name string, value float64) error
	OnTick(tick types.Tick) types.Signal
	Reset()
}

// StrategyParameter defines a tunable strategy parameter.
type StrategyParameter struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Integer     bool    `json:"integer"`
	Default     float64 `json:"default"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Current     float64 `json:"current"`
}

// StrategyInfo describes a registered strategy.
type StrategyInfo struct {
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Parameters  map[string]StrategyParameter `json:"parameters"`
}

// StrategyRegistry manages available strategies.
type StrategyRegistry struct {
	logger     *zap.Logger
	strategies map[string]func() Strategy
	mu         sync.RWMutex
}

// NewStrategyRegistry creates a registry holding the built-in strategies.
func NewStrategyRegistry(logger *zap.Logger) *StrategyRegistry {
	r := &StrategyRegistry{
		logger:     logger,
		strategies: make(map[string]func() Strategy),
	}

	r.Register("hold", func() Strategy { return NewHoldStrategy() })
	r.Register("momentum", func() Strategy { return NewMomentumStrategy() })
	r.Register("mean_reversion", func() Strategy { return NewMeanReversionStrategy() })
	r.Register("vwap_reversion", func() Strategy { return NewVWAPReversionStrategy() })
	r.Register("bollinger", func() Strategy { return NewBollingerStrategy() })
	r.Register("regime_adaptive", func() Strategy { return NewRegimeAdaptiveStrategy() })

	return r
}

// Register registers a new strategy constructor.
func (r *StrategyRegistry) Register(name string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = factory
}

// Create creates a new strategy instance by name.
func (r *StrategyRegistry) Create(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.strategies[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// List returns all available strategy names, sorted.
func (r *StrategyRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns name, description and parameters of every registered strategy.
func (r *StrategyRegistry) Describe() []StrategyInfo {
	names := r.List()
	out := make([]StrategyInfo, 0, len(names))
	for _, name := range names {
		s, ok := r.Create(name)
		if !ok {
			continue
		}
		out = append(out, StrategyInfo{Name: s.Name(), Description: s.Description(), Parameters: s.Parameters()})
	}
	return out
}

// Factory returns a backtester signal factory for the named strategy. Every call to the factory
// builds a fresh instance with params applied and warms it up on the training slice, so
// concurrent runs never share strategy state.
func (r *StrategyRegistry) Factory(name string, params map[string]float64) (backtester.SignalFactory, error) {
	probe, ok := r.Create(name)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	if err := applyParameters(probe, params); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	frozen := make(map[string]float64, len(params))
	for k, v := range params {
		frozen[k] = v
	}

	r.logger.Debug("Strategy factory created",
		zap.String("strategy", name),
		zap.Int("params", len(params)),
	)

	return func(train []types.Tick) backtester.SignalFunc {
		// name and frozen were validated on probe above, so neither call can fail here
		s, _ := r.Create(name)
		_ = applyParameters(s, frozen)
		for _, tick := range train {
			s.OnTick(tick)
		}
		return s.OnTick
	}, nil
}

func applyParameters(s Strategy, params map[string]float64) error {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.SetParameter(name, params[name]); err != nil {
			return err
		}
	}
	return nil
}

// BaseStrategy provides parameter bookkeeping.
type BaseStrategy struct {
	params map[string]StrategyParameter
}

func newBaseStrategy(params ...StrategyParameter) BaseStrategy {
	b := BaseStrategy{params: make(map[string]StrategyParameter, len(params))}
	for _, p := range params {
		p.Current = p.Default
		b.params[p.Name] = p
	}
	return b
}

// SetParameter sets a parameter value within its bounds.
func (s *BaseStrategy) SetParameter(name string, value float64) error {
	param, ok := s.params[name]
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	if value < param.Min || value > param.Max {
		return fmt.Errorf("parameter %s must be in [%g, %g], got %g", name, param.Min, param.Max, value)
	}
	if param.Integer && value != float64(int(value)) {
		return fmt.Errorf("parameter %s must be an integer, got %g", name, value)
	}
	param.Current = value
	s.params[name] = param
	return nil
}

// Parameters returns a copy of the strategy parameters.
func (s *BaseStrategy) Parameters() map[string]StrategyParameter {
	out := make(map[string]StrategyParameter, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

func (s *BaseStrategy) value(name string) float64 { return s.params[name].Current }

func (s *BaseStrategy) intValue(name string) int { return int(s.params[name].Current) }
