package backtester

import (
	"math"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10000)

// ExecutionModel prices simulated fills and their commission
type ExecutionModel interface {
	// FillPrice returns the execution price for quantity at tick, worse than tick.Price for the aggressor.
	FillPrice(tick types.Tick, quantity decimal.Decimal, isBuy bool) decimal.Decimal
	// Commission returns the fee charged on a fill of the given notional.
	Commission(notional decimal.Decimal) decimal.Decimal
}

// FixedBpsModel applies price·(1 ± bps/10000) and a flat commission rate
type FixedBpsModel struct {
	SlippageBps    decimal.Decimal
	CommissionRate decimal.Decimal
}

// NewFixedBpsModel creates the default execution model from a backtest config
func NewFixedBpsModel(config types.BacktestConfig) *FixedBpsModel {
	return &FixedBpsModel{
		SlippageBps:    config.SlippageBps,
		CommissionRate: config.CommissionRate,
	}
}

// FillPrice applies fixed basis-point slippage against the aggressor
func (m *FixedBpsModel) FillPrice(tick types.Tick, quantity decimal.Decimal, isBuy bool) decimal.Decimal {
	return applySlippage(decimal.NewFromFloat(tick.Price), m.SlippageBps.Div(bpsDivisor), isBuy)
}

// Commission returns notional·rate
func (m *FixedBpsModel) Commission(notional decimal.Decimal) decimal.Decimal {
	return notional.Abs().Mul(m.CommissionRate)
}

// VolumeImpactModel adds square-root participation impact on top of a base slippage:
// slippage = base + k·sqrt(quantity/tickVolume)
type VolumeImpactModel struct {
	BaseBps        decimal.Decimal
	ImpactFactor   decimal.Decimal
	MaxSlippage    decimal.Decimal // fraction of price, zero disables the cap
	CommissionRate decimal.Decimal
}

// NewVolumeImpactModel creates a volume impact model
func NewVolumeImpactModel(baseBps, impactFactor, commissionRate decimal.Decimal) *VolumeImpactModel {
	return &VolumeImpactModel{
		BaseBps:        baseBps,
		ImpactFactor:   impactFactor,
		MaxSlippage:    decimal.NewFromFloat(0.05),
		CommissionRate: commissionRate,
	}
}

// FillPrice returns slippage based on order size relative to the tick volume
func (m *VolumeImpactModel) FillPrice(tick types.Tick, quantity decimal.Decimal, isBuy bool) decimal.Decimal {
	slip := m.BaseBps.Div(bpsDivisor)

	if tick.Volume > 0 {
		participation, _ := quantity.Abs().Float64()
		participation /= tick.Volume
		impact := m.ImpactFactor.Mul(decimal.NewFromFloat(math.Sqrt(participation)))
		slip = slip.Add(impact)
	}
	if m.MaxSlippage.IsPositive() && slip.GreaterThan(m.MaxSlippage) {
		slip = m.MaxSlippage
	}
	return applySlippage(decimal.NewFromFloat(tick.Price), slip, isBuy)
}

// Commission returns notional·rate
func (m *VolumeImpactModel) Commission(notional decimal.Decimal) decimal.Decimal {
	return notional.Abs().Mul(m.CommissionRate)
}

func applySlippage(price, fraction decimal.Decimal, isBuy bool) decimal.Decimal {
	if isBuy {
		return price.Mul(decimal.NewFromInt(1).Add(fraction))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(fraction))
}

// NewExecutionModel creates an execution model by name. Unknown names fall back to fixed bps.
func NewExecutionModel(name string, config types.BacktestConfig, impactFactor float64) ExecutionModel {
	switch name {
	case "volume_impact":
		return NewVolumeImpactModel(config.SlippageBps, decimal.NewFromFloat(impactFactor), config.CommissionRate)
	default:
		return NewFixedBpsModel(config)
	}
}
