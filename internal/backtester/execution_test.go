package backtester_test

import (
	"testing"

	"github.com/atlas-desktop/alpha-engine/internal/backtester"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/shopspring/decimal"
)

func TestFixedBpsModel(t *testing.T) {
	model := backtester.NewFixedBpsModel(types.DefaultBacktestConfig())
	tick := types.Tick{Price: 100, Volume: 10}

	buy := model.FillPrice(tick, decimal.NewFromInt(1), true)
	if !buy.Equal(decimal.NewFromFloat(100.02)) {
		t.Errorf("Expected buy fill 100.02, got %s", buy)
	}
	sell := model.FillPrice(tick, decimal.NewFromInt(1), false)
	if !sell.Equal(decimal.NewFromFloat(99.98)) {
		t.Errorf("Expected sell fill 99.98, got %s", sell)
	}
	if c := model.Commission(decimal.NewFromInt(-1000)); !c.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Expected commission 1, got %s", c)
	}
}

func TestVolumeImpactModel(t *testing.T) {
	model := backtester.NewVolumeImpactModel(decimal.Zero, decimal.NewFromFloat(0.1), decimal.Zero)
	tick := types.Tick{Price: 100, Volume: 100}

	fill := model.FillPrice(tick, decimal.NewFromInt(4), true).InexactFloat64()
	if !approx(fill, 102, 1e-9) {
		t.Errorf("Expected fill 102, got %f", fill)
	}

	capped := model.FillPrice(tick, decimal.NewFromInt(1000000), false).InexactFloat64()
	if !approx(capped, 95, 1e-9) {
		t.Errorf("Expected capped fill 95, got %f", capped)
	}

	noVolume := model.FillPrice(types.Tick{Price: 100}, decimal.NewFromInt(4), true)
	if !noVolume.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected fill 100 without tick volume, got %s", noVolume)
	}
}

func TestNewExecutionModelByName(t *testing.T) {
	config := types.DefaultBacktestConfig()
	if _, ok := backtester.NewExecutionModel("volume_impact", config, 0.1).(*backtester.VolumeImpactModel); !ok {
		t.Error("Expected a volume impact model")
	}
	if _, ok := backtester.NewExecutionModel("unknown", config, 0.1).(*backtester.FixedBpsModel); !ok {
		t.Error("Expected the fixed bps fallback")
	}
}
