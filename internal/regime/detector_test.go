package regime_test

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/atlas-desktop/alpha-engine/internal/regime"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

func newDetector(t *testing.T) *regime.Detector {
	t.Helper()
	d, err := regime.NewDetector(regime.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func TestConfigValidation(t *testing.T) {
	cfg := regime.DefaultConfig()
	cfg.HurstLag = 1
	if _, err := regime.NewDetector(cfg); err == nil {
		t.Error("expected error for hurst lag 1")
	}

	cfg = regime.DefaultConfig()
	cfg.Window = 30
	if _, err := regime.NewDetector(cfg); err == nil {
		t.Error("expected error when window cannot hold 2x hurst lag")
	}
}

func TestNoSnapshotBeforeWarmup(t *testing.T) {
	d := newDetector(t)

	for i := 0; i < 39; i++ {
		if _, ok := d.OnTick(types.Tick{Symbol: "X", Price: 100, Volume: 1}); ok {
			t.Fatalf("unexpected snapshot at tick %d", i)
		}
	}
	snap, ok := d.OnTick(types.Tick{Symbol: "X", Price: 100, Volume: 1, Timestamp: 40})
	if !ok {
		t.Fatal("expected snapshot once 2x hurst lag prices are available")
	}
	if snap.Symbol != "X" || snap.Timestamp != 40 {
		t.Errorf("expected symbol X timestamp 40, got %s %d", snap.Symbol, snap.Timestamp)
	}
}

func TestFlatPricesAreMeanRevertingLowVol(t *testing.T) {
	d := newDetector(t)

	var snap types.RegimeSnapshot
	for i := 0; i < 60; i++ {
		snap, _ = d.OnTick(types.Tick{Symbol: "X", Price: 100, Volume: 1})
	}

	if snap.Regime != string(regime.RegimeMeanRevertingLowVol) {
		t.Errorf("expected %s, got %s", regime.RegimeMeanRevertingLowVol, snap.Regime)
	}
	if snap.HurstExponent != 0.5 {
		t.Errorf("expected indeterminate hurst 0.5, got %f", snap.HurstExponent)
	}
	if snap.VolatilityRegime != 0.5 {
		t.Errorf("expected volatility regime 0.5 with zero volatility, got %f", snap.VolatilityRegime)
	}
	// ticks only record regime changes
	if stats := d.Stats(); stats.TotalObservations != 1 {
		t.Errorf("expected 1 recorded regime, got %d", stats.TotalObservations)
	}
	if snap.Confidence != 0.3 {
		t.Errorf("expected confidence 0.3 with short history, got %f", snap.Confidence)
	}
	want := regime.WeightsFor(regime.RegimeMeanRevertingLowVol)
	if snap.Weights != want {
		t.Errorf("expected weights %+v, got %+v", want, snap.Weights)
	}
}

func TestSteepTrendIsTrendingHighVol(t *testing.T) {
	d := newDetector(t)

	var snap types.RegimeSnapshot
	for i := 0; i < 40; i++ {
		snap, _ = d.OnTick(types.Tick{Symbol: "X", Price: 10 + 10*float64(i), Volume: 1})
	}
	if snap.Regime != string(regime.RegimeTrendingHighVol) {
		t.Errorf("expected %s, got %s", regime.RegimeTrendingHighVol, snap.Regime)
	}
	if snap.TrendStrength <= 0.6 || snap.TrendStrength > 1 {
		t.Errorf("expected trend strength in (0.6, 1], got %f", snap.TrendStrength)
	}
	if snap.Weights.Momentum != 0.7 {
		t.Errorf("expected momentum weight 0.7, got %f", snap.Weights.Momentum)
	}
}

func TestCandleHistoryConfidenceAndTransitions(t *testing.T) {
	d := newDetector(t)
	start := time.Unix(0, 0)

	var snap types.RegimeSnapshot
	for i := 0; i < 50; i++ {
		c := types.Candle{Symbol: "X", Close: 100, Volume: 1, StartTime: start, EndTime: start.Add(time.Minute)}
		snap, _ = d.OnCandle(c)
		start = start.Add(time.Minute)
	}

	// candles 40..50 each record a regime
	if stats := d.Stats(); stats.TotalObservations != 11 {
		t.Errorf("expected 11 recorded regimes, got %d", stats.TotalObservations)
	}
	if snap.Confidence != 1 {
		t.Errorf("expected confidence 1, got %f", snap.Confidence)
	}
	if snap.TransitionProbability != 0 {
		t.Errorf("expected transition probability 0, got %f", snap.TransitionProbability)
	}
	if d.HasRegimeChanged(5) {
		t.Error("expected no regime change")
	}
	if snap.Timestamp != start.UnixMilli() {
		t.Errorf("expected candle end time %d, got %d", start.UnixMilli(), snap.Timestamp)
	}
}

func TestHurstRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	prices := make([]float64, 200)
	p := 100.0
	for i := range prices {
		p *= math.Exp(rng.NormFloat64() * 0.01)
		prices[i] = p
	}

	h := regime.HurstExponent(prices, 20)
	if h < 0 || h > 1 {
		t.Errorf("expected hurst in [0,1], got %f", h)
	}
	if got := regime.HurstExponent(prices[:10], 20); got != 0.5 {
		t.Errorf("expected 0.5 on short series, got %f", got)
	}
}

func TestAutocorrelation(t *testing.T) {
	returns := make([]float64, 40)
	for i := range returns {
		returns[i] = 0.01
		if i%2 == 1 {
			returns[i] = -0.01
		}
	}
	ac := regime.Autocorrelation(returns, 1)
	if ac > -0.9 || ac < -1 {
		t.Errorf("expected strongly negative autocorrelation, got %f", ac)
	}
	if got := regime.Autocorrelation(returns[:5], 1); got != 0 {
		t.Errorf("expected 0 with insufficient data, got %f", got)
	}
}

func TestDetectRegimeChange(t *testing.T) {
	shift := make([]float64, 40)
	alternating := make([]float64, 40)
	for i := range shift {
		shift[i] = 0.01
		if i >= 20 {
			shift[i] = -0.01
		}
		alternating[i] = 0.01
		if i%2 == 1 {
			alternating[i] = -0.01
		}
	}

	if !regime.DetectRegimeChange(shift, 3) {
		t.Error("expected mean shift to be detected")
	}
	if regime.DetectRegimeChange(alternating, 3) {
		t.Error("expected no mean shift in alternating returns")
	}
}

func TestReset(t *testing.T) {
	d := newDetector(t)
	for i := 0; i < 45; i++ {
		d.OnTick(types.Tick{Symbol: "X", Price: 100, Volume: 1})
	}
	d.Reset()
	if d.Regime() != regime.RegimeUnknown {
		t.Errorf("expected %s after reset, got %s", regime.RegimeUnknown, d.Regime())
	}
	if _, ok := d.OnTick(types.Tick{Symbol: "X", Price: 100, Volume: 1}); ok {
		t.Error("expected warmup after reset")
	}
}
