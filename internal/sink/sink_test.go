package sink_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/internal/sink"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

type recordingSink struct {
	snapshots int
	candles   int
	backtests int
	closed    bool
	err       error
}

func (r *recordingSink) WriteSnapshot(context.Context, types.SymbolSnapshot) error {
	r.snapshots++
	return r.err
}

func (r *recordingSink) WriteCandle(context.Context, types.Candle, *types.AlphaSignal) error {
	r.candles++
	return r.err
}

func (r *recordingSink) WriteBacktest(context.Context, *types.BacktestResult) error {
	r.backtests++
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.err
}

func snapshot(symbol string) types.SymbolSnapshot {
	return types.SymbolSnapshot{
		Symbol:    symbol,
		Timestamp: 1700000000000,
		Price:     101.5,
		Alpha:     &types.AlphaSignal{Symbol: symbol, Momentum: 0.02, MeanRevZ: -1.5},
		Regime:    &types.RegimeSnapshot{Symbol: symbol, Regime: "TRENDING", HurstExponent: 0.62},
		Composite: types.CompositeSignal{Symbol: symbol, Signal: types.CompositeBuy, Score: 0.4},
	}
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSink{}
	b := &recordingSink{err: boom}
	m := sink.NewMulti(a, nil, b)

	if len(m) != 2 {
		t.Fatalf("Expected nil sinks to be dropped, got %d", len(m))
	}

	ctx := context.Background()
	if err := m.WriteSnapshot(ctx, snapshot("BTCUSDT")); !errors.Is(err, boom) {
		t.Errorf("Expected joined error, got %v", err)
	}
	_ = m.WriteCandle(ctx, types.Candle{Symbol: "BTCUSDT"}, nil)
	_ = m.WriteBacktest(ctx, &types.BacktestResult{})
	if err := m.Close(); !errors.Is(err, boom) {
		t.Errorf("Expected close error, got %v", err)
	}

	for i, r := range []*recordingSink{a, b} {
		if r.snapshots != 1 || r.candles != 1 || r.backtests != 1 || !r.closed {
			t.Errorf("Sink %d: expected every call delivered, got %+v", i, r)
		}
	}
}

func TestNopSink(t *testing.T) {
	var s sink.Sink = sink.Nop{}
	if err := s.WriteSnapshot(context.Background(), snapshot("X")); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := sink.NewPrometheusSink(reg)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}

	ctx := context.Background()
	_ = s.WriteSnapshot(ctx, snapshot("BTCUSDT"))
	_ = s.WriteSnapshot(ctx, snapshot("BTCUSDT"))
	_ = s.WriteCandle(ctx, types.Candle{Symbol: "BTCUSDT"}, nil)
	_ = s.WriteBacktest(ctx, &types.BacktestResult{Stats: types.BacktestStats{SharpeRatio: 1.2}, Duration: time.Second})

	count, err := testutil.GatherAndCount(reg, "alpha_ticks_processed_total")
	if err != nil || count != 1 {
		t.Errorf("Expected one tick series, got %d (%v)", count, err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather: %v", err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		m := mf.GetMetric()[0]
		switch {
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		}
	}

	if values["alpha_ticks_processed_total"] != 2 {
		t.Errorf("Expected 2 ticks, got %v", values["alpha_ticks_processed_total"])
	}
	if values["alpha_last_price"] != 101.5 {
		t.Errorf("Expected last price 101.5, got %v", values["alpha_last_price"])
	}
	if values["alpha_hurst_exponent"] != 0.62 {
		t.Errorf("Expected hurst 0.62, got %v", values["alpha_hurst_exponent"])
	}
	if values["alpha_candles_closed_total"] != 1 || values["alpha_backtests_total"] != 1 {
		t.Errorf("Expected one candle and one backtest, got %v", values)
	}

	if _, err := sink.NewPrometheusSink(reg); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestRedisKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	cfg := sink.DefaultRedisConfig()
	cfg.Prefix = "test"
	s := sink.NewRedisSinkWithClient(zap.NewNop(), client, cfg)

	if s.SnapshotKey("BTCUSDT") != "test:snapshot:BTCUSDT" {
		t.Errorf("Unexpected snapshot key %s", s.SnapshotKey("BTCUSDT"))
	}
	if s.CandleKey("BTCUSDT") != "test:candle:BTCUSDT" {
		t.Errorf("Unexpected candle key %s", s.CandleKey("BTCUSDT"))
	}
	if s.BacktestKey("abc") != "test:backtest:abc" {
		t.Errorf("Unexpected backtest key %s", s.BacktestKey("abc"))
	}
	if s.SignalChannel() != "test:signals" {
		t.Errorf("Unexpected signal channel %s", s.SignalChannel())
	}
}
