package feed_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/alpha-engine/internal/feed"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

func tick(price, volume float64, ms int64) types.Tick {
	return types.Tick{Symbol: "BTCUSDT", Price: price, Volume: volume, Timestamp: ms}
}

func TestCandleAggregatorRejectsBadInterval(t *testing.T) {
	if _, err := feed.NewCandleAggregator("BTCUSDT", 0); err == nil {
		t.Error("Expected error for zero interval")
	}
}

func TestCandleAggregatorEmitsOnInterval(t *testing.T) {
	agg, err := feed.NewCandleAggregator("BTCUSDT", time.Minute)
	if err != nil {
		t.Fatalf("Failed to create aggregator: %v", err)
	}

	if _, ok := agg.OnTick(tick(100, 1, 0)); ok {
		t.Fatal("Expected no candle on the opening tick")
	}
	if _, ok := agg.OnTick(tick(105, 2, 20_000)); ok {
		t.Fatal("Expected no candle before the interval elapses")
	}
	if _, ok := agg.OnTick(tick(95, 3, 40_000)); ok {
		t.Fatal("Expected no candle before the interval elapses")
	}

	c, ok := agg.OnTick(tick(101, 4, 60_000))
	if !ok {
		t.Fatal("Expected a candle once the interval elapsed")
	}
	if c.Open != 100 || c.High != 105 || c.Low != 95 || c.Close != 101 {
		t.Errorf("Expected OHLC 100/105/95/101, got %v/%v/%v/%v", c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume != 10 {
		t.Errorf("Expected volume 10, got %v", c.Volume)
	}
	if c.EndTime.Sub(c.StartTime) != time.Minute {
		t.Errorf("Expected a one minute span, got %s", c.EndTime.Sub(c.StartTime))
	}

	next, open := agg.Current()
	if !open || next.Open != 101 || next.Volume != 0 {
		t.Errorf("Expected next candle to open at 101 with zero volume, got %+v", next)
	}
}

func TestCandleAggregatorReset(t *testing.T) {
	agg, _ := feed.NewCandleAggregator("BTCUSDT", time.Second)
	agg.OnTick(tick(100, 1, 1000))
	agg.Reset()

	if _, open := agg.Current(); open {
		t.Error("Expected no open candle after reset")
	}
	if _, ok := agg.OnTick(tick(100, 1, 5000)); ok {
		t.Error("Expected the first tick after reset to only open a candle")
	}
}
