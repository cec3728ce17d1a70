package pnl_test

import (
	"testing"

	"github.com/atlas-desktop/alpha-engine/internal/pnl"
	"github.com/shopspring/decimal"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestRoundTripAtSamePriceRealizesZero(t *testing.T) {
	tr := pnl.NewTracker(d(10000))
	tr.AddPosition("BTC", d(1), d(100), 1)
	realized := tr.AddPosition("BTC", d(-1), d(100), 2)

	if !realized.IsZero() {
		t.Errorf("expected zero realized PnL, got %s", realized)
	}
	if tr.HasPosition("BTC") {
		t.Error("expected flat position to be removed")
	}
	if !tr.Cash().Equal(d(10000)) {
		t.Errorf("expected cash 10000, got %s", tr.Cash())
	}
}

func TestOpenThenCloseRealizesExactPnL(t *testing.T) {
	tr := pnl.NewTracker(d(10000))
	tr.AddPosition("BTC", d(2), d(100), 1)
	realized, ok := tr.ClosePosition("BTC", d(110), 2)
	if !ok {
		t.Fatal("expected close to succeed")
	}
	if !realized.Equal(d(20)) {
		t.Errorf("expected realized 20, got %s", realized)
	}
	if !tr.RealizedPnL("BTC").Equal(d(20)) {
		t.Errorf("expected ledger realized 20, got %s", tr.RealizedPnL("BTC"))
	}

	short := pnl.NewTracker(d(10000))
	short.AddPosition("ETH", d(-2), d(100), 1)
	realized, _ = short.ClosePosition("ETH", d(90), 2)
	if !realized.Equal(d(20)) {
		t.Errorf("expected short realized 20, got %s", realized)
	}
	if !short.Cash().Equal(d(10020)) {
		t.Errorf("expected cash 10020, got %s", short.Cash())
	}
}

func TestWeightedAverageEntry(t *testing.T) {
	tr := pnl.NewTracker(d(10000))
	tr.AddPosition("BTC", d(1), d(100), 1)
	tr.AddPosition("BTC", d(3), d(200), 2)

	pos, ok := tr.Position("BTC")
	if !ok {
		t.Fatal("expected open position")
	}
	if !pos.AvgEntryPrice.Equal(d(175)) {
		t.Errorf("expected average entry 175, got %s", pos.AvgEntryPrice)
	}
	if !pos.Quantity.Equal(d(4)) {
		t.Errorf("expected quantity 4, got %s", pos.Quantity)
	}
	if !pos.RealizedPnL.IsZero() {
		t.Errorf("expected no realized PnL from adding, got %s", pos.RealizedPnL)
	}
}

func TestFlipRealizesAndReopens(t *testing.T) {
	tr := pnl.NewTracker(d(10000))
	tr.AddPosition("BTC", d(2), d(100), 1)
	realized := tr.AddPosition("BTC", d(-3), d(110), 2)

	if !realized.Equal(d(20)) {
		t.Errorf("expected realized 20 on flip, got %s", realized)
	}
	pos, _ := tr.Position("BTC")
	if !pos.Quantity.Equal(d(-1)) {
		t.Errorf("expected quantity -1, got %s", pos.Quantity)
	}
	if !pos.AvgEntryPrice.Equal(d(110)) {
		t.Errorf("expected flipped entry 110, got %s", pos.AvgEntryPrice)
	}
}

func TestReduceKeepsAverageEntry(t *testing.T) {
	tr := pnl.NewTracker(d(10000))
	tr.AddPosition("BTC", d(4), d(100), 1)
	realized, ok := tr.ClosePartial("BTC", d(-1), d(120), 2)
	if !ok {
		t.Fatal("expected partial close to succeed")
	}
	if !realized.Equal(d(20)) {
		t.Errorf("expected realized 20, got %s", realized)
	}
	pos, _ := tr.Position("BTC")
	if !pos.Quantity.Equal(d(3)) || !pos.AvgEntryPrice.Equal(d(100)) {
		t.Errorf("expected 3 @ 100, got %s @ %s", pos.Quantity, pos.AvgEntryPrice)
	}

	if _, ok := tr.ClosePartial("BTC", d(1), d(120), 3); ok {
		t.Error("expected same-direction partial close to be ignored")
	}

	txns := tr.Transactions()
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}
	if txns[0].Type != pnl.TransactionBuy || txns[1].Type != pnl.TransactionPartialClose {
		t.Errorf("expected BUY then PARTIAL_CLOSE, got %s then %s", txns[0].Type, txns[1].Type)
	}
}

func TestEquityAndMetrics(t *testing.T) {
	tr := pnl.NewTracker(d(10000))
	tr.AddPosition("BTC", d(2), d(100), 1)

	if !tr.Cash().Equal(d(9800)) {
		t.Errorf("expected cash 9800, got %s", tr.Cash())
	}
	if !tr.Equity().Equal(d(10000)) {
		t.Errorf("expected equity 10000, got %s", tr.Equity())
	}

	tr.MarkToMarket("BTC", d(110))
	if !tr.UnrealizedPnL("BTC").Equal(d(20)) {
		t.Errorf("expected unrealized 20, got %s", tr.UnrealizedPnL("BTC"))
	}

	tr.ChargeFee(d(1))
	m := tr.Metrics()
	if !m.TotalValue.Equal(d(10019)) {
		t.Errorf("expected total value 10019, got %s", m.TotalValue)
	}
	if !m.Exposure.Equal(d(220)) {
		t.Errorf("expected exposure 220, got %s", m.Exposure)
	}
	if !m.Leverage.Equal(d(220).Div(d(10019))) {
		t.Errorf("expected leverage 220/10019, got %s", m.Leverage)
	}
	if m.NumPositions != 1 || !m.Fees.Equal(d(1)) {
		t.Errorf("expected 1 position and fees 1, got %d and %s", m.NumPositions, m.Fees)
	}
	if !m.TotalPnL.Equal(d(20)) {
		t.Errorf("expected total PnL 20, got %s", m.TotalPnL)
	}
}

func TestReset(t *testing.T) {
	tr := pnl.NewTracker(d(500))
	tr.AddPosition("BTC", d(1), d(100), 1)
	tr.ClosePosition("BTC", d(90), 2)
	tr.Reset()

	if !tr.Cash().Equal(d(500)) {
		t.Errorf("expected cash 500, got %s", tr.Cash())
	}
	if len(tr.Transactions()) != 0 || len(tr.Positions()) != 0 {
		t.Error("expected empty ledger after reset")
	}
	if !tr.RealizedPnL("BTC").IsZero() {
		t.Errorf("expected realized PnL cleared, got %s", tr.RealizedPnL("BTC"))
	}
}
