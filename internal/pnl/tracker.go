// Package pnl provides a weighted-average cost position ledger with realized and unrealized PnL.
package pnl

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry
type TransactionType string

const (
	TransactionBuy          TransactionType = "BUY"
	TransactionSell         TransactionType = "SELL"
	TransactionClose        TransactionType = "CLOSE"
	TransactionPartialClose TransactionType = "PARTIAL_CLOSE"
)

// flatThreshold is the absolute quantity below which a position is considered closed
var flatThreshold = decimal.New(1, -8)

// Position represents an open position. Quantity sign encodes long/short.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	TotalCost     decimal.Decimal `json:"totalCost"`
}

// IsLong reports whether the position is long
func (p Position) IsLong() bool { return p.Quantity.IsPositive() }

// Transaction is an immutable ledger record
type Transaction struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	Timestamp   int64           `json:"timestamp"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Type        TransactionType `json:"type"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}

// PortfolioMetrics summarizes the ledger
type PortfolioMetrics struct {
	TotalValue    decimal.Decimal `json:"totalValue"`
	TotalPnL      decimal.Decimal `json:"totalPnl"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	Cash          decimal.Decimal `json:"cash"`
	Fees          decimal.Decimal `json:"fees"`
	Exposure      decimal.Decimal `json:"exposure"`
	Leverage      decimal.Decimal `json:"leverage"`
	NumPositions  int             `json:"numPositions"`
}

// Tracker is a position ledger keyed by symbol. It is owned by a single caller and is not
// safe for concurrent use.
type Tracker struct {
	initialCash  decimal.Decimal
	cash         decimal.Decimal
	fees         decimal.Decimal
	positions    map[string]*Position
	realized     map[string]decimal.Decimal
	transactions []Transaction
}

// NewTracker creates a ledger holding initialCash
func NewTracker(initialCash decimal.Decimal) *Tracker {
	return &Tracker{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
		realized:    make(map[string]decimal.Decimal),
	}
}

// AddPosition applies a signed quantity at price. Same-direction fills blend the entry price,
// opposite fills realize PnL on the overlapping quantity and flip any remainder.
// Returns the PnL realized by this fill.
func (t *Tracker) AddPosition(symbol string, quantity, price decimal.Decimal, timestamp int64) decimal.Decimal {
	if quantity.IsZero() {
		return decimal.Zero
	}
	realized := decimal.Zero

	pos, ok := t.positions[symbol]
	switch {
	case !ok:
		t.positions[symbol] = &Position{
			Symbol:        symbol,
			Quantity:      quantity,
			AvgEntryPrice: price,
			CurrentPrice:  price,
			TotalCost:     quantity.Abs().Mul(price),
		}

	case pos.Quantity.Sign() == quantity.Sign():
		total := pos.Quantity.Add(quantity)
		pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(pos.Quantity.Abs()).
			Add(price.Mul(quantity.Abs())).
			Div(total.Abs())
		pos.Quantity = total
		pos.CurrentPrice = price
		pos.TotalCost = total.Abs().Mul(pos.AvgEntryPrice)

	default:
		closed := decimal.Min(quantity.Abs(), pos.Quantity.Abs())
		realized = price.Sub(pos.AvgEntryPrice).Mul(closed).Mul(decimal.NewFromInt(int64(pos.Quantity.Sign())))
		t.credit(symbol, pos, realized)

		pos.Quantity = pos.Quantity.Add(quantity)
		pos.CurrentPrice = price
		if pos.Quantity.Abs().LessThan(flatThreshold) {
			delete(t.positions, symbol)
		} else if closed.LessThan(quantity.Abs()) {
			pos.AvgEntryPrice = price
			pos.TotalCost = pos.Quantity.Abs().Mul(price)
		} else {
			pos.TotalCost = pos.Quantity.Abs().Mul(pos.AvgEntryPrice)
		}
	}

	t.cash = t.cash.Sub(quantity.Mul(price))
	if pos, ok := t.positions[symbol]; ok {
		t.mark(pos, price)
	}

	typ := TransactionBuy
	if quantity.IsNegative() {
		typ = TransactionSell
	}
	t.record(symbol, quantity, price, typ, realized, timestamp)
	return realized
}

// ClosePosition realizes PnL on the whole position at price and removes it.
func (t *Tracker) ClosePosition(symbol string, price decimal.Decimal, timestamp int64) (decimal.Decimal, bool) {
	pos, ok := t.positions[symbol]
	if !ok {
		return decimal.Zero, false
	}
	realized := price.Sub(pos.AvgEntryPrice).Mul(pos.Quantity)
	t.credit(symbol, pos, realized)
	t.cash = t.cash.Add(pos.Quantity.Mul(price))
	t.record(symbol, pos.Quantity.Neg(), price, TransactionClose, realized, timestamp)
	delete(t.positions, symbol)
	return realized, true
}

// ClosePartial reduces the position by up to |quantity| at price. The quantity must oppose the
// position; same-direction quantities are ignored.
func (t *Tracker) ClosePartial(symbol string, quantity, price decimal.Decimal, timestamp int64) (decimal.Decimal, bool) {
	pos, ok := t.positions[symbol]
	if !ok || quantity.IsZero() || quantity.Sign() == pos.Quantity.Sign() {
		return decimal.Zero, false
	}

	closed := decimal.Min(quantity.Abs(), pos.Quantity.Abs())
	signed := closed.Mul(decimal.NewFromInt(int64(quantity.Sign())))
	realized := price.Sub(pos.AvgEntryPrice).Mul(closed).Mul(decimal.NewFromInt(int64(pos.Quantity.Sign())))
	t.credit(symbol, pos, realized)

	pos.Quantity = pos.Quantity.Add(signed)
	t.cash = t.cash.Sub(signed.Mul(price))
	if pos.Quantity.Abs().LessThan(flatThreshold) {
		delete(t.positions, symbol)
	} else {
		pos.TotalCost = pos.Quantity.Abs().Mul(pos.AvgEntryPrice)
		t.mark(pos, price)
	}

	t.record(symbol, signed, price, TransactionPartialClose, realized, timestamp)
	return realized, true
}

// ChargeFee deducts a commission or other fee from cash
func (t *Tracker) ChargeFee(amount decimal.Decimal) {
	t.cash = t.cash.Sub(amount)
	t.fees = t.fees.Add(amount)
}

// MarkToMarket updates the mark price and unrealized PnL of a position
func (t *Tracker) MarkToMarket(symbol string, price decimal.Decimal) {
	if pos, ok := t.positions[symbol]; ok {
		t.mark(pos, price)
	}
}

func (t *Tracker) mark(pos *Position, price decimal.Decimal) {
	pos.CurrentPrice = price
	pos.UnrealizedPnL = price.Sub(pos.AvgEntryPrice).Mul(pos.Quantity)
}

func (t *Tracker) credit(symbol string, pos *Position, realized decimal.Decimal) {
	t.realized[symbol] = t.realized[symbol].Add(realized)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
}

func (t *Tracker) record(symbol string, qty, price decimal.Decimal, typ TransactionType, realized decimal.Decimal, ts int64) {
	t.transactions = append(t.transactions, Transaction{
		ID:          uuid.New().String(),
		Symbol:      symbol,
		Timestamp:   ts,
		Quantity:    qty,
		Price:       price,
		Type:        typ,
		RealizedPnL: realized,
	})
}

// Position returns a copy of the open position for symbol
func (t *Tracker) Position(symbol string) (Position, bool) {
	pos, ok := t.positions[symbol]
	if !ok {
		return Position{Symbol: symbol}, false
	}
	return *pos, true
}

// HasPosition reports whether symbol has an open position
func (t *Tracker) HasPosition(symbol string) bool {
	_, ok := t.positions[symbol]
	return ok
}

// Positions returns copies of all open positions sorted by symbol
func (t *Tracker) Positions() []Position {
	out := make([]Position, 0, len(t.positions))
	for _, pos := range t.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// RealizedPnL returns the realized PnL accumulated for symbol, including closed positions
func (t *Tracker) RealizedPnL(symbol string) decimal.Decimal { return t.realized[symbol] }

// UnrealizedPnL returns the open PnL of symbol
func (t *Tracker) UnrealizedPnL(symbol string) decimal.Decimal {
	if pos, ok := t.positions[symbol]; ok {
		return pos.UnrealizedPnL
	}
	return decimal.Zero
}

// TotalPnL returns realized plus unrealized PnL for symbol
func (t *Tracker) TotalPnL(symbol string) decimal.Decimal {
	return t.RealizedPnL(symbol).Add(t.UnrealizedPnL(symbol))
}

// Cash returns available cash
func (t *Tracker) Cash() decimal.Decimal { return t.cash }

// Equity returns cash plus the marked value of all positions
func (t *Tracker) Equity() decimal.Decimal {
	equity := t.cash
	for _, pos := range t.positions {
		equity = equity.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	return equity
}

// Metrics returns the portfolio metrics snapshot
func (t *Tracker) Metrics() PortfolioMetrics {
	m := PortfolioMetrics{
		Cash:         t.cash,
		Fees:         t.fees,
		NumPositions: len(t.positions),
	}
	value := decimal.Zero
	for _, pos := range t.positions {
		notional := pos.Quantity.Mul(pos.CurrentPrice)
		value = value.Add(notional)
		m.Exposure = m.Exposure.Add(notional.Abs())
		m.UnrealizedPnL = m.UnrealizedPnL.Add(pos.UnrealizedPnL)
	}
	for _, r := range t.realized {
		m.RealizedPnL = m.RealizedPnL.Add(r)
	}
	m.TotalValue = t.cash.Add(value)
	m.TotalPnL = m.RealizedPnL.Add(m.UnrealizedPnL)
	if m.TotalValue.IsPositive() {
		m.Leverage = m.Exposure.Div(m.TotalValue)
	}
	return m
}

// Transactions returns a copy of the transaction log
func (t *Tracker) Transactions() []Transaction {
	out := make([]Transaction, len(t.transactions))
	copy(out, t.transactions)
	return out
}

// Reset clears positions, PnL and transactions and restores the initial cash
func (t *Tracker) Reset() {
	t.cash = t.initialCash
	t.fees = decimal.Zero
	t.positions = make(map[string]*Position)
	t.realized = make(map[string]decimal.Decimal)
	t.transactions = nil
}
