// Package backtester replays a tick series through a signal function and simulates a single
// Flat/Long/Short position with slippage and commission.
package backtester

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-desktop/alpha-engine/internal/pnl"
	"github.com/atlas-desktop/alpha-engine/internal/workers"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Exit and entry reasons recorded on trades
const (
	ReasonSignalBuy     = "SIGNAL_BUY"
	ReasonSignalSell    = "SIGNAL_SELL"
	ReasonEndOfBacktest = "END_OF_BACKTEST"
)

// cancelCheckInterval is how many ticks are simulated between context checks
const cancelCheckInterval = 1024

var (
	// ErrEmptySeries is returned when a run is requested over no ticks
	ErrEmptySeries = errors.New("backtester: empty tick series")
	// ErrInvalidWindow is returned for non-positive walk-forward or Monte Carlo sizes
	ErrInvalidWindow = errors.New("backtester: invalid window")
)

// SignalFunc maps each tick to a trading decision
type SignalFunc func(tick types.Tick) types.Signal

// SignalFactory builds a fresh SignalFunc, optionally calibrated on a training slice.
// Each call must return an independent function so runs never share signal state.
type SignalFactory func(train []types.Tick) SignalFunc

// Static wraps a stateless SignalFunc as a factory
func Static(fn SignalFunc) SignalFactory {
	return func([]types.Tick) SignalFunc { return fn }
}

// Engine runs backtests. Runs do not share state, so one Engine may serve concurrent callers
// as long as its ExecutionModel is stateless.
type Engine struct {
	logger *zap.Logger
	config types.BacktestConfig
	model  ExecutionModel
	pool   *workers.Pool
}

// Option configures an Engine
type Option func(*Engine)

// WithExecutionModel replaces the default fixed-bps execution model
func WithExecutionModel(model ExecutionModel) Option {
	return func(e *Engine) { e.model = model }
}

// WithPool runs Monte Carlo simulations on the given worker pool
func WithPool(pool *workers.Pool) Option {
	return func(e *Engine) { e.pool = pool }
}

// NewEngine creates a new backtesting engine
func NewEngine(logger *zap.Logger, config types.BacktestConfig, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}
	e := &Engine{
		logger: logger,
		config: config,
		model:  NewFixedBpsModel(config),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SetExecutionModel swaps the execution model used by subsequent runs
func (e *Engine) SetExecutionModel(model ExecutionModel) {
	if model != nil {
		e.model = model
	}
}

// Config returns the engine configuration
func (e *Engine) Config() types.BacktestConfig {
	return e.config
}

// Run executes a backtest over ticks in order
func (e *Engine) Run(ctx context.Context, ticks []types.Tick, signal SignalFunc) (*types.BacktestResult, error) {
	result, err := e.run(ctx, ticks, signal)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Backtest completed",
		zap.String("id", result.ID),
		zap.String("symbol", result.Symbol),
		zap.Int("ticks", len(ticks)),
		zap.Int("trades", len(result.Trades)),
		zap.String("finalEquity", result.FinalEquity.StringFixed(2)),
		zap.Float64("sharpe", result.Stats.SharpeRatio),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (e *Engine) run(ctx context.Context, ticks []types.Tick, signal SignalFunc) (*types.BacktestResult, error) {
	if len(ticks) == 0 {
		return nil, ErrEmptySeries
	}
	if signal == nil {
		return nil, errors.New("backtester: nil signal function")
	}

	startedAt := time.Now()
	sim := newSimulation(e.config, e.model, ticks[0].Symbol, len(ticks))

	last := len(ticks) - 1
	for i, tick := range ticks {
		if i%cancelCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("backtest cancelled at tick %d: %w", i, ctx.Err())
			default:
			}
		}

		sim.step(tick, signal(tick))
		if i == last && sim.open != nil {
			sim.closePosition(tick, ReasonEndOfBacktest)
		}
		sim.recordEquity(tick)
	}

	completedAt := time.Now()
	return &types.BacktestResult{
		ID:          uuid.New().String(),
		Symbol:      sim.symbol,
		Config:      e.config,
		Trades:      sim.trades,
		EquityCurve: sim.curve,
		Stats:       computeStats(e.config, sim.trades, sim.curve, sim.totalCommission, sim.totalSlippage),
		FinalEquity: sim.ledger.Equity(),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
	}, nil
}

// openTrade holds the entry side of the round trip in progress
type openTrade struct {
	isLong     bool
	quantity   decimal.Decimal // unsigned
	entryTime  int64
	entryPrice decimal.Decimal
	commission decimal.Decimal
	slippage   decimal.Decimal
	reason     string
}

// simulation is the per-run state. It owns its ledger exclusively.
type simulation struct {
	config types.BacktestConfig
	model  ExecutionModel
	symbol string
	ledger *pnl.Tracker
	open   *openTrade

	trades          []types.Trade
	curve           []types.EquityCurvePoint
	totalCommission decimal.Decimal
	totalSlippage   decimal.Decimal
}

func newSimulation(config types.BacktestConfig, model ExecutionModel, symbol string, n int) *simulation {
	return &simulation{
		config: config,
		model:  model,
		symbol: symbol,
		ledger: pnl.NewTracker(config.InitialCapital),
		trades: make([]types.Trade, 0),
		curve:  make([]types.EquityCurvePoint, 0, n),
	}
}

func (s *simulation) isLong() bool  { return s.open != nil && s.open.isLong }
func (s *simulation) isShort() bool { return s.open != nil && !s.open.isLong }

func (s *simulation) step(tick types.Tick, signal types.Signal) {
	switch signal {
	case types.SignalBuy:
		if s.isLong() {
			return
		}
		if s.isShort() {
			s.closePosition(tick, ReasonSignalBuy)
		}
		s.openPosition(tick, true, ReasonSignalBuy)
	case types.SignalSell:
		if s.isShort() {
			return
		}
		if s.isLong() {
			s.closePosition(tick, ReasonSignalSell)
		}
		if s.config.EnableShortSelling {
			s.openPosition(tick, false, ReasonSignalSell)
		}
	}
}

// budget returns the notional available for a new position. Margin settings do not change it.
func (s *simulation) budget() decimal.Decimal {
	cash := s.ledger.Cash()
	return decimal.Min(cash.Mul(s.config.MaxPositionSize), cash)
}

func (s *simulation) openPosition(tick types.Tick, isLong bool, reason string) {
	if tick.Price <= 0 {
		return
	}
	notional := s.budget()
	if !notional.IsPositive() {
		return
	}

	price := decimal.NewFromFloat(tick.Price)
	quantity := notional.Div(price)
	fill := s.model.FillPrice(tick, quantity, isLong)
	commission := s.model.Commission(quantity.Mul(fill))

	// keep the all-in cost of a long within cash
	if isLong {
		cost := quantity.Mul(fill).Add(commission)
		if cost.GreaterThan(s.ledger.Cash()) {
			perUnit := fill.Add(s.model.Commission(fill))
			quantity = s.ledger.Cash().Div(perUnit)
			commission = s.model.Commission(quantity.Mul(fill))
		}
	}
	if !quantity.IsPositive() {
		return
	}

	signed := quantity
	if !isLong {
		signed = quantity.Neg()
	}
	s.ledger.AddPosition(s.symbol, signed, fill, tick.Timestamp)
	s.ledger.ChargeFee(commission)

	s.open = &openTrade{
		isLong:     isLong,
		quantity:   quantity,
		entryTime:  tick.Timestamp,
		entryPrice: fill,
		commission: commission,
		slippage:   fill.Sub(price).Abs().Mul(quantity),
		reason:     reason,
	}
}

func (s *simulation) closePosition(tick types.Tick, reason string) {
	if s.open == nil {
		return
	}
	price := decimal.NewFromFloat(tick.Price)
	fill := s.model.FillPrice(tick, s.open.quantity, !s.open.isLong)
	commission := s.model.Commission(s.open.quantity.Mul(fill))

	realized, _ := s.ledger.ClosePosition(s.symbol, fill, tick.Timestamp)
	s.ledger.ChargeFee(commission)

	totalCommission := s.open.commission.Add(commission)
	totalSlippage := s.open.slippage.Add(fill.Sub(price).Abs().Mul(s.open.quantity))
	s.totalCommission = s.totalCommission.Add(totalCommission)
	s.totalSlippage = s.totalSlippage.Add(totalSlippage)

	s.trades = append(s.trades, types.Trade{
		ID:          uuid.New().String(),
		Symbol:      s.symbol,
		EntryTime:   s.open.entryTime,
		ExitTime:    tick.Timestamp,
		EntryPrice:  s.open.entryPrice,
		ExitPrice:   fill,
		Quantity:    s.open.quantity,
		IsLong:      s.open.isLong,
		PnL:         realized.Sub(totalCommission),
		Commission:  totalCommission,
		Slippage:    totalSlippage,
		EntryReason: s.open.reason,
		ExitReason:  reason,
	})
	s.open = nil
}

// recordEquity marks the position at the tick price, not the fill price
func (s *simulation) recordEquity(tick types.Tick) {
	s.ledger.MarkToMarket(s.symbol, decimal.NewFromFloat(tick.Price))

	position := decimal.Zero
	if pos, ok := s.ledger.Position(s.symbol); ok {
		position = pos.Quantity
	}
	s.curve = append(s.curve, types.EquityCurvePoint{
		Timestamp: tick.Timestamp,
		Equity:    s.ledger.Equity(),
		Cash:      s.ledger.Cash(),
		Position:  position,
	})
}
