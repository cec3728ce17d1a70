// Package types provides shared type definitions for the alpha engine.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide is the aggressor side assigned to a trade
type TradeSide string

const (
	TradeSideBuy     TradeSide = "buy"
	TradeSideSell    TradeSide = "sell"
	TradeSideUnknown TradeSide = "unknown"
)

// Sign returns +1 for buys, -1 for sells and 0 otherwise
func (s TradeSide) Sign() float64 {
	switch s {
	case TradeSideBuy:
		return 1
	case TradeSideSell:
		return -1
	default:
		return 0
	}
}

// Signal is the output of a backtest signal function
type Signal string

const (
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
	SignalHold Signal = "hold"
)

// Tick represents a single trade print. Bid and Ask are zero when no quote accompanies the trade.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"` // milliseconds since epoch
	Bid       float64 `json:"bid,omitempty"`
	Ask       float64 `json:"ask,omitempty"`
}

// HasQuote reports whether the tick carries a usable bid/ask pair
func (t Tick) HasQuote() bool {
	return t.Bid > 0 && t.Ask > 0 && t.Ask >= t.Bid
}

// Time returns the tick timestamp as a time.Time
func (t Tick) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// Candle represents a time-bucketed OHLCV bar
type Candle struct {
	Symbol    string    `json:"symbol"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

// AlphaSignal is the alpha engine snapshot
type AlphaSignal struct {
	Symbol      string  `json:"symbol"`
	Timestamp   int64   `json:"timestamp"`
	Momentum    float64 `json:"momentum"`
	MeanRevZ    float64 `json:"meanRevZ"`
	RSI         float64 `json:"rsi"`
	VolumeRatio float64 `json:"volumeRatio"`
	SignalType  string  `json:"signalType"`
}

// TradeClassification is the side and signed volume assigned to one tick
type TradeClassification struct {
	Side         TradeSide `json:"side"`
	SignedVolume float64   `json:"signedVolume"`
}

// VPINMetrics is the flow toxicity snapshot
type VPINMetrics struct {
	VPIN       float64 `json:"vpin"`
	Toxicity   float64 `json:"toxicity"`
	BuyVolume  float64 `json:"buyVolume"`
	SellVolume float64 `json:"sellVolume"`
	Imbalance  float64 `json:"imbalance"`
}

// PriceImpactMetrics is the Kyle's lambda snapshot
type PriceImpactMetrics struct {
	Lambda           float64 `json:"lambda"`
	PermanentImpact  float64 `json:"permanentImpact"`
	TransientImpact  float64 `json:"transientImpact"`
	AdverseSelection float64 `json:"adverseSelection"`
}

// MicrostructureSnapshot groups the microstructure outputs for one tick
type MicrostructureSnapshot struct {
	Symbol             string              `json:"symbol"`
	Timestamp          int64               `json:"timestamp"`
	Classification     TradeClassification `json:"classification"`
	VPIN               VPINMetrics         `json:"vpin"`
	Impact             PriceImpactMetrics  `json:"impact"`
	OrderFlowImbalance float64             `json:"orderFlowImbalance"`
	RollSpread         float64             `json:"rollSpread"`
	RealizedVolatility float64             `json:"realizedVolatility"`
}

// OrderFlowSignal is the order flow engine snapshot
type OrderFlowSignal struct {
	Symbol      string  `json:"symbol"`
	Imbalance   float64 `json:"imbalance"`
	BidPressure float64 `json:"bidPressure"`
	AskPressure float64 `json:"askPressure"`
	Aggression  float64 `json:"aggression"`
	VolumeDelta float64 `json:"volumeDelta"`
	Toxicity    float64 `json:"toxicity"`
	IsToxic     bool    `json:"isToxic"`
	Direction   string  `json:"direction"`
	Timestamp   int64   `json:"timestamp"`
}

// RegimeWeights are the adaptive signal weights for a regime
type RegimeWeights struct {
	Momentum      float64 `json:"momentum"`
	MeanReversion float64 `json:"meanReversion"`
	Breakout      float64 `json:"breakout"`
	VolatilityAdj float64 `json:"volatilityAdjust"`
}

// RegimeSnapshot is the regime detector snapshot
type RegimeSnapshot struct {
	Symbol                string        `json:"symbol"`
	Timestamp             int64         `json:"timestamp"`
	Regime                string        `json:"regime"`
	HurstExponent         float64       `json:"hurstExponent"`
	Autocorrelation       float64       `json:"autocorrelation"`
	Volatility            float64       `json:"volatility"`
	VolatilityRegime      float64       `json:"volatilityRegime"`
	TrendStrength         float64       `json:"trendStrength"`
	Confidence            float64       `json:"confidence"`
	TransitionProbability float64       `json:"transitionProbability"`
	Weights               RegimeWeights `json:"weights"`
}

// VWAPSnapshot is the VWAP calculator snapshot
type VWAPSnapshot struct {
	Symbol           string  `json:"symbol"`
	Timestamp        int64   `json:"timestamp"`
	VWAP             float64 `json:"vwap"`
	UpperBand        float64 `json:"upperBand"`
	LowerBand        float64 `json:"lowerBand"`
	DeviationPct     float64 `json:"deviationPct"`
	PriceAboveVWAP   bool    `json:"priceAboveVwap"`
	VolumeAtVWAP     float64 `json:"volumeAtVwap"`
	PriceToVWAPRatio float64 `json:"priceToVwapRatio"`
	Signal           string  `json:"signal"`
}

// EquityCurvePoint is one point on a backtest equity curve
type EquityCurvePoint struct {
	Timestamp int64           `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Position  decimal.Decimal `json:"position"`
}

// Trade is one completed simulated round trip
type Trade struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	EntryTime   int64           `json:"entryTime"`
	ExitTime    int64           `json:"exitTime"`
	EntryPrice  decimal.Decimal `json:"entryPrice"`
	ExitPrice   decimal.Decimal `json:"exitPrice"`
	Quantity    decimal.Decimal `json:"quantity"`
	IsLong      bool            `json:"isLong"`
	PnL         decimal.Decimal `json:"pnl"`
	Commission  decimal.Decimal `json:"commission"`
	Slippage    decimal.Decimal `json:"slippage"`
	EntryReason string          `json:"entryReason"`
	ExitReason  string          `json:"exitReason"`
}

// BacktestStats is the aggregate statistics table of a backtest run
type BacktestStats struct {
	TotalPnL        float64 `json:"totalPnl"`
	TotalReturnPct  float64 `json:"totalReturnPct"`
	NumTrades       int     `json:"numTrades"`
	WinningTrades   int     `json:"winningTrades"`
	LosingTrades    int     `json:"losingTrades"`
	WinRate         float64 `json:"winRate"`
	AvgWin          float64 `json:"avgWin"`
	AvgLoss         float64 `json:"avgLoss"`
	LargestWin      float64 `json:"largestWin"`
	LargestLoss     float64 `json:"largestLoss"`
	// ProfitFactor is gross profit over gross loss, 0 when no trade lost
	ProfitFactor    float64 `json:"profitFactor"`
	// Expectancy is the mean net PnL per trade
	Expectancy      float64 `json:"expectancy"`
	SharpeRatio     float64 `json:"sharpeRatio"`
	SortinoRatio    float64 `json:"sortinoRatio"`
	MaxDrawdown     float64 `json:"maxDrawdown"`
	MaxDrawdownPct  float64 `json:"maxDrawdownPct"`
	TotalCommission float64 `json:"totalCommission"`
	TotalSlippage   float64 `json:"totalSlippage"`
}

// BacktestResult is the output of one backtest run
type BacktestResult struct {
	ID          string             `json:"id"`
	Symbol      string             `json:"symbol"`
	Config      BacktestConfig     `json:"config"`
	Trades      []Trade            `json:"trades"`
	EquityCurve []EquityCurvePoint `json:"equityCurve"`
	Stats       BacktestStats      `json:"stats"`
	FinalEquity decimal.Decimal    `json:"finalEquity"`
	StartedAt   time.Time          `json:"startedAt"`
	CompletedAt time.Time          `json:"completedAt"`
	Duration    time.Duration      `json:"duration"`
}

// WalkForwardWindow is one (train, test) partition and the backtest of its test slice
type WalkForwardWindow struct {
	Index      int             `json:"index"`
	TrainStart int             `json:"trainStart"`
	TrainEnd   int             `json:"trainEnd"`
	TestStart  int             `json:"testStart"`
	TestEnd    int             `json:"testEnd"`
	Result     *BacktestResult `json:"result"`
}

// WalkForwardResult aggregates the out-of-sample windows
type WalkForwardResult struct {
	Windows        []WalkForwardWindow `json:"windows"`
	TotalPnL       float64             `json:"totalPnl"`
	AvgSharpe      float64             `json:"avgSharpe"`
	ProfitableRate float64             `json:"profitableRate"`
}

// MonteCarloResult aggregates the shuffled runs, kept in run index order
type MonteCarloResult struct {
	Runs           []*BacktestResult `json:"runs"`
	Seeds          []int64           `json:"seeds"`
	MeanPnL        float64           `json:"meanPnl"`
	MedianPnL      float64           `json:"medianPnl"`
	P5PnL          float64           `json:"p5Pnl"`
	P95PnL         float64           `json:"p95Pnl"`
	WorstDrawdown  float64           `json:"worstDrawdown"`
	ProfitableRate float64           `json:"profitableRate"`
}

// Composite signal labels produced by the per-symbol system
const (
	CompositeStrongBuy   = "STRONG_BUY"
	CompositeStrongSell  = "STRONG_SELL"
	CompositeBuy         = "BUY"
	CompositeSell        = "SELL"
	CompositeWaitToxic   = "WAIT_TOXIC"
	CompositeWaitSqueeze = "WAIT_SQUEEZE"
	CompositeNeutral     = "NEUTRAL"
)

// CompositeSignal is the per-symbol decision combining the estimator outputs
type CompositeSignal struct {
	Symbol     string  `json:"symbol"`
	Timestamp  int64   `json:"timestamp"`
	Price      float64 `json:"price"`
	Signal     string  `json:"signal"`
	Score      float64 `json:"score"`
	Regime     string  `json:"regime"`
	Toxicity   float64 `json:"toxicity"`
	BandSignal string  `json:"bandSignal"`
	PercentB   float64 `json:"percentB"`
	Squeeze    bool    `json:"squeeze"`
}

// SymbolSnapshot groups every output produced for one tick of one symbol.
// Pointer fields are nil until the owning estimator has warmed up.
type SymbolSnapshot struct {
	Symbol         string                 `json:"symbol"`
	Timestamp      int64                  `json:"timestamp"`
	Price          float64                `json:"price"`
	Alpha          *AlphaSignal           `json:"alpha,omitempty"`
	Microstructure MicrostructureSnapshot `json:"microstructure"`
	OrderFlow      OrderFlowSignal        `json:"orderFlow"`
	Regime         *RegimeSnapshot        `json:"regime,omitempty"`
	VWAP           *VWAPSnapshot          `json:"vwap,omitempty"`
	Composite      CompositeSignal        `json:"composite"`
}
