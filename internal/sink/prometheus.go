package sink

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// PrometheusSink exposes the latest outputs as gauges and counts activity
type PrometheusSink struct {
	ticks      *prometheus.CounterVec
	candles    *prometheus.CounterVec
	signals    *prometheus.CounterVec
	lastPrice  *prometheus.GaugeVec
	vpin       *prometheus.GaugeVec
	momentum   *prometheus.GaugeVec
	meanRevZ   *prometheus.GaugeVec
	hurst      *prometheus.GaugeVec
	score      *prometheus.GaugeVec
	backtests  prometheus.Counter
	btSharpe   prometheus.Histogram
	btDuration prometheus.Histogram
}

// NewPrometheusSink registers the collectors with reg
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_ticks_processed_total",
			Help: "Ticks processed per symbol",
		}, []string{"symbol"}),
		candles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_candles_closed_total",
			Help: "Candles closed per symbol",
		}, []string{"symbol"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alpha_composite_signals_total",
			Help: "Composite signal classifications per symbol and label",
		}, []string{"symbol", "signal"}),
		lastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alpha_last_price",
			Help: "Last traded price",
		}, []string{"symbol"}),
		vpin: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alpha_vpin",
			Help: "Volume-synchronized probability of informed trading",
		}, []string{"symbol"}),
		momentum: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alpha_momentum",
			Help: "Rolling window momentum",
		}, []string{"symbol"}),
		meanRevZ: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alpha_mean_reversion_z",
			Help: "Rolling window mean reversion z-score",
		}, []string{"symbol"}),
		hurst: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alpha_hurst_exponent",
			Help: "Regime detector Hurst exponent",
		}, []string{"symbol"}),
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "alpha_composite_score",
			Help: "Regime weighted composite score",
		}, []string{"symbol"}),
		backtests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alpha_backtests_total",
			Help: "Completed backtest runs",
		}),
		btSharpe: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alpha_backtest_sharpe",
			Help:    "Sharpe ratio of completed backtests",
			Buckets: []float64{-3, -2, -1, -0.5, 0, 0.5, 1, 2, 3},
		}),
		btDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alpha_backtest_duration_seconds",
			Help:    "Wall time of completed backtests",
			Buckets: prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		s.ticks, s.candles, s.signals, s.lastPrice, s.vpin, s.momentum,
		s.meanRevZ, s.hurst, s.score, s.backtests, s.btSharpe, s.btDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) WriteSnapshot(_ context.Context, snap types.SymbolSnapshot) error {
	sym := snap.Symbol
	s.ticks.WithLabelValues(sym).Inc()
	s.lastPrice.WithLabelValues(sym).Set(snap.Price)
	s.vpin.WithLabelValues(sym).Set(snap.Microstructure.VPIN.VPIN)
	s.score.WithLabelValues(sym).Set(snap.Composite.Score)
	s.signals.WithLabelValues(sym, snap.Composite.Signal).Inc()
	if snap.Alpha != nil {
		s.momentum.WithLabelValues(sym).Set(snap.Alpha.Momentum)
		s.meanRevZ.WithLabelValues(sym).Set(snap.Alpha.MeanRevZ)
	}
	if snap.Regime != nil {
		s.hurst.WithLabelValues(sym).Set(snap.Regime.HurstExponent)
	}
	return nil
}

func (s *PrometheusSink) WriteCandle(_ context.Context, candle types.Candle, _ *types.AlphaSignal) error {
	s.candles.WithLabelValues(candle.Symbol).Inc()
	return nil
}

func (s *PrometheusSink) WriteBacktest(_ context.Context, r *types.BacktestResult) error {
	if r == nil {
		return nil
	}
	s.backtests.Inc()
	s.btSharpe.Observe(r.Stats.SharpeRatio)
	s.btDuration.Observe(r.Duration.Seconds())
	return nil
}

// Close is a no-op; collectors stay registered for the final scrape
func (s *PrometheusSink) Close() error { return nil }
