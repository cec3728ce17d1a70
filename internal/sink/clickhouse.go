package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/atlas-desktop/alpha-engine/pkg/utils"
)

// ClickHouseConfig configures the ClickHouse sink
type ClickHouseConfig struct {
	Host          string
	Port          int
	Database      string
	User          string
	Password      string
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	MaxOpenConns  int
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultClickHouseConfig returns the default sink settings
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Host:          "localhost",
		Port:          9000,
		Database:      "default",
		User:          "default",
		DialTimeout:   5 * time.Second,
		ReadTimeout:   10 * time.Second,
		MaxOpenConns:  4,
		QueueSize:     50000,
		BatchSize:     2000,
		FlushInterval: time.Second,
	}
}

// DSN builds the clickhouse-go connection string
func (c ClickHouseConfig) DSN() string {
	dsn := fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
	var params []string
	if c.DialTimeout > 0 {
		params = append(params, "dial_timeout="+c.DialTimeout.String())
	}
	if c.ReadTimeout > 0 {
		params = append(params, "read_timeout="+c.ReadTimeout.String())
	}
	if len(params) > 0 {
		dsn += "?" + strings.Join(params, "&")
	}
	return dsn
}

const (
	tableSnapshots = "alpha_snapshots"
	tableCandles   = "alpha_candles"
	tableBacktests = "alpha_backtests"
)

var tableColumns = map[string][]string{
	tableSnapshots: {
		"ts", "symbol", "price", "momentum", "mean_rev_z", "vpin", "toxicity",
		"order_flow_imbalance", "regime", "hurst", "vwap", "composite", "score",
	},
	tableCandles: {
		"start_time", "end_time", "symbol", "open", "high", "low", "close", "volume",
		"momentum", "mean_rev_z",
	},
	tableBacktests: {
		"id", "symbol", "started_at", "duration_ms", "num_trades", "total_pnl",
		"total_return_pct", "sharpe", "sortino", "max_drawdown_pct", "win_rate", "final_equity",
	},
}

// SchemaStatements returns the idempotent DDL for the sink tables
func SchemaStatements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + tableSnapshots + ` (
			ts DateTime64(3), symbol LowCardinality(String), price Float64,
			momentum Float64, mean_rev_z Float64, vpin Float64, toxicity Float64,
			order_flow_imbalance Float64, regime LowCardinality(String), hurst Float64,
			vwap Float64, composite LowCardinality(String), score Float64
		) ENGINE = MergeTree ORDER BY (symbol, ts)`,
		`CREATE TABLE IF NOT EXISTS ` + tableCandles + ` (
			start_time DateTime64(3), end_time DateTime64(3), symbol LowCardinality(String),
			open Float64, high Float64, low Float64, close Float64, volume Float64,
			momentum Float64, mean_rev_z Float64
		) ENGINE = MergeTree ORDER BY (symbol, start_time)`,
		`CREATE TABLE IF NOT EXISTS ` + tableBacktests + ` (
			id String, symbol LowCardinality(String), started_at DateTime64(3), duration_ms Int64,
			num_trades Int64, total_pnl Float64, total_return_pct Float64, sharpe Float64,
			sortino Float64, max_drawdown_pct Float64, win_rate Float64, final_equity String
		) ENGINE = MergeTree ORDER BY (symbol, started_at)`,
	}
}

type record struct {
	table string
	args  []any
}

// ClickHouseSink batches rows in memory and writes them with multi-row INSERTs.
// Writes never block the caller; a full queue drops the row and returns ErrQueueFull.
type ClickHouseSink struct {
	logger *zap.Logger
	db     *sql.DB
	config ClickHouseConfig

	queue     chan record
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewClickHouseSink connects, creates the schema and starts the flusher
func NewClickHouseSink(ctx context.Context, logger *zap.Logger, config ClickHouseConfig) (*ClickHouseSink, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("clickhouse host is required")
	}
	db, err := sql.Open("clickhouse", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	_, err = utils.Retry(ctx, utils.DefaultRetryConfig(), func(ctx context.Context) (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	for _, stmt := range SchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return NewClickHouseSinkWithDB(logger, db, config), nil
}

// NewClickHouseSinkWithDB wraps an already opened database handle
func NewClickHouseSinkWithDB(logger *zap.Logger, db *sql.DB, config ClickHouseConfig) *ClickHouseSink {
	if config.QueueSize <= 0 {
		config.QueueSize = 50000
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 2000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}

	s := &ClickHouseSink{
		logger: logger.Named("clickhouse"),
		db:     db,
		config: config,
		queue:  make(chan record, config.QueueSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flushLoop()
	return s
}

func (s *ClickHouseSink) WriteSnapshot(_ context.Context, snap types.SymbolSnapshot) error {
	var momentum, meanRevZ, hurst, vwap float64
	regime := ""
	if snap.Alpha != nil {
		momentum, meanRevZ = snap.Alpha.Momentum, snap.Alpha.MeanRevZ
	}
	if snap.Regime != nil {
		regime, hurst = snap.Regime.Regime, snap.Regime.HurstExponent
	}
	if snap.VWAP != nil {
		vwap = snap.VWAP.VWAP
	}
	return s.enqueue(tableSnapshots,
		time.UnixMilli(snap.Timestamp), snap.Symbol, snap.Price,
		momentum, meanRevZ, snap.Microstructure.VPIN.VPIN, snap.Microstructure.VPIN.Toxicity,
		snap.Microstructure.OrderFlowImbalance, regime, hurst, vwap,
		snap.Composite.Signal, snap.Composite.Score)
}

func (s *ClickHouseSink) WriteCandle(_ context.Context, c types.Candle, alpha *types.AlphaSignal) error {
	var momentum, meanRevZ float64
	if alpha != nil {
		momentum, meanRevZ = alpha.Momentum, alpha.MeanRevZ
	}
	return s.enqueue(tableCandles,
		c.StartTime, c.EndTime, c.Symbol, c.Open, c.High, c.Low, c.Close, c.Volume,
		momentum, meanRevZ)
}

func (s *ClickHouseSink) WriteBacktest(_ context.Context, r *types.BacktestResult) error {
	if r == nil {
		return nil
	}
	return s.enqueue(tableBacktests,
		r.ID, r.Symbol, r.StartedAt, r.Duration.Milliseconds(), int64(r.Stats.NumTrades),
		r.Stats.TotalPnL, r.Stats.TotalReturnPct, r.Stats.SharpeRatio, r.Stats.SortinoRatio,
		r.Stats.MaxDrawdownPct, r.Stats.WinRate, r.FinalEquity.String())
}

func (s *ClickHouseSink) enqueue(table string, args ...any) error {
	select {
	case <-s.done:
		return fmt.Errorf("clickhouse sink closed")
	default:
	}
	select {
	case s.queue <- record{table: table, args: args}:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

func (s *ClickHouseSink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	pending := make(map[string][][]any)
	count := 0
	flush := func() {
		if count == 0 {
			return
		}
		for table, rows := range pending {
			s.insert(table, rows)
		}
		pending = make(map[string][][]any)
		count = 0
	}

	for {
		select {
		case rec := <-s.queue:
			pending[rec.table] = append(pending[rec.table], rec.args)
			count++
			if count >= s.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			for {
				select {
				case rec := <-s.queue:
					pending[rec.table] = append(pending[rec.table], rec.args)
					count++
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *ClickHouseSink) insert(table string, rows [][]any) {
	columns := tableColumns[table]
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	for start := 0; start < len(rows); start += s.config.BatchSize {
		end := min(start+s.config.BatchSize, len(rows))

		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*len(columns))
		for _, row := range rows[start:end] {
			values = append(values, placeholder)
			args = append(args, row...)
		}

		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			table, strings.Join(columns, ", "), strings.Join(values, ","))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := s.db.ExecContext(ctx, q, args...)
		cancel()
		if err != nil {
			s.failed.Add(int64(end - start))
			s.logger.Error("ClickHouse insert failed",
				zap.String("table", table),
				zap.Int("rows", end-start),
				zap.Error(err))
			continue
		}
		s.written.Add(int64(end - start))
	}
}

// Stats returns rows written, dropped on a full queue and lost to insert failures
func (s *ClickHouseSink) Stats() (written, dropped, failed int64) {
	return s.written.Load(), s.dropped.Load(), s.failed.Load()
}

// Close flushes queued rows and closes the database handle
func (s *ClickHouseSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.db.Close()
		written, dropped, failed := s.Stats()
		s.logger.Info("ClickHouse sink closed",
			zap.Int64("written", written),
			zap.Int64("dropped", dropped),
			zap.Int64("failed", failed))
	})
	return err
}
