package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/atlas-desktop/alpha-engine/pkg/utils"
)

// RedisConfig configures the Redis sink
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
	TTL      time.Duration
	// SnapshotInterval throttles snapshot writes per symbol; zero writes every tick
	SnapshotInterval time.Duration
}

// DefaultRedisConfig returns the default sink settings
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:             "localhost:6379",
		PoolSize:         10,
		Prefix:           "alpha",
		TTL:              10 * time.Minute,
		SnapshotInterval: 250 * time.Millisecond,
	}
}

// RedisSink keeps the latest outputs per symbol under TTL keys and publishes
// composite signals and backtest summaries on pub/sub channels
type RedisSink struct {
	logger *zap.Logger
	client *redis.Client
	config RedisConfig

	mu       sync.Mutex
	throttle map[string]*rate.Sometimes
}

// NewRedisSink connects to Redis and verifies the connection
func NewRedisSink(ctx context.Context, logger *zap.Logger, config RedisConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	_, err := utils.Retry(ctx, utils.DefaultRetryConfig(), func(ctx context.Context) (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisSinkWithClient(logger, client, config), nil
}

// NewRedisSinkWithClient wraps an existing client
func NewRedisSinkWithClient(logger *zap.Logger, client *redis.Client, config RedisConfig) *RedisSink {
	if config.Prefix == "" {
		config.Prefix = "alpha"
	}
	return &RedisSink{
		logger:   logger.Named("redis"),
		client:   client,
		config:   config,
		throttle: make(map[string]*rate.Sometimes),
	}
}

// SnapshotKey is the key holding the latest snapshot of symbol
func (s *RedisSink) SnapshotKey(symbol string) string {
	return fmt.Sprintf("%s:snapshot:%s", s.config.Prefix, symbol)
}

// CandleKey is the key holding the latest closed candle of symbol
func (s *RedisSink) CandleKey(symbol string) string {
	return fmt.Sprintf("%s:candle:%s", s.config.Prefix, symbol)
}

// BacktestKey is the key holding a backtest summary
func (s *RedisSink) BacktestKey(id string) string {
	return fmt.Sprintf("%s:backtest:%s", s.config.Prefix, id)
}

// SignalChannel is the pub/sub channel for composite signals
func (s *RedisSink) SignalChannel() string {
	return s.config.Prefix + ":signals"
}

// BacktestChannel is the pub/sub channel for completed backtests
func (s *RedisSink) BacktestChannel() string {
	return s.config.Prefix + ":backtests"
}

func (s *RedisSink) sometimes(symbol string) *rate.Sometimes {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.throttle[symbol]
	if !ok {
		st = &rate.Sometimes{Interval: s.config.SnapshotInterval}
		s.throttle[symbol] = st
	}
	return st
}

func (s *RedisSink) WriteSnapshot(ctx context.Context, snap types.SymbolSnapshot) error {
	if s.config.SnapshotInterval <= 0 {
		return s.writeSnapshot(ctx, snap)
	}
	var err error
	s.sometimes(snap.Symbol).Do(func() {
		err = s.writeSnapshot(ctx, snap)
	})
	return err
}

func (s *RedisSink) writeSnapshot(ctx context.Context, snap types.SymbolSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	composite, err := json.Marshal(snap.Composite)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.SnapshotKey(snap.Symbol), payload, s.config.TTL)
	pipe.Publish(ctx, s.SignalChannel(), composite)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis snapshot: %w", err)
	}
	return nil
}

type candleRecord struct {
	types.Candle
	Alpha *types.AlphaSignal `json:"alpha,omitempty"`
}

func (s *RedisSink) WriteCandle(ctx context.Context, candle types.Candle, alpha *types.AlphaSignal) error {
	payload, err := json.Marshal(candleRecord{Candle: candle, Alpha: alpha})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.CandleKey(candle.Symbol), payload, s.config.TTL).Err(); err != nil {
		return fmt.Errorf("redis candle: %w", err)
	}
	return nil
}

type backtestSummary struct {
	ID          string              `json:"id"`
	Symbol      string              `json:"symbol"`
	Stats       types.BacktestStats `json:"stats"`
	FinalEquity string              `json:"finalEquity"`
	CompletedAt time.Time           `json:"completedAt"`
}

// WriteBacktest stores and publishes the summary only; trades and curves stay with the caller
func (s *RedisSink) WriteBacktest(ctx context.Context, r *types.BacktestResult) error {
	if r == nil {
		return nil
	}
	payload, err := json.Marshal(backtestSummary{
		ID:          r.ID,
		Symbol:      r.Symbol,
		Stats:       r.Stats,
		FinalEquity: r.FinalEquity.String(),
		CompletedAt: r.CompletedAt,
	})
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.BacktestKey(r.ID), payload, s.config.TTL)
	pipe.Publish(ctx, s.BacktestChannel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis backtest: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
