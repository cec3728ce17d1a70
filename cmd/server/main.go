// Package main provides the entry point for the alpha engine server.
// It wires live tick sources through the per-symbol analytics dispatcher into the configured
// sinks, and serves snapshots and backtest runs over HTTP/WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/alpha-engine/internal/api"
	"github.com/atlas-desktop/alpha-engine/internal/backtester"
	"github.com/atlas-desktop/alpha-engine/internal/config"
	"github.com/atlas-desktop/alpha-engine/internal/dispatcher"
	"github.com/atlas-desktop/alpha-engine/internal/events"
	"github.com/atlas-desktop/alpha-engine/internal/feed"
	"github.com/atlas-desktop/alpha-engine/internal/sink"
	"github.com/atlas-desktop/alpha-engine/internal/strategy"
	"github.com/atlas-desktop/alpha-engine/internal/workers"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (ALPHA_* env vars override it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	defer logger.Sync()

	logger.Info("Starting Alpha Engine",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("dataDir", cfg.Storage.DataDir),
		zap.Bool("binance", cfg.Feeds.Binance.Enabled),
		zap.Bool("kafka", cfg.Feeds.Kafka.Enabled),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sink.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Sinks
	sinks := []sink.Sink{promSink}
	if cfg.ClickHouse.Enabled {
		ch, err := sink.NewClickHouseSink(ctx, logger, cfg.ClickHouseSinkConfig())
		if err != nil {
			logger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
		}
		sinks = append(sinks, ch)
	}
	if cfg.Redis.Enabled {
		rs, err := sink.NewRedisSink(ctx, logger, cfg.RedisSinkConfig())
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		sinks = append(sinks, rs)
	}
	out := sink.NewMulti(sinks...)

	// Event bus with a single worker so subscribers see events in publish order
	bus := events.NewEventBus(logger, events.EventBusConfig{NumWorkers: 1, BufferSize: cfg.Feeds.BufferSize})

	// Worker pool for Monte Carlo runs
	pool := workers.NewPool(logger, cfg.PoolConfig("backtest"))
	pool.Start()

	// Live analytics
	disp, err := dispatcher.New(logger, cfg.DispatcherConfig(), out, bus)
	if err != nil {
		logger.Fatal("Failed to create dispatcher", zap.Error(err))
	}
	if err := disp.Start(); err != nil {
		logger.Fatal("Failed to start dispatcher", zap.Error(err))
	}
	registerRuntimeGauges(registry, disp, pool)

	store, err := feed.NewStore(logger, cfg.Storage.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize tick store", zap.Error(err))
	}

	// Backtesting
	btConfig := cfg.BacktestConfig()
	engine, err := backtester.NewEngine(logger, btConfig,
		backtester.WithExecutionModel(backtester.NewExecutionModel(cfg.Backtest.ExecutionModel, btConfig, cfg.Backtest.ImpactFactor)),
		backtester.WithPool(pool),
	)
	if err != nil {
		logger.Fatal("Failed to create backtester", zap.Error(err))
	}
	strategies := strategy.NewStrategyRegistry(logger)
	logger.Info("Registered strategies", zap.Strings("strategies", strategies.List()))

	server, err := api.NewServer(logger, cfg.APIConfig(), api.Dependencies{
		Dispatcher: disp,
		Store:      store,
		Backtester: engine,
		Strategies: strategies,
		Pool:       pool,
		Sink:       out,
		Bus:        bus,
		Gatherer:   registry,
	})
	if err != nil {
		logger.Fatal("Failed to create API server", zap.Error(err))
	}

	// Tick pipeline: sources -> [recorder] -> dispatcher
	sources, err := buildSources(logger, cfg)
	if err != nil {
		logger.Fatal("Failed to create tick sources", zap.Error(err))
	}

	ticks := make(chan types.Tick, cfg.Feeds.BufferSize)
	var pipeline sync.WaitGroup

	sourceOut := ticks
	var recorder *feed.Recorder
	if cfg.Storage.RecordTicks {
		recorder = feed.NewRecorder(logger, store)
		raw := make(chan types.Tick, cfg.Feeds.BufferSize)
		sourceOut = raw
		pipeline.Add(1)
		go func() {
			defer pipeline.Done()
			if err := recorder.Tee(ctx, raw, ticks, cfg.Storage.FlushInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Tick recorder stopped", zap.Error(err))
			}
		}()
	}

	for _, src := range sources {
		pipeline.Add(1)
		go func(src feed.Source) {
			defer pipeline.Done()
			logger.Info("Starting tick source", zap.String("source", src.Name()))
			if err := src.Run(ctx, sourceOut); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Tick source stopped", zap.String("source", src.Name()), zap.Error(err))
			}
		}(src)
	}

	pipeline.Add(1)
	go func() {
		defer pipeline.Done()
		if err := disp.Consume(ctx, ticks); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Dispatcher consumer stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("Server started successfully",
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)),
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.Int("sources", len(sources)),
		zap.Int("sinks", len(out)),
	)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	pipeline.Wait()
	disp.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	bus.Stop()
	if err := pool.Stop(); err != nil {
		logger.Error("Error stopping worker pool", zap.Error(err))
	}
	if err := out.Close(); err != nil {
		logger.Error("Error closing sinks", zap.Error(err))
	}

	stats := disp.Stats()
	logger.Info("Server stopped",
		zap.Int64("ticksProcessed", stats.Processed),
		zap.Int64("candles", stats.Candles),
		zap.Int64("signals", stats.Signals),
	)
}

func buildSources(logger *zap.Logger, cfg *config.Config) ([]feed.Source, error) {
	var sources []feed.Source
	if cfg.Feeds.Binance.Enabled {
		src, err := feed.NewBinanceSource(logger, cfg.BinanceConfig())
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if cfg.Feeds.Kafka.Enabled {
		src, err := feed.NewKafkaSource(logger, cfg.KafkaConfig())
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// registerRuntimeGauges exposes dispatcher and worker pool counters to the scrape endpoint
func registerRuntimeGauges(reg prometheus.Registerer, disp *dispatcher.Dispatcher, pool *workers.Pool) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "alpha_dispatcher_queue_depth",
			Help: "Ticks queued across dispatcher shards",
		}, func() float64 { return float64(disp.Stats().QueueDepth) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "alpha_dispatcher_symbols",
			Help: "Symbols tracked by the dispatcher",
		}, func() float64 { return float64(disp.Stats().Symbols) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "alpha_sink_errors_total",
			Help: "Failed sink writes",
		}, func() float64 { return float64(disp.Stats().SinkErrors) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "alpha_worker_queue_length",
			Help: "Tasks waiting in the backtest worker pool",
		}, func() float64 { return float64(pool.QueueLength()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "alpha_worker_tasks_completed_total",
			Help: "Tasks completed by the backtest worker pool",
		}, func() float64 { return float64(pool.Stats().TasksCompleted) }),
	)
}

func setupLogger(level, encoding string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encodeLevel := zapcore.CapitalColorLevelEncoder
	if encoding == "json" {
		encodeLevel = zapcore.LowercaseLevelEncoder
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
