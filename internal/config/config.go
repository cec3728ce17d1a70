// Package config loads the service configuration. Struct defaults are applied first, then an
// optional YAML file, then ALPHA_* environment variables, and the result is validated.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/alpha-engine/internal/alpha"
	"github.com/atlas-desktop/alpha-engine/internal/dispatcher"
	"github.com/atlas-desktop/alpha-engine/internal/feed"
	"github.com/atlas-desktop/alpha-engine/internal/microstructure"
	"github.com/atlas-desktop/alpha-engine/internal/orderflow"
	"github.com/atlas-desktop/alpha-engine/internal/regime"
	"github.com/atlas-desktop/alpha-engine/internal/sink"
	"github.com/atlas-desktop/alpha-engine/internal/vwap"
	"github.com/atlas-desktop/alpha-engine/internal/workers"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// ErrInvalid wraps every configuration validation failure
var ErrInvalid = errors.New("config: invalid")

// EnvPrefix is the prefix of environment overrides, e.g. ALPHA_SERVER_PORT
const EnvPrefix = "ALPHA"

// Config is the root configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Feeds      FeedsConfig      `mapstructure:"feeds"`
	Storage    StorageConfig    `mapstructure:"storage"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Backtest   BacktestConfig   `mapstructure:"backtest"`
	Workers    WorkersConfig    `mapstructure:"workers"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host" default:"0.0.0.0"`
	Port            int           `mapstructure:"port" default:"8080" validate:"min=1,max=65535"`
	WebSocketPath   string        `mapstructure:"websocketPath" default:"/ws" validate:"startswith=/"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout" default:"15s" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout" default:"60s" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" default:"10s" validate:"gt=0"`
	BacktestTimeout time.Duration `mapstructure:"backtestTimeout" default:"2m" validate:"gt=0"`
	MaxBacktestRuns int           `mapstructure:"maxBacktestRuns" default:"1000" validate:"min=1"`
	MaxTicks        int           `mapstructure:"maxTicks" default:"1000000" validate:"min=1"`
	EnableMetrics   bool          `mapstructure:"enableMetrics" default:"true"`
	CORSOrigins     []string      `mapstructure:"corsOrigins" default:"[\"*\"]"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	Encoding string `mapstructure:"encoding" default:"console" validate:"oneof=console json"`
}

type FeedsConfig struct {
	Binance BinanceFeedConfig `mapstructure:"binance"`
	Kafka   KafkaFeedConfig   `mapstructure:"kafka"`
	// BufferSize is the capacity of the channel between the sources and the dispatcher
	BufferSize int `mapstructure:"bufferSize" default:"10000" validate:"min=1"`
}

type BinanceFeedConfig struct {
	Enabled             bool          `mapstructure:"enabled" default:"true"`
	URL                 string        `mapstructure:"url" default:"wss://stream.binance.us:9443/stream" validate:"required_if=Enabled true"`
	Symbols             []string      `mapstructure:"symbols" default:"[\"BTCUSDT\",\"ETHUSDT\",\"SOLUSDT\"]" validate:"required_if=Enabled true"`
	HandshakeTimeout    time.Duration `mapstructure:"handshakeTimeout" default:"10s"`
	ReadTimeout         time.Duration `mapstructure:"readTimeout" default:"30s"`
	PingInterval        time.Duration `mapstructure:"pingInterval" default:"15s"`
	InitialBackoff      time.Duration `mapstructure:"initialBackoff" default:"1s"`
	MaxBackoff          time.Duration `mapstructure:"maxBackoff" default:"30s"`
	ReconnectsPerMinute int           `mapstructure:"reconnectsPerMinute" default:"6" validate:"min=1"`
}

type KafkaFeedConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic    string   `mapstructure:"topic" default:"market.ticks"`
	GroupID  string   `mapstructure:"groupId" default:"alpha-engine"`
	MinBytes int      `mapstructure:"minBytes" default:"10000"`
	MaxBytes int      `mapstructure:"maxBytes" default:"10000000"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"dataDir" default:"./data" validate:"required"`
	// RecordTicks appends live ticks to the tick store so they can be backtested later
	RecordTicks   bool          `mapstructure:"recordTicks"`
	FlushInterval time.Duration `mapstructure:"flushInterval" default:"30s" validate:"gt=0"`
}

type ClickHouseConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host" default:"localhost" validate:"required_if=Enabled true"`
	Port          int           `mapstructure:"port" default:"9000"`
	Database      string        `mapstructure:"database" default:"default"`
	User          string        `mapstructure:"user" default:"default"`
	Password      string        `mapstructure:"password"`
	QueueSize     int           `mapstructure:"queueSize" default:"50000" validate:"min=1"`
	BatchSize     int           `mapstructure:"batchSize" default:"2000" validate:"min=1"`
	FlushInterval time.Duration `mapstructure:"flushInterval" default:"1s" validate:"gt=0"`
}

type RedisConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Addr             string        `mapstructure:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	PoolSize         int           `mapstructure:"poolSize" default:"10"`
	Prefix           string        `mapstructure:"prefix" default:"alpha"`
	TTL              time.Duration `mapstructure:"ttl" default:"10m"`
	SnapshotInterval time.Duration `mapstructure:"snapshotInterval" default:"250ms"`
}

type DispatcherConfig struct {
	Shards      int           `mapstructure:"shards" default:"4" validate:"min=1"`
	QueueSize   int           `mapstructure:"queueSize" default:"4096" validate:"min=1"`
	SinkTimeout time.Duration `mapstructure:"sinkTimeout" default:"2s" validate:"gt=0"`
}

// AnalyticsConfig holds the per-symbol estimator settings
type AnalyticsConfig struct {
	WindowSize        int           `mapstructure:"windowSize" default:"20" validate:"min=2"`
	Timeframe         string        `mapstructure:"timeframe" default:"1m"`
	CandleInterval    time.Duration `mapstructure:"candleInterval" default:"1m" validate:"gt=0"`
	BollingerPeriod   int           `mapstructure:"bollingerPeriod" default:"20" validate:"min=2"`
	BollingerMult     float64       `mapstructure:"bollingerMult" default:"2" validate:"gt=0"`
	RSIPeriod         int           `mapstructure:"rsiPeriod" default:"14" validate:"min=1"`
	VPINBucketSize    float64       `mapstructure:"vpinBucketSize" default:"50" validate:"gt=0"`
	VPINWindow        int           `mapstructure:"vpinWindow" default:"50" validate:"min=1"`
	ImpactWindow      int           `mapstructure:"impactWindow" default:"100" validate:"min=2"`
	ImbalanceWindow   int           `mapstructure:"imbalanceWindow" default:"100" validate:"min=1"`
	ToxicityThreshold float64       `mapstructure:"toxicityThreshold" default:"0.7" validate:"gte=0,lte=1"`
	RegimeWindow      int           `mapstructure:"regimeWindow" default:"100" validate:"min=10"`
	HurstLag          int           `mapstructure:"hurstLag" default:"20" validate:"min=2"`
	VWAPRollingWindow int           `mapstructure:"vwapRollingWindow" validate:"min=0"`
	VWAPBandMult      float64       `mapstructure:"vwapBandMult" default:"2" validate:"gte=0"`
}

type BacktestConfig struct {
	InitialCapital      float64 `mapstructure:"initialCapital" default:"10000" validate:"gt=0"`
	CommissionRate      float64 `mapstructure:"commissionRate" default:"0.001" validate:"gte=0"`
	SlippageBps         float64 `mapstructure:"slippageBps" default:"2" validate:"gte=0"`
	LatencyMs           int     `mapstructure:"latencyMs" default:"10" validate:"gte=0"`
	MaxPositionSize     float64 `mapstructure:"maxPositionSize" default:"0.5" validate:"gt=0,lte=1"`
	EnableShortSelling  bool    `mapstructure:"enableShortSelling" default:"true"`
	EnableMarginTrading bool    `mapstructure:"enableMarginTrading"`
	MarginRequirement   float64 `mapstructure:"marginRequirement" default:"0.5" validate:"gt=0"`
	PeriodsPerYear      int     `mapstructure:"periodsPerYear" default:"252" validate:"min=1"`
	RiskFreeRate        float64 `mapstructure:"riskFreeRate"`
	ExecutionModel      string  `mapstructure:"executionModel" default:"fixed_bps" validate:"oneof=fixed_bps volume_impact"`
	ImpactFactor        float64 `mapstructure:"impactFactor" default:"0.1" validate:"gte=0"`
}

type WorkersConfig struct {
	Size      int `mapstructure:"size" default:"8" validate:"min=1"`
	QueueSize int `mapstructure:"queueSize" default:"1000" validate:"min=1"`
}

var validate = validator.New()

// Default returns the configuration with only struct defaults applied
func Default() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return cfg, nil
}

// Load builds the configuration from defaults, the optional YAML file at path and the environment
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(*cfg), "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers every leaf key so Unmarshal sees environment values for keys absent from the file
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			bindEnvs(v, field.Type, key)
			continue
		}
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Analytics.HurstLag*2 > c.Analytics.RegimeWindow {
		return fmt.Errorf("%w: analytics.hurstLag must be at most half of analytics.regimeWindow", ErrInvalid)
	}
	return nil
}

// SystemConfig maps the analytics section onto the estimator configurations
func (c *Config) SystemConfig() dispatcher.SystemConfig {
	a := c.Analytics
	sys := dispatcher.DefaultSystemConfig()

	sys.Alpha = alpha.DefaultConfig()
	sys.Alpha.WindowSize = a.WindowSize
	sys.Alpha.Timeframe = a.Timeframe
	sys.Alpha.BollingerPeriod = a.BollingerPeriod
	sys.Alpha.BollingerMult = a.BollingerMult
	sys.Alpha.RSIPeriod = a.RSIPeriod

	sys.Microstructure = microstructure.DefaultConfig()
	sys.Microstructure.BucketSize = a.VPINBucketSize
	sys.Microstructure.VPINWindow = a.VPINWindow
	sys.Microstructure.ImpactWindow = a.ImpactWindow

	sys.OrderFlow = orderflow.DefaultConfig()
	sys.OrderFlow.ImbalanceWindow = a.ImbalanceWindow
	sys.OrderFlow.ToxicityThreshold = a.ToxicityThreshold

	sys.Regime = regime.DefaultConfig()
	sys.Regime.Window = a.RegimeWindow
	sys.Regime.HurstLag = a.HurstLag

	sys.VWAP = vwap.DefaultConfig()
	sys.VWAP.RollingWindow = a.VWAPRollingWindow
	sys.VWAP.BandMultiplier = a.VWAPBandMult

	sys.BollingerPeriod = a.BollingerPeriod
	sys.BollingerMult = a.BollingerMult
	sys.CandleInterval = a.CandleInterval
	return sys
}

// DispatcherConfig returns the dispatcher settings including the estimator configuration
func (c *Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		Shards:      c.Dispatcher.Shards,
		QueueSize:   c.Dispatcher.QueueSize,
		SinkTimeout: c.Dispatcher.SinkTimeout,
		System:      c.SystemConfig(),
	}
}

// BacktestConfig converts the backtest section to the simulator configuration
func (c *Config) BacktestConfig() types.BacktestConfig {
	b := c.Backtest
	return types.BacktestConfig{
		InitialCapital:      decimal.NewFromFloat(b.InitialCapital),
		CommissionRate:      decimal.NewFromFloat(b.CommissionRate),
		SlippageBps:         decimal.NewFromFloat(b.SlippageBps),
		LatencyMs:           b.LatencyMs,
		MaxPositionSize:     decimal.NewFromFloat(b.MaxPositionSize),
		EnableShortSelling:  b.EnableShortSelling,
		EnableMarginTrading: b.EnableMarginTrading,
		MarginRequirement:   decimal.NewFromFloat(b.MarginRequirement),
		PeriodsPerYear:      b.PeriodsPerYear,
		RiskFreeRate:        b.RiskFreeRate,
	}
}

// APIConfig returns the HTTP server settings
func (c *Config) APIConfig() types.ServerConfig {
	s := c.Server
	return types.ServerConfig{
		Host:            s.Host,
		Port:            s.Port,
		WebSocketPath:   s.WebSocketPath,
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
		BacktestTimeout: s.BacktestTimeout,
		MaxBacktestRuns: s.MaxBacktestRuns,
		MaxTicks:        s.MaxTicks,
		EnableMetrics:   s.EnableMetrics,
		CORSOrigins:     s.CORSOrigins,
	}
}

// BinanceConfig returns the Binance source settings
func (c *Config) BinanceConfig() feed.BinanceConfig {
	b := c.Feeds.Binance
	return feed.BinanceConfig{
		URL:                 b.URL,
		Symbols:             b.Symbols,
		HandshakeTimeout:    b.HandshakeTimeout,
		ReadTimeout:         b.ReadTimeout,
		PingInterval:        b.PingInterval,
		InitialBackoff:      b.InitialBackoff,
		MaxBackoff:          b.MaxBackoff,
		ReconnectsPerMinute: b.ReconnectsPerMinute,
	}
}

// KafkaConfig returns the Kafka source settings
func (c *Config) KafkaConfig() feed.KafkaConfig {
	k := c.Feeds.Kafka
	return feed.KafkaConfig{
		Brokers:  k.Brokers,
		Topic:    k.Topic,
		GroupID:  k.GroupID,
		MinBytes: k.MinBytes,
		MaxBytes: k.MaxBytes,
	}
}

// ClickHouseSinkConfig returns the ClickHouse sink settings
func (c *Config) ClickHouseSinkConfig() sink.ClickHouseConfig {
	ch := c.ClickHouse
	out := sink.DefaultClickHouseConfig()
	out.Host = ch.Host
	out.Port = ch.Port
	out.Database = ch.Database
	out.User = ch.User
	out.Password = ch.Password
	out.QueueSize = ch.QueueSize
	out.BatchSize = ch.BatchSize
	out.FlushInterval = ch.FlushInterval
	return out
}

// RedisSinkConfig returns the Redis sink settings
func (c *Config) RedisSinkConfig() sink.RedisConfig {
	r := c.Redis
	return sink.RedisConfig{
		Addr:             r.Addr,
		Password:         r.Password,
		DB:               r.DB,
		PoolSize:         r.PoolSize,
		Prefix:           r.Prefix,
		TTL:              r.TTL,
		SnapshotInterval: r.SnapshotInterval,
	}
}

// PoolConfig returns the worker pool settings
func (c *Config) PoolConfig(name string) *workers.PoolConfig {
	pc := workers.DefaultPoolConfig(name)
	pc.NumWorkers = c.Workers.Size
	pc.QueueSize = c.Workers.QueueSize
	return pc
}
