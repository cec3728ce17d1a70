// Package types provides configuration types for the alpha engine.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig represents the configuration for a backtest run.
// LatencyMs, EnableMarginTrading and MarginRequirement are carried but not enforced: the simulator
// fills at the tick price and sizes every position from cash.
type BacktestConfig struct {
	InitialCapital      decimal.Decimal `json:"initialCapital"`
	CommissionRate      decimal.Decimal `json:"commissionRate"`
	SlippageBps         decimal.Decimal `json:"slippageBps"`
	LatencyMs           int             `json:"latencyMs"`
	MaxPositionSize     decimal.Decimal `json:"maxPositionSize"`
	EnableShortSelling  bool            `json:"enableShortSelling"`
	EnableMarginTrading bool            `json:"enableMarginTrading"`
	MarginRequirement   decimal.Decimal `json:"marginRequirement"`
	PeriodsPerYear      int             `json:"periodsPerYear"`
	RiskFreeRate        float64         `json:"riskFreeRate"`
}

// DefaultBacktestConfig returns the default simulator settings
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital:      decimal.NewFromInt(10000),
		CommissionRate:      decimal.NewFromFloat(0.001),
		SlippageBps:         decimal.NewFromInt(2),
		LatencyMs:           10,
		MaxPositionSize:     decimal.NewFromFloat(0.5),
		EnableShortSelling:  true,
		EnableMarginTrading: false,
		MarginRequirement:   decimal.NewFromFloat(0.5),
		PeriodsPerYear:      252,
	}
}

// Validate rejects configurations the simulator cannot run
func (c BacktestConfig) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("initial capital must be positive, got %s", c.InitialCapital)
	}
	if c.CommissionRate.IsNegative() {
		return fmt.Errorf("commission rate must not be negative, got %s", c.CommissionRate)
	}
	if c.SlippageBps.IsNegative() {
		return fmt.Errorf("slippage bps must not be negative, got %s", c.SlippageBps)
	}
	if !c.MaxPositionSize.IsPositive() || c.MaxPositionSize.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("max position size must be in (0, 1], got %s", c.MaxPositionSize)
	}
	if c.EnableMarginTrading && !c.MarginRequirement.IsPositive() {
		return fmt.Errorf("margin requirement must be positive when margin trading is enabled")
	}
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("periods per year must be positive, got %d", c.PeriodsPerYear)
	}
	return nil
}

// ServerConfig represents API server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	WebSocketPath   string        `json:"webSocketPath"`
	ReadTimeout     time.Duration `json:"readTimeout"`
	WriteTimeout    time.Duration `json:"writeTimeout"`
	BacktestTimeout time.Duration `json:"backtestTimeout"`
	MaxBacktestRuns int           `json:"maxBacktestRuns"`
	MaxTicks        int           `json:"maxTicks"`
	EnableMetrics   bool          `json:"enableMetrics"`
	CORSOrigins     []string      `json:"corsOrigins"`
}

// DefaultServerConfig returns the API defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		WebSocketPath:   "/ws",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		BacktestTimeout: 2 * time.Minute,
		MaxBacktestRuns: 1000,
		MaxTicks:        1000000,
		EnableMetrics:   true,
		CORSOrigins:     []string{"*"},
	}
}
