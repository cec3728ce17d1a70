package feed

import (
	"math/rand"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// SyntheticConfig drives the seeded random-walk tick generator
type SyntheticConfig struct {
	Symbol     string
	Count      int
	StartPrice float64
	StartMs    int64
	StepMs     int64
	Seed       int64
}

// DefaultSyntheticConfig returns a 1000 tick walk starting at 280 with one tick per second
func DefaultSyntheticConfig(symbol string) SyntheticConfig {
	return SyntheticConfig{
		Symbol:     symbol,
		Count:      1000,
		StartPrice: 280,
		StartMs:    1000,
		StepMs:     1000,
		Seed:       1,
	}
}

// GenerateTicks produces a deterministic random walk with a slight upward drift.
// Each step moves the price by a factor in [-0.95%, +1.04%] and volume is in [1000, 1500).
func GenerateTicks(cfg SyntheticConfig) []types.Tick {
	if cfg.Count <= 0 {
		return nil
	}
	if cfg.StepMs <= 0 {
		cfg.StepMs = 1000
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 280
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	ticks := make([]types.Tick, cfg.Count)
	price := cfg.StartPrice
	for i := range ticks {
		price *= 1 + float64(rng.Intn(200)-95)/10000
		ticks[i] = types.Tick{
			Symbol:    cfg.Symbol,
			Price:     price,
			Volume:    1000 + float64(rng.Intn(500)),
			Timestamp: cfg.StartMs + int64(i)*cfg.StepMs,
		}
	}
	return ticks
}
