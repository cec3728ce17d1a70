// Package indicators provides closed-form technical indicators over price and volume series.
// Every function returns a documented neutral value when the series is too short.
package indicators

import (
	"github.com/atlas-desktop/alpha-engine/pkg/utils"
)

// DefaultSqueezeThreshold is the bandwidth below which bands are considered squeezed.
const DefaultSqueezeThreshold = 0.05

// Bands is a Bollinger band triple.
type Bands struct {
	Middle float64 `json:"middle"`
	Upper  float64 `json:"upper"`
	Lower  float64 `json:"lower"`
}

// Mean returns the arithmetic mean of data.
func Mean(data []float64) float64 {
	return utils.Mean(data)
}

// StdDev returns the sample (n−1) standard deviation of data around mean.
func StdDev(data []float64, mean float64) float64 {
	if len(data) < 2 {
		return 0
	}
	variance := 0.0
	for _, v := range data {
		variance += (v - mean) * (v - mean)
	}
	return sqrt(variance / float64(len(data)-1))
}

// Bollinger returns mean ± mult·σ over the last period closes, or zero bands if there are fewer.
func Bollinger(closes []float64, period int, mult float64) Bands {
	if period <= 0 || len(closes) < period {
		return Bands{}
	}
	window := closes[len(closes)-period:]
	mean := Mean(window)
	sd := StdDev(window, mean)
	return Bands{
		Middle: mean,
		Upper:  mean + mult*sd,
		Lower:  mean - mult*sd,
	}
}

// PercentB returns the position of price within the bands, clamped to [0,1]. 0.5 when the bands collapse.
func PercentB(price float64, b Bands) float64 {
	if b.Upper == b.Lower {
		return 0.5
	}
	return utils.Clamp((price-b.Lower)/(b.Upper-b.Lower), 0, 1)
}

// Bandwidth returns (upper−lower)/middle, or 0 when middle is 0.
func Bandwidth(b Bands) float64 {
	if b.Middle == 0 {
		return 0
	}
	return (b.Upper - b.Lower) / b.Middle
}

// IsSqueeze reports whether the bandwidth of the current bands is below threshold.
func IsSqueeze(closes []float64, period int, mult, threshold float64) bool {
	if len(closes) < period {
		return false
	}
	return Bandwidth(Bollinger(closes, period, mult)) < threshold
}

// Breakout classifies the latest close relative to the bands.
type Breakout string

const (
	BreakoutNone           Breakout = "NONE"
	BreakoutBullish        Breakout = "BULLISH_BREAKOUT"
	BreakoutBearish        Breakout = "BEARISH_BREAKOUT"
	BreakoutSqueezeBullish Breakout = "SQUEEZE_BULLISH"
	BreakoutSqueezeBearish Breakout = "SQUEEZE_BEARISH"
)

// DetectBreakout returns a band breakout, or a squeeze with a 5-bar momentum bias beyond ±0.1%.
func DetectBreakout(closes []float64, period int, mult float64) Breakout {
	if len(closes) < period+1 {
		return BreakoutNone
	}
	b := Bollinger(closes, period, mult)
	price := closes[len(closes)-1]

	switch {
	case price > b.Upper:
		return BreakoutBullish
	case price < b.Lower:
		return BreakoutBearish
	case Bandwidth(b) < DefaultSqueezeThreshold && len(closes) >= 5:
		momentum := price/closes[len(closes)-5] - 1
		if momentum > 0.001 {
			return BreakoutSqueezeBullish
		}
		if momentum < -0.001 {
			return BreakoutSqueezeBearish
		}
	}
	return BreakoutNone
}

// AdaptiveBands are the current bands plus whether they widened versus five bars ago.
type AdaptiveBands struct {
	Bands
	Bandwidth   float64 `json:"bandwidth"`
	IsExpanding bool    `json:"isExpanding"`
}

// AdaptiveBollinger needs period+10 closes and compares bandwidth against the bands without the last 5 closes.
func AdaptiveBollinger(closes []float64, period int, mult float64) AdaptiveBands {
	if len(closes) < period+10 {
		return AdaptiveBands{}
	}
	current := Bollinger(closes, period, mult)
	previous := Bollinger(closes[:len(closes)-5], period, mult)
	bw := Bandwidth(current)
	return AdaptiveBands{
		Bands:       current,
		Bandwidth:   bw,
		IsExpanding: bw > Bandwidth(previous),
	}
}
