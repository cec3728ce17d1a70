package vwap

import (
	"math"
	"sort"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// Compute returns ΣPV/ΣV over ticks, 0 without volume
func Compute(ticks []types.Tick) float64 {
	var pv, v float64
	for _, t := range ticks {
		pv += t.Price * t.Volume
		v += t.Volume
	}
	if v <= 0 {
		return 0
	}
	return pv / v
}

// InPeriod computes VWAP over ticks whose timestamp lies in [start, end] milliseconds.
func InPeriod(ticks []types.Tick, start, end int64) float64 {
	var pv, v float64
	for _, t := range ticks {
		if t.Timestamp >= start && t.Timestamp <= end {
			pv += t.Price * t.Volume
			v += t.Volume
		}
	}
	if v <= 0 {
		return 0
	}
	return pv / v
}

// VolumeProfile splits volume around VWAP and by price level
type VolumeProfile struct {
	VolumeAbove    float64       `json:"volumeAbove"`
	VolumeAt       float64       `json:"volumeAt"`
	VolumeBelow    float64       `json:"volumeBelow"`
	Levels         []PriceVolume `json:"levels"`
	PointOfControl float64       `json:"pointOfControl"`
	ValueAreaLow   float64       `json:"valueAreaLow"`
	ValueAreaHigh  float64       `json:"valueAreaHigh"`
}

// PriceVolume is the traded volume at one price level
type PriceVolume struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

const (
	profileTolerance = 0.001 // 0.1% of VWAP
	valueAreaShare   = 0.70
)

// Profile builds the volume profile of ticks relative to vwap.
// Prices within 0.1% of VWAP count as at-VWAP; levels are bucketed at the same 0.1% granularity.
func Profile(ticks []types.Tick, vwap float64) VolumeProfile {
	var p VolumeProfile
	if vwap <= 0 || len(ticks) == 0 {
		return p
	}
	tol := vwap * profileTolerance

	byLevel := make(map[int64]float64)
	for _, t := range ticks {
		switch {
		case t.Price > vwap+tol:
			p.VolumeAbove += t.Volume
		case t.Price < vwap-tol:
			p.VolumeBelow += t.Volume
		default:
			p.VolumeAt += t.Volume
		}
		byLevel[int64(math.Round(t.Price/tol))] += t.Volume
	}

	p.Levels = make([]PriceVolume, 0, len(byLevel))
	total := 0.0
	for k, v := range byLevel {
		p.Levels = append(p.Levels, PriceVolume{Price: float64(k) * tol, Volume: v})
		total += v
	}
	sort.Slice(p.Levels, func(i, j int) bool { return p.Levels[i].Price < p.Levels[j].Price })

	poc := 0
	for i, l := range p.Levels {
		if l.Volume > p.Levels[poc].Volume {
			poc = i
		}
	}
	p.PointOfControl = p.Levels[poc].Price

	// grow the value area from the point of control toward the heavier neighbour
	lo, hi := poc, poc
	covered := p.Levels[poc].Volume
	for covered < total*valueAreaShare && (lo > 0 || hi < len(p.Levels)-1) {
		below, above := -1.0, -1.0
		if lo > 0 {
			below = p.Levels[lo-1].Volume
		}
		if hi < len(p.Levels)-1 {
			above = p.Levels[hi+1].Volume
		}
		if above >= below {
			hi++
			covered += above
		} else {
			lo--
			covered += below
		}
	}
	p.ValueAreaLow = p.Levels[lo].Price
	p.ValueAreaHigh = p.Levels[hi].Price
	return p
}
