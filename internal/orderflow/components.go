package orderflow

import (
	"math"
	"sort"

	"github.com/atlas-desktop/alpha-engine/internal/rolling"
	"github.com/atlas-desktop/alpha-engine/pkg/utils"
)

type flowTrade struct {
	volume float64
	isBuy  bool
}

// ImbalanceResult is the output of the imbalance accumulator
type ImbalanceResult struct {
	Imbalance   float64 `json:"imbalance"`
	BidPressure float64 `json:"bidPressure"`
	AskPressure float64 `json:"askPressure"`
	Aggression  float64 `json:"aggression"`
	Momentum    float64 `json:"momentum"`
}

// imbalanceWindow tracks buy and sell volume over the last N trades with evict-subtract sums.
type imbalanceWindow struct {
	trades  *rolling.Ring[flowTrade]
	buyVol  float64
	sellVol float64
}

func newImbalanceWindow(size int) (*imbalanceWindow, error) {
	trades, err := rolling.NewRing[flowTrade](size)
	if err != nil {
		return nil, err
	}
	return &imbalanceWindow{trades: trades}, nil
}

func (w *imbalanceWindow) add(volume float64, isBuy bool) {
	old, evicted := w.trades.Push(flowTrade{volume: volume, isBuy: isBuy})
	if isBuy {
		w.buyVol += volume
	} else {
		w.sellVol += volume
	}
	if evicted {
		if old.isBuy {
			w.buyVol -= old.volume
		} else {
			w.sellVol -= old.volume
		}
	}
}

func imbalanceOf(buy, sell float64) float64 {
	total := buy + sell
	if total < 1e-10 {
		return 0
	}
	return utils.Clamp((buy-sell)/total, -1, 1)
}

func (w *imbalanceWindow) imbalance() float64 {
	return imbalanceOf(w.buyVol, w.sellVol)
}

// aggression is the fraction of trades larger than 1.5× the median size, signed by side.
func (w *imbalanceWindow) aggression() float64 {
	n := w.trades.Len()
	if n == 0 {
		return 0
	}
	trades := w.trades.Slice()
	sizes := make([]float64, n)
	for i, t := range trades {
		sizes[i] = t.volume
	}
	sort.Float64s(sizes)
	threshold := sizes[n/2] * 1.5

	signed := 0.0
	for _, t := range trades {
		if t.volume > threshold {
			if t.isBuy {
				signed++
			} else {
				signed--
			}
		}
	}
	return signed / float64(n)
}

// momentum is the imbalance of the newer half minus the imbalance of the older half.
func (w *imbalanceWindow) momentum() float64 {
	n := w.trades.Len()
	if n < 2 {
		return 0
	}
	half := n / 2
	var oldBuy, oldSell, newBuy, newSell float64
	for i := 0; i < n; i++ {
		t := w.trades.At(i)
		switch {
		case i < half && t.isBuy:
			oldBuy += t.volume
		case i < half:
			oldSell += t.volume
		case t.isBuy:
			newBuy += t.volume
		default:
			newSell += t.volume
		}
	}
	return imbalanceOf(newBuy, newSell) - imbalanceOf(oldBuy, oldSell)
}

func (w *imbalanceWindow) result() ImbalanceResult {
	r := ImbalanceResult{
		Imbalance:   w.imbalance(),
		BidPressure: 0.5,
		AskPressure: 0.5,
		Aggression:  w.aggression(),
		Momentum:    w.momentum(),
	}
	if total := w.buyVol + w.sellVol; total > 0 {
		r.BidPressure = w.buyVol / total
		r.AskPressure = w.sellVol / total
	}
	return r
}

// PressureResult is the bid/ask pressure accumulator output
type PressureResult struct {
	BidVolume float64 `json:"bidVolume"`
	AskVolume float64 `json:"askVolume"`
	Ratio     float64 `json:"ratio"`
	Dominant  float64 `json:"dominant"` // +1 bid, -1 ask, 0 balanced
}

// pressureWindow keeps independent bounded windows of bid-side and ask-side volume.
type pressureWindow struct {
	bids *rolling.Window
	asks *rolling.Window
}

func newPressureWindow(size int) (*pressureWindow, error) {
	bids, err := rolling.NewWindow(size)
	if err != nil {
		return nil, err
	}
	asks, _ := rolling.NewWindow(size)
	return &pressureWindow{bids: bids, asks: asks}, nil
}

func (p *pressureWindow) add(volume float64, isBuy bool) {
	if isBuy {
		p.bids.Push(volume)
	} else {
		p.asks.Push(volume)
	}
}

func (p *pressureWindow) result() PressureResult {
	r := PressureResult{BidVolume: p.bids.Sum(), AskVolume: p.asks.Sum()}
	r.Ratio = imbalanceOf(r.BidVolume, r.AskVolume)
	switch {
	case r.Ratio > 0.1:
		r.Dominant = 1
	case r.Ratio < -0.1:
		r.Dominant = -1
	}
	return r
}

// aggressionScores averages (volume/avgVolume − 1), signed by side.
type aggressionScores struct {
	scores *rolling.Window
}

func newAggressionScores(size int) (*aggressionScores, error) {
	w, err := rolling.NewWindow(size)
	if err != nil {
		return nil, err
	}
	return &aggressionScores{scores: w}, nil
}

func (a *aggressionScores) add(volume, avgVolume float64, isBuy bool) {
	score := 0.0
	if avgVolume > 0 {
		score = volume/avgVolume - 1
	}
	if !isBuy {
		score = -score
	}
	a.scores.Push(score)
}

func (a *aggressionScores) value() float64 {
	return a.scores.Mean()
}

// volumeDelta tracks the cumulative and recent signed volume.
type volumeDelta struct {
	cumulative float64
	recent     *rolling.Window
}

func newVolumeDelta(size int) (*volumeDelta, error) {
	w, err := rolling.NewWindow(size)
	if err != nil {
		return nil, err
	}
	return &volumeDelta{recent: w}, nil
}

func (d *volumeDelta) add(volume float64, isBuy bool) {
	delta := volume
	if !isBuy {
		delta = -volume
	}
	d.cumulative += delta
	d.recent.Push(delta)
}

// ToxicityScore is the composite flow toxicity
type ToxicityScore struct {
	Toxicity            float64 `json:"toxicity"`
	ImbalanceComponent  float64 `json:"imbalanceComponent"`
	PressureComponent   float64 `json:"pressureComponent"`
	AggressionComponent float64 `json:"aggressionComponent"`
	IsToxic             bool    `json:"isToxic"`
}

const (
	imbalanceWeight  = 0.4
	pressureWeight   = 0.3
	aggressionWeight = 0.3
)

// Toxicity combines normalized imbalance, pressure and aggression with fixed 0.4/0.3/0.3 weights.
func Toxicity(imbalance, pressure, aggression, threshold float64) ToxicityScore {
	imbNorm := (math.Abs(imbalance) + 1) / 2
	pressNorm := (math.Abs(pressure) + 1) / 2
	aggrNorm := math.Min(1, math.Abs(aggression))

	s := ToxicityScore{
		ImbalanceComponent:  imbalanceWeight * imbNorm,
		PressureComponent:   pressureWeight * pressNorm,
		AggressionComponent: aggressionWeight * aggrNorm,
	}
	s.Toxicity = s.ImbalanceComponent + s.PressureComponent + s.AggressionComponent
	s.IsToxic = s.Toxicity > threshold
	return s
}
