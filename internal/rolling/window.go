package rolling

import "math"

// Window is a bounded float64 FIFO with incrementally maintained sum and sum of squares.
// Eviction subtracts the evicted value from both aggregates.
type Window struct {
	ring  *Ring[float64]
	sum   float64
	sumSq float64
}

// NewWindow creates a window with the given capacity.
func NewWindow(capacity int) (*Window, error) {
	ring, err := NewRing[float64](capacity)
	if err != nil {
		return nil, err
	}
	return &Window{ring: ring}, nil
}

// Push adds v, evicting the oldest value when full.
func (w *Window) Push(v float64) (evicted float64, ok bool) {
	evicted, ok = w.ring.Push(v)
	w.sum += v
	w.sumSq += v * v
	if ok {
		w.sum -= evicted
		w.sumSq -= evicted * evicted
	}
	return evicted, ok
}

func (w *Window) Len() int { return w.ring.Len() }
func (w *Window) Cap() int { return w.ring.Cap() }
func (w *Window) Full() bool { return w.ring.Full() }
func (w *Window) Sum() float64 { return w.sum }
func (w *Window) SumSq() float64 { return w.sumSq }
func (w *Window) At(i int) float64 { return w.ring.At(i) }
func (w *Window) Oldest() float64 { return w.ring.Oldest() }
func (w *Window) Newest() float64 { return w.ring.Newest() }
func (w *Window) Values() []float64 { return w.ring.Slice() }
func (w *Window) Last(n int) []float64 { return w.ring.Last(n) }

// Mean returns sum/n, or 0 when empty.
func (w *Window) Mean() float64 {
	if w.ring.Len() == 0 {
		return 0
	}
	return w.sum / float64(w.ring.Len())
}

// Variance returns the population variance E[x²]−E[x]², floored at 0.
func (w *Window) Variance() float64 {
	n := float64(w.ring.Len())
	if n == 0 {
		return 0
	}
	mean := w.sum / n
	v := w.sumSq/n - mean*mean
	if v < 0 {
		return 0
	}
	return v
}

// StdDev returns sqrt(Variance()).
func (w *Window) StdDev() float64 {
	return math.Sqrt(w.Variance())
}

// Reset empties the window and zeroes the aggregates.
func (w *Window) Reset() {
	w.ring.Reset()
	w.sum = 0
	w.sumSq = 0
}
