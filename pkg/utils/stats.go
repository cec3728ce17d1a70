// Package utils provides numeric and retry helpers shared across the alpha engine.
package utils

import (
	"math"
	"sort"
)

// Epsilon is the default denominator guard used by the estimators.
const Epsilon = 1e-10

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStdDev returns the n-1 standard deviation, or 0 with fewer than two values.
func SampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// PopulationStdDev returns the n standard deviation, or 0 for an empty slice.
func PopulationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sq := 0.0
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SafeDiv returns num/den, or fallback when |den| is below eps.
func SafeDiv(num, den, eps, fallback float64) float64 {
	if math.Abs(den) < eps {
		return fallback
	}
	return num / den
}

// OLSSlope returns the least-squares slope of y on x. Zero when x has no variance.
func OLSSlope(x, y []float64) float64 {
	n := len(x)
	if n < 2 || len(y) != n {
		return 0
	}
	meanX, meanY := Mean(x), Mean(y)
	cov, varX := 0.0, 0.0
	for i := 0; i < n; i++ {
		dx := x[i] - meanX
		cov += dx * (y[i] - meanY)
		varX += dx * dx
	}
	if varX < Epsilon {
		return 0
	}
	return cov / varX
}

// Percentile returns the nearest-rank percentile (p in [0,1]) of values without mutating them.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
