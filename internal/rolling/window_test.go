package rolling_test

import (
	"math"
	"testing"

	"github.com/atlas-desktop/alpha-engine/internal/rolling"
)

func TestRingEviction(t *testing.T) {
	r, err := rolling.NewRing[int](3)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if _, evicted := r.Push(i); evicted {
			t.Errorf("unexpected eviction pushing %d", i)
		}
	}
	old, evicted := r.Push(4)
	if !evicted || old != 1 {
		t.Errorf("expected eviction of 1, got %d (%v)", old, evicted)
	}
	if r.Len() != 3 {
		t.Errorf("expected len 3, got %d", r.Len())
	}

	got := r.Slice()
	want := []int{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Slice()[%d]: expected %d, got %d", i, want[i], got[i])
		}
	}
	if last := r.Last(2); last[0] != 3 || last[1] != 4 {
		t.Errorf("Last(2): expected [3 4], got %v", last)
	}
	if r.Oldest() != 2 || r.Newest() != 4 {
		t.Errorf("expected oldest 2 newest 4, got %d %d", r.Oldest(), r.Newest())
	}
}

func TestRingRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := rolling.NewRing[float64](0); err == nil {
		t.Error("expected error for zero capacity")
	}
}

func TestWindowIncrementalAggregates(t *testing.T) {
	w, err := rolling.NewWindow(4)
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}

	values := []float64{1, 2, 3, 4, 5, 6, 7}
	for i, v := range values {
		w.Push(v)
		if w.Len() > w.Cap() {
			t.Fatalf("window exceeded capacity at %d", i)
		}
	}

	// holds 4,5,6,7
	if math.Abs(w.Sum()-22) > 1e-12 {
		t.Errorf("expected sum 22, got %f", w.Sum())
	}
	if math.Abs(w.SumSq()-126) > 1e-12 {
		t.Errorf("expected sum of squares 126, got %f", w.SumSq())
	}
	if math.Abs(w.Mean()-5.5) > 1e-12 {
		t.Errorf("expected mean 5.5, got %f", w.Mean())
	}
	if math.Abs(w.Variance()-1.25) > 1e-9 {
		t.Errorf("expected variance 1.25, got %f", w.Variance())
	}
}

func TestWindowVarianceFloor(t *testing.T) {
	w, _ := rolling.NewWindow(3)
	for i := 0; i < 10; i++ {
		w.Push(0.1 + 0.2)
	}
	if w.Variance() < 0 {
		t.Errorf("variance must be floored at 0, got %g", w.Variance())
	}
}
