package utils_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/atlas-desktop/alpha-engine/pkg/utils"
)

func TestMeanAndStdDev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	if got := utils.Mean(values); got != 5 {
		t.Errorf("Mean: expected 5, got %f", got)
	}
	if got := utils.PopulationStdDev(values); math.Abs(got-2) > 1e-12 {
		t.Errorf("PopulationStdDev: expected 2, got %f", got)
	}
	expected := math.Sqrt(32.0 / 7.0)
	if got := utils.SampleStdDev(values); math.Abs(got-expected) > 1e-12 {
		t.Errorf("SampleStdDev: expected %f, got %f", expected, got)
	}
	if got := utils.SampleStdDev([]float64{1}); got != 0 {
		t.Errorf("SampleStdDev of one value: expected 0, got %f", got)
	}
}

func TestOLSSlope(t *testing.T) {
	x := []float64{0, 1, 2, 3}
	y := []float64{1, 3, 5, 7}
	if got := utils.OLSSlope(x, y); math.Abs(got-2) > 1e-12 {
		t.Errorf("expected slope 2, got %f", got)
	}
	if got := utils.OLSSlope([]float64{1, 1, 1}, []float64{1, 2, 3}); got != 0 {
		t.Errorf("expected 0 for constant x, got %f", got)
	}
}

func TestClampAndSafeDiv(t *testing.T) {
	if utils.Clamp(2, -1, 1) != 1 || utils.Clamp(-2, -1, 1) != -1 || utils.Clamp(0.5, -1, 1) != 0.5 {
		t.Error("Clamp returned a value outside its bounds")
	}
	if got := utils.SafeDiv(1, 0, 1e-8, 7); got != 7 {
		t.Errorf("SafeDiv: expected fallback 7, got %f", got)
	}
}

func TestRetry(t *testing.T) {
	calls := 0
	cfg := utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}

	got, err := utils.Retry(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("expected 42 after 3 calls, got %d after %d", got, calls)
	}

	_, err = utils.Retry(context.Background(), cfg, func(context.Context) (int, error) {
		return 0, errors.New("always")
	})
	if err == nil {
		t.Error("expected error after exhausting attempts")
	}
}
