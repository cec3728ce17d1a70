// Package sink persists and publishes engine outputs to external systems.
package sink

import (
	"context"
	"errors"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// ErrQueueFull is returned by asynchronous sinks when a record had to be dropped
var ErrQueueFull = errors.New("sink: queue full")

// Sink receives engine outputs. Implementations must be safe for concurrent use.
type Sink interface {
	WriteSnapshot(ctx context.Context, snap types.SymbolSnapshot) error
	WriteCandle(ctx context.Context, candle types.Candle, alpha *types.AlphaSignal) error
	WriteBacktest(ctx context.Context, result *types.BacktestResult) error
	Close() error
}

// Multi fans every write out to all sinks, joining their errors
type Multi []Sink

// NewMulti drops nil sinks and returns the rest as one Sink
func NewMulti(sinks ...Sink) Multi {
	m := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m Multi) WriteSnapshot(ctx context.Context, snap types.SymbolSnapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteSnapshot(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) WriteCandle(ctx context.Context, candle types.Candle, alpha *types.AlphaSignal) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteCandle(ctx, candle, alpha); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) WriteBacktest(ctx context.Context, result *types.BacktestResult) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteBacktest(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink, even after a failure
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything
type Nop struct{}

func (Nop) WriteSnapshot(context.Context, types.SymbolSnapshot) error { return nil }

func (Nop) WriteCandle(context.Context, types.Candle, *types.AlphaSignal) error { return nil }

func (Nop) WriteBacktest(context.Context, *types.BacktestResult) error { return nil }

func (Nop) Close() error { return nil }
