package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// Recorder buffers live ticks per symbol and appends them to a Store periodically
type Recorder struct {
	logger *zap.Logger
	store  *Store

	mu      sync.Mutex
	pending map[string][]types.Tick
	written int64
}

// NewRecorder creates a recorder writing into store
func NewRecorder(logger *zap.Logger, store *Store) *Recorder {
	return &Recorder{
		logger:  logger.Named("recorder"),
		store:   store,
		pending: make(map[string][]types.Tick),
	}
}

// Record buffers one tick
func (r *Recorder) Record(tick types.Tick) {
	r.mu.Lock()
	r.pending[tick.Symbol] = append(r.pending[tick.Symbol], tick)
	r.mu.Unlock()
}

// Pending returns the number of buffered ticks
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ticks := range r.pending {
		n += len(ticks)
	}
	return n
}

// Written returns the number of ticks appended to the store so far
func (r *Recorder) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Flush appends every buffered tick to the store. Symbols that fail stay buffered for the next flush.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	batch := r.pending
	r.pending = make(map[string][]types.Tick)
	r.mu.Unlock()

	var errs []error
	for symbol, ticks := range batch {
		if err := r.store.AppendTicks(symbol, ticks); err != nil {
			errs = append(errs, err)
			r.mu.Lock()
			r.pending[symbol] = append(ticks, r.pending[symbol]...)
			r.mu.Unlock()
			continue
		}
		r.mu.Lock()
		r.written += int64(len(ticks))
		r.mu.Unlock()
	}
	return errors.Join(errs...)
}

// Tee records every tick read from in and forwards it to out. It returns when in is closed or
// ctx is done, after a final flush.
func (r *Recorder) Tee(ctx context.Context, in <-chan types.Tick, out chan<- types.Tick, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer func() {
		if err := r.Flush(); err != nil {
			r.logger.Warn("Final tick flush failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				r.logger.Warn("Tick flush failed", zap.Error(err))
			}
		case tick, ok := <-in:
			if !ok {
				return nil
			}
			r.Record(tick)
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
