// Package dispatcher owns the per-symbol analytics systems and routes ticks to them.
// Symbols are sharded over a fixed set of goroutines so that every tick of one symbol is
// processed in arrival order by a single writer.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/internal/events"
	"github.com/atlas-desktop/alpha-engine/internal/sink"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// ErrStopped is returned when ticks are dispatched to a stopped dispatcher
var ErrStopped = errors.New("dispatcher: stopped")

// Config configures the dispatcher
type Config struct {
	Shards      int
	QueueSize   int
	SinkTimeout time.Duration
	System      SystemConfig
}

// DefaultConfig returns four shards with 4096-tick queues
func DefaultConfig() Config {
	return Config{
		Shards:      4,
		QueueSize:   4096,
		SinkTimeout: 2 * time.Second,
		System:      DefaultSystemConfig(),
	}
}

// Stats is a point-in-time view of dispatcher activity
type Stats struct {
	Symbols    int   `json:"symbols"`
	Shards     int   `json:"shards"`
	Processed  int64 `json:"processed"`
	Candles    int64 `json:"candles"`
	Signals    int64 `json:"signals"`
	SinkErrors int64 `json:"sinkErrors"`
	Rejected   int64 `json:"rejected"`
	QueueDepth int   `json:"queueDepth"`
}

type shard struct {
	in         chan types.Tick
	systems    map[string]*System
	lastSignal map[string]string
}

// Dispatcher fans ticks out to per-symbol systems and forwards their outputs to a sink and the event bus
type Dispatcher struct {
	logger *zap.Logger
	config Config
	sink   sink.Sink
	bus    *events.EventBus

	shards []*shard
	wg     sync.WaitGroup

	stateMu sync.RWMutex
	running bool
	stopped bool

	latestMu sync.RWMutex
	latest   map[string]types.SymbolSnapshot

	processed  atomic.Int64
	candles    atomic.Int64
	signals    atomic.Int64
	sinkErrors atomic.Int64
	rejected   atomic.Int64
}

// New creates a dispatcher. A nil sink discards outputs; a nil bus publishes nothing.
func New(logger *zap.Logger, config Config, out sink.Sink, bus *events.EventBus) (*Dispatcher, error) {
	if config.Shards <= 0 {
		return nil, fmt.Errorf("dispatcher: shards must be positive, got %d", config.Shards)
	}
	if config.QueueSize <= 0 {
		return nil, fmt.Errorf("dispatcher: queue size must be positive, got %d", config.QueueSize)
	}
	// fail fast on estimator configuration instead of on the first tick
	if _, err := NewSystem("", config.System); err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	if out == nil {
		out = sink.Nop{}
	}
	if config.SinkTimeout <= 0 {
		config.SinkTimeout = 2 * time.Second
	}

	d := &Dispatcher{
		logger: logger.Named("dispatcher"),
		config: config,
		sink:   out,
		bus:    bus,
		shards: make([]*shard, config.Shards),
		latest: make(map[string]types.SymbolSnapshot),
	}
	for i := range d.shards {
		d.shards[i] = &shard{
			in:         make(chan types.Tick, config.QueueSize),
			systems:    make(map[string]*System),
			lastSignal: make(map[string]string),
		}
	}
	return d, nil
}

// Start launches one goroutine per shard
func (d *Dispatcher) Start() error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if d.running {
		return nil
	}
	d.running = true

	for i, sh := range d.shards {
		d.wg.Add(1)
		go d.runShard(i, sh)
	}

	d.logger.Info("Dispatcher started",
		zap.Int("shards", len(d.shards)),
		zap.Int("queueSize", d.config.QueueSize))
	return nil
}

// Stop closes the shard queues and waits for queued ticks to drain
func (d *Dispatcher) Stop() {
	d.stateMu.Lock()
	if d.stopped {
		d.stateMu.Unlock()
		return
	}
	d.stopped = true
	wasRunning := d.running
	d.running = false
	for _, sh := range d.shards {
		close(sh.in)
	}
	d.stateMu.Unlock()

	if wasRunning {
		d.wg.Wait()
	}
	d.logger.Info("Dispatcher stopped", zap.Int64("processed", d.processed.Load()))
}

// ShardFor returns the shard index that owns symbol
func (d *Dispatcher) ShardFor(symbol string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// Dispatch queues tick for its symbol's shard, blocking while the shard queue is full
func (d *Dispatcher) Dispatch(ctx context.Context, tick types.Tick) error {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()

	if !d.running {
		d.rejected.Add(1)
		return ErrStopped
	}

	select {
	case d.shards[d.ShardFor(tick.Symbol)].in <- tick:
		return nil
	case <-ctx.Done():
		d.rejected.Add(1)
		return ctx.Err()
	}
}

// Consume dispatches ticks from in until it closes or ctx is done
func (d *Dispatcher) Consume(ctx context.Context, in <-chan types.Tick) error {
	for {
		select {
		case tick, ok := <-in:
			if !ok {
				return nil
			}
			if err := d.Dispatch(ctx, tick); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) runShard(index int, sh *shard) {
	defer d.wg.Done()

	for tick := range sh.in {
		sys, ok := sh.systems[tick.Symbol]
		if !ok {
			var err error
			sys, err = NewSystem(tick.Symbol, d.config.System)
			if err != nil {
				d.logger.Error("Failed to create system", zap.String("symbol", tick.Symbol), zap.Error(err))
				continue
			}
			sh.systems[tick.Symbol] = sys
			d.logger.Debug("Tracking symbol", zap.String("symbol", tick.Symbol), zap.Int("shard", index))
		}

		update := sys.OnTick(tick)
		d.processed.Add(1)
		d.publish(sh, update)
	}
}

func (d *Dispatcher) publish(sh *shard, update Update) {
	snap := update.Snapshot

	d.latestMu.Lock()
	d.latest[snap.Symbol] = snap
	d.latestMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.config.SinkTimeout)
	defer cancel()

	if err := d.sink.WriteSnapshot(ctx, snap); err != nil {
		d.sinkError("snapshot", snap.Symbol, err)
	}

	if update.Candle != nil {
		d.candles.Add(1)
		if err := d.sink.WriteCandle(ctx, *update.Candle, update.CandleSignal); err != nil {
			d.sinkError("candle", snap.Symbol, err)
		}
		if d.bus != nil {
			d.bus.Publish(events.NewCandleEvent(*update.Candle))
		}
	}

	if d.bus != nil {
		d.bus.Publish(events.NewSnapshotEvent(snap))
	}

	if prev := sh.lastSignal[snap.Symbol]; prev != snap.Composite.Signal {
		sh.lastSignal[snap.Symbol] = snap.Composite.Signal
		d.signals.Add(1)
		if d.bus != nil {
			d.bus.Publish(events.NewSignalEvent(snap.Composite))
		}
	}
}

func (d *Dispatcher) sinkError(kind, symbol string, err error) {
	// sampled: a down sink would otherwise log once per tick
	if n := d.sinkErrors.Add(1); n == 1 || n%1000 == 0 {
		d.logger.Warn("Sink write failed",
			zap.String("kind", kind),
			zap.String("symbol", symbol),
			zap.Int64("failures", n),
			zap.Error(err))
	}
}

// Snapshot returns the latest snapshot of symbol
func (d *Dispatcher) Snapshot(symbol string) (types.SymbolSnapshot, bool) {
	d.latestMu.RLock()
	defer d.latestMu.RUnlock()

	snap, ok := d.latest[symbol]
	return snap, ok
}

// Snapshots returns the latest snapshot of every symbol
func (d *Dispatcher) Snapshots() []types.SymbolSnapshot {
	d.latestMu.RLock()
	defer d.latestMu.RUnlock()

	out := make([]types.SymbolSnapshot, 0, len(d.latest))
	for _, snap := range d.latest {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns the symbols seen so far in sorted order
func (d *Dispatcher) Symbols() []string {
	d.latestMu.RLock()
	defer d.latestMu.RUnlock()

	symbols := make([]string, 0, len(d.latest))
	for s := range d.latest {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Stats returns dispatcher counters
func (d *Dispatcher) Stats() Stats {
	d.latestMu.RLock()
	symbols := len(d.latest)
	d.latestMu.RUnlock()

	depth := 0
	for _, sh := range d.shards {
		depth += len(sh.in)
	}

	return Stats{
		Symbols:    symbols,
		Shards:     len(d.shards),
		Processed:  d.processed.Load(),
		Candles:    d.candles.Load(),
		Signals:    d.signals.Load(),
		SinkErrors: d.sinkErrors.Load(),
		Rejected:   d.rejected.Load(),
		QueueDepth: depth,
	}
}
