// Package events provides the in-process event bus that carries ticks, candles and analytics
// snapshots from the dispatcher to subscribers such as the WebSocket hub.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atlas-desktop/alpha-engine/internal/rolling"
	"github.com/atlas-desktop/alpha-engine/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType defines the category of event
type EventType string

const (
	EventTypeTick     EventType = "tick"
	EventTypeCandle   EventType = "candle"
	EventTypeSnapshot EventType = "snapshot"
	EventTypeSignal   EventType = "signal"
	EventTypeBacktest EventType = "backtest"
)

// latencySamples bounds the latency history used for percentiles
const latencySamples = 10000

// Event is the base interface for all events
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides common event functionality
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

func newBaseEvent(eventType EventType, ts time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: ts,
	}
}

// TickEvent carries a raw tick
type TickEvent struct {
	BaseEvent
	Tick types.Tick `json:"tick"`
}

// CandleEvent carries a closed candle
type CandleEvent struct {
	BaseEvent
	Candle types.Candle `json:"candle"`
}

// SnapshotEvent carries all analytics outputs for one tick
type SnapshotEvent struct {
	BaseEvent
	Snapshot types.SymbolSnapshot `json:"snapshot"`
}

// SignalEvent carries a composite signal that changed from the previous tick
type SignalEvent struct {
	BaseEvent
	Signal types.CompositeSignal `json:"signal"`
}

// BacktestEvent reports a completed backtest, walk-forward or Monte Carlo run
type BacktestEvent struct {
	BaseEvent
	Kind     string  `json:"kind"`
	ResultID string  `json:"resultId"`
	Symbol   string  `json:"symbol"`
	TotalPnL float64 `json:"totalPnl"`
	Sharpe   float64 `json:"sharpe"`
}

// NewTickEvent creates a tick event stamped with the tick time
func NewTickEvent(tick types.Tick) *TickEvent {
	return &TickEvent{BaseEvent: newBaseEvent(EventTypeTick, tick.Time()), Tick: tick}
}

// NewCandleEvent creates a candle event stamped with the candle end time
func NewCandleEvent(candle types.Candle) *CandleEvent {
	return &CandleEvent{BaseEvent: newBaseEvent(EventTypeCandle, candle.EndTime), Candle: candle}
}

// NewSnapshotEvent creates a snapshot event
func NewSnapshotEvent(snapshot types.SymbolSnapshot) *SnapshotEvent {
	return &SnapshotEvent{
		BaseEvent: newBaseEvent(EventTypeSnapshot, time.UnixMilli(snapshot.Timestamp)),
		Snapshot:  snapshot,
	}
}

// NewSignalEvent creates a composite signal event
func NewSignalEvent(signal types.CompositeSignal) *SignalEvent {
	return &SignalEvent{
		BaseEvent: newBaseEvent(EventTypeSignal, time.UnixMilli(signal.Timestamp)),
		Signal:    signal,
	}
}

// NewBacktestEvent creates a backtest completion event
func NewBacktestEvent(kind, resultID, symbol string, totalPnL, sharpe float64) *BacktestEvent {
	return &BacktestEvent{
		BaseEvent: newBaseEvent(EventTypeBacktest, time.Now()),
		Kind:      kind,
		ResultID:  resultID,
		Symbol:    symbol,
		TotalPnL:  totalPnL,
		Sharpe:    sharpe,
	}
}

// EventHandler is a function that processes events
type EventHandler func(event Event) error

// EventFilter can selectively process events
type EventFilter func(event Event) bool

// SubscriptionOptions configures subscription behavior
type SubscriptionOptions struct {
	Filter EventFilter // Optional filter
	Async  bool        // Run the handler on its own goroutine
}

// Subscription represents an active event subscription
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive returns whether subscription is active
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats tracks performance metrics
type EventBusStats struct {
	EventsPublished   int64         `json:"eventsPublished"`
	EventsProcessed   int64         `json:"eventsProcessed"`
	EventsDropped     int64         `json:"eventsDropped"`
	ProcessingErrors  int64         `json:"processingErrors"`
	AvgLatency        time.Duration `json:"avgLatency"`
	MaxLatency        time.Duration `json:"maxLatency"`
	P99Latency        time.Duration `json:"p99Latency"`
	ActiveSubscribers int64         `json:"activeSubscribers"`
}

// EventBusConfig configures the event bus. A single worker delivers events in publish order.
type EventBusConfig struct {
	NumWorkers int `json:"numWorkers"`
	BufferSize int `json:"bufferSize"`
}

// DefaultEventBusConfig returns sensible defaults
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		NumWorkers: 4,
		BufferSize: 10000,
	}
}

// EventBus routes published events to subscribers on a fixed set of worker goroutines
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	latencyMu  sync.Mutex
	latencies  *rolling.Ring[int64]
	maxLatency int64
	avgLatency int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus creates an event bus and starts its workers
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	defaults := DefaultEventBusConfig()
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaults.NumWorkers
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	latencies, _ := rolling.NewRing[int64](latencySamples)

	eb := &EventBus{
		subscribers:    make(map[EventType][]*Subscription),
		allSubscribers: make([]*Subscription, 0),
		eventChan:      make(chan Event, config.BufferSize),
		workerCount:    config.NumWorkers,
		latencies:      latencies,
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger,
	}

	for i := 0; i < eb.workerCount; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	eb.logger.Info("EventBus initialized",
		zap.Int("workers", config.NumWorkers),
		zap.Int("bufferSize", config.BufferSize),
	)
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()

	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			start := time.Now()
			eb.processEvent(event)
			eb.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

// processEvent routes event to subscribers
func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	eb.dispatch(subs, event)
	eb.dispatch(allSubs, event)
	eb.eventsProcessed.Add(1)
}

func (eb *EventBus) dispatch(subs []*Subscription, event Event) {
	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		if sub.Options.Filter != nil && !sub.Options.Filter(event) {
			continue
		}
		if sub.Options.Async {
			go eb.executeHandler(sub, event)
		} else {
			eb.executeHandler(sub, event)
		}
	}
}

// executeHandler runs a handler with panic recovery
func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("Event handler panic",
				zap.String("subscriptionId", sub.ID),
				zap.String("eventType", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("Event handler error",
			zap.String("subscriptionId", sub.ID),
			zap.String("eventType", string(event.GetType())),
			zap.Error(err),
		)
	}
}

func (eb *EventBus) trackLatency(latencyNs int64) {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()

	eb.latencies.Push(latencyNs)
	if latencyNs > eb.maxLatency {
		eb.maxLatency = latencyNs
	}
	// exponential moving average over ~100 events
	eb.avgLatency = (eb.avgLatency*99 + latencyNs) / 100
}

func (eb *EventBus) subscribe(eventType EventType, handler EventHandler, opts []SubscriptionOptions) *Subscription {
	options := SubscriptionOptions{Async: false}
	if len(opts) > 0 {
		options = opts[0]
	}

	sub := &Subscription{
		ID:        uuid.New().String(),
		EventType: eventType,
		Handler:   handler,
		Options:   options,
	}
	sub.active.Store(true)
	eb.activeSubscribers.Add(1)
	return sub
}

// Subscribe registers a handler for an event type. Handlers run synchronously on the bus
// worker unless Async is set.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	sub := eb.subscribe(eventType, handler, opts)

	eb.mu.Lock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.mu.Unlock()

	eb.logger.Debug("Subscription added",
		zap.String("id", sub.ID),
		zap.String("eventType", string(eventType)),
	)
	return sub
}

// SubscribeAll registers a handler for all event types
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	sub := eb.subscribe("*", handler, opts)

	eb.mu.Lock()
	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.mu.Unlock()
	return sub
}

// Unsubscribe deactivates and removes a subscription
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	if !sub.active.CompareAndSwap(true, false) {
		return
	}
	eb.activeSubscribers.Add(-1)

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if sub.EventType == "*" {
		eb.allSubscribers = without(eb.allSubscribers, sub)
	} else {
		eb.subscribers[sub.EventType] = without(eb.subscribers[sub.EventType], sub)
	}
}

func without(subs []*Subscription, target *Subscription) []*Subscription {
	out := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// Publish queues an event without blocking. If the buffer is full the event is dropped and counted.
func (eb *EventBus) Publish(event Event) bool {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
		return true
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("Event dropped - buffer full",
			zap.String("eventType", string(event.GetType())),
		)
		return false
	}
}

// PublishSync processes an event on the caller's goroutine
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.processEvent(event)
}

// GetStats returns current performance statistics
func (eb *EventBus) GetStats() EventBusStats {
	eb.latencyMu.Lock()
	avg, peak := eb.avgLatency, eb.maxLatency
	eb.latencyMu.Unlock()

	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		AvgLatency:        time.Duration(avg),
		MaxLatency:        time.Duration(peak),
		P99Latency:        eb.GetP99Latency(),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

// GetP99Latency returns the 99th percentile handler latency over recent events
func (eb *EventBus) GetP99Latency() time.Duration {
	eb.latencyMu.Lock()
	sorted := eb.latencies.Slice()
	eb.latencyMu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return time.Duration(sorted[idx])
}

// Stop shuts down the event bus. Events still buffered are discarded.
func (eb *EventBus) Stop() {
	eb.logger.Info("Shutting down EventBus...")
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("EventBus shutdown complete",
			zap.Int64("eventsProcessed", eb.eventsProcessed.Load()),
			zap.Int64("eventsDropped", eb.eventsDropped.Load()),
		)
	case <-time.After(5 * time.Second):
		eb.logger.Warn("EventBus shutdown timed out")
	}
}
