// Package workers provides a bounded goroutine pool for CPU-bound simulation work.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed
type Task interface {
	Execute() error
}

// TaskFunc is a function that can be used as a Task
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// Pool manages a pool of worker goroutines
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	metrics *PoolMetrics
}

// PoolConfig configures the worker pool
type PoolConfig struct {
	Name            string        // Pool name for logging
	NumWorkers      int           // Number of worker goroutines
	QueueSize       int           // Size of the task queue
	ShutdownTimeout time.Duration // Timeout for graceful shutdown
	PanicRecovery   bool          // Enable panic recovery in workers
}

// DefaultPoolConfig returns one worker per CPU
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU(),
		QueueSize:       1024,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// PoolMetrics tracks pool counters
type PoolMetrics struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
	busyNanos atomic.Int64
	startTime time.Time
}

// PoolStats contains pool statistics
type PoolStats struct {
	TasksSubmitted int64         `json:"tasksSubmitted"`
	TasksCompleted int64         `json:"tasksCompleted"`
	TasksFailed    int64         `json:"tasksFailed"`
	PanicRecovered int64         `json:"panicRecovered"`
	AvgLatency     time.Duration `json:"avgLatency"`
	Throughput     float64       `json:"throughput"`
	QueueLength    int           `json:"queueLength"`
	Uptime         time.Duration `json:"uptime"`
}

// NewPool creates a new worker pool
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		metrics:   &PoolMetrics{startTime: time.Now()},
	}
}

// Start initializes and starts all workers
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}

	p.logger.Info("starting worker pool",
		zap.String("name", p.config.Name),
		zap.Int("workers", p.config.NumWorkers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(p.logger.With(zap.Int("worker_id", i)))
	}
}

func (p *Pool) run(logger *zap.Logger) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.taskQueue:
			p.execute(logger, task)
		}
	}
}

// execute runs one task, recording latency and converting panics into *PanicError
func (p *Pool) execute(logger *zap.Logger, task Task) {
	start := time.Now()
	err := p.safeExecute(logger, task)
	p.metrics.busyNanos.Add(time.Since(start).Nanoseconds())

	if err != nil {
		p.metrics.failed.Add(1)
		logger.Debug("task failed", zap.Error(err))
		return
	}
	p.metrics.completed.Add(1)
}

func (p *Pool) safeExecute(logger *zap.Logger, task Task) (err error) {
	if p.config.PanicRecovery {
		defer func() {
			if r := recover(); r != nil {
				p.metrics.panics.Add(1)
				logger.Error("worker recovered from panic", zap.Any("panic", r))
				err = &PanicError{Recovered: r}
			}
		}()
	}
	return task.Execute()
}

// Submit adds a task to the queue without blocking
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.metrics.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait submits a task, blocking while the queue is full, and waits for its result
func (p *Pool) SubmitWait(ctx context.Context, task Task) error {
	done := make(chan error, 1)
	wrapper := TaskFunc(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Recovered: r}
			}
			done <- err
		}()
		return task.Execute()
	})

	if err := p.enqueue(ctx, wrapper); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue blocks until the task is queued, the pool stops or ctx is done
func (p *Pool) enqueue(ctx context.Context, task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		p.metrics.submitted.Add(1)
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitFunc submits a function as a task
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// ForEach runs fn(i) for i in [0, n) on the pool and waits for all of them.
// Each index runs exactly once; callers write results into slot i to keep index order.
// The first error (by index) is returned.
func (p *Pool) ForEach(ctx context.Context, n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}

	errs := make([]error, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		task := TaskFunc(func() (err error) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Recovered: r}
				}
				errs[i] = err
			}()
			return fn(i)
		})
		if err := p.enqueue(ctx, task); err != nil {
			wg.Done()
			errs[i] = err
			// remaining indices are not scheduled
			for j := i + 1; j < n; j++ {
				errs[j] = err
			}
			break
		}
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-p.ctx.Done():
		return ErrPoolStopped
	}

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
	}
	return nil
}

// Stop gracefully shuts down the pool
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}

	p.logger.Info("stopping worker pool", zap.String("name", p.config.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", zap.String("name", p.config.Name))
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// QueueLength returns the current number of queued tasks
func (p *Pool) QueueLength() int {
	return len(p.taskQueue)
}

// IsRunning returns whether the pool is running
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Name returns the configured pool name
func (p *Pool) Name() string { return p.config.Name }

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	m := p.metrics
	done := m.completed.Load() + m.failed.Load()
	stats := PoolStats{
		TasksSubmitted: m.submitted.Load(),
		TasksCompleted: m.completed.Load(),
		TasksFailed:    m.failed.Load(),
		PanicRecovered: m.panics.Load(),
		QueueLength:    p.QueueLength(),
		Uptime:         time.Since(m.startTime),
	}
	if done > 0 {
		stats.AvgLatency = time.Duration(m.busyNanos.Load() / done)
	}
	if secs := stats.Uptime.Seconds(); secs > 0 {
		stats.Throughput = float64(stats.TasksCompleted) / secs
	}
	return stats
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Recovered)
}
