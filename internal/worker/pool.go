// Package worker provides a bounded worker pool with non-blocking submission.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tabdoc/internal/metrics"
)

var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull    = errors.New("worker pool queue full")
	ErrNilProcessor = errors.New("processor function cannot be nil")
	ErrStopTimeout  = errors.New("timeout waiting for workers to stop")
)

// Pool runs processor for submitted work on a fixed number of goroutines.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error

	work chan T
	quit chan struct{}
	wg   sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	recorder *metrics.PoolRecorder
	logger   *zap.Logger
}

// Option configures a Pool.
type Option[T any] func(*Pool[T])

// WithRecorder reports pool activity to prometheus.
func WithRecorder[T any](r *metrics.PoolRecorder) Option[T] {
	return func(p *Pool[T]) { p.recorder = r }
}

// WithLogger sets the logger used for processor panics.
func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(p *Pool[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool. Non-positive sizes fall back to 10 workers and a
// queue of 1000.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 10
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}
	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		work:      make(chan T, queueSize),
		quit:      make(chan struct{}),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit queues work without blocking. It returns ErrQueueFull when the queue
// has no free slot.
func (p *Pool[T]) Submit(work T) error {
	if err := p.open(); err != nil {
		return err
	}
	select {
	case p.work <- work:
		p.accepted()
		return nil
	default:
		p.drop()
		return ErrQueueFull
	}
}

// SubmitWait queues work, waiting for a free slot until ctx ends. It returns
// ErrQueueFull when ctx ends first and ErrPoolStopped when Stop is called while
// waiting.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	if err := p.open(); err != nil {
		return err
	}
	select {
	case p.work <- work:
		p.accepted()
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		p.drop()
		return ErrQueueFull
	}
}

func (p *Pool[T]) open() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

func (p *Pool[T]) accepted() {
	p.submitted.Add(1)
	p.recorder.Submitted(len(p.work))
}

func (p *Pool[T]) drop() {
	p.dropped.Add(1)
	p.recorder.Dropped()
}

// Start launches the workers. They exit when ctx ends or Stop is called.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.started = true
	return nil
}

// Stop refuses new work and waits up to timeout for queued work to drain.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.quit)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats is a point-in-time view of the pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.work),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

func (p *Pool[T]) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case work := <-p.work:
			p.execute(ctx, work)
		case <-p.quit:
			for {
				select {
				case work := <-p.work:
					p.execute(ctx, work)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool[T]) execute(ctx context.Context, work T) {
	err := p.process(ctx, work)
	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}
	p.recorder.Processed(len(p.work), err)
}

// process keeps a panicking processor from taking the worker down.
func (p *Pool[T]) process(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker recovered from panic", zap.Any("panic", r))
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return p.processor(ctx, work)
}
