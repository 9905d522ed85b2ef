// Package pipeline drives a unit of work through an ordered sequence of async
// stages on bounded worker pools, publishing one stage event per transition.
package pipeline

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolStopped is returned by Submit after the pool has been stopped.
var ErrPoolStopped = errors.New("worker pool stopped")

// PoolKind selects which worker pool a stage runs on.
type PoolKind int

const (
	// CPUBound stages do validation and transformation work and must never
	// block on external calls.
	CPUBound PoolKind = iota
	// IOBound stages may block on persistence or external call latency.
	IOBound
)

// Pool is a fixed-size worker pool with a bounded queue. Submit blocks once
// the queue is full, which is the backpressure point: callers slow down
// instead of queueing unboundedly.
type Pool struct {
	name   string
	tasks  chan func()
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

// NewPool starts workers goroutines draining a queue of queueDepth tasks.
func NewPool(name string, workers, queueDepth int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pool{
		name:   name,
		tasks:  make(chan func(), queueDepth),
		quit:   make(chan struct{}),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.quit:
			// Drain what was accepted before the stop.
			for {
				select {
				case task := <-p.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Submit enqueues a task, blocking while the queue is full.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the pool and waits for its result.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := p.Submit(ctx, func() { result <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new submissions and waits for accepted tasks to finish.
func (p *Pool) Stop() {
	p.once.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.logger.Debug("worker pool stopped", zap.String("pool", p.name))
	})
}
