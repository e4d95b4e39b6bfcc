package service

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// WorkerPool runs one goroutine per submitted job with at most size of them
// doing work at a time. Shutdown waits for queued and running jobs.
type WorkerPool struct {
	sem    *semaphore.Weighted
	size   int
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	active atomic.Int64
	queued atomic.Int64
}

func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules run without blocking. If the pool is cancelled before a slot
// frees up, abandon is called instead of run.
func (p *WorkerPool) Submit(run func(ctx context.Context), abandon func(err error)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.queued.Add(1)
	go func() {
		defer p.wg.Done()

		err := p.sem.Acquire(p.ctx, 1)
		p.queued.Add(-1)
		if err != nil {
			abandon(err)
			return
		}
		defer p.sem.Release(1)
		if err := p.ctx.Err(); err != nil {
			abandon(err)
			return
		}

		p.active.Add(1)
		defer p.active.Add(-1)
		run(p.ctx)
	}()
	return nil
}

// Shutdown stops accepting jobs and waits for the rest. When ctx expires first,
// running jobs are cancelled and queued ones abandoned before returning ctx's error.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats reports pool occupancy for health checks
type PoolStats struct {
	Size   int   `json:"max_workers"`
	Active int64 `json:"active_workers"`
	Queued int64 `json:"queued_tasks"`
}

func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{Size: p.size, Active: p.active.Load(), Queued: p.queued.Load()}
}
