// Copyright (C) 2017 ScyllaDB

package workerpool

import (
	"context"
	"sync"
)

// Pool runs a fixed number of workers calling a handler for submitted tasks.
// Results are delivered in completion order. When the context is canceled
// queued tasks are dropped, running handlers are expected to observe ctx.
type Pool[T, R any] struct {
	ctx    context.Context // nolint: containedctx
	handle func(ctx context.Context, task T) R

	tasks   chan T
	results chan R

	once sync.Once
	wg   sync.WaitGroup
}

// New starts size workers, size bounds also the number of queued tasks and
// unread results.
func New[T, R any](ctx context.Context, size int, handle func(ctx context.Context, task T) R) *Pool[T, R] {
	p := &Pool[T, R]{
		ctx:     ctx,
		handle:  handle,
		tasks:   make(chan T, size),
		results: make(chan R, size),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

func (p *Pool[T, R]) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			if p.ctx.Err() != nil {
				return
			}
			p.results <- p.handle(p.ctx, t)
		}
	}
}

// Submit queues task, it blocks when the queue is full.
func (p *Pool[T, _]) Submit(task T) {
	p.tasks <- task
}

// Results returns the channel of handler results.
func (p *Pool[_, R]) Results() <-chan R {
	return p.results
}

// Close stops accepting tasks, workers exit when the queue is drained.
// Submit after Close panics.
func (p *Pool[_, _]) Close() {
	p.once.Do(func() {
		close(p.tasks)
	})
}

// Wait blocks until all workers exit.
func (p *Pool[_, _]) Wait() {
	p.wg.Wait()
}
