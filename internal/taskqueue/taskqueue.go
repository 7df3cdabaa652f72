// Package taskqueue runs background sync work off the HTTP request path: a
// bounded pool of workers drains a queue of submitted tasks for the life of
// the server, so a webhook handler can enqueue work and respond immediately.
package taskqueue

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// submission pairs a task with the context it was enqueued from, so the
// worker that eventually runs it can recover the caller's logger.
type submission struct {
	ctx  context.Context
	task func(context.Context)
}

// Pool is a long-lived bounded worker pool draining submitted tasks.
type Pool struct {
	queue  chan submission
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Pool with the given worker count and queue depth, and
// starts its workers immediately. Call Stop to shut it down.
func New(workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan submission, queueDepth),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}

	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case sub, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(sub)
		}
	}
}

// runTask runs a submitted task against the pool's own cancellation context
// (so a task outlives the request that enqueued it) but carries forward the
// logger attached to the caller's context, so task log lines still carry the
// correlation id of the request that triggered them.
func (p *Pool) runTask(sub submission) {
	taskCtx := log.Ctx(sub.ctx).WithContext(p.ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(taskCtx).Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	sub.task(taskCtx)
}

// Submit enqueues a task to run on a worker goroutine, carrying forward the
// logger attached to ctx so the task's log lines keep the caller's
// correlation id. The task itself runs against the pool's own lifetime, not
// ctx's, so it is not cancelled when the enqueuing request ends. Submit
// blocks if the queue is full, and is a no-op once the pool has been
// stopped.
func (p *Pool) Submit(ctx context.Context, task func(context.Context)) {
	if p.ctx.Err() != nil {
		return
	}
	select {
	case p.queue <- submission{ctx: ctx, task: task}:
	case <-p.ctx.Done():
	}
}

// Stop signals every worker to stop taking new tasks and waits for whichever
// task each worker is currently running to finish. Tasks still queued but
// not yet started are dropped.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
