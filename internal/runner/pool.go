// Package runner bounds how many scoring passes run at once.
package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/chainguard-dev/clog"
)

type Job func(ctx context.Context) error

// ErrClosed is returned by Pool.Go after Close.
var ErrClosed = errors.New("runner: pool closed")

// Pool runs jobs as they arrive, at most workers of them concurrently.
// Excess jobs wait for a slot.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(ctx context.Context, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{ctx: ctx, cancel: cancel, sem: make(chan struct{}, workers)}
}

// Go schedules job without blocking the caller. The job's context is
// cancelled by Close. A job error is logged; jobs that need to report
// failure do so through their own state.
func (p *Pool) Go(name string, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			return
		}
		defer func() { <-p.sem }()
		// A slot freed by Close races the cancellation above.
		if p.ctx.Err() != nil {
			return
		}
		if err := job(p.ctx); err != nil {
			clog.FromContext(p.ctx).With("job", name).Warnf("job failed: %v", err)
		}
	}()
	return nil
}

// Close cancels running jobs, drops queued ones and waits for all of them
// to return.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}
