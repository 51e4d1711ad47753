package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xraph/jobhub"
)

// Pool runs submitted functions on at most Size goroutines at a time.
//
// Waiters block on a channel that is closed and replaced every time a
// slot is released, so nothing polls while the pool is saturated.
type Pool struct {
	size   int
	logger *slog.Logger

	mu     sync.Mutex
	active int
	freed  chan struct{}
	closed bool

	wg sync.WaitGroup
}

// NewPool creates a pool with size slots. Sizes below one are raised to
// one.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		size:   size,
		logger: logger,
		freed:  make(chan struct{}),
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.size }

// Available returns the number of free slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size - p.active
}

// Submit runs fn on a pool goroutine. It blocks until a slot is free and
// returns jobhub.ErrPoolClosed once Close was called, or ctx.Err() if ctx
// ends first.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return jobhub.ErrPoolClosed
		}
		if p.active < p.size {
			p.active++
			p.wg.Add(1)
			p.mu.Unlock()
			go p.run(fn)
			return nil
		}
		freed := p.freed
		p.mu.Unlock()

		select {
		case <-freed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitIdle blocks until at least one slot is free. It returns
// jobhub.ErrPoolClosed once Close was called, or ctx.Err().
func (p *Pool) WaitIdle(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return jobhub.ErrPoolClosed
		}
		if p.active < p.size {
			p.mu.Unlock()
			return nil
		}
		freed := p.freed
		p.mu.Unlock()

		select {
		case <-freed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pool) run(fn func()) {
	defer p.wg.Done()
	defer p.release()
	fn()
}

func (p *Pool) release() {
	p.mu.Lock()
	p.active--
	p.wake()
	p.mu.Unlock()
}

// wake must be called with mu held.
func (p *Pool) wake() {
	close(p.freed)
	p.freed = make(chan struct{})
}

// Close stops accepting work and wakes every waiter. Running functions
// are not affected; use Wait to drain them.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.wake()
	p.logger.Debug("worker pool closed", slog.Int("active", p.active))
}

// Wait blocks until every submitted function returned, or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
