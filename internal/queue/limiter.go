package queue

import (
	"context"
	"sync"
)

// Limiter is a resizable counting semaphore guarding expensive tier-2/3
// work. Unlike a channel semaphore, its capacity can be changed at runtime:
// a lowered limit applies to subsequent acquisitions without cancelling
// holders, a raised limit wakes waiters immediately.
type Limiter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	limit  int
	active int
}

func NewLimiter(limit int) *Limiter {
	if limit < 1 {
		limit = 1
	}
	l := &Limiter{limit: limit}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.cond.Broadcast()
		case <-stop:
		}
	}()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.active >= l.limit {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.active++
	return nil
}

// Release frees a slot. Must be called exactly once per successful Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.active > 0 {
		l.active--
	}
	l.mu.Unlock()
	l.cond.Broadcast()
}

// SetLimit changes the capacity for subsequently dispatched work.
// In-flight holders are never cancelled.
func (l *Limiter) SetLimit(n int) {
	if n < 1 {
		n = 1
	}
	l.mu.Lock()
	l.limit = n
	l.mu.Unlock()
	l.cond.Broadcast()
}

// Active returns the number of currently held slots.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Limit returns the current capacity.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}
