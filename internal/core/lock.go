package core

import "context"

// AllocationLock serializes identifier allocation. Acquire blocks until the
// lock is held or ctx is done and returns the release function.
type AllocationLock interface {
	Acquire(ctx context.Context) (func(), error)
}

type localLock struct {
	ch chan struct{}
}

// NewLocalLock returns an in-process AllocationLock.
func NewLocalLock() AllocationLock {
	return &localLock{ch: make(chan struct{}, 1)}
}

func (l *localLock) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		return func() { <-l.ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
