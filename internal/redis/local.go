package redisclient

import (
	"context"
	"sync"
)

type localLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker returns an in-process Locker. Callers wait for the key
// until ctx is done.
func NewLocalLocker() Locker {
	return &localLocker{slots: map[string]chan struct{}{}}
}

func (l *localLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	sem := l.slot(key)

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sem }()

	return fn(ctx)
}

func (l *localLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.slots[key]
	if !ok {
		sem = make(chan struct{}, 1)
		l.slots[key] = sem
	}
	return sem
}
