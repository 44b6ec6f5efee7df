// Package memory implements an in-process keyed lock.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ptssworkshopschedule/workshopbot/internal/lock"
	"github.com/ptssworkshopschedule/workshopbot/pkg/errors"
	"github.com/ptssworkshopschedule/workshopbot/pkg/metrics"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Locker holds one semaphore per key, dropped when nobody references it.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
	wait    time.Duration
}

// New creates a locker. wait bounds how long Acquire blocks; zero means
// until the context is done.
func New(wait time.Duration) *Locker {
	return &Locker{
		entries: make(map[string]*entry),
		wait:    wait,
	}
}

// Acquire implements lock.Locker.
func (l *Locker) Acquire(ctx context.Context, key string) (lock.Release, error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	started := time.Now()
	select {
	case e.sem <- struct{}{}:
		metrics.LockWaits.WithLabelValues("memory").Observe(time.Since(started).Seconds())
	case <-waitCtx.Done():
		l.unref(key, e)
		return nil, errors.ErrLockUnavailable.WithError(waitCtx.Err()).WithContext(map[string]interface{}{
			"key": key,
		})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

func (l *Locker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Len returns how many keys are currently referenced.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
