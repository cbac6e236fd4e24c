package store

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const connectTimeout = 30 * time.Second

// lazyConn dials once per process. Callers that arrive while the first dial
// is in flight wait for that attempt instead of opening their own. A failed
// dial is not cached, so the next caller tries again. A waiting caller
// returns as soon as its own context ends.
type lazyConn[T any] struct {
	dial  func(ctx context.Context) (T, error)
	group singleflight.Group

	mu     sync.Mutex
	conn   T
	loaded bool
}

func newLazyConn[T any](dial func(ctx context.Context) (T, error)) *lazyConn[T] {
	return &lazyConn[T]{dial: dial}
}

func (l *lazyConn[T]) get(ctx context.Context) (T, error) {
	if conn, ok := l.cached(); ok {
		return conn, nil
	}

	ch := l.group.DoChan("connect", func() (any, error) {
		if conn, ok := l.cached(); ok {
			return conn, nil
		}
		// The dial outlives the caller that triggered it; others may be waiting.
		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), connectTimeout)
		defer cancel()

		conn, err := l.dial(dialCtx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.conn, l.loaded = conn, true
		l.mu.Unlock()
		return conn, nil
	})

	// A caller that gives up leaves the dial running for the others.
	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (l *lazyConn[T]) cached() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn, l.loaded
}

// reset returns the cached connection, if any, and forgets it.
func (l *lazyConn[T]) reset() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conn, ok := l.conn, l.loaded
	var zero T
	l.conn, l.loaded = zero, false
	return conn, ok
}
