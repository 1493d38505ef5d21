package ze

import (
	"context"
	"sync"
)

// Memo is a keyed single-flight cache for asynchronous initialization.
// Each key is either absent (not started), pending (one initializer in
// flight, shared by every concurrent caller), or ready (value cached).
// A failed initialization is forgotten so the next caller retries.
// Memo is safe for concurrent use. The zero value is ready to use.
type Memo[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*future[V]
}

// Get returns the value for key, running init at most once per key while
// a previous result is pending or ready. The initializer runs detached
// from ctx cancellation so that one abandoning caller does not fail the
// others; ctx only bounds how long this caller waits.
func (m *Memo[K, V]) Get(ctx context.Context, key K, init func(context.Context) (V, error)) (V, error) {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[K]*future[V])
	}
	f, ok := m.entries[key]
	if !ok {
		f = newFuture[V]()
		m.entries[key] = f
		go func() {
			v, err := init(context.WithoutCancel(ctx))
			if err != nil {
				m.mu.Lock()
				if m.entries[key] == f {
					delete(m.entries, key)
				}
				m.mu.Unlock()
			}
			f.resolve(v, err)
		}()
	}
	m.mu.Unlock()

	return f.Wait(ctx)
}

// Invalidate drops any pending or cached value for key. Callers already
// waiting on a pending initialization still receive its result.
func (m *Memo[K, V]) Invalidate(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Ready reports whether key holds a successfully initialized value.
func (m *Memo[K, V]) Ready(key K) bool {
	m.mu.Lock()
	f, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-f.done:
		return f.err == nil
	default:
		return false
	}
}

// future is a one-shot result that any number of goroutines may await.
type future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// spawn runs fn in a new goroutine and returns a future for its result.
func spawn[T any](ctx context.Context, fn func(context.Context) (T, error)) *future[T] {
	f := newFuture[T]()
	go func() {
		f.resolve(fn(ctx))
	}()
	return f
}

func (f *future[T]) resolve(v T, err error) {
	f.value = v
	f.err = err
	close(f.done)
}

// Wait blocks until the result is available or ctx is done.
func (f *future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
