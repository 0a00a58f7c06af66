// Package live provides a small observable value used to push identity and
// view state to interested goroutines.
package live

import (
	"context"
	"sync"
)

// Value holds a value of type T and notifies watchers whenever it changes.
//
// Delivery is latest-wins: each watcher has a one-slot buffer, and a Store
// replaces any value the watcher has not consumed yet. A watcher that reads
// slowly therefore skips intermediate values but always sees the last one.
type Value[T any] struct {
	mu       sync.Mutex
	v        T
	watchers map[*watcher[T]]struct{}
}

type watcher[T any] struct {
	ch chan T
}

// NewValue returns a Value initialised to v.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{v: v}
}

// Load returns the current value.
func (l *Value[T]) Load() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v
}

// Store replaces the current value and notifies all watchers.
func (l *Value[T]) Store(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.v = v
	for w := range l.watchers {
		w.offer(v)
	}
}

// Update applies fn to the current value under the lock, stores the result
// and notifies watchers. It returns the stored value.
func (l *Value[T]) Update(fn func(T) T) T {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.v = fn(l.v)
	for w := range l.watchers {
		w.offer(l.v)
	}
	return l.v
}

// Watch registers a watcher. The returned channel receives the current value
// immediately and every subsequent change. The cancel func unregisters the
// watcher and closes the channel; it is safe to call more than once.
func (l *Value[T]) Watch() (<-chan T, func()) {
	w := &watcher[T]{ch: make(chan T, 1)}

	l.mu.Lock()
	if l.watchers == nil {
		l.watchers = make(map[*watcher[T]]struct{})
	}
	l.watchers[w] = struct{}{}
	w.offer(l.v)
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.watchers, w)
			close(w.ch)
			l.mu.Unlock()
		})
	}
	return w.ch, cancel
}

// Wait blocks until ready holds for the current or a later value and
// returns that value. It returns ctx's error if ctx ends first.
func (l *Value[T]) Wait(ctx context.Context, ready func(T) bool) (T, error) {
	ch, cancel := l.Watch()
	defer cancel()
	for {
		select {
		case v := <-ch:
			if ready(v) {
				return v, nil
			}
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Watchers reports the number of registered watchers.
func (l *Value[T]) Watchers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.watchers)
}

// offer must be called with the owning Value's lock held. Only the lock holder
// sends on ch, so after draining the slot the send cannot block.
func (w *watcher[T]) offer(v T) {
	select {
	case <-w.ch:
	default:
	}
	w.ch <- v
}
