package consumer

import "sync"

// fifo is a bounded FIFO with non-blocking push and pop. Worker and sender
// lanes poll it with a short sleep instead of a wait/notify primitive;
// polling keeps tail latency predictable on the data path.
type fifo[T any] struct {
	mu    sync.Mutex
	items []T
	limit int
}

func newFifo[T any](limit int) *fifo[T] {
	if limit < 1 {
		limit = 1
	}

	return &fifo[T]{limit: limit}
}

// tryPush appends v; reports false when the FIFO is full.
func (f *fifo[T]) tryPush(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) >= f.limit {
		return false
	}
	f.items = append(f.items, v)

	return true
}

// tryPop removes the oldest item; reports false when empty.
func (f *fifo[T]) tryPop() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var zero T
	if len(f.items) == 0 {
		return zero, false
	}
	v := f.items[0]
	f.items[0] = zero
	f.items = f.items[1:]

	return v, true
}

// full reports whether a push would fail right now.
func (f *fifo[T]) full() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.items) >= f.limit
}

// drain empties the FIFO and returns the removed items.
func (f *fifo[T]) drain() []T {
	f.mu.Lock()
	defer f.mu.Unlock()

	items := f.items
	f.items = nil

	return items
}
