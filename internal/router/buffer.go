package router

import (
	"context"
	"errors"
	"sync"
)

// ErrBufferClosed is returned by Pop once the buffer is closed and drained.
var ErrBufferClosed = errors.New("buffer closed")

// Buffer is a thread-safe FIFO that doubles its capacity when full. With a
// limit set it stops growing there and evicts the oldest item instead.
type Buffer[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int // read position
	count  int
	limit  int // 0 = unbounded
	closed bool

	// ready is signalled on every push; done is closed by Close.
	ready chan struct{}
	done  chan struct{}

	// Stats
	pushed  int64
	popped  int64
	dropped int64
	grows   int
}

// NewBuffer creates a buffer with the given initial capacity and item limit.
func NewBuffer[T any](initialCapacity, limit int) *Buffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit > 0 && initialCapacity > limit {
		initialCapacity = limit
	}
	return &Buffer[T]{
		items: make([]T, initialCapacity),
		limit: limit,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends item. It reports false if the buffer is closed. When the
// limit is reached the oldest item is evicted and evicted is true.
func (b *Buffer[T]) Push(item T) (ok, evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false, false
	}

	if b.count == len(b.items) {
		if b.limit > 0 && b.count >= b.limit {
			b.popLocked()
			b.popped--
			b.dropped++
			evicted = true
		} else {
			b.grow()
		}
	}

	b.items[(b.head+b.count)%len(b.items)] = item
	b.count++
	b.pushed++

	b.signalLocked()
	return true, evicted
}

// Pop removes and returns the oldest item, blocking until one is available.
// It returns ErrBufferClosed once the buffer is closed and empty, or the
// context error if ctx ends first.
func (b *Buffer[T]) Pop(ctx context.Context) (T, error) {
	for {
		b.mu.Lock()
		if b.count > 0 {
			item := b.popLocked()
			if b.count > 0 {
				b.signalLocked()
			}
			b.mu.Unlock()
			return item, nil
		}
		closed := b.closed
		b.mu.Unlock()

		var zero T
		if closed {
			return zero, ErrBufferClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-b.ready:
		case <-b.done:
		}
	}
}

// TryPop removes the oldest item without blocking.
func (b *Buffer[T]) TryPop() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.popLocked(), true
}

// Drain removes up to max items (all if max <= 0) in FIFO order.
func (b *Buffer[T]) Drain(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	for i := range out {
		out[i] = b.popLocked()
	}
	return out
}

// Close stops accepting items. Remaining items can still be popped.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Done is closed when the buffer is closed.
func (b *Buffer[T]) Done() <-chan struct{} {
	return b.done
}

// Len returns the current number of items in the buffer.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Len:     b.count,
		Cap:     len(b.items),
		Pushed:  b.pushed,
		Popped:  b.popped,
		Dropped: b.dropped,
		Grows:   b.grows,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Len     int
	Cap     int
	Pushed  int64
	Popped  int64
	Dropped int64
	Grows   int
}

// popLocked removes the head item. Must be called with lock held and count > 0.
func (b *Buffer[T]) popLocked() T {
	item := b.items[b.head]
	var zero T
	b.items[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % len(b.items)
	b.count--
	b.popped++
	return item
}

// signalLocked wakes one waiting Pop.
func (b *Buffer[T]) signalLocked() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// grow doubles capacity, bounded by limit. Must be called with lock held.
func (b *Buffer[T]) grow() {
	newCap := len(b.items) * 2
	if b.limit > 0 && newCap > b.limit {
		newCap = b.limit
	}
	next := make([]T, newCap)

	// Unwrap [head...end) + [0...tail) into the new slice
	n := copy(next, b.items[b.head:])
	if n < b.count {
		copy(next[n:], b.items[:b.count-n])
	}

	b.items = next
	b.head = 0
	b.grows++
}
