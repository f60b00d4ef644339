// Package ring provides a bounded FIFO that evicts its oldest item when
// full.
package ring

import "sync"

// Ring is a thread-safe circular buffer with a drop-oldest overflow
// policy.
type Ring[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int // next write position
	size    int
	dropped uint64
	onDrop  func(T)
}

// New creates a ring holding at most capacity items. A capacity below one
// is raised to one.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// OnDrop registers f to be called with every evicted item. f runs without
// the ring's lock held.
func (r *Ring[T]) OnDrop(f func(T)) {
	r.mu.Lock()
	r.onDrop = f
	r.mu.Unlock()
}

// Push appends item, evicting the oldest item if the ring is full. It
// reports whether an item was evicted.
func (r *Ring[T]) Push(item T) bool {
	r.mu.Lock()
	var (
		evicted bool
		old     T
	)
	capacity := len(r.items)
	if r.size == capacity {
		old = r.items[r.head]
		evicted = true
		r.dropped++
	} else {
		r.size++
	}
	r.items[r.head] = item
	r.head = (r.head + 1) % capacity
	onDrop := r.onDrop
	r.mu.Unlock()

	if evicted && onDrop != nil {
		onDrop(old)
	}
	return evicted
}

// Pop removes and returns the oldest item.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	tail := r.tail()
	item := r.items[tail]
	r.items[tail] = zero
	r.size--
	return item, true
}

// Snapshot returns the items oldest first without removing them.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.size)
	tail := r.tail()
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(tail+i)%len(r.items)]
	}
	return out
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Dropped returns how many items were evicted since creation.
func (r *Ring[T]) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}

func (r *Ring[T]) tail() int {
	return (r.head - r.size + len(r.items)) % len(r.items)
}
