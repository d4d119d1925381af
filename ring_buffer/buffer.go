package ring_buffer

import (
	"fmt"
	"sync"
)

// Buffer is a fixed-capacity circular buffer. When full, appends evict the
// oldest elements (rolling window, not a queue: callers are never blocked and
// never told about evictions). All methods are safe for concurrent use from
// one producer and one consumer.
type Buffer[T any] struct {
	mu    sync.Mutex
	data  []T
	head  int // index of the oldest element
	count int
}

func New[T any](capacity int) (*Buffer[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid capacity: %d, must be greater than 0", capacity)
	}

	return &Buffer[T]{
		data: make([]T, capacity),
	}, nil
}

// Append adds a single element, evicting the oldest if the buffer is full.
func (b *Buffer[T]) Append(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[(b.head+b.count)%len(b.data)] = v

	if b.count == len(b.data) {
		b.head = (b.head + 1) % len(b.data)
	} else {
		b.count++
	}
}

// AppendAll adds all elements in order. If the input is larger than the
// capacity, only the trailing capacity elements survive.
func (b *Buffer[T]) AppendAll(vs []T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(vs) >= len(b.data) {
		copy(b.data, vs[len(vs)-len(b.data):])
		b.head = 0
		b.count = len(b.data)

		return
	}

	for _, v := range vs {
		b.data[(b.head+b.count)%len(b.data)] = v

		if b.count == len(b.data) {
			b.head = (b.head + 1) % len(b.data)
		} else {
			b.count++
		}
	}
}

// ReadAll returns the buffered elements in arrival order without consuming
// them.
func (b *Buffer[T]) ReadAll() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.data[(b.head+i)%len(b.data)]
	}

	return out
}

func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.data {
		b.data[i] = zero
	}

	b.head = 0
	b.count = 0
}

func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

func (b *Buffer[T]) Cap() int {
	return len(b.data)
}

func (b *Buffer[T]) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count == 0
}

func (b *Buffer[T]) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count == len(b.data)
}
