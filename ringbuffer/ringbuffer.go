// Package ringbuffer provides the fixed-capacity point queue of a simulated DAC.
package ringbuffer

import "errors"

// ErrOverflow is returned by Push when the buffer is full.
var ErrOverflow = errors.New("ringbuffer: overflow")

// Ring is a circular buffer of capacity C holding at most C-1 values: it is
// empty when produce == consume and full when advancing produce would reach
// consume. Ring is not safe for concurrent use; callers serialize access.
type Ring[T any] struct {
	data    []T
	produce int
	consume int
}

// New creates a Ring of the given capacity, which must be at least 2.
func New[T any](capacity int) *Ring[T] {
	if capacity < 2 {
		panic("ringbuffer: capacity must be at least 2")
	}
	return &Ring[T]{data: make([]T, capacity)}
}

// Cap returns the capacity C.
func (rb *Ring[T]) Cap() int {
	return len(rb.data)
}

// Fullness returns the number of queued values, in [0, C-1].
func (rb *Ring[T]) Fullness() int {
	n := rb.produce - rb.consume
	if n < 0 {
		n += len(rb.data)
	}
	return n
}

// IsFull reports whether another Push would overflow.
func (rb *Ring[T]) IsFull() bool {
	return (rb.produce+1)%len(rb.data) == rb.consume
}

// Push queues v, or returns ErrOverflow and leaves the buffer unchanged.
func (rb *Ring[T]) Push(v T) error {
	next := (rb.produce + 1) % len(rb.data)
	if next == rb.consume {
		return ErrOverflow
	}
	rb.data[rb.produce] = v
	rb.produce = next
	return nil
}

// Drain removes up to limit values from the consume side and appends them to
// dst. The copy is done in at most two spans: consume up to the end of the
// storage, then from its start.
func (rb *Ring[T]) Drain(dst []T, limit int) []T {
	n := min(limit, rb.Fullness())
	if n <= 0 {
		return dst
	}
	first := min(n, len(rb.data)-rb.consume)
	dst = append(dst, rb.data[rb.consume:rb.consume+first]...)
	dst = append(dst, rb.data[:n-first]...)
	rb.consume = (rb.consume + n) % len(rb.data)
	return dst
}

// Reset empties the buffer.
func (rb *Ring[T]) Reset() {
	clear(rb.data)
	rb.produce = 0
	rb.consume = 0
}
