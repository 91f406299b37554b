// Package unboundedchan provides a channel-like queue whose sends never block.
package unboundedchan

// UnboundedChannel queues values sent on In until they are received on Out.
// Beware! Nothing bounds the queue: use it only where the receiver keeps up
// on average and stalls are short.
type UnboundedChannel[T any] struct {
	in  chan T
	out chan T
}

// NewUnboundedChannel creates an UnboundedChannel and starts its pump goroutine.
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go uc.pump()
	return uc
}

// In returns the sending side. Closing it lets Out drain and then close.
func (uc *UnboundedChannel[T]) In() chan<- T {
	return uc.in
}

// Out returns the receiving side.
func (uc *UnboundedChannel[T]) Out() <-chan T {
	return uc.out
}

// Close is shorthand for close(uc.In()).
func (uc *UnboundedChannel[T]) Close() {
	close(uc.in)
}

func (uc *UnboundedChannel[T]) pump() {
	var (
		queue []T
		zero  T
		in    = uc.in
	)
	for in != nil || len(queue) > 0 {
		// A nil channel never becomes ready, which disables that select case.
		var (
			out  chan T
			head T
		)
		if len(queue) > 0 {
			out = uc.out
			head = queue[0]
		}

		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, v)
		case out <- head:
			queue[0] = zero
			queue = queue[1:]
		}
	}
	close(uc.out)
}
