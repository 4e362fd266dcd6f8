// Package framebuf hands simulation frames from a single producer to a
// consumer through two FIFO queues.
//
// The producer always appends to its own queue and the consumer always pops
// from the other one. Swap exchanges the two roles, but only once the
// consumer has drained its queue, so frames are never reordered, duplicated
// or dropped and the producer never blocks. Which physical queue plays which
// role is private to the buffer.
package framebuf

import (
	"context"
	"sync"
)

// DoubleBuffer is a single-use, unidirectional frame pipe.
type DoubleBuffer[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	queues [2][]T
	// writer indexes the producer's queue; the consumer owns 1-writer.
	writer int
	ended  bool

	written uint64
	read    uint64
	swaps   uint64
}

// New returns an empty buffer. capacity is a sizing hint for each queue.
func New[T any](capacity int) *DoubleBuffer[T] {
	b := &DoubleBuffer[T]{}
	b.queues[0] = make([]T, 0, capacity)
	b.queues[1] = make([]T, 0, capacity)
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Write appends v to the producer's queue. It never blocks on the consumer.
func (b *DoubleBuffer[T]) Write(v T) {
	b.mu.Lock()
	b.queues[b.writer] = append(b.queues[b.writer], v)
	b.written++
	b.mu.Unlock()
}

// Swap hands the producer's queue to the consumer if the consumer's queue is
// empty and wakes any waiting reader. Otherwise it does nothing. It reports
// whether the roles were exchanged.
func (b *DoubleBuffer[T]) Swap() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queues[1-b.writer]) != 0 {
		return false
	}
	b.exchange()
	b.cond.Broadcast()
	return true
}

// exchange swaps roles. Caller holds mu and has checked the consumer queue
// is empty.
func (b *DoubleBuffer[T]) exchange() {
	// Reuse the drained queue's storage for the producer.
	reader := 1 - b.writer
	b.queues[reader] = b.queues[reader][:0]
	b.writer = reader
	b.swaps++
}

// Read pops the oldest frame from the consumer's queue, blocking while it is
// empty and the producer has not called End. After End, an empty consumer
// queue takes over the producer's queue so the final frames still drain.
// ok is false once both queues are empty after End, or when ctx is done.
func (b *DoubleBuffer[T]) Read(ctx context.Context) (v T, ok bool) {
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		})
		defer stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		reader := 1 - b.writer
		if q := b.queues[reader]; len(q) > 0 {
			v = q[0]
			var zero T
			q[0] = zero
			b.queues[reader] = q[1:]
			b.read++
			return v, true
		}
		if b.ended {
			if len(b.queues[b.writer]) == 0 {
				return v, false
			}
			b.exchange()
			continue
		}
		if ctx.Err() != nil {
			return v, false
		}
		b.cond.Wait()
	}
}

// End marks the stream complete. It does not wake blocked readers; a
// producer shutting down calls Swap afterwards to do that.
func (b *DoubleBuffer[T]) End() {
	b.mu.Lock()
	b.ended = true
	b.mu.Unlock()
}

// Stats is a diagnostic snapshot. It must not be used for flow control.
type Stats struct {
	Written uint64
	Read    uint64
	Swaps   uint64
	Pending int
}

// Stats returns the buffer counters.
func (b *DoubleBuffer[T]) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Written: b.written,
		Read:    b.read,
		Swaps:   b.swaps,
		Pending: len(b.queues[0]) + len(b.queues[1]),
	}
}
