package segment

import (
	"sync/atomic"

	"stepcore/pkg/errors"
)

// DefaultQueueSize is the planner buffer length.
const DefaultQueueSize = 16

// Queue is a bounded ring of segments with one producer (the planner)
// and one consumer (the step interrupt). Push is producer-only; Current
// and Discard are consumer-only. Clear must run with interrupts masked.
type Queue struct {
	buf  []Segment
	head atomic.Uint32 // next slot to consume
	tail atomic.Uint32 // next slot to fill
}

// NewQueue creates a queue holding up to size segments.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	// One slot stays empty to tell full from empty.
	return &Queue{buf: make([]Segment, size+1)}
}

func (q *Queue) next(i uint32) uint32 {
	i++
	if i == uint32(len(q.buf)) {
		return 0
	}
	return i
}

// Cap returns the number of segments the queue can hold.
func (q *Queue) Cap() int {
	return len(q.buf) - 1
}

// Len returns the number of queued segments, including the one being
// executed. Safe from any goroutine.
func (q *Queue) Len() int {
	h, t := q.head.Load(), q.tail.Load()
	if t >= h {
		return int(t - h)
	}
	return int(t) + len(q.buf) - int(h)
}

// Push copies s into the queue.
func (q *Queue) Push(s Segment) error {
	t := q.tail.Load()
	n := q.next(t)
	if n == q.head.Load() {
		return errors.QueueFull(q.Cap())
	}
	q.buf[t] = s
	q.tail.Store(n)
	return nil
}

// Current returns the head segment or nil. The pointer stays valid until
// Discard.
func (q *Queue) Current() *Segment {
	h := q.head.Load()
	if h == q.tail.Load() {
		return nil
	}
	return &q.buf[h]
}

// Discard releases the head segment.
func (q *Queue) Discard() {
	h := q.head.Load()
	if h != q.tail.Load() {
		q.head.Store(q.next(h))
	}
}

// Clear drops every queued segment.
func (q *Queue) Clear() {
	q.head.Store(q.tail.Load())
}
