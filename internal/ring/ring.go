// Package ring implements the bounded queues standing in for the
// lock-free rte_ring structures the forwarding engine is built on in its
// original form. A buffered Go channel gives the same bounded-capacity,
// multi-producer/multi-consumer semantics the corpus reaches for when it
// needs a queue (see internal/pool for the sibling idiom of wrapping a
// built-in primitive with a small generic type).
package ring

import (
	"errors"

	"github.com/jroosing/kdnsfwd/internal/qnode"
)

// ErrFull is returned by TryEnqueue when the ring has no free slot,
// mirroring the C teacher's -ENOBUFS return from rte_ring_enqueue.
var ErrFull = errors.New("ring: full")

// Ring is a bounded queue of *qnode.QNode pointers.
type Ring struct {
	slots chan *qnode.QNode
}

// New allocates a ring with the given capacity (FWD_RING_SIZE by
// default, see internal/config).
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{slots: make(chan *qnode.QNode, capacity)}
}

// TryEnqueue places q on the ring without blocking. It reports ErrFull
// if the ring is at capacity.
func (r *Ring) TryEnqueue(q *qnode.QNode) error {
	select {
	case r.slots <- q:
		return nil
	default:
		return ErrFull
	}
}

// TryDequeue removes one QNode from the ring without blocking. The
// second return value is false if the ring was empty.
func (r *Ring) TryDequeue() (*qnode.QNode, bool) {
	select {
	case q := <-r.slots:
		return q, true
	default:
		return nil, false
	}
}

// DrainUpTo pulls up to max QNodes from the ring, calling fn for each;
// the forwarding worker's query-ring drain (up to 64) and the master
// loop's response-ring drain batch through it.
func (r *Ring) DrainUpTo(max int, fn func(*qnode.QNode)) int {
	n := 0
	for n < max {
		q, ok := r.TryDequeue()
		if !ok {
			break
		}
		fn(q)
		n++
	}
	return n
}

// Len reports the number of QNodes currently queued.
func (r *Ring) Len() int {
	return len(r.slots)
}

// Cap reports the ring's fixed capacity.
func (r *Ring) Cap() int {
	return cap(r.slots)
}
