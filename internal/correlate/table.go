// Package correlate implements the per-worker correlation table (C2):
// transaction-ID allocation for outbound upstream queries and matching of
// inbound upstream responses back to the originating QNode.
//
// A Table is owned by exactly one forwarding worker goroutine (spec.md §5's
// single-threaded cooperative poll loop); it performs no internal locking.
package correlate

import (
	"errors"
	"math/rand"
	"time"

	"github.com/jroosing/kdnsfwd/internal/qnode"
)

// maxAllocAttempts bounds allocate_id's collision-retry loop.
const maxAllocAttempts = 64

// ErrIDExhausted is returned when no collision-free transaction ID could
// be drawn within maxAllocAttempts tries.
var ErrIDExhausted = errors.New("correlate: id space exhausted for key")

// Table is a per-worker map from (new_id, qtype, qname) to the in-flight
// CNode awaiting an upstream response.
type Table struct {
	entries map[qnode.Key]*qnode.CNode
	rng     *rand.Rand
}

// New builds an empty correlation table.
func New() *Table {
	return &Table{
		entries: make(map[qnode.Key]*qnode.CNode),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AllocateID draws a random 16-bit transaction ID such that no existing
// entry shares (id, qname, qtype). Fails with ErrIDExhausted after
// maxAllocAttempts tries.
func (t *Table) AllocateID(qname string, qtype uint16) (uint16, error) {
	for i := 0; i < maxAllocAttempts; i++ {
		id := uint16(t.rng.Intn(1 << 16))
		k := qnode.Key{ID: id, QType: qtype, QName: qname}
		if _, exists := t.entries[k]; !exists {
			return id, nil
		}
	}
	return 0, ErrIDExhausted
}

// Insert registers c under its (new_id, qtype, qname) key.
func (t *Table) Insert(c *qnode.CNode) {
	t.entries[c.KeyOf()] = c
}

// MatchAndRemove looks up and removes the entry for (id, qname, qtype),
// used when an upstream response arrives. The bool is false on a miss.
func (t *Table) MatchAndRemove(id uint16, qtype uint16, qname string) (*qnode.CNode, bool) {
	k := qnode.Key{ID: id, QType: qtype, QName: qname}
	c, ok := t.entries[k]
	if ok {
		delete(t.entries, k)
	}
	return c, ok
}

// Sweep removes and returns every entry whose ExpiresAt has passed as of
// now. Callers push the returned CNodes onto the expired ring. Intended
// to run at ≥200ms granularity per spec.md §5.
func (t *Table) Sweep(now time.Time) []*qnode.CNode {
	var expired []*qnode.CNode
	for k, c := range t.entries {
		if !now.Before(c.ExpiresAt) {
			expired = append(expired, c)
			delete(t.entries, k)
		}
	}
	return expired
}

// Len reports the number of in-flight correlation entries.
func (t *Table) Len() int {
	return len(t.entries)
}
