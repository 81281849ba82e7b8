// Package qnode defines the per-query and per-correlation data model
// shared by the forwarding worker, packet pipeline and master loop.
package qnode

import (
	"net"
	"time"
)

// MaxUpstreamAddrs bounds the inline upstream address array carried on
// every QNode (FWD_MAX_ADDRS).
const MaxUpstreamAddrs = 4

// MaxNameLength is the longest qname a QNode may carry, matching the
// wire-format limit on an encoded DNS name.
const MaxNameLength = 255

// State is the lifecycle phase of a QNode after it has been dispatched
// upstream.
type State int

const (
	// AwaitingUpstream means the query has been sent upstream and is
	// registered in the correlation table, waiting for a response or
	// a timeout.
	AwaitingUpstream State = iota
	// Expired means the correlation table's sweep moved this QNode to
	// the expired ring without an upstream answer arriving in time.
	Expired
	// Answered means a matching upstream response was received and
	// the QNode has been handed to the response ring.
	Answered
)

// Flags are the per-query control bits named in spec.md §3: direct
// bypasses the cache, cache routes through it, detect marks a
// background-refresh probe clone.
type Flags uint8

const (
	FlagDirect Flags = 1 << iota
	FlagCache
	FlagDetect
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// QNode is one in-flight client request. A QNode is owned by exactly one
// of {query ring, correlation table, expired ring, response ring} at any
// instant; transitions between them are hand-offs, never shared access.
type QNode struct {
	// Packet is the owning raw packet buffer, held until the reply is
	// sent or the query is dropped.
	Packet []byte

	ClientAddr    net.IP
	ClientPort    uint16
	OrigTxID      uint16
	QType         uint16
	QName         string
	Flags         Flags
	ReceivedAt    time.Time
	TimeoutMs     int
	CurrentServer int
	Upstreams     []net.UDPAddr

	State State
}

// NewQuery builds a QNode for a freshly-received client query.
func NewQuery(packet []byte, clientAddr net.IP, clientPort uint16, txID, qtype uint16, qname string, flags Flags, timeoutMs int) *QNode {
	return &QNode{
		Packet:     packet,
		ClientAddr: clientAddr,
		ClientPort: clientPort,
		OrigTxID:   txID,
		QType:      qtype,
		QName:      qname,
		Flags:      flags,
		ReceivedAt: time.Now(),
		TimeoutMs:  timeoutMs,
	}
}

// Clone performs a deep copy of the packet buffer and upstream list,
// used when spawning a detect probe (replaces fwd_pktmbuf_copy's
// multi-segment mbuf duplication with a plain []byte deep copy).
func (q *QNode) Clone() *QNode {
	packet := make([]byte, len(q.Packet))
	copy(packet, q.Packet)

	upstreams := make([]net.UDPAddr, len(q.Upstreams))
	copy(upstreams, q.Upstreams)

	clone := *q
	clone.Packet = packet
	clone.Upstreams = upstreams
	clone.Flags |= FlagDetect
	return &clone
}

// CurrentUpstream returns the upstream address at CurrentServer, or the
// zero value and false if the list is exhausted.
func (q *QNode) CurrentUpstream() (net.UDPAddr, bool) {
	if q.CurrentServer < 0 || q.CurrentServer >= len(q.Upstreams) {
		return net.UDPAddr{}, false
	}
	return q.Upstreams[q.CurrentServer], true
}

// AdvanceUpstream moves to the next upstream in the list, returning
// false once the list is exhausted.
func (q *QNode) AdvanceUpstream() bool {
	q.CurrentServer++
	return q.CurrentServer < len(q.Upstreams)
}

// Deadline is the absolute time this query must be answered by.
func (q *QNode) Deadline() time.Time {
	return q.ReceivedAt.Add(time.Duration(q.TimeoutMs) * time.Millisecond)
}

// CNode wraps a QNode with the freshly-chosen upstream transaction ID
// and absolute expiry, as registered in the per-worker correlation
// table (spec.md §3 Correlation Entry).
type CNode struct {
	Query     *QNode
	NewID     uint16
	ExpiresAt time.Time
}

// Key identifies a CNode within a worker's correlation table: jointly
// by (new_id, qtype, qname).
type Key struct {
	ID    uint16
	QType uint16
	QName string
}

// KeyOf builds the correlation-table key for c.
func (c *CNode) KeyOf() Key {
	return Key{ID: c.NewID, QType: c.Query.QType, QName: c.Query.QName}
}
