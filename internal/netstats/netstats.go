// Package netstats collects the forwarder's wire-level counters
// (fwd_rcv/fwd_snd/fwd_lost) and the packet pipeline's error counters
// (pkt_len_err/pkt_dropped), named in spec.md §7's error table and
// exposed through the management API's stats endpoint.
package netstats

import (
	"sync/atomic"
	"time"

	"github.com/jroosing/kdnsfwd/internal/api/models"
)

// Counters collects the atomic counters every forwarding worker and
// pipeline worker share. Safe for concurrent use across CPUs.
type Counters struct {
	fwdRcv    atomic.Uint64
	fwdSnd    atomic.Uint64
	fwdLost   atomic.Uint64
	pktLenErr atomic.Uint64
	pktDrop   atomic.Uint64

	latencySumMicros atomic.Uint64
	latencyCount     atomic.Uint64
}

// New builds an empty counter set.
func New() *Counters {
	return &Counters{}
}

// RecordReceived counts an upstream response the forwarder matched back
// to a query; fwd_rcv in spec.md §7.
func (c *Counters) RecordReceived() { c.fwdRcv.Add(1) }

// RecordSent counts a reply successfully handed to the response ring;
// fwd_snd in spec.md §7.
func (c *Counters) RecordSent() { c.fwdSnd.Add(1) }

// RecordLost counts a query dropped without a reply: every upstream and
// cache fallback failed, a ring was full, no reply frame could be built,
// or forwarding is disabled; fwd_lost in spec.md §7.
func (c *Counters) RecordLost() { c.fwdLost.Add(1) }

// RecordPacketLenErr counts a frame that failed a layer length
// consistency check in the packet pipeline; pkt_len_err in spec.md §7.
func (c *Counters) RecordPacketLenErr() { c.pktLenErr.Add(1) }

// RecordPacketDropped counts a frame dropped for a rate-limit or
// queue-full condition; pkt_dropped in spec.md §7.
func (c *Counters) RecordPacketDropped() { c.pktDrop.Add(1) }

// OnResponse implements forwarder.Observer: it folds one more sample into
// the running average response latency exposed as avg_latency_ms, the Go
// home for the per-response metrics hook the forwarder otherwise has no
// reason to know about.
func (c *Counters) OnResponse(_ string, queryTime time.Time) {
	elapsed := time.Since(queryTime)
	if elapsed < 0 {
		elapsed = 0
	}
	c.latencySumMicros.Add(uint64(elapsed.Microseconds()))
	c.latencyCount.Add(1)
}

// Snapshot satisfies handlers.StatsSource for the management API.
func (c *Counters) Snapshot() models.ForwarderStats {
	var avgLatencyMs float64
	if count := c.latencyCount.Load(); count > 0 {
		avgLatencyMs = float64(c.latencySumMicros.Load()) / float64(count) / 1000.0
	}
	return models.ForwarderStats{
		Received:     c.fwdRcv.Load(),
		Sent:         c.fwdSnd.Load(),
		Lost:         c.fwdLost.Load(),
		PktLenErr:    c.pktLenErr.Load(),
		PktDrop:      c.pktDrop.Load(),
		AvgLatencyMs: avgLatencyMs,
	}
}

// InFlight reports fwd_rcv - (fwd_snd + fwd_lost), the live-query
// invariant in spec.md §8.4 ("fwd_rcv = fwd_snd + fwd_lost + in_flight
// at all times").
func (c *Counters) InFlight() uint64 {
	rcv := c.fwdRcv.Load()
	done := c.fwdSnd.Load() + c.fwdLost.Load()
	if done > rcv {
		return 0
	}
	return rcv - done
}
