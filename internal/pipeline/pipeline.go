// Package pipeline implements the packet pipeline (C4): one poll loop
// per packet-processing CPU, owning an RX/TX queue pair and a TX-buffer
// batcher, per spec.md §4.4. Each iteration drains inter-CPU control
// messages, bursts frames off the NIC, classifies and rate-limits each
// one, asks the authoritative resolver collaborator for an answer, and
// either replies in place or hands the query off to the forwarder's
// query ring.
package pipeline

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/jroosing/kdnsfwd/internal/authority"
	"github.com/jroosing/kdnsfwd/internal/config"
	"github.com/jroosing/kdnsfwd/internal/dnswire"
	"github.com/jroosing/kdnsfwd/internal/netif"
	"github.com/jroosing/kdnsfwd/internal/netstats"
	"github.com/jroosing/kdnsfwd/internal/qnode"
	"github.com/jroosing/kdnsfwd/internal/ratelimit"
	"github.com/jroosing/kdnsfwd/internal/ring"
)

// defaultBurst is NETIF_MAX_PKT_BURST's default: the per-iteration RX
// cap named in spec.md §4.4 step 2.
const defaultBurst = 32

// defaultTimeoutMs is used when Controls carries no positive timeout.
const defaultTimeoutMs = 2000

// defaultBackoff is the idle sleep when an iteration does nothing
// (spec.md §4.4/§5: "usleep(1000) when all inbound queues are empty").
const defaultBackoff = time.Millisecond

// ControlMessage is exchanged between a pipeline worker and the master
// loop over the inter-CPU control rings named in spec.md §4.4 step 1
// and §4.5. TxFrames carries buffers the master wants this CPU to
// transmit; KernelTap carries frames this worker classified as non-DNS
// traffic, handed to the master for kernel-tap bridging (step 5).
type ControlMessage struct {
	TxFrames  [][]byte
	KernelTap [][]byte
}

// Worker is one packet-processing CPU's pipeline.
type Worker struct {
	ID int

	NIC       netif.NIC
	Resolver  authority.Resolver
	Limiter   *ratelimit.Limiter
	QueryRing *ring.Ring
	Stats     *netstats.Counters
	Controls  *config.Store
	Logger    *slog.Logger

	ControlIn  <-chan ControlMessage
	ControlOut chan<- ControlMessage

	Burst int

	txBatch [][]byte
}

// Config bundles a Worker's collaborators and tunables.
type Config struct {
	ID         int
	NIC        netif.NIC
	Resolver   authority.Resolver
	Limiter    *ratelimit.Limiter
	QueryRing  *ring.Ring
	Stats      *netstats.Counters
	Controls   *config.Store
	Logger     *slog.Logger
	ControlIn  <-chan ControlMessage
	ControlOut chan<- ControlMessage
	Burst      int
}

// NewWorker builds a Worker from cfg, filling in defaults for unset
// tunables.
func NewWorker(cfg Config) *Worker {
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		ID:         cfg.ID,
		NIC:        cfg.NIC,
		Resolver:   cfg.Resolver,
		Limiter:    cfg.Limiter,
		QueryRing:  cfg.QueryRing,
		Stats:      cfg.Stats,
		Controls:   cfg.Controls,
		Logger:     logger,
		ControlIn:  cfg.ControlIn,
		ControlOut: cfg.ControlOut,
		Burst:      burst,
	}
}

// Run executes the cooperative loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.flushTx()
			return
		default:
		}
		ctrlN, rxN := w.Step(ctx)
		if ctrlN+rxN == 0 {
			time.Sleep(defaultBackoff)
		}
	}
}

// Step runs exactly one loop iteration (spec.md §4.4 steps 1–5) and
// reports the control-message and RX-frame counts, for tests and the
// backoff decision. The TX batcher is flushed unconditionally at the
// end of every Step, which trivially satisfies step 1's "at least
// every 1 ms" bound.
func (w *Worker) Step(ctx context.Context) (ctrlN, rxN int) {
	ctrlN = w.drainControlIn()

	frames := w.NIC.RxBurst(w.Burst)
	rxN = len(frames)

	var kernelTap [][]byte
	for _, frame := range frames {
		if w.handleFrame(ctx, frame) {
			kernelTap = append(kernelTap, frame)
		}
	}

	w.flushTx()

	if len(kernelTap) > 0 {
		w.sendControl(ControlMessage{KernelTap: kernelTap})
	}

	return ctrlN, rxN
}

// handleFrame classifies and disposes of one RX'd frame, reporting
// whether it belongs on the kernel-tap list.
func (w *Worker) handleFrame(ctx context.Context, frame []byte) (kernelTap bool) {
	// Rate-limit on the IPv4 source address as soon as it's cheaply
	// available, strictly before the header-length/UDP/DNS-size
	// consistency checks in Classify: a flood of malformed frames from
	// one source must be shed by the limiter, not spend CPU validating
	// its way to a pkt_len_err first.
	if srcIP, ok := netif.PeekIPv4Source(frame); ok {
		if !w.Limiter.Allow(srcIP.String(), ratelimit.ClassAll) {
			w.Stats.RecordPacketDropped()
			return false
		}
	}

	c := netif.Classify(frame)
	switch c.Verdict {
	case netif.ToKernelTap:
		return true
	case netif.Malformed:
		w.Stats.RecordPacketLenErr()
		return false
	}

	srcIP := c.SrcIP.String()

	off := 0
	hdr, err := dnswire.ParseHeader(c.DNSPayload, &off)
	if err != nil {
		w.Stats.RecordPacketLenErr()
		return false
	}
	question, err := dnswire.ParseQuestion(c.DNSPayload, &off)
	if err != nil {
		w.Stats.RecordPacketLenErr()
		return false
	}
	origFlags := hdr.Flags

	result, err := w.Resolver.Resolve(ctx, c.SrcIP, c.DNSPayload, w.ID)
	if err != nil {
		w.Stats.RecordPacketDropped()
		return false
	}

	if !result.Refused() {
		reply, err := netif.RewriteReply(frame, result.Answer)
		if err != nil {
			w.Stats.RecordPacketDropped()
			return false
		}
		w.txBatch = append(w.txBatch, reply)
		return false
	}

	controls := w.Controls.Snapshot()
	if controls.Mode == config.ForwardingDisabled {
		w.Stats.RecordLost()
		return false
	}

	if !w.Limiter.Allow(srcIP, ratelimit.ClassFwd) {
		w.Stats.RecordPacketDropped()
		return false
	}

	// Restore the original DNS header flags before handing the query
	// to the forwarder: the resolver collaborator is only trusted to
	// rewrite the payload when it actually answers (spec.md §4.4 step 4).
	binary.BigEndian.PutUint16(c.DNSPayload[2:4], origFlags)

	flags := qnode.FlagCache
	if controls.Mode == config.ForwardingDirect {
		flags = qnode.FlagDirect
	}
	timeoutMs := controls.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}

	q := qnode.NewQuery(frame, c.SrcIP, c.SrcPort, hdr.ID, question.Type, question.Name, flags, timeoutMs)
	if err := w.QueryRing.TryEnqueue(q); err != nil {
		w.Stats.RecordLost()
		w.Logger.Error("query ring full, dropping query", "worker_id", w.ID, "qname", q.QName, "err", err)
	}
	return false
}

// drainControlIn pulls every pending control message without blocking,
// folding any requested TX frames into the batcher.
func (w *Worker) drainControlIn() int {
	if w.ControlIn == nil {
		return 0
	}
	n := 0
	for {
		select {
		case msg := <-w.ControlIn:
			n++
			w.txBatch = append(w.txBatch, msg.TxFrames...)
		default:
			return n
		}
	}
}

// flushTx hands the accumulated TX batch to the NIC, counting any
// frames the NIC could not accept as dropped.
func (w *Worker) flushTx() {
	if len(w.txBatch) == 0 {
		return
	}
	sent := w.NIC.TxBurst(w.txBatch)
	for i := sent; i < len(w.txBatch); i++ {
		w.Stats.RecordPacketDropped()
	}
	w.txBatch = w.txBatch[:0]
}

// sendControl forwards msg to the master loop without blocking,
// dropping and counting it if the control ring is full.
func (w *Worker) sendControl(msg ControlMessage) {
	if w.ControlOut == nil {
		return
	}
	select {
	case w.ControlOut <- msg:
	default:
		w.Stats.RecordPacketDropped()
	}
}
