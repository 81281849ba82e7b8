// Package masterloop implements the master loop (C5): a single-threaded
// poll loop that does no packet parsing of its own. It watches for a
// configuration reload signal, drains each packet pipeline's kernel-tap
// control messages toward the host networking stack, and drains the
// forwarder's shared response ring into round-robin per-pipeline TX
// control messages, per spec.md §4.5.
package masterloop

import (
	"context"
	"log/slog"
	"time"

	"github.com/jroosing/kdnsfwd/internal/config"
	"github.com/jroosing/kdnsfwd/internal/netif"
	"github.com/jroosing/kdnsfwd/internal/netstats"
	"github.com/jroosing/kdnsfwd/internal/pipeline"
	"github.com/jroosing/kdnsfwd/internal/qnode"
	"github.com/jroosing/kdnsfwd/internal/ring"
)

// defaultResponseBurst and defaultKNIBurst bound the per-iteration drain
// counts, matching the 64-entry bursts the forwarding worker uses for
// its own drains.
const (
	defaultResponseBurst = 64
	defaultKNIBurst      = 64
)

// defaultBackoff is the idle sleep when a whole iteration does nothing
// (spec.md §4.5: "back off ~1ms when idle").
const defaultBackoff = time.Millisecond

// Worker is the master loop's full state.
type Worker struct {
	// Controls is the process-lifetime writer-preferred snapshot every
	// pipeline worker reads from; Reload, when it succeeds, is swapped
	// into it here.
	Controls *config.Store
	// Reload re-parses configuration and returns the reloadable
	// subset. Left nil disables reload entirely.
	Reload func() (config.Controls, error)
	// ReloadSignal fires once per requested reload (a SIGHUP-equivalent
	// edge, not a level), matching spec.md §4.5's "observe a
	// SIGHUP-equivalent reload flag".
	ReloadSignal <-chan struct{}

	// PipelineIn receives control messages FROM each packet-processing
	// CPU (kernel-tap frame lists); PipelineOut sends control messages
	// TO each one (TX frames to transmit). The two slices are indexed
	// by the same pipeline-worker ID.
	PipelineIn  []<-chan pipeline.ControlMessage
	PipelineOut []chan<- pipeline.ControlMessage

	// ResponseRing is the forwarder's shared single-consumer response
	// ring; NIC provides the kernel-tap bridge (KNIEgress/KNIIngress).
	ResponseRing *ring.Ring
	NIC          netif.NIC
	Stats        *netstats.Counters
	Logger       *slog.Logger

	ResponseBurst int
	KNIBurst      int

	rrIndex int
}

// Config bundles a Worker's collaborators and tunables.
type Config struct {
	Controls      *config.Store
	Reload        func() (config.Controls, error)
	ReloadSignal  <-chan struct{}
	PipelineIn    []<-chan pipeline.ControlMessage
	PipelineOut   []chan<- pipeline.ControlMessage
	ResponseRing  *ring.Ring
	NIC           netif.NIC
	Stats         *netstats.Counters
	Logger        *slog.Logger
	ResponseBurst int
	KNIBurst      int
}

// NewWorker builds a Worker from cfg, filling in defaults for unset
// tunables.
func NewWorker(cfg Config) *Worker {
	responseBurst := cfg.ResponseBurst
	if responseBurst <= 0 {
		responseBurst = defaultResponseBurst
	}
	kniBurst := cfg.KNIBurst
	if kniBurst <= 0 {
		kniBurst = defaultKNIBurst
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		Controls:      cfg.Controls,
		Reload:        cfg.Reload,
		ReloadSignal:  cfg.ReloadSignal,
		PipelineIn:    cfg.PipelineIn,
		PipelineOut:   cfg.PipelineOut,
		ResponseRing:  cfg.ResponseRing,
		NIC:           cfg.NIC,
		Stats:         cfg.Stats,
		Logger:        logger,
		ResponseBurst: responseBurst,
		KNIBurst:      kniBurst,
	}
}

// Run executes the cooperative loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		reloadN, ctrlN, respN, kniN := w.Step()
		if reloadN+ctrlN+respN+kniN == 0 {
			time.Sleep(defaultBackoff)
		}
	}
}

// Step runs exactly one loop iteration and reports each drain's count,
// for tests and for the backoff decision.
func (w *Worker) Step() (reloadN, ctrlN, respN, kniN int) {
	reloadN = w.drainReload()
	ctrlN = w.drainPipelineControls()

	batches := make([][][]byte, len(w.PipelineOut))
	respN = w.drainResponseRing(batches)
	kniN = w.drainKNIIngress(batches)

	w.flush(batches)
	return reloadN, ctrlN, respN, kniN
}

// drainReload checks for a pending reload edge without blocking and, if
// one is pending, re-parses configuration and swaps it into Controls.
func (w *Worker) drainReload() int {
	if w.ReloadSignal == nil || w.Reload == nil {
		return 0
	}
	select {
	case <-w.ReloadSignal:
	default:
		return 0
	}

	controls, err := w.Reload()
	if err != nil {
		w.Logger.Error("config reload failed", "err", err)
		return 1
	}
	w.Controls.Swap(controls)
	w.Logger.Info("config reloaded", "mode", controls.Mode, "timeout_ms", controls.TimeoutMs)
	return 1
}

// drainPipelineControls pulls every pending control message from each
// packet pipeline without blocking, handing any kernel-tap frames to
// the NIC's kernel-tap egress path.
func (w *Worker) drainPipelineControls() int {
	n := 0
	for _, in := range w.PipelineIn {
		if in == nil {
			continue
		}
	drainOne:
		for {
			select {
			case msg := <-in:
				n++
				for _, frame := range msg.KernelTap {
					w.NIC.KNIEgress(frame)
				}
			default:
				break drainOne
			}
		}
	}
	return n
}

// drainResponseRing pulls up to ResponseBurst answered QNodes from the
// forwarder's response ring, folding each reply frame into a
// round-robin per-pipeline TX batch.
func (w *Worker) drainResponseRing(batches [][][]byte) int {
	if w.ResponseRing == nil || len(batches) == 0 {
		return 0
	}
	return w.ResponseRing.DrainUpTo(w.ResponseBurst, func(q *qnode.QNode) {
		w.assign(batches, q.Packet)
	})
}

// drainKNIIngress pulls up to KNIBurst frames the host networking stack
// wants transmitted back out the wire, folding each into a round-robin
// per-pipeline TX batch alongside forwarder replies.
func (w *Worker) drainKNIIngress(batches [][][]byte) int {
	if w.NIC == nil || len(batches) == 0 {
		return 0
	}
	n := 0
	for i := 0; i < w.KNIBurst; i++ {
		frame, ok := w.NIC.KNIIngress()
		if !ok {
			break
		}
		n++
		w.assign(batches, frame)
	}
	return n
}

// assign places frame on the next pipeline worker's TX batch in
// round-robin order.
func (w *Worker) assign(batches [][][]byte, frame []byte) {
	idx := w.rrIndex % len(batches)
	w.rrIndex++
	batches[idx] = append(batches[idx], frame)
}

// flush hands each non-empty per-pipeline TX batch to its control
// channel without blocking, counting any it could not deliver.
func (w *Worker) flush(batches [][][]byte) {
	for idx, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		select {
		case w.PipelineOut[idx] <- pipeline.ControlMessage{TxFrames: batch}:
		default:
			if w.Stats != nil {
				for range batch {
					w.Stats.RecordPacketDropped()
				}
			}
		}
	}
}
