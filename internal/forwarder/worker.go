// Package forwarder implements the forwarding worker (C3): a
// single-threaded cooperative loop that dispatches queries to upstream
// resolvers, correlates responses, serves the answer cache, and retries
// or salvages timed-out queries, per spec.md §4.3.
package forwarder

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jroosing/kdnsfwd/internal/correlate"
	"github.com/jroosing/kdnsfwd/internal/dnswire"
	"github.com/jroosing/kdnsfwd/internal/fwdcache"
	"github.com/jroosing/kdnsfwd/internal/netif"
	"github.com/jroosing/kdnsfwd/internal/netstats"
	"github.com/jroosing/kdnsfwd/internal/qnode"
	"github.com/jroosing/kdnsfwd/internal/ring"
	"github.com/jroosing/kdnsfwd/internal/upstream"
)

// responseSocketBurst and queryRingBurst bound the per-iteration drain
// counts named in spec.md §4.3 steps 2 and 3.
const (
	responseSocketBurst = 64
	queryRingBurst      = 64
)

// defaultSweepInterval is the minimum granularity for C2's expiry
// sweep (spec.md §4.3 step 4: "every ≥200 ms").
const defaultSweepInterval = 200 * time.Millisecond

// defaultBackoff is the idle sleep when every drain count is zero
// (spec.md §4.3 step 5).
const defaultBackoff = time.Millisecond

// Observer receives a notification for every upstream response matched
// back to a query, giving an optional collaborator (e.g. internal/netstats)
// a hook for per-response latency tracking without the forwarder package
// depending on any particular metrics backend.
type Observer interface {
	OnResponse(domain string, queryTime time.Time)
}

// Worker is one forwarding worker's full state: its correlation table,
// socket, and the three rings it owns or shares.
type Worker struct {
	ID int
	// InstanceID tags this worker's log lines and detect-probe
	// dispatch. NewWorker generates a fresh one unless Config sets it,
	// so it does not persist across restarts of the process.
	InstanceID string

	socket    Socket
	cache     *fwdcache.Cache
	table     *correlate.Table
	upstreams *upstream.List
	stats     *netstats.Counters
	observer  Observer
	logger    *slog.Logger

	queryRing    *ring.Ring // shared MPMC, fed by the packet pipeline
	responseRing *ring.Ring // shared single-consumer, drained by the master loop
	expiredRing  *ring.Ring // owned by this worker alone

	timeout       time.Duration
	sweepInterval time.Duration
	lastSweep     time.Time
}

// Config bundles the collaborators and tunables a Worker needs.
type Config struct {
	ID            int
	InstanceID    string
	Socket        Socket
	Cache         *fwdcache.Cache
	Table         *correlate.Table
	Upstreams     *upstream.List
	Stats         *netstats.Counters
	Observer      Observer
	Logger        *slog.Logger
	QueryRing     *ring.Ring
	ResponseRing  *ring.Ring
	ExpiredRing   *ring.Ring
	Timeout       time.Duration
	SweepInterval time.Duration
}

// NewWorker builds a Worker from cfg, filling in defaults for
// unset tunables.
func NewWorker(cfg Config) *Worker {
	sweepInterval := cfg.SweepInterval
	if sweepInterval < defaultSweepInterval {
		sweepInterval = defaultSweepInterval
	}
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		ID:            cfg.ID,
		InstanceID:    instanceID,
		socket:        cfg.Socket,
		cache:         cfg.Cache,
		table:         cfg.Table,
		upstreams:     cfg.Upstreams,
		stats:         cfg.Stats,
		observer:      cfg.Observer,
		logger:        logger,
		queryRing:     cfg.QueryRing,
		responseRing:  cfg.ResponseRing,
		expiredRing:   cfg.ExpiredRing,
		timeout:       cfg.Timeout,
		sweepInterval: sweepInterval,
		lastSweep:     time.Now(),
	}
}

// Run executes the cooperative loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("forwarding worker started", "worker_id", w.ID, "instance_id", w.InstanceID)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		expiredN, respN, queryN := w.Step(time.Now())
		if expiredN+respN+queryN == 0 {
			time.Sleep(defaultBackoff)
		}
	}
}

// Step runs exactly one loop iteration (spec.md §4.3 steps 1–4) and
// reports each drain's count, for tests and for the backoff decision.
func (w *Worker) Step(now time.Time) (expiredN, respN, queryN int) {
	expiredN = w.drainExpiredRing(now)
	respN = w.drainResponseSocket()
	queryN = w.drainQueryRing(now)

	if now.Sub(w.lastSweep) >= w.sweepInterval {
		w.sweep(now)
		w.lastSweep = now
	}
	return expiredN, respN, queryN
}

func (w *Worker) drainExpiredRing(now time.Time) int {
	count := 0
	for {
		q, ok := w.expiredRing.TryDequeue()
		if !ok {
			return count
		}
		count++
		w.handleExpired(q, now)
	}
}

func (w *Worker) handleExpired(q *qnode.QNode, now time.Time) {
	if !q.AdvanceUpstream() {
		w.salvageOrDrop(q, now)
		return
	}
	if !q.Flags.Has(qnode.FlagDirect) {
		fresh, payload := w.cache.Lookup(q.QName, q.QType)
		if fresh == fwdcache.Fresh {
			w.respondFromCache(q, payload)
			return
		}
	}
	w.dispatchUpstream(q, now)
}

// salvageOrDrop is reached once every upstream for q has been tried and
// failed: serve a cached answer (including the EXPIRED salvage window,
// whose expiry is bumped to now+TTL) or drop with a loss counter.
func (w *Worker) salvageOrDrop(q *qnode.QNode, now time.Time) {
	if !q.Flags.Has(qnode.FlagDirect) {
		fresh, payload := w.cache.Lookup(q.QName, q.QType)
		switch fresh {
		case fwdcache.Fresh, fwdcache.Expiring:
			w.respondFromCache(q, payload)
			return
		case fwdcache.Expired:
			w.cache.Update(q.QName, q.QType, payload, now)
			w.respondFromCache(q, payload)
			return
		}
	}
	w.stats.RecordLost()
}

func (w *Worker) drainResponseSocket() int {
	datagrams := w.socket.RecvBatch(responseSocketBurst)
	for _, d := range datagrams {
		w.handleUpstreamResponse(d)
	}
	return len(datagrams)
}

func (w *Worker) handleUpstreamResponse(d Datagram) {
	if len(d.Payload) < dnswire.HeaderSize {
		return
	}
	off := 0
	hdr, err := dnswire.ParseHeader(d.Payload, &off)
	if err != nil {
		return
	}
	if hdr.Flags&dnswire.QRFlag == 0 {
		return
	}
	if (hdr.Flags & dnswire.OpcodeMask) != 0 {
		return
	}
	question, err := dnswire.ParseQuestion(d.Payload, &off)
	if err != nil {
		return
	}

	cnode, ok := w.table.MatchAndRemove(hdr.ID, question.Type, question.Name)
	if !ok {
		return
	}
	w.stats.RecordReceived()

	q := cnode.Query
	if w.observer != nil {
		w.observer.OnResponse(q.QName, q.ReceivedAt)
	}
	answer := make([]byte, len(d.Payload))
	copy(answer, d.Payload)
	if !q.Flags.Has(qnode.FlagDirect) {
		w.cache.Update(q.QName, q.QType, answer, time.Now())
	}

	if q.Flags.Has(qnode.FlagDetect) {
		// The client was already answered from the EXPIRING branch;
		// this probe only refreshes the cache.
		return
	}

	binary.BigEndian.PutUint16(answer[0:2], q.OrigTxID)
	w.reply(q, answer)
}

func (w *Worker) drainQueryRing(now time.Time) int {
	count := 0
	w.queryRing.DrainUpTo(queryRingBurst, func(q *qnode.QNode) {
		count++
		w.handleQuery(q, now)
	})
	return count
}

func (w *Worker) handleQuery(q *qnode.QNode, now time.Time) {
	if !q.Flags.Has(qnode.FlagDirect) {
		fresh, payload := w.cache.Lookup(q.QName, q.QType)
		switch fresh {
		case fwdcache.Fresh:
			w.respondFromCache(q, payload)
			return
		case fwdcache.Expiring:
			w.respondFromCache(q, payload)
			probe := q.Clone()
			w.logger.Debug("dispatching detect probe",
				"worker_id", w.ID, "instance_id", w.InstanceID, "qname", probe.QName, "qtype", probe.QType)
			w.dispatchUpstream(probe, now)
			return
		}
	}
	w.dispatchUpstream(q, now)
}

// respondFromCache restores the client's original transaction ID onto
// a cached payload and hands the QNode to the response ring.
func (w *Worker) respondFromCache(q *qnode.QNode, payload []byte) {
	answer := make([]byte, len(payload))
	copy(answer, payload)
	binary.BigEndian.PutUint16(answer[0:2], q.OrigTxID)
	w.reply(q, answer)
}

// reply rewrites q's original frame headers in place around answer and
// enqueues it on the response ring.
func (w *Worker) reply(q *qnode.QNode, answer []byte) {
	frame, err := netif.RewriteReply(q.Packet, answer)
	if err != nil {
		w.stats.RecordLost()
		return
	}
	q.Packet = frame
	q.State = qnode.Answered
	if err := w.responseRing.TryEnqueue(q); err != nil {
		w.stats.RecordLost()
		return
	}
	w.stats.RecordSent()
}

// dispatchUpstream sends q's DNS payload to its current upstream under
// a freshly-allocated correlation ID, advancing to the next upstream on
// a hard send failure (spec.md §4.3's upstream dispatch algorithm).
func (w *Worker) dispatchUpstream(q *qnode.QNode, now time.Time) {
	if len(q.Upstreams) == 0 {
		addrs := w.upstreams.Resolve(q.QName)
		if len(addrs) == 0 {
			w.stats.RecordLost()
			return
		}
		q.Upstreams = addrs
		q.CurrentServer = 0
	}

	frame := netif.Classify(q.Packet)
	if frame.Verdict != netif.ToResolver {
		w.stats.RecordLost()
		return
	}

	for {
		addr, ok := q.CurrentUpstream()
		if !ok {
			w.stats.RecordLost()
			return
		}

		id, err := w.table.AllocateID(q.QName, q.QType)
		if err != nil {
			w.stats.RecordLost()
			return
		}

		msg := make([]byte, len(frame.DNSPayload))
		copy(msg, frame.DNSPayload)
		binary.BigEndian.PutUint16(msg[0:2], id)

		if err := w.socket.SendTo(addr, msg); err != nil {
			if !q.AdvanceUpstream() {
				w.stats.RecordLost()
				return
			}
			continue
		}

		timeout := w.timeout
		if q.TimeoutMs > 0 {
			timeout = time.Duration(q.TimeoutMs) * time.Millisecond
		}
		w.table.Insert(&qnode.CNode{
			Query:     q,
			NewID:     id,
			ExpiresAt: now.Add(timeout),
		})
		q.State = qnode.AwaitingUpstream
		return
	}
}

func (w *Worker) sweep(now time.Time) {
	for _, c := range w.table.Sweep(now) {
		c.Query.State = qnode.Expired
		if err := w.expiredRing.TryEnqueue(c.Query); err != nil {
			w.stats.RecordLost()
		}
	}
}
