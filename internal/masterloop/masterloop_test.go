package masterloop_test

import (
	"errors"
	"testing"

	"github.com/jroosing/kdnsfwd/internal/config"
	"github.com/jroosing/kdnsfwd/internal/masterloop"
	"github.com/jroosing/kdnsfwd/internal/netif"
	"github.com/jroosing/kdnsfwd/internal/netstats"
	"github.com/jroosing/kdnsfwd/internal/pipeline"
	"github.com/jroosing/kdnsfwd/internal/qnode"
	"github.com/jroosing/kdnsfwd/internal/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStep_ReloadSignalSwapsControls(t *testing.T) {
	store := config.NewStore(config.Controls{Mode: config.ForwardingDisabled})
	signal := make(chan struct{}, 1)
	signal <- struct{}{}

	w := masterloop.NewWorker(masterloop.Config{
		Controls:     store,
		ReloadSignal: signal,
		Reload: func() (config.Controls, error) {
			return config.Controls{Mode: config.ForwardingCache, TimeoutMs: 3000}, nil
		},
	})

	reloadN, _, _, _ := w.Step()

	assert.Equal(t, 1, reloadN)
	assert.Equal(t, config.ForwardingCache, store.Snapshot().Mode)
	assert.Equal(t, 3000, store.Snapshot().TimeoutMs)
}

func TestStep_FailedReloadLeavesControlsUnchanged(t *testing.T) {
	store := config.NewStore(config.Controls{Mode: config.ForwardingDirect})
	signal := make(chan struct{}, 1)
	signal <- struct{}{}

	w := masterloop.NewWorker(masterloop.Config{
		Controls:     store,
		ReloadSignal: signal,
		Reload: func() (config.Controls, error) {
			return config.Controls{}, errors.New("bad config file")
		},
	})

	reloadN, _, _, _ := w.Step()

	assert.Equal(t, 1, reloadN)
	assert.Equal(t, config.ForwardingDirect, store.Snapshot().Mode)
}

func TestStep_NoReloadWiringIsANoOp(t *testing.T) {
	w := masterloop.NewWorker(masterloop.Config{})
	reloadN, ctrlN, respN, kniN := w.Step()
	assert.Equal(t, 0, reloadN)
	assert.Equal(t, 0, ctrlN)
	assert.Equal(t, 0, respN)
	assert.Equal(t, 0, kniN)
}

// SoftNIC's kni channel is a single loop-back queue standing in for the
// two-directional kernel-tap device: KNIEgress is the "push toward the
// host stack" side and KNIIngress the "pull back toward the wire" side,
// sharing one buffer in the software reference NIC. Pushing through
// KNIEgress and reading back through KNIIngress exercises the same
// bridge path a split hardware tap would use for each direction
// independently.
func TestStep_PipelineKernelTapFramesAreShuttledToTheHostStack(t *testing.T) {
	nic := netif.NewSoftNIC(8)
	in := make(chan pipeline.ControlMessage, 2)
	in <- pipeline.ControlMessage{KernelTap: [][]byte{[]byte("arp-frame")}}

	w := masterloop.NewWorker(masterloop.Config{
		PipelineIn: []<-chan pipeline.ControlMessage{in},
		NIC:        nic,
	})

	_, ctrlN, _, _ := w.Step()
	assert.Equal(t, 1, ctrlN)

	frame, ok := nic.KNIIngress()
	require.True(t, ok)
	assert.Equal(t, []byte("arp-frame"), frame)
}

func TestStep_ResponseRingDrainsRoundRobinAcrossPipelines(t *testing.T) {
	responseRing := ring.New(8)
	for i := 0; i < 4; i++ {
		q := &qnode.QNode{Packet: []byte{byte(i)}}
		require.NoError(t, responseRing.TryEnqueue(q))
	}

	outA := make(chan pipeline.ControlMessage, 4)
	outB := make(chan pipeline.ControlMessage, 4)

	w := masterloop.NewWorker(masterloop.Config{
		ResponseRing: responseRing,
		NIC:          netif.NewSoftNIC(8),
		Stats:        netstats.New(),
		PipelineOut:  []chan<- pipeline.ControlMessage{outA, outB},
	})

	_, _, respN, _ := w.Step()
	assert.Equal(t, 4, respN)

	msgA := <-outA
	msgB := <-outB
	assert.Len(t, msgA.TxFrames, 2)
	assert.Len(t, msgB.TxFrames, 2)
}

func TestStep_KNIIngressFramesFoldIntoTxBatchesAlongsideResponses(t *testing.T) {
	nic := netif.NewSoftNIC(8)
	nic.KNIEgress([]byte("host-originated"))

	out := make(chan pipeline.ControlMessage, 4)
	w := masterloop.NewWorker(masterloop.Config{
		NIC:          nic,
		PipelineOut:  []chan<- pipeline.ControlMessage{out},
		ResponseRing: ring.New(1),
	})

	_, _, _, kniN := w.Step()
	assert.Equal(t, 1, kniN)

	msg := <-out
	require.Len(t, msg.TxFrames, 1)
	assert.Equal(t, []byte("host-originated"), msg.TxFrames[0])
}

func TestStep_FullPipelineOutChannelCountsDropped(t *testing.T) {
	responseRing := ring.New(4)
	require.NoError(t, responseRing.TryEnqueue(&qnode.QNode{Packet: []byte("a")}))

	out := make(chan pipeline.ControlMessage) // unbuffered, never read: guarantees a full send
	stats := netstats.New()
	w := masterloop.NewWorker(masterloop.Config{
		ResponseRing: responseRing,
		NIC:          netif.NewSoftNIC(8),
		Stats:        stats,
		PipelineOut:  []chan<- pipeline.ControlMessage{out},
	})

	w.Step()

	assert.Equal(t, uint64(1), stats.Snapshot().PktDrop)
}
