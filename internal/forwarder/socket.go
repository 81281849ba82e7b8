package forwarder

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/kdnsfwd/internal/pool"
)

// socketRecvBufferSize and socketSendBufferSize size the forwarder's
// upstream-facing UDP socket for burst handling.
const (
	socketRecvBufferSize = 4 * 1024 * 1024
	socketSendBufferSize = 4 * 1024 * 1024

	// sendRetryAttempts bounds the EAGAIN/EWOULDBLOCK/EINTR retry loop
	// in spec.md §4.3's upstream dispatch algorithm.
	sendRetryAttempts = 16

	// recvScratchSize covers the largest practical EDNS0 UDP response.
	recvScratchSize = 4096
)

// recvBufferPool reduces allocation on RecvBatch's hot path: one
// scratch buffer borrowed per call instead of one allocated fresh
// every call.
var recvBufferPool = pool.New(func() *[]byte {
	buf := make([]byte, recvScratchSize)
	return &buf
})

// Datagram is one received upstream response.
type Datagram struct {
	Payload []byte
	From    *net.UDPAddr
}

// Socket is the non-blocking UDP collaborator a forwarding worker uses
// to dispatch queries upstream and drain responses. Abstracted so
// tests can swap a fake for the real kernel socket.
type Socket interface {
	SendTo(addr net.UDPAddr, payload []byte) error
	RecvBatch(max int) []Datagram
	Close() error
}

// UDPSocket is the real, non-blocking UDP socket a forwarding worker
// binds for talking to upstream resolvers: SO_REUSEPORT via
// golang.org/x/sys/unix and large send/receive buffers. Reads use a
// past read deadline rather than a dedicated receiver goroutine, since
// a forwarding worker is single-threaded and cooperative (spec.md §4.3).
type UDPSocket struct {
	conn *net.UDPConn
}

// NewUDPSocket binds a SO_REUSEPORT UDP socket on addr (":0" for an
// ephemeral port per worker).
func NewUDPSocket(addr string) (*UDPSocket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", udpAddr.String())
	if err != nil {
		return nil, err
	}
	conn := pc.(*net.UDPConn)
	_ = conn.SetReadBuffer(socketRecvBufferSize)
	_ = conn.SetWriteBuffer(socketSendBufferSize)

	return &UDPSocket{conn: conn}, nil
}

// SendTo writes payload to addr, retrying bounded attempts on a
// would-block timeout per spec.md §4.3's EAGAIN/EWOULDBLOCK/EINTR
// retry-in-place rule.
func (s *UDPSocket) SendTo(addr net.UDPAddr, payload []byte) error {
	var lastErr error
	for attempt := 0; attempt < sendRetryAttempts; attempt++ {
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
		_, err := s.conn.WriteToUDP(payload, &addr)
		if err == nil {
			return nil
		}
		lastErr = err
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			return err
		}
	}
	return lastErr
}

// RecvBatch reads up to max datagrams without blocking, standing in
// for recvfrom(O_NONBLOCK) in a tight poll loop.
func (s *UDPSocket) RecvBatch(max int) []Datagram {
	out := make([]Datagram, 0, max)
	bufPtr := recvBufferPool.Get()
	defer recvBufferPool.Put(bufPtr)
	buf := *bufPtr
	for len(out) < max {
		_ = s.conn.SetReadDeadline(time.Now())
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return out
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		out = append(out, Datagram{Payload: payload, From: from})
	}
	return out
}

// Close closes the underlying socket.
func (s *UDPSocket) Close() error {
	return s.conn.Close()
}
