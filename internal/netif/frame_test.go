package netif_test

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/jroosing/kdnsfwd/internal/netif"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildFrame assembles a minimal Ethernet+IPv4+UDP frame carrying payload.
func buildFrame(t *testing.T, ethType uint16, proto byte, dstPort uint16, payload []byte) []byte {
	t.Helper()
	frame := make([]byte, 14+20+8+len(payload))

	copy(frame[0:6], []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}) // dst mac
	copy(frame[6:12], []byte{0xBB, 0xBB, 0xBB, 0xBB, 0xBB, 0xBB}) // src mac
	binary.BigEndian.PutUint16(frame[12:14], ethType)

	ip := frame[14:34]
	ip[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(ip[2:4], uint16(20+8+len(payload)))
	ip[9] = proto
	copy(ip[12:16], net.IPv4(10, 0, 0, 1).To4())
	copy(ip[16:20], net.IPv4(10, 0, 0, 2).To4())

	udp := frame[34:42]
	binary.BigEndian.PutUint16(udp[0:2], 40000)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(8+len(payload)))

	copy(frame[42:], payload)
	return frame
}

func TestClassify_NonIPv4GoesToKernelTap(t *testing.T) {
	frame := buildFrame(t, 0x86DD, 17, 53, make([]byte, 12))
	c := netif.Classify(frame)
	assert.Equal(t, netif.ToKernelTap, c.Verdict)
}

func TestClassify_NonUDPGoesToKernelTap(t *testing.T) {
	frame := buildFrame(t, 0x0800, 6, 53, make([]byte, 12))
	c := netif.Classify(frame)
	assert.Equal(t, netif.ToKernelTap, c.Verdict)
}

func TestClassify_WrongPortGoesToKernelTap(t *testing.T) {
	frame := buildFrame(t, 0x0800, 17, 8080, make([]byte, 12))
	c := netif.Classify(frame)
	assert.Equal(t, netif.ToKernelTap, c.Verdict)
}

func TestClassify_ShortDNSPayloadIsMalformed(t *testing.T) {
	frame := buildFrame(t, 0x0800, 17, 53, make([]byte, 4))
	c := netif.Classify(frame)
	assert.Equal(t, netif.Malformed, c.Verdict)
}

func TestClassify_TruncatedFrameIsMalformed(t *testing.T) {
	frame := buildFrame(t, 0x0800, 17, 53, make([]byte, 12))
	frame = frame[:len(frame)-5]
	c := netif.Classify(frame)
	assert.Equal(t, netif.Malformed, c.Verdict)
}

func TestClassify_ValidDNSQueryGoesToResolver(t *testing.T) {
	payload := make([]byte, 12)
	frame := buildFrame(t, 0x0800, 17, 53, payload)

	c := netif.Classify(frame)
	require.Equal(t, netif.ToResolver, c.Verdict)
	assert.Equal(t, uint16(40000), c.SrcPort)
	assert.Equal(t, uint16(53), c.DstPort)
	assert.Equal(t, "10.0.0.1", c.SrcIP.String())
	assert.Equal(t, "10.0.0.2", c.DstIP.String())
	assert.Len(t, c.DNSPayload, 12)
}

func TestClassify_TooShortForEthernetHeader(t *testing.T) {
	c := netif.Classify(make([]byte, 4))
	assert.Equal(t, netif.ToKernelTap, c.Verdict)
}

func TestPeekIPv4Source_ReadsAddressFromMalformedFrame(t *testing.T) {
	// Truncated past the UDP payload, the same frame TestClassify_
	// TruncatedFrameIsMalformed classifies as Malformed — but the source
	// address still sits inside the intact 20-byte minimal IP header.
	frame := buildFrame(t, 0x0800, 17, 53, make([]byte, 12))
	frame = frame[:len(frame)-5]

	srcIP, ok := netif.PeekIPv4Source(frame)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", srcIP.String())
}

func TestPeekIPv4Source_FalseForNonIPv4(t *testing.T) {
	frame := buildFrame(t, 0x86DD, 17, 53, make([]byte, 12))
	_, ok := netif.PeekIPv4Source(frame)
	assert.False(t, ok)
}

func TestPeekIPv4Source_FalseWhenTooShortForMinimalHeader(t *testing.T) {
	frame := buildFrame(t, 0x0800, 17, 53, nil)
	frame = frame[:14+10] // short of the 20-byte minimal IP header
	_, ok := netif.PeekIPv4Source(frame)
	assert.False(t, ok)
}

func TestBuildReply_SwapsAddressesAndPorts(t *testing.T) {
	payload := make([]byte, 12)
	frame := buildFrame(t, 0x0800, 17, 53, payload)
	c := netif.Classify(frame)
	require.Equal(t, netif.ToResolver, c.Verdict)

	answer := []byte("answer-bytes")
	reply := c.BuildReply(answer)

	require.True(t, len(reply) >= 14+20+8+len(answer))
	replyEthType := binary.BigEndian.Uint16(reply[12:14])
	assert.Equal(t, uint16(0x0800), replyEthType)

	ip := reply[14:34]
	assert.Equal(t, "10.0.0.2", net.IP(ip[12:16]).String())
	assert.Equal(t, "10.0.0.1", net.IP(ip[16:20]).String())

	udp := reply[34:42]
	assert.Equal(t, uint16(53), binary.BigEndian.Uint16(udp[0:2]))
	assert.Equal(t, uint16(40000), binary.BigEndian.Uint16(udp[2:4]))

	gotPayload := reply[42:]
	assert.Equal(t, answer, gotPayload)
}

func TestRewriteReply_OnValidQuery(t *testing.T) {
	frame := buildFrame(t, 0x0800, 17, 53, make([]byte, 12))
	reply, err := netif.RewriteReply(frame, []byte("answer"))
	require.NoError(t, err)
	assert.Equal(t, []byte("answer"), reply[42:])
}

func TestRewriteReply_ErrorsOnNonQueryFrame(t *testing.T) {
	frame := buildFrame(t, 0x86DD, 17, 53, make([]byte, 12))
	_, err := netif.RewriteReply(frame, []byte("answer"))
	assert.ErrorIs(t, err, netif.ErrNotADNSQuery)
}
