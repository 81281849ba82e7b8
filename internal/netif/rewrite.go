package netif

import (
	"encoding/binary"
	"errors"

	"github.com/jroosing/kdnsfwd/internal/helpers"
)

// ErrNotADNSQuery is returned by RewriteReply when the original frame
// does not classify as a forwardable DNS query.
var ErrNotADNSQuery = errors.New("netif: original frame is not a classified DNS query")

// RewriteReply re-classifies the original frame and builds a reply
// frame carrying answer as the DNS payload. This is the entry point
// the forwarding worker uses: it holds only the original raw frame
// (spec.md §4.3's "packet buffer is reused"), not a retained Classified.
func RewriteReply(originalFrame []byte, answer []byte) ([]byte, error) {
	c := Classify(originalFrame)
	if c.Verdict != ToResolver {
		return nil, ErrNotADNSQuery
	}
	return c.BuildReply(answer), nil
}

// BuildReply builds a new reply frame from copies of the original query
// frame's headers (spec.md §4.4 step 4), swapping source/destination at
// every layer, rewriting the IPv4 total length, UDP length and IPv4
// header checksum, and carrying the resolver's answer as the UDP
// payload. The original frame is not modified.
func (c Classified) BuildReply(answer []byte) []byte {
	eth := make([]byte, ethHeaderLen)
	copy(eth[0:6], c.ethHeader[6:12]) // dst = original src
	copy(eth[6:12], c.ethHeader[0:6]) // src = original dst
	copy(eth[12:14], c.ethHeader[12:14])

	ihl := len(c.ipHeader)
	ip := make([]byte, ihl)
	copy(ip, c.ipHeader)
	totalLen := ihl + udpHeaderLen + len(answer)
	binary.BigEndian.PutUint16(ip[2:4], helpers.ClampIntToUint16(totalLen))
	copy(ip[12:16], c.ipHeader[16:20]) // src = original dst
	copy(ip[16:20], c.ipHeader[12:16]) // dst = original src
	ip[10] = 0
	ip[11] = 0
	binary.BigEndian.PutUint16(ip[10:12], ipv4Checksum(ip))

	udp := make([]byte, udpHeaderLen)
	binary.BigEndian.PutUint16(udp[0:2], c.DstPort) // src port = original dst port
	binary.BigEndian.PutUint16(udp[2:4], c.SrcPort) // dst port = original src port
	binary.BigEndian.PutUint16(udp[4:6], helpers.ClampIntToUint16(udpHeaderLen+len(answer)))
	udp[6], udp[7] = 0, 0 // checksum disabled, valid for IPv4 UDP

	out := make([]byte, 0, ethHeaderLen+totalLen)
	out = append(out, eth...)
	out = append(out, ip...)
	out = append(out, udp...)
	out = append(out, answer...)
	return out
}

// ipv4Checksum computes the one's-complement header checksum over an
// IPv4 header with the checksum field zeroed.
func ipv4Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	if len(header)%2 == 1 {
		sum += uint32(header[len(header)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
