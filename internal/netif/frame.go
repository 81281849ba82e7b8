// Package netif implements the NIC/frame collaborator named in spec.md
// §4.4/§5: Ethernet+IPv4+UDP frame classification and reply rewriting,
// plus the RxBurst/TxBurst/kernel-tap NIC interface the packet pipeline
// polls. A software reference implementation stands in for the C
// original's DPDK/AF_XDP burst NIC driver.
package netif

import (
	"encoding/binary"
	"errors"
	"net"
)

const (
	ethHeaderLen  = 14
	ethTypeIPv4   = 0x0800
	ipv4MinHeader = 20
	udpHeaderLen  = 8
	minDNSHeader  = 12

	protoUDP = 17

	dnsPort = 53
)

// ErrFrameTooShort is returned by Classify for truncated frames.
var ErrFrameTooShort = errors.New("netif: frame shorter than its declared headers")

// Verdict is the outcome of classifying one inbound frame, matching the
// decision tree walked in spec.md §4.4 step 3.
type Verdict int

const (
	// ToKernelTap means the frame is not an IPv4/UDP/port-53 DNS query
	// and must be handed to the kernel-tap passthrough list unchanged.
	ToKernelTap Verdict = iota
	// ToResolver means the frame is a well-formed DNS query ready for
	// the authoritative resolver collaborator.
	ToResolver
	// Malformed means the frame claimed to be a DNS query but failed a
	// length-consistency check (spec.md §4.4: "validate IPv4 header
	// length and total length consistent with frame length" etc).
	Malformed
)

// Classified is the result of parsing one inbound frame: the verdict
// plus the fields the pipeline needs to act on it.
type Classified struct {
	Verdict    Verdict
	SrcIP      net.IP
	DstIP      net.IP
	SrcPort    uint16
	DstPort    uint16
	DNSPayload []byte // slice of the original frame, not a copy

	ethHeader []byte
	ipHeader  []byte
	udpHeader []byte
}

// PeekIPv4Source reports whether frame is an Ethernet/IPv4 frame and, if
// so, returns its source address — cheaply enough to rate-limit on
// before paying for the rest of Classify's structural validation. The
// source address sits inside the IPv4 header's fixed first 20 bytes, so
// it's readable regardless of the header's declared IHL or total
// length; a frame too short even for that is left to Classify to reject
// as Malformed.
func PeekIPv4Source(frame []byte) (srcIP net.IP, isIPv4 bool) {
	if len(frame) < ethHeaderLen {
		return nil, false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != ethTypeIPv4 {
		return nil, false
	}
	ipStart := ethHeaderLen
	if len(frame) < ipStart+ipv4MinHeader {
		return nil, false
	}
	return net.IP(frame[ipStart+12 : ipStart+16]), true
}

// Classify walks spec.md §4.4 step 3's decision tree over a raw
// Ethernet frame: Ethertype, protocol, destination port, and length
// consistency at each layer.
func Classify(frame []byte) Classified {
	if len(frame) < ethHeaderLen {
		return Classified{Verdict: ToKernelTap}
	}
	ethType := binary.BigEndian.Uint16(frame[12:14])
	if ethType != ethTypeIPv4 {
		return Classified{Verdict: ToKernelTap}
	}

	ipStart := ethHeaderLen
	if len(frame) < ipStart+ipv4MinHeader {
		return Classified{Verdict: Malformed}
	}
	ipHeader := frame[ipStart:]
	ihl := int(ipHeader[0]&0x0F) * 4
	if ihl < ipv4MinHeader || len(frame) < ipStart+ihl {
		return Classified{Verdict: Malformed}
	}
	totalLen := int(binary.BigEndian.Uint16(ipHeader[2:4]))
	if totalLen < ihl || ipStart+totalLen > len(frame) {
		return Classified{Verdict: Malformed}
	}
	proto := ipHeader[9]
	if proto != protoUDP {
		return Classified{Verdict: ToKernelTap}
	}

	udpStart := ipStart + ihl
	if len(frame) < udpStart+udpHeaderLen {
		return Classified{Verdict: Malformed}
	}
	udpHeader := frame[udpStart : udpStart+udpHeaderLen]
	dstPort := binary.BigEndian.Uint16(udpHeader[2:4])
	if dstPort != dnsPort {
		return Classified{Verdict: ToKernelTap}
	}

	udpLen := int(binary.BigEndian.Uint16(udpHeader[4:6]))
	if udpLen < udpHeaderLen || udpStart+udpLen > ipStart+totalLen {
		return Classified{Verdict: Malformed}
	}
	payload := frame[udpStart+udpHeaderLen : udpStart+udpLen]
	if len(payload) < minDNSHeader {
		return Classified{Verdict: Malformed}
	}

	return Classified{
		Verdict:    ToResolver,
		SrcIP:      net.IP(ipHeader[12:16]),
		DstIP:      net.IP(ipHeader[16:20]),
		SrcPort:    binary.BigEndian.Uint16(udpHeader[0:2]),
		DstPort:    dstPort,
		DNSPayload: payload,
		ethHeader:  frame[:ethHeaderLen],
		ipHeader:   frame[ipStart : ipStart+ihl],
		udpHeader:  udpHeader,
	}
}
