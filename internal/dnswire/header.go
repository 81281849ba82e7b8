package dnswire

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size of a DNS message header in bytes.
const HeaderSize = 12

// Header is the 12-byte DNS message header (RFC 1035 section 4.1.1):
// transaction ID, the flags word (see the *Flag/*Mask constants in
// enums.go), and the four section counts. The forwarder only ever
// inspects ID, Flags, and QDCount; ANCount/NSCount/ARCount are carried
// through for completeness and for tests that round-trip a header.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Marshal serializes h to its 12-byte wire form, big-endian.
func (h Header) Marshal() ([]byte, error) {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.ID)
	binary.BigEndian.PutUint16(b[2:4], h.Flags)
	binary.BigEndian.PutUint16(b[4:6], h.QDCount)
	binary.BigEndian.PutUint16(b[6:8], h.ANCount)
	binary.BigEndian.PutUint16(b[8:10], h.NSCount)
	binary.BigEndian.PutUint16(b[10:12], h.ARCount)
	return b, nil
}

// ParseHeader reads a Header from msg at *off, advancing *off by
// HeaderSize on success. It never copies msg.
func ParseHeader(msg []byte, off *int) (Header, error) {
	if *off+HeaderSize > len(msg) {
		return Header{}, fmt.Errorf("%w: header needs %d bytes at offset %d, have %d", ErrTruncated, HeaderSize, *off, len(msg))
	}
	start := *off
	h := Header{
		ID:      binary.BigEndian.Uint16(msg[start : start+2]),
		Flags:   binary.BigEndian.Uint16(msg[start+2 : start+4]),
		QDCount: binary.BigEndian.Uint16(msg[start+4 : start+6]),
		ANCount: binary.BigEndian.Uint16(msg[start+6 : start+8]),
		NSCount: binary.BigEndian.Uint16(msg[start+8 : start+10]),
		ARCount: binary.BigEndian.Uint16(msg[start+10 : start+12]),
	}
	*off = start + HeaderSize
	return h, nil
}
