package dnswire

import (
	"encoding/binary"
	"fmt"
)

// Question is one entry of a DNS message's question section (RFC 1035
// section 4.1.2): the name being asked about, its record type, and its
// class (always ClassIN on this forwarder's paths).
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// Marshal serializes q to wire format: an encoded name followed by
// 2-byte type and 2-byte class.
func (q Question) Marshal() ([]byte, error) {
	name, err := EncodeName(q.Name)
	if err != nil {
		return nil, fmt.Errorf("marshal question %q: %w", q.Name, err)
	}
	b := make([]byte, len(name)+4)
	n := copy(b, name)
	binary.BigEndian.PutUint16(b[n:n+2], q.Type)
	binary.BigEndian.PutUint16(b[n+2:n+4], q.Class)
	return b, nil
}

// ParseQuestion reads a Question from msg at *off, advancing *off past
// it on success. The name is normalized (lowercased, trailing dot
// stripped) so the correlation table and answer cache can key on it
// without a second normalization pass.
func ParseQuestion(msg []byte, off *int) (Question, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, fmt.Errorf("parse question: %w", err)
	}
	if *off+4 > len(msg) {
		return Question{}, fmt.Errorf("%w: question type/class needs 4 bytes at offset %d, have %d", ErrTruncated, *off, len(msg))
	}
	q := Question{
		Name:  NormalizeName(name),
		Type:  binary.BigEndian.Uint16(msg[*off : *off+2]),
		Class: binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
	}
	*off += 4
	return q, nil
}
