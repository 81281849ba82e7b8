// Package dnswire implements the wire-format header, question, and name
// codec the forwarding worker and packet pipeline parse every query and
// response with: RFC 1035 section 4 framing plus RFC 1035 section 4.1.4
// name compression. It intentionally stops at the question section —
// the forwarder never decodes answer/authority/additional records, it
// only splices a fresh transaction ID into an opaque payload and copies
// the rest through untouched.
package dnswire

import "errors"

// Sentinel errors for every way a message can fail to parse, each
// wrapped with fmt.Errorf for positional context at the call site
// (offset, length) rather than carried on the sentinel itself.
var (
	// ErrTruncated covers every "ran off the end of msg" case: header,
	// question, label, or compression-pointer second byte.
	ErrTruncated = errors.New("dnswire: truncated message")

	// ErrEmptyName is returned by EncodeName for "" (use "." for root).
	ErrEmptyName = errors.New("dnswire: empty domain name")

	// ErrEmptyLabel is returned by EncodeName for a name with two
	// consecutive dots or a leading/trailing dot in the middle.
	ErrEmptyLabel = errors.New("dnswire: empty label")

	// ErrLabelTooLong is returned when a label exceeds 63 bytes.
	ErrLabelTooLong = errors.New("dnswire: label exceeds 63 bytes")

	// ErrNameTooLong is returned when an encoded name exceeds 255 bytes.
	ErrNameTooLong = errors.New("dnswire: encoded name exceeds 255 bytes")

	// ErrNotASCII is returned for any non-ASCII byte in a label, on
	// either the encode or decode path.
	ErrNotASCII = errors.New("dnswire: name is not ASCII")

	// ErrReservedLabel is returned for a label-length byte whose high
	// two bits are 01 or 10, reserved by RFC 1035.
	ErrReservedLabel = errors.New("dnswire: reserved label length bits")

	// ErrCompressionLoop is returned when a compression pointer revisits
	// an offset already seen while decoding the same name.
	ErrCompressionLoop = errors.New("dnswire: compression pointer loop")

	// ErrCompressionDepth is returned when compression pointers chain
	// past maxCompressionDepth indirections.
	ErrCompressionDepth = errors.New("dnswire: compression pointer chain too deep")

	// ErrCompressionOOB is returned when a compression pointer targets
	// an offset outside the message.
	ErrCompressionOOB = errors.New("dnswire: compression pointer out of bounds")
)
