// Package authority defines the authoritative-resolver collaborator
// named in spec.md §6: the zone database and its query engine are
// explicitly out of scope for this repo, consumed only through this
// narrow interface.
package authority

import (
	"context"
	"net"
)

// Rcode mirrors the DNS response codes the resolver collaborator may
// return; only REFUSED changes pipeline routing (spec.md §4.4 step 4).
type Rcode uint8

const (
	RcodeNoError  Rcode = 0
	RcodeFormErr  Rcode = 1
	RcodeServFail Rcode = 2
	RcodeNXDomain Rcode = 3
	RcodeNotImp   Rcode = 4
	RcodeRefused  Rcode = 5
)

// Result is the outcome of an authoritative lookup.
type Result struct {
	Rcode  Rcode
	Answer []byte // serialized reply payload, valid only when Rcode != RcodeRefused
}

// Refused reports whether this result should fall through to the
// forwarder per spec.md §4.4 step 4.
func (r Result) Refused() bool {
	return r.Rcode == RcodeRefused
}

// Resolver is the authoritative-resolution collaborator the packet
// pipeline invokes for every classified DNS query: `resolve(source_ip,
// dns_payload, len, cpu_id) -> query_result` in spec.md §6.
type Resolver interface {
	Resolve(ctx context.Context, sourceIP net.IP, payload []byte, cpuID int) (Result, error)
}

// AlwaysRefuse is a trivial Resolver that refuses every query, routing
// all traffic to the forwarder. Useful as a default collaborator when
// no authoritative zone database is wired, and in forwarder/pipeline
// tests that only exercise the forwarding path.
type AlwaysRefuse struct{}

func (AlwaysRefuse) Resolve(context.Context, net.IP, []byte, int) (Result, error) {
	return Result{Rcode: RcodeRefused}, nil
}
