// Package upstream parses the default and per-zone upstream server list
// syntax named in spec.md §6 ("Upstream list syntax") and resolves a
// qname to its upstream address set by longest-suffix zone match.
package upstream

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/jroosing/kdnsfwd/internal/dnswire"
	"github.com/jroosing/kdnsfwd/internal/qnode"
)

const defaultPort = 53

// ZoneGroup is one `zone@host[:port][,host[:port]]...` group from a
// per-zone upstream list.
type ZoneGroup struct {
	Zone      string
	Upstreams []net.UDPAddr
}

// List is the parsed upstream configuration: a default server set plus
// zero or more per-zone overrides, matched by longest qname suffix.
type List struct {
	Default []net.UDPAddr
	Zones   []ZoneGroup
}

// Parse builds a List from the default (comma-separated `host[:port]`)
// and zone (`%`-separated `zone@host[:port],...` groups) configuration
// strings. Each group, and the default list, is truncated to
// qnode.MaxUpstreamAddrs entries with a log line, matching forward.c's
// servers_len truncation at FWD_MAX_ADDRS.
func Parse(logger *slog.Logger, defaultRaw, zoneRaw string) (*List, error) {
	def, err := parseAddrList(defaultRaw)
	if err != nil {
		return nil, fmt.Errorf("default upstream list: %w", err)
	}
	def = truncate(logger, "default", def)

	var zones []ZoneGroup
	for _, group := range splitNonEmpty(zoneRaw, "%") {
		zoneName, addrsRaw, ok := strings.Cut(group, "@")
		if !ok {
			return nil, fmt.Errorf("zone upstream group %q: missing '@' separator", group)
		}
		zoneName = dnswire.NormalizeName(strings.TrimSpace(zoneName))
		if zoneName == "" {
			return nil, fmt.Errorf("zone upstream group %q: empty zone name", group)
		}
		addrs, err := parseAddrList(addrsRaw)
		if err != nil {
			return nil, fmt.Errorf("zone %s upstream list: %w", zoneName, err)
		}
		addrs = truncate(logger, zoneName, addrs)
		zones = append(zones, ZoneGroup{Zone: zoneName, Upstreams: addrs})
	}

	return &List{Default: def, Zones: zones}, nil
}

// Resolve returns the upstream address set for qname: the longest
// matching zone suffix, or the default list if none match.
func (l *List) Resolve(qname string) []net.UDPAddr {
	qname = dnswire.NormalizeName(qname)

	best := -1
	var bestAddrs []net.UDPAddr
	for _, zg := range l.Zones {
		if !isSuffixMatch(qname, zg.Zone) {
			continue
		}
		if len(zg.Zone) > best {
			best = len(zg.Zone)
			bestAddrs = zg.Upstreams
		}
	}
	if bestAddrs != nil {
		return bestAddrs
	}
	return l.Default
}

// isSuffixMatch reports whether qname is zone or a subdomain of zone.
func isSuffixMatch(qname, zone string) bool {
	if qname == zone {
		return true
	}
	return strings.HasSuffix(qname, "."+zone)
}

func truncate(logger *slog.Logger, label string, addrs []net.UDPAddr) []net.UDPAddr {
	if len(addrs) <= qnode.MaxUpstreamAddrs {
		return addrs
	}
	if logger != nil {
		logger.Info("upstream list truncated",
			"zone", label,
			"configured", len(addrs),
			"truncated_to", qnode.MaxUpstreamAddrs,
		)
	}
	return addrs[:qnode.MaxUpstreamAddrs]
}

func parseAddrList(raw string) ([]net.UDPAddr, error) {
	var out []net.UDPAddr
	for _, entry := range splitNonEmpty(raw, ",") {
		addr, err := parseHostPort(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func parseHostPort(entry string) (net.UDPAddr, error) {
	host, portStr, found := strings.Cut(entry, ":")
	port := defaultPort
	if found {
		p, err := strconv.Atoi(portStr)
		if err != nil || p <= 0 || p > 65535 {
			return net.UDPAddr{}, fmt.Errorf("invalid port in %q", entry)
		}
		port = p
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return net.UDPAddr{}, fmt.Errorf("invalid IPv4 upstream address %q", entry)
	}
	return net.UDPAddr{IP: ip.To4(), Port: port}, nil
}

func splitNonEmpty(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
