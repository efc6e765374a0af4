package fetchguard

import "net"

// classification buckets a resolved address for SSRF purposes.
type classification int

const (
	classPublic classification = iota
	classPrivate
	classNonOverridable
)

// nonOverridableNets can never be reached regardless of configuration:
// link-local (which on most clouds serves the instance-metadata endpoint)
// and its IPv6 equivalent.
var nonOverridableNets = mustParseCIDRs(
	"169.254.0.0/16",
	"fe80::/10",
)

// nonOverridableHosts are single addresses blocked outright; 100.100.100.200
// is the Alibaba Cloud metadata endpoint, which sits outside the normal
// link-local range.
var nonOverridableHosts = []net.IP{
	net.ParseIP("100.100.100.200"),
}

// privateNets are reachable only when the caller's allowlist explicitly
// names the host and port.
var privateNets = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"100.64.0.0/10",
	"fc00::/7",
	"::1/128",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("fetchguard: invalid CIDR literal " + c)
		}
		out = append(out, n)
	}
	return out
}

// canonicalize folds an IPv4-mapped IPv6 address (::ffff:a.b.c.d) down to
// its IPv4 form so the CIDR checks below can't be bypassed by an attacker
// presenting the same address in its IPv6-mapped shape.
func canonicalize(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// classify reports which bucket a resolved IP falls into.
func classify(ip net.IP) classification {
	ip = canonicalize(ip)

	for _, n := range nonOverridableNets {
		if n.Contains(ip) {
			return classNonOverridable
		}
	}
	for _, host := range nonOverridableHosts {
		if host != nil && host.Equal(ip) {
			return classNonOverridable
		}
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return classPrivate
		}
	}
	return classPublic
}

// Endpoint identifies a single host:port pair a caller explicitly trusts
// to be private.
type Endpoint struct {
	Host string
	Port int
}

func allowlisted(endpoints []Endpoint, host string, port int) bool {
	for _, e := range endpoints {
		if e.Host == host && e.Port == port {
			return true
		}
	}
	return false
}
