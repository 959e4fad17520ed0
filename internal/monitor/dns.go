package monitor

import "net"

// resolveHost is the one fatal-at-startup check spec.md §7 calls out:
// an unresolvable primary hostname aborts config load. It does not
// rebind the configured host to the resolved IP -- spec.md's address
// model deals in the configured host string, re-resolved on every
// dial, the way the teacher's own net.DialTimeout call sites do.
func resolveHost(host string) ([]net.IP, error) {
	if net.ParseIP(host) != nil {
		return []net.IP{net.ParseIP(host)}, nil
	}
	return net.LookupIP(host)
}
