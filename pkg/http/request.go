package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig declares which proxies may speak for the client. Forwarding
// headers are honored only when the direct peer is inside one of these
// ranges; otherwise anyone could spoof the address that feeds lockout
// records and trusted-device fingerprints.
type IPConfig struct {
	TrustedProxies []string // CIDR ranges
}

// trusts reports whether addr falls inside any trusted proxy range.
func (c *IPConfig) trusts(addr string) bool {
	if c == nil || len(c.TrustedProxies) == 0 {
		return false
	}

	peer, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}

	for _, cidr := range c.TrustedProxies {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			// Misconfigured ranges grant no trust
			continue
		}
		if prefix.Contains(peer) {
			return true
		}
	}
	return false
}

// ExtractClientIP resolves the client address for audit records, lockout
// counters, and device fingerprints. X-Forwarded-For and X-Real-IP are
// consulted only when the request arrived through a trusted proxy; the
// fallback is always the transport-level peer address.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	peer := peerAddr(r)

	if config.trusts(peer) {
		if ip := firstForwardedAddr(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			if _, err := netip.ParseAddr(xri); err == nil {
				return xri
			}
		}
	}

	return peer
}

// peerAddr strips the port from RemoteAddr.
func peerAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// firstForwardedAddr returns the first parseable address in an
// X-Forwarded-For chain, or empty if none qualifies.
func firstForwardedAddr(xff string) string {
	if xff == "" {
		return ""
	}
	for _, part := range strings.Split(xff, ",") {
		candidate := strings.TrimSpace(part)
		if _, err := netip.ParseAddr(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
