// Package urlguard validates externally supplied URLs before the server
// makes any outbound request on their behalf (SSRF guard).
//
// Validate is pure and side-effect-free: it never resolves DNS. It rejects
// by scheme, by known internal hostname, and by IP-literal range, which is
// enough to keep the relay off loopback, RFC1918, link-local, and cloud
// metadata destinations. Every hop of a redirect chain must be passed
// through Validate again — validating only the first URL is not sufficient.
package urlguard

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ErrBlocked is wrapped by every rejection so callers can map any guard
// failure to a single blocked-destination response.
var ErrBlocked = errors.New("url blocked")

// blockedHosts are literal hostnames that always resolve to internal or
// metadata destinations.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"metadata.google.internal": true,
	"instance-data":            true,
}

// blockedSuffixes are hostname suffixes reserved for internal naming.
var blockedSuffixes = []string{".local", ".internal", ".localhost"}

// blockedPrefixes are the IP ranges the relay must never connect to.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),    // loopback
	netip.MustParsePrefix("0.0.0.0/8"),      // "this network"
	netip.MustParsePrefix("10.0.0.0/8"),     // RFC1918
	netip.MustParsePrefix("172.16.0.0/12"),  // RFC1918
	netip.MustParsePrefix("192.168.0.0/16"), // RFC1918
	netip.MustParsePrefix("169.254.0.0/16"), // link-local (incl. cloud metadata)
	netip.MustParsePrefix("::1/128"),        // IPv6 loopback
	netip.MustParsePrefix("::/128"),         // unspecified
	netip.MustParsePrefix("fe80::/10"),      // IPv6 link-local
	netip.MustParsePrefix("fc00::/7"),       // IPv6 unique-local
}

// Validate parses raw and applies the destination policy. On success it
// returns the parsed URL; on any violation it returns an error wrapping
// ErrBlocked. No network I/O is performed.
func Validate(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable url", ErrBlocked)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q not allowed", ErrBlocked, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrBlocked)
	}
	if blockedHosts[host] {
		return nil, fmt.Errorf("%w: host %q", ErrBlocked, host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return nil, fmt.Errorf("%w: host %q", ErrBlocked, host)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return nil, fmt.Errorf("%w: address %s in blocked range %s", ErrBlocked, addr, p)
			}
		}
	}

	return u, nil
}
