package helpers

import (
	"net/netip"
	"net/url"
	"strings"
)

// IsPublicURL reports whether a URL is safe to fetch from a crawler running
// inside private infrastructure. It rejects non-http(s) schemes, loopback,
// RFC1918, link-local (including the cloud metadata endpoint), carrier-grade
// NAT, IPv6 ULA ranges, and hostnames that resolve only on internal networks
// (.local/.internal/.localhost).
//
// The check runs on the hostname string as written, not on a DNS-resolved
// address, so a public name pointing at a private IP still passes. This is a
// best-effort SSRF filter, not a network boundary; deployments that need a
// hard guarantee must also sandbox the fetcher's egress.
func IsPublicURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}
	if host == "localhost" {
		return false
	}
	for _, suffix := range []string{".localhost", ".local", ".internal"} {
		if strings.HasSuffix(host, suffix) {
			return false
		}
	}

	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		// Not an IP literal; plain hostnames pass the best-effort check.
		return true
	}
	return isPublicAddr(addr)
}

func isPublicAddr(addr netip.Addr) bool {
	if addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsPrivate() || addr.IsUnspecified() || addr.IsMulticast() {
		return false
	}
	if addr.Is4() {
		b := addr.As4()
		// 0.0.0.0/8 and 100.64.0.0/10 (carrier-grade NAT).
		if b[0] == 0 {
			return false
		}
		if b[0] == 100 && b[1] >= 64 && b[1] <= 127 {
			return false
		}
	}
	if addr.Is6() && !addr.Is4In6() {
		b := addr.As16()
		// fc00::/7 unique local addresses.
		if b[0]&0xfe == 0xfc {
			return false
		}
	}
	if addr.Is4In6() {
		return isPublicAddr(addr.Unmap())
	}
	return true
}
