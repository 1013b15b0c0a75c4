package v1

import (
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// clientIP resolves the visitor's address for the excluded-IP check and the
// visitor signature. Deployments sit behind at most one reverse proxy, so
// the search is short: the first public hop in X-Forwarded-For, then the
// common CDN headers, then the socket address. A request that only yields
// private or unspecified addresses falls back to loopback; the signature
// still varies by user agent and day, and loopback is never excluded.
func clientIP(c *fiber.Ctx) string {
	for _, hop := range strings.Split(c.Get("X-Forwarded-For"), ",") {
		if addr, ok := parseAddr(hop); ok && publicAddr(addr) {
			return addr.String()
		}
	}

	for _, header := range []string{"CF-Connecting-IP", "X-Real-IP"} {
		if addr, ok := parseAddr(c.Get(header)); ok && publicAddr(addr) {
			return addr.String()
		}
	}

	if addr, ok := parseAddr(c.IP()); ok && publicAddr(addr) {
		return addr.String()
	}
	return "127.0.0.1"
}

// parseAddr accepts the forms proxies actually emit: a bare address, an
// address:port pair, a bracketed IPv6 literal, optionally quoted.
func parseAddr(raw string) (netip.Addr, bool) {
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" {
		return netip.Addr{}, false
	}

	if pair, err := netip.ParseAddrPort(raw); err == nil {
		return pair.Addr().Unmap(), true
	}

	addr, err := netip.ParseAddr(strings.Trim(raw, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func publicAddr(a netip.Addr) bool {
	return !a.IsPrivate() && !a.IsLoopback() && !a.IsLinkLocalUnicast() && !a.IsUnspecified()
}
