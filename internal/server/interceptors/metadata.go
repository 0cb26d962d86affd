package interceptors

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"
)

// maxUserAgent bounds the stored user agent in bytes; the header is caller controlled.
const maxUserAgent = 512

// TrustedProxies are the peers whose X-Forwarded-For and X-Real-IP headers are believed. A nil
// value trusts nobody, so the client IP is always the TCP peer.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies parses CIDRs or bare addresses (e.g. "10.0.0.0/8", "192.0.2.4").
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// Contains reports whether ip parses and falls inside a trusted range.
func (t TrustedProxies) Contains(ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range t {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// RequestMetadata resolves the client IP and user agent once per request and stores them in the
// request context for handlers.
func RequestMetadata(trusted TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithClient(r.Context(), Client{IP: ClientIP(r, trusted), UserAgent: UserAgent(r)})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserAgent returns the request's user agent as valid UTF-8, cut on a rune boundary to at most
// maxUserAgent bytes.
func UserAgent(r *http.Request) string {
	ua := strings.ToValidUTF8(r.UserAgent(), "�")
	if len(ua) <= maxUserAgent {
		return ua
	}
	cut := maxUserAgent
	for cut > 0 && !utf8.RuneStart(ua[cut]) {
		cut--
	}
	return ua[:cut]
}

// ClientIP returns the address the rate limiter keys on. Forwarding headers count only when the
// TCP peer is a trusted proxy: X-Forwarded-For is walked from the right past trusted hops, then
// X-Real-IP is tried. Anything else yields the peer address, or "unknown".
func ClientIP(r *http.Request, trusted TrustedProxies) string {
	peer := remoteHost(r.RemoteAddr)
	if peer == "" {
		return "unknown"
	}
	if !trusted.Contains(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); strings.TrimSpace(xff) != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if _, err := netip.ParseAddr(hop); err != nil {
				return peer
			}
			if !trusted.Contains(hop) || i == 0 {
				return hop
			}
		}
	}
	if s := strings.TrimSpace(r.Header.Get("X-Real-IP")); s != "" {
		if _, err := netip.ParseAddr(s); err == nil {
			return s
		}
	}
	return peer
}

func remoteHost(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
