package main

import (
	"net"
	"net/http"
	"strings"
)

// IPFilter admits only allowlisted client addresses. An entry ending in "*"
// matches by prefix ("192.168.1.*"); an entry containing "/" is a CIDR.
type IPFilter struct {
	exact    map[string]struct{}
	prefixes []string
	nets     []*net.IPNet
}

func NewIPFilter(entries []string) *IPFilter {
	f := &IPFilter{exact: make(map[string]struct{})}
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e, "*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(e, "*"))
		case strings.Contains(e, "/"):
			if _, n, err := net.ParseCIDR(e); err == nil {
				f.nets = append(f.nets, n)
			} else {
				Log().Warn().Str("entry", e).Msg("ignoring malformed CIDR in allowlist")
			}
		default:
			f.exact[e] = struct{}{}
		}
	}
	return f
}

func (f *IPFilter) Allowed(ip string) bool {
	if _, ok := f.exact[ip]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(ip, p) {
			return true
		}
	}
	if parsed := net.ParseIP(ip); parsed != nil {
		for _, n := range f.nets {
			if n.Contains(parsed) {
				return true
			}
		}
	}
	return false
}

// Middleware rejects requests from addresses outside the allowlist.
func (f *IPFilter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !f.Allowed(ip) {
			upgradesRejected.WithLabelValues("ip_filter").Inc()
			Log().Warn().Str("ip", ip).Msg("rejected by ip allowlist")
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
