package server

import (
	"net"
	"net/http"
	"strings"
)

// clientAddr resolves the client address behind trustedHops reverse proxies.
// The peer address and the X-Forwarded-For entries are walked from nearest to
// farthest; the first trustedHops of them are proxies we trust, the next one
// is the client. With no trusted hops the forwarded header is ignored.
func clientAddr(r *http.Request, trustedHops int) string {
	addrs := []string{stripPort(r.RemoteAddr)}

	if trustedHops > 0 {
		var forwarded []string
		for _, h := range r.Header.Values("X-Forwarded-For") {
			for _, part := range strings.Split(h, ",") {
				if part = strings.TrimSpace(part); part != "" {
					forwarded = append(forwarded, stripPort(part))
				}
			}
		}
		for i := len(forwarded) - 1; i >= 0; i-- {
			addrs = append(addrs, forwarded[i])
		}
	}

	idx := trustedHops
	if idx > len(addrs)-1 {
		idx = len(addrs) - 1
	}
	return addrs[idx]
}

func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.Trim(addr, "[]")
}
