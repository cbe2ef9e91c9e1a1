package server

import (
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// limiterTTL is how long an idle client's upload limiter is kept.
const limiterTTL = time.Minute

// allowUpload reports whether the client issuing r may upload now, and if not, how many seconds
// it should wait before retrying.
func (m *HttpServer) allowUpload(r *http.Request) (bool, int) {
	client := m.remoteAddress(r)
	limiter := m.uploadLimiter(client)
	res := limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		// Not proceeding; return the token.
		res.Cancel()
		logger.Warnw("Upload rate limit exceeded", "client", client, "remote_addr", r.RemoteAddr)
		return false, int(math.Ceil(delay.Seconds()))
	}
	return true, 0
}

func (m *HttpServer) uploadLimiter(client string) *rate.Limiter {
	m.limitersMu.Lock()
	defer m.limitersMu.Unlock()
	if item := m.limiters.Get(client); item != nil {
		return item.Value()
	}
	limiter := rate.NewLimiter(rate.Limit(m.rateLimit), m.rateBurst)
	m.limiters.Set(client, limiter, limiterTTL)
	return limiter
}

// remoteAddress identifies the client issuing r. X-Forwarded-For is only honoured when the
// direct peer is a trusted proxy; otherwise any caller could pick its own identity.
func (m *HttpServer) remoteAddress(r *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteIP = r.RemoteAddr
	}
	if _, ok := m.trustedProxies[remoteIP]; ok {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
				return ip
			}
		}
	}
	return remoteIP
}
