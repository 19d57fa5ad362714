package server

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/banux/nxt-zim/internal/metrics"
)

// connLimiter caps the number of requests served concurrently per client
// address.
type connLimiter struct {
	mu     sync.Mutex
	limit  int
	active map[string]int
}

func newConnLimiter(limit int) *connLimiter {
	return &connLimiter{limit: limit, active: make(map[string]int)}
}

// acquire reserves a slot for ip, returning false when it has none left.
func (c *connLimiter) acquire(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[ip] >= c.limit {
		return false
	}
	c.active[ip]++
	return true
}

func (c *connLimiter) release(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[ip] <= 1 {
		delete(c.active, ip)
		return
	}
	c.active[ip]--
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limitMiddleware rejects requests over the per-address connection limit
// or the global rate. A zero limit disables the corresponding check.
func limitMiddleware(ipLimit int, limiter *rate.Limiter) func(http.Handler) http.Handler {
	var conns *connLimiter
	if ipLimit > 0 {
		conns = newConnLimiter(ipLimit)
	}
	return func(next http.Handler) http.Handler {
		if conns == nil && limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow() {
				metrics.HTTPRateLimited.Inc()
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			if conns != nil {
				ip := clientIP(r)
				if !conns.acquire(ip) {
					metrics.HTTPRateLimited.Inc()
					http.Error(w, "too many connections", http.StatusServiceUnavailable)
					return
				}
				defer conns.release(ip)
			}
			next.ServeHTTP(w, r)
		})
	}
}
