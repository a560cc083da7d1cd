package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const visitorIdleTTL = 3 * time.Minute

// limiterPool hands out one token bucket per client IP and sweeps buckets
// that have been idle past the TTL.
type limiterPool struct {
	mu       sync.Mutex
	visitors map[string]*poolEntry
	rps      rate.Limit
	burst    int
}

type poolEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 20
	}
	if burst <= 0 {
		burst = 40
	}
	pool := &limiterPool{
		visitors: make(map[string]*poolEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go pool.sweep()
	return pool
}

func (p *limiterPool) allow(ip string) bool {
	p.mu.Lock()
	entry, ok := p.visitors[ip]
	if !ok {
		entry = &poolEntry{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.visitors[ip] = entry
	}
	entry.lastSeen = time.Now()
	p.mu.Unlock()

	return entry.limiter.Allow()
}

func (p *limiterPool) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		p.mu.Lock()
		for ip, entry := range p.visitors {
			if time.Since(entry.lastSeen) > visitorIdleTTL {
				delete(p.visitors, ip)
			}
		}
		p.mu.Unlock()
	}
}

// RateLimit applies a per-IP token bucket to every request.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	pool := newLimiterPool(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pool.allow(clientIP(r.RemoteAddr)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"rate_limited","message":"too many requests"},"request_id":"` + GetRequestID(r.Context()) + `"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
