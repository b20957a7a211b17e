package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RPS   float64
	Burst int
	// IdleTTL is how long an address may stay silent before its limiter is
	// dropped.
	IdleTTL time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type visitors struct {
	mu    sync.Mutex
	items map[string]*visitor
	cfg   RateLimitConfig
}

func (v *visitors) limiter(ip string, now time.Time) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	item, ok := v.items[ip]
	if !ok {
		item = &visitor{limiter: rate.NewLimiter(rate.Limit(v.cfg.RPS), v.cfg.Burst)}
		v.items[ip] = item
	}
	item.lastSeen = now
	return item.limiter
}

func (v *visitors) sweep(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, item := range v.items {
		if now.Sub(item.lastSeen) > v.cfg.IdleTTL {
			delete(v.items, key)
		}
	}
}

// RateLimit applies a token bucket per client address. The sweeper stops
// when ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RPS <= 0 {
		cfg.RPS = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	state := &visitors{items: make(map[string]*visitor), cfg: cfg}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				state.sweep(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !state.limiter(extractIP(r.RemoteAddr), time.Now()).Allow() {
				w.Header().Set("Retry-After", "1")
				WriteError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
