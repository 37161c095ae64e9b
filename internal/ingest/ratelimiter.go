package ingest

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"sentinel-soc/internal/config"
	"sentinel-soc/internal/metrics"
)

// RateLimiter caps submissions per sender IP over a fixed window. Log
// collectors normally trickle batches in, so a sender that suddenly
// floods the API is either misconfigured or hostile; either way it must
// not starve the analysis queue for everyone else.
type RateLimiter struct {
	cfg     config.RateLimitConfig
	limit   int64
	exempt  map[string]bool
	senders map[string]*senderWindow
	mu      sync.RWMutex
	done    chan struct{}
}

// senderWindow is the budget of a single sender IP.
type senderWindow struct {
	mu      sync.Mutex
	used    int64
	resetAt time.Time
}

// NewRateLimiter builds a limiter from config and starts its janitor
// goroutine. Call Stop when the server shuts down.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	exempt := make(map[string]bool, len(cfg.ExemptPaths))
	for _, path := range cfg.ExemptPaths {
		exempt[path] = true
	}

	rl := &RateLimiter{
		cfg:     cfg,
		limit:   int64(cfg.RequestsPerIP + cfg.BurstSize),
		exempt:  exempt,
		senders: make(map[string]*senderWindow),
		done:    make(chan struct{}),
	}
	go rl.janitor()
	return rl
}

// Allow charges one request against the sender's window and reports
// whether it fit, how much budget is left, and when the window resets.
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Time) {
	now := time.Now()

	rl.mu.Lock()
	win, ok := rl.senders[ip]
	if !ok {
		win = &senderWindow{resetAt: now.Add(rl.cfg.WindowSize)}
		rl.senders[ip] = win
	}
	rl.mu.Unlock()

	win.mu.Lock()
	defer win.mu.Unlock()

	if now.After(win.resetAt) {
		win.used = 0
		win.resetAt = now.Add(rl.cfg.WindowSize)
	}

	if win.used >= rl.limit {
		return false, 0, win.resetAt
	}
	win.used++

	remaining := rl.limit - win.used
	return true, int(remaining), win.resetAt
}

// IsExempt reports whether a path bypasses rate limiting entirely.
func (rl *RateLimiter) IsExempt(path string) bool {
	return rl.exempt[path]
}

// Stop terminates the janitor goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(rl.cfg.CleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.dropIdleSenders()
		case <-rl.done:
			return
		}
	}
}

// dropIdleSenders forgets senders whose window lapsed two full windows
// ago, so the map does not grow with every IP ever seen.
func (rl *RateLimiter) dropIdleSenders() {
	cutoff := time.Now().Add(-2 * rl.cfg.WindowSize)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	dropped := 0
	for ip, win := range rl.senders {
		win.mu.Lock()
		idle := win.resetAt.Before(cutoff)
		win.mu.Unlock()
		if idle {
			delete(rl.senders, ip)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Debug("rate limiter forgot idle senders",
			"dropped", dropped, "tracked", len(rl.senders))
	}
}

// rateLimitMiddleware enforces the per-sender budget and reports it via
// the standard X-RateLimit response headers.
func rateLimitMiddleware(next http.Handler, cfg config.RateLimitConfig) http.Handler {
	limiter := NewRateLimiter(cfg)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limiter.IsExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ip := senderIP(r, cfg.TrustProxy)
		allowed, remaining, resetAt := limiter.Allow(ip)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiter.limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			metrics.RequestsThrottled.Inc()
			slog.Warn("sender over rate limit",
				"ip", ip,
				"path", r.URL.Path,
				"method", r.Method,
			)

			retryAfter := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"success":false,"error":"too many requests","retry_after":%d}`, retryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// senderIP resolves the address a request should be charged against.
// Forwarding headers are honored only when the deployment declares a
// trusted proxy in front, since any client can forge them otherwise.
func senderIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
