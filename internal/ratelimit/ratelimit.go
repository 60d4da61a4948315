// Package ratelimit throttles callers with a token bucket per caller id.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	Enabled bool

	// RequestsPerMinute sets the sustained rate.
	RequestsPerMinute int

	// Burst allows short bursts above the sustained rate.
	// Defaults to RequestsPerMinute.
	Burst int

	// MaxIdle is how long a caller can be idle before its bucket is dropped.
	// Defaults to 30 minutes.
	MaxIdle time.Duration
}

// Limiter tracks one token bucket per caller
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time

	rate    rate.Limit
	burst   int
	enabled bool
	maxIdle time.Duration
	now     func() time.Time
}

// New creates a limiter. A nil config disables limiting.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{}
	}

	burst := cfg.Burst
	if burst == 0 {
		burst = cfg.RequestsPerMinute
	}
	maxIdle := cfg.MaxIdle
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}

	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:    burst,
		enabled:  cfg.Enabled,
		maxIdle:  maxIdle,
		now:      time.Now,
	}
}

// Allow reports whether caller may make a request now
func (l *Limiter) Allow(caller string) bool {
	if l == nil || !l.enabled {
		return true
	}

	l.mu.Lock()
	now := l.now()
	limiter, ok := l.limiters[caller]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[caller] = limiter
	}
	l.lastSeen[caller] = now
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// Cleanup drops buckets of callers idle longer than MaxIdle and returns how
// many were dropped.
func (l *Limiter) Cleanup() int {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dropped := 0
	for caller, seen := range l.lastSeen {
		if now.Sub(seen) > l.maxIdle {
			delete(l.limiters, caller)
			delete(l.lastSeen, caller)
			dropped++
		}
	}
	return dropped
}

// Callers returns the number of tracked callers
func (l *Limiter) Callers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware enforces the limit on HTTP requests keyed by client IP
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
