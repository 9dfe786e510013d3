package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool
	RequestsPerSec float64
	Burst          int
	PerUser        bool // key authenticated requests by token subject instead of client IP
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages token buckets per client
type RateLimiter struct {
	config  RateLimitConfig
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[string]*client

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a rate limiter. Buckets idle for longer than
// idleTTL are dropped by a background sweep until Stop is called.
func NewRateLimiter(config RateLimitConfig, idleTTL time.Duration) *RateLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		idleTTL: idleTTL,
		clients: make(map[string]*client),
		stop:    make(chan struct{}),
	}
	if config.Enabled {
		go rl.cleanup()
	}
	return rl
}

// Enabled reports whether requests are limited at all
func (rl *RateLimiter) Enabled() bool { return rl.config.Enabled }

// Allow takes a token from the bucket of key. remaining is the number of
// whole tokens left afterwards.
func (rl *RateLimiter) Allow(key string) (ok bool, remaining int) {
	if !rl.config.Enabled {
		return true, rl.config.Burst
	}

	rl.mu.Lock()
	c, exists := rl.clients[key]
	if !exists {
		c = &client{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSec), rl.config.Burst)}
		rl.clients[key] = c
	}
	c.lastSeen = time.Now()
	rl.mu.Unlock()

	ok = c.limiter.Allow()
	remaining = int(c.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return ok, remaining
}

// Len returns the number of tracked clients
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop ends the background sweep
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.sweep(now)
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.idleTTL {
			delete(rl.clients, key)
		}
	}
}

// RateLimit creates a rate limiting middleware
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			key := ClientIP(r)
			if limiter.config.PerUser {
				if claims, ok := api.ClaimsFromContext(r.Context()); ok && claims.Subject != "" {
					key = "user:" + claims.Subject
				}
			}

			ok, remaining := limiter.Allow(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.Burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client address, honouring the first hop of
// X-Forwarded-For and X-Real-IP
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
