package relay

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds per-IP limits for the webhook ingress.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate allowed per client IP.
	RequestsPerSecond float64
	// BurstSize is the maximum burst allowed per client IP.
	BurstSize int
	// CleanupInterval is how often idle limiter entries are purged.
	CleanupInterval time.Duration
	// EntryTTL is how long an entry survives after its last request.
	EntryTTL time.Duration
}

// DefaultRateLimitConfig returns the default webhook ingress limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		CleanupInterval:   5 * time.Minute,
		EntryTTL:          10 * time.Minute,
	}
}

// rateLimitEntry tracks the limiter state for a single client IP.
type rateLimitEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter enforces per-IP request limits on the webhook ingress.
// It is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rateLimitEntry
	config   RateLimitConfig

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
// Zero config fields fall back to the defaults.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = defaults.EntryTTL
	}

	rl := &RateLimiter{
		limiters:    make(map[string]*rateLimitEntry),
		config:      config,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	close(rl.stopCleanup)
	<-rl.cleanupDone
}

// Allow reports whether a request from the given IP is within its limit.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &rateLimitEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.BurstSize),
		}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = time.Now()

	return entry.limiter.Allow()
}

// Middleware wraps a handler with per-IP rate limiting.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// cleanupLoop periodically removes idle entries.
func (rl *RateLimiter) cleanupLoop() {
	defer close(rl.cleanupDone)

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.EntryTTL)
	for ip, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

// ConnectionTracker caps concurrent WebSocket connections per client IP.
type ConnectionTracker struct {
	mu          sync.Mutex
	connections map[string]int
	maxPerIP    int
}

// NewConnectionTracker creates a tracker allowing maxPerIP concurrent
// connections per client IP.
func NewConnectionTracker(maxPerIP int) *ConnectionTracker {
	return &ConnectionTracker{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
	}
}

// TryAdd records a connection for the given IP. It returns false when the
// IP is already at its limit.
func (ct *ConnectionTracker) TryAdd(ip string) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	current := ct.connections[ip]
	if current >= ct.maxPerIP {
		return false
	}
	ct.connections[ip] = current + 1
	return true
}

// Remove releases a connection slot for the given IP.
func (ct *ConnectionTracker) Remove(ip string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	current := ct.connections[ip]
	if current <= 1 {
		delete(ct.connections, ip)
	} else {
		ct.connections[ip] = current - 1
	}
}

// Count returns the connection count for an IP.
func (ct *ConnectionTracker) Count(ip string) int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.connections[ip]
}

// clientIP extracts the peer IP from the request. The relay serves the local
// network directly, so RemoteAddr is authoritative; there is no proxy layer
// whose forwarding headers would need to be trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
