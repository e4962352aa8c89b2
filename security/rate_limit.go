package security

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig tunes the per-caller token buckets.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	EntryTTL          time.Duration
}

// RateLimitConfigFromEnv reads RATE_LIMIT_RPM and RATE_LIMIT_BURST, applying
// the defaults the original service used (10 requests/minute globally).
func RateLimitConfigFromEnv() RateLimitConfig {
	cfg := RateLimitConfig{RequestsPerMinute: 10, Burst: 5}
	if raw := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPM")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.RequestsPerMinute = n
		}
	}
	if raw := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.Burst = n
		}
	}
	return cfg
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a token bucket per caller. Authenticated requests are
// keyed by user id, anything else by remote address.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	entries  map[string]*limiterEntry
	entryTTL time.Duration
	lastScan time.Time
}

// NewRateLimiter creates a limiter from config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	ttl := cfg.EntryTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = rpm
	}
	return &RateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(rpm)),
		burst:    burst,
		entries:  make(map[string]*limiterEntry),
		entryTTL: ttl,
		lastScan: time.Now(),
	}
}

// Middleware rejects callers that exceed their bucket with a 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(callerKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"message": "Too many requests. Please try again later."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastScan) > l.entryTTL {
		for k, entry := range l.entries {
			if now.Sub(entry.lastSeen) > l.entryTTL {
				delete(l.entries, k)
			}
		}
		l.lastScan = now
	}

	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func callerKey(r *http.Request) string {
	if id := UserID(r); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}
