package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"auctionhouse/observability"
)

// RateLimit is a token bucket applied per client.
type RateLimit struct {
	RatePerSecond float64
	Burst         int
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client identifier. Clients are keyed by
// X-API-Key when present and by remote IP otherwise.
type RateLimiter struct {
	logger   *slog.Logger
	limit    RateLimit
	idleTTL  time.Duration
	mu       sync.Mutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
}

func NewRateLimiter(limit RateLimit, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if limit.RatePerSecond <= 0 {
		limit.RatePerSecond = 1
	}
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	return &RateLimiter{
		logger:   logger,
		limit:    limit,
		idleTTL:  5 * time.Minute,
		visitors: make(map[string]*rateEntry),
		clockNow: time.Now,
	}
}

func (r *RateLimiter) Middleware(module string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if r == nil {
				next.ServeHTTP(w, req)
				return
			}
			identifier := clientID(req)
			if !r.obtainLimiter(identifier).Allow() {
				observability.ModuleMetrics().RecordThrottle(module, "rate_limit")
				r.logger.Debug("rpc request throttled", slog.String("client", identifier))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtainLimiter(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	r.evictLocked(now)
	entry, ok := r.visitors[id]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(rate.Limit(r.limit.RatePerSecond), r.limit.Burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (r *RateLimiter) evictLocked(now time.Time) {
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.visitors, id)
		}
	}
}

func clientID(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return "key:" + key
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
