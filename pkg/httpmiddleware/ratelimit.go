package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig configures the fixed window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window and key.
	Max    int
	Window time.Duration
	// Prefix namespaces counters in redis. Defaults to "ratelimit:".
	Prefix string
	// KeyFunc extracts the limited key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
}

// RateLimiter counts requests per key in redis so that every replica shares
// the same budget.
type RateLimiter struct {
	rdb redis.Cmdable
	cfg RateLimitConfig
	now func() time.Time
}

// NewRateLimiter creates a RateLimiter backed by rdb.
func NewRateLimiter(rdb redis.Cmdable, cfg RateLimitConfig) *RateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit:"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RateLimiter{rdb: rdb, cfg: cfg, now: time.Now}
}

// Allow increments the counter of key and reports whether the request fits in
// the current window, with the remaining budget and the window reset time.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (remaining int, resetAt time.Time, allowed bool, err error) {
	k := rl.cfg.Prefix + key

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	if _, err := rl.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		ttl = p.PTTL(ctx, k)
		return nil
	}); err != nil {
		return 0, time.Time{}, false, errors.Wrap(err, "count request")
	}

	window := ttl.Val()
	if window < 0 {
		// First hit of the window.
		window = rl.cfg.Window
		if err := rl.rdb.PExpire(ctx, k, window).Err(); err != nil {
			return 0, time.Time{}, false, errors.Wrap(err, "set window")
		}
	}

	count := int(incr.Val())
	resetAt = rl.now().Add(window)
	if count > rl.cfg.Max {
		return 0, resetAt, false, nil
	}
	return rl.cfg.Max - count, resetAt, true, nil
}

// Middleware responds 429 once a key exceeds its budget. Every response
// carries X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
// Redis failures let the request through.
func (rl *RateLimiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			remaining, resetAt, allowed, err := rl.Allow(ctx, rl.cfg.KeyFunc(r))
			if err != nil {
				zctx.From(ctx).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retry := math.Ceil(resetAt.Sub(rl.now()).Seconds())
				h.Set("Retry-After", strconv.Itoa(max(int(retry), 0)))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "Too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
