package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// KeyFunc names the token bucket a request draws from. Keys have the form
// "<kind>:<id>"; the kind becomes the rejection metric label.
type KeyFunc func(*gin.Context) string

// KeyByUserOrIP buckets authenticated owners by id and everyone else, share
// link visitors included, by client IP.
func KeyByUserOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if uid := UserID(c); uid != "" {
			return "owner:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// RateLimitOptions configures NewRateLimiter.
type RateLimitOptions struct {
	RPS   float64 // refill rate; 0 admits only the initial burst
	Burst int     // bucket size; values < 1 become 1
	Key   KeyFunc // defaults to KeyByUserOrIP
	// IdleTTL drops buckets untouched for this long. Defaults to 10 minutes.
	IdleTTL time.Duration
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local, per-key token-bucket limiter. Replays
// flagged by IdempotencyValidator never draw a token. Safe for concurrent use.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	key     KeyFunc
	idleTTL time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter returns a limiter ready to mount with Handler.
func NewRateLimiter(opts RateLimitOptions) *RateLimiter {
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.RPS < 0 {
		opts.RPS = 0
	}
	if opts.Key == nil {
		opts.Key = KeyByUserOrIP()
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		limit:     rate.Limit(opts.RPS),
		burst:     opts.Burst,
		key:       opts.Key,
		idleTTL:   opts.IdleTTL,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
	}
}

// limiterFor returns the bucket for key, creating it on first use. Idle
// buckets are swept at most once per IdleTTL, before the lookup, so a stale
// bucket is replaced rather than refreshed.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idleTTL {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// size reports the number of live buckets.
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator found a stored reply for
// this request.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. Rejections get 429 with Retry-After and the
// usual error envelope under code "rate_limited".
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := rl.key(c)
		lim := rl.limiterFor(key)
		if lim.Allow() {
			c.Next()
			return
		}

		kind, _, _ := strings.Cut(key, ":")
		rateLimited.WithLabelValues(kind).Inc()
		wait := retryAfter(lim)
		zerolog.Ctx(c.Request.Context()).Debug().
			Str("bucket", kind).
			Str("retry_after", wait).
			Msg("rate limited")

		c.Header("Retry-After", wait)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "rate_limited",
			"message":    "too many requests, retry later",
		})
	}
}

// retryAfter returns whole seconds until lim grants a token, at least 1. The
// probe reservation is cancelled so it does not consume that token.
func retryAfter(lim *rate.Limiter) string {
	r := lim.Reserve()
	defer r.Cancel()
	if !r.OK() {
		return "60"
	}
	return strconv.Itoa(max(1, int(math.Ceil(r.Delay().Seconds()))))
}
