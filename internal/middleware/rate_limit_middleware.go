package middleware

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apperrors "tai-ledger-api/pkg/errors"
)

const defaultIdleTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies a token bucket per client IP.
type RateLimitMiddleware struct {
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	whitelist map[string]bool
	visitors  map[string]*visitor
	mu        sync.Mutex
	now       func() time.Time
}

func NewRateLimitMiddleware(requestsPerSecond float64, burst int, whitelist ...string) *RateLimitMiddleware {
	if burst < 1 {
		burst = 1
	}
	wl := make(map[string]bool, len(whitelist))
	for _, ip := range whitelist {
		wl[ip] = true
	}
	return &RateLimitMiddleware{
		limit:     rate.Limit(requestsPerSecond),
		burst:     burst,
		idleTTL:   defaultIdleTTL,
		whitelist: wl,
		visitors:  make(map[string]*visitor),
		now:       time.Now,
	}
}

// IPRateLimit rejects requests beyond the client's bucket with 429.
func (r *RateLimitMiddleware) IPRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if r.whitelist[ip] {
			c.Next()
			return
		}

		limiter := r.limiterFor(ip)
		now := r.now()
		reservation := limiter.ReserveN(now, 1)
		if !reservation.OK() {
			r.reject(c, time.Second)
			return
		}
		if delay := reservation.DelayFrom(now); delay > 0 {
			reservation.CancelAt(now)
			r.reject(c, delay)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(r.burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, limiter.TokensAt(now)))))
		c.Next()
	}
}

func (r *RateLimitMiddleware) reject(c *gin.Context, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.Header("X-RateLimit-Limit", strconv.Itoa(r.burst))
	c.Header("X-RateLimit-Remaining", "0")
	abortWithError(c, apperrors.NewTooManyRequestsError("Rate limit exceeded, please try again later"))
}

func (r *RateLimitMiddleware) limiterFor(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[ip] = v
	}
	v.lastSeen = r.now()
	return v.limiter
}

// Cleanup drops visitors idle for longer than the idle TTL and returns how
// many were removed.
func (r *RateLimitMiddleware) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for ip, v := range r.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(r.visitors, ip)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is cancelled.
func (r *RateLimitMiddleware) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Cleanup()
			}
		}
	}()
}
