package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/keyxmakerx/sentinel/internal/apperror"
)

// limiterIdleTTL is how long an IP's bucket survives without traffic.
const limiterIdleTTL = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter hands out one token bucket per client IP. Buckets refill at
// maxRequests per window with a burst of maxRequests.
type IPRateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	entries   map[string]*ipLimiter
	lastPrune time.Time
	nowFunc   func() time.Time
}

// NewIPRateLimiter creates a limiter allowing maxRequests per window per IP.
func NewIPRateLimiter(maxRequests int, window time.Duration) *IPRateLimiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &IPRateLimiter{
		limit:   rate.Limit(float64(maxRequests) / window.Seconds()),
		burst:   maxRequests,
		entries: make(map[string]*ipLimiter),
		nowFunc: time.Now,
	}
}

// Reserve takes a token for ip. It returns zero when the request may
// proceed, otherwise how long the caller should wait.
func (l *IPRateLimiter) Reserve(ip string) time.Duration {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) > limiterIdleTTL {
		for key, e := range l.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.entries, key)
			}
		}
		l.lastPrune = now
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return delay
	}
	return 0
}

// RateLimit returns middleware that limits requests per IP to maxRequests
// within the given window. Rejected requests get a 429 AppError and a
// Retry-After header.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	return NewIPRateLimiter(maxRequests, window).Middleware()
}

// Middleware adapts the limiter to Echo.
func (l *IPRateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if delay := l.Reserve(c.RealIP()); delay > 0 {
				secs := int(delay/time.Second) + 1
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return apperror.NewTooManyRequests("rate limit exceeded, please try again later")
			}
			return next(c)
		}
	}
}
