package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/Baleenmedia2512/Healthcare-Center-App/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops a caller's limiter after this long without requests.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		IdleTTL:           10 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds one limiter per caller key.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	config    RateLimitConfig
	now       func() time.Time
	lastSweep time.Time
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &rateLimiterStore{
		limiters: make(map[string]*limiterEntry),
		config:   cfg,
		now:      time.Now,
	}
}

func (s *rateLimiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.config.IdleTTL {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) >= s.config.IdleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// rateLimitKey buckets authenticated callers by tenant and user, and
// everyone else by client IP.
func rateLimitKey(c echo.Context) string {
	key := "ip:" + c.RealIP()
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		key = "user:" + uid
	}
	if tid, ok := c.Get("tenant_id").(string); ok && tid != "" {
		key = tid + ":" + key
	}
	return key
}

// RateLimit rejects callers that exceed their token bucket with a 429 and a
// Retry-After hint. Place it after auth so users are keyed by identity.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lim := store.get(rateLimitKey(c))
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)

			now := store.now()
			if !lim.AllowN(now, 1) {
				h.Set("Retry-After", strconv.Itoa(retryAfter(lim, now)))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

// retryAfter is the whole number of seconds until one token is available.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	if lim.Limit() <= 0 {
		return 1
	}
	missing := 1 - lim.TokensAt(now)
	secs := int(math.Ceil(missing / float64(lim.Limit())))
	if secs < 1 {
		return 1
	}
	return secs
}
