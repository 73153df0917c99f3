package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// RequestIDHeader is the header name for request ID.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key for request ID.
	RequestIDKey = "request_id"
)

// HTTPMetrics records served requests.
type HTTPMetrics interface {
	ObserveHTTPRequest(method, route string, status int, seconds float64)
}

// RequestID ensures each request has an ID, reusing X-Request-ID when sent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// Logger logs each completed request at a status-dependent level.
func Logger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if requestID := c.GetString(RequestIDKey); requestID != "" {
			attrs = append(attrs, "request_id", requestID)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			logger.Error("request completed", attrs...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Debug("request completed", attrs...)
		}
	}
}

// Recovery turns a panic into a 500 response.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"request_id", c.GetString(RequestIDKey),
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Error:            "internal_error",
					Message:          "An unexpected error occurred",
					RetryRecommended: true,
				})
			}
		}()

		c.Next()
	}
}

// Metrics records request count and latency by route template.
func Metrics(m HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "/not_found"
		}
		m.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}

// BodyLimit caps the request body size.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	// PerClient keys limiters by client IP instead of sharing one.
	PerClient bool
	// ClientTTL is how long an idle client limiter is kept.
	ClientTTL time.Duration
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 100,
		BurstSize:         200,
		PerClient:         true,
		ClientTTL:         time.Hour,
	}
}

// RateLimiter rejects requests above the configured rate with 429.
func RateLimiter(cfg RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}

	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)
	store := newLimiterStore(cfg)

	return func(c *gin.Context) {
		key := ""
		if cfg.PerClient {
			key = c.ClientIP()
		}

		c.Header("X-RateLimit-Limit", limit)
		if !store.get(key, time.Now()).Allow() {
			c.Header("Retry-After", "1")
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:            "rate_limited",
				Message:          "Too many requests",
				RetryRecommended: true,
			})
			return
		}
		c.Next()
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterStore sweeps idle limiters lazily on access, so no background
// goroutine outlives the router.
type limiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	cfg       RateLimitConfig
	lastSweep time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = time.Hour
	}
	return &limiterStore{
		limiters: make(map[string]*clientLimiter),
		cfg:      cfg,
	}
}

func (s *limiterStore) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > s.cfg.ClientTTL {
		for k, cl := range s.limiters {
			if now.Sub(cl.lastAccess) > s.cfg.ClientTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	cl, ok := s.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)}
		s.limiters[key] = cl
	}
	cl.lastAccess = now
	return cl.limiter
}
