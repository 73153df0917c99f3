package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/jittakal/actionstore/pkg/buffer"
)

// DefaultMaxBodyBytes bounds ingestion request bodies.
const DefaultMaxBodyBytes = 1 << 20

// RouterConfig wires the API routes.
type RouterConfig struct {
	Ingestor     Ingestor
	Buffer       buffer.Service
	Health       HealthChecker
	Metrics      HTTPMetrics
	Logger       *slog.Logger
	RateLimit    RateLimitConfig
	MaxBodyBytes int64
	// AdminEnabled registers the /api/v1/admin routes.
	AdminEnabled bool
}

// NewRouter builds the API engine. Health routes are never rate limited.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	router := gin.New()
	router.Use(RequestID())
	router.Use(Recovery(logger))
	if cfg.Metrics != nil {
		router.Use(Metrics(cfg.Metrics))
	}
	router.Use(Logger(logger))

	if cfg.Health != nil {
		router.GET("/health/live", LivenessHandler(cfg.Health))
		router.GET("/health/ready", ReadinessHandler(cfg.Health))
	}

	v1 := router.Group("/api/v1")
	{
		actions := NewActionHandler(cfg.Ingestor)
		v1.POST("/actions", RateLimiter(cfg.RateLimit), BodyLimit(cfg.MaxBodyBytes), actions.Ingest)

		if cfg.AdminEnabled && cfg.Buffer != nil {
			admin := NewAdminHandler(cfg.Buffer)
			v1.POST("/admin/buffer/flush", admin.Flush)
			v1.POST("/admin/buffer/flush-old", admin.FlushOld)
			v1.DELETE("/admin/buffer", admin.Clear)
			v1.GET("/admin/buffer/status", admin.Status)
			v1.GET("/admin/stats", admin.Stats)
		}
	}

	return router
}
