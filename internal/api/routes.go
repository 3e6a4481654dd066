// Package api provides the HTTP ingress of the activation service.
package api

import (
	"github.com/MacJediWizard/activator/internal/api/handlers"
	"github.com/MacJediWizard/activator/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// RateLimit is a limiter rate such as "100-M".
	RateLimit string
	// IngressSecret guards the /api/v1 routes. Empty disables the check.
	IngressSecret string
	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64
	// RenewContact is echoed on the subscriptions dashboard.
	RenewContact string
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// DefaultConfig returns a Config with sensible defaults for development.
func DefaultConfig() Config {
	return Config{
		RateLimit:    "100-M",
		MaxBodyBytes: middleware.DefaultMaxBodyBytes,
		Version:      "dev",
		Commit:       "unknown",
		BuildDate:    "unknown",
	}
}

// Dependencies are the components the router serves.
type Dependencies struct {
	Dialogue      handlers.Dialogue
	Subscriptions handlers.SubscriptionStore
	// HealthChecks are pinged by /health, keyed by component name.
	HealthChecks map[string]handlers.Pinger
	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
	// Admission runs ahead of the ingress routes, typically the shutdown
	// request tracker. Optional.
	Admission gin.HandlerFunc
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Dependencies, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.BodyLimitMiddleware(cfg.MaxBodyBytes))

	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimit, logger)
	if err != nil {
		return nil, err
	}
	r.Engine.Use(rateLimiter)

	// Public endpoints
	handlers.NewHealthHandler(deps.HealthChecks, logger).RegisterPublicRoutes(r.Engine)
	handlers.NewMetricsHandler(deps.Gatherer, logger).RegisterPublicRoutes(r.Engine)
	handlers.NewVersionHandler(handlers.VersionInfo{
		Version:   cfg.Version,
		Commit:    cfg.Commit,
		BuildDate: cfg.BuildDate,
	}).RegisterPublicRoutes(r.Engine)

	// Transport ingress
	apiV1 := r.Engine.Group("/api/v1")
	if deps.Admission != nil {
		apiV1.Use(deps.Admission)
	}
	apiV1.Use(middleware.SharedSecretAuth(cfg.IngressSecret, logger))

	handlers.NewIngressHandler(deps.Dialogue, logger).RegisterRoutes(apiV1)
	handlers.NewSubscriptionsHandler(deps.Subscriptions, cfg.RenewContact, logger).RegisterRoutes(apiV1)

	r.logger.Debug().Int("routes", len(r.Engine.Routes())).Msg("router configured")
	return r, nil
}
