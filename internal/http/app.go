// Package http holds the contracts between the composition root, the router
// and the modules that expose HTTP routes.
package http

import (
	"context"

	"queue_dashboard_backend/platform/config"
	"queue_dashboard_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// RouterConfig is the configuration the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker backs the readiness endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Module is a bounded context that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext is what a module receives when mounting routes.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is /api/v1 without authentication.
	V1 *gin.RouterGroup
	// Protected is /api/v1 behind AuthMiddleware. When no JWT secret is
	// configured the middleware lets every request through.
	Protected      *gin.RouterGroup
	Config         config.JWTConfig
	AuthMiddleware gin.HandlerFunc
}

// App is assembled by main and handed to the router.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health is optional; nil means always ready.
	Health  HealthChecker
	Modules []Module
}
