// internal/routes/routes.go
package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anova-service/internal/config"
	"anova-service/internal/database"
	"anova-service/internal/events"
	"anova-service/internal/handler"
	"anova-service/internal/metrics"
	"anova-service/internal/middleware"
	"anova-service/internal/service"
	"anova-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config           *config.Config
	logger           *zap.Logger
	db               *database.DB
	bus              *events.Bus
	metrics          *metrics.Collector
	deviceService    *service.DeviceService
	discoveryService *service.DiscoveryService

	wsHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance. db and collector may be nil.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	bus *events.Bus,
	collector *metrics.Collector,
	deviceService *service.DeviceService,
	discoveryService *service.DiscoveryService,
) *Router {
	return &Router{
		config:           config,
		logger:           logger,
		db:               db,
		bus:              bus,
		metrics:          collector,
		deviceService:    deviceService,
		discoveryService: discoveryService,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// WebSocketHandler returns the handler whose event pump the caller must run
func (r *Router) WebSocketHandler() *handler.WebSocketHandler {
	return r.wsHandler
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	if r.metrics != nil {
		router.Use(r.metrics.Middleware())
	}

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	timeout := requestTimeout(&r.config.Protocol)

	server := handler.ServerInfo{
		Host: r.config.Server.PublicHost,
		Port: handler.ParsePort(r.config.Server.Port),
	}

	healthHandler := handler.NewHealthHandler(r.db, r.deviceService, r.config, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.deviceService, timeout, r.logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.discoveryService, r.deviceService, server, timeout, r.logger)
	sseHandler := handler.NewSSEHandler(r.bus, r.deviceService, r.config.Server.SSEPing, r.logger)
	r.wsHandler = handler.NewWebSocketHandler(r.deviceService, r.config.Security.AllowedOrigins, r.logger)

	// Health check routes
	healthHandler.RegisterRoutes(router)

	if r.metrics != nil {
		router.GET("/metrics", gin.WrapH(r.metrics.Handler()))
	}

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	deviceHandler.RegisterRoutes(apiV1)
	discoveryHandler.RegisterRoutes(apiV1)
	sseHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	r.wsHandler.RegisterRoutes(router.Group("/ws"))

	r.logger.Info("All routes configured successfully")
}

// requestTimeout covers every retry of a command plus one connect attempt
func requestTimeout(cfg *config.ProtocolConfig) time.Duration {
	attempts := time.Duration(cfg.RetryAttempts)
	return cfg.CommandTimeout*(attempts+1) + cfg.RetryDelay*attempts
}
