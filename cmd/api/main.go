package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/getmentor/airtable-connector/config"
	"github.com/getmentor/airtable-connector/internal/cache"
	"github.com/getmentor/airtable-connector/internal/handlers"
	"github.com/getmentor/airtable-connector/internal/middleware"
	"github.com/getmentor/airtable-connector/internal/repository"
	"github.com/getmentor/airtable-connector/internal/services"
	"github.com/getmentor/airtable-connector/pkg/airtable"
	"github.com/getmentor/airtable-connector/pkg/jwt"
	"github.com/getmentor/airtable-connector/pkg/logger"
	"github.com/getmentor/airtable-connector/pkg/metrics"
	"github.com/getmentor/airtable-connector/pkg/profiling"
	"github.com/getmentor/airtable-connector/pkg/tracing"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// registerAPIRoutes registers the host-facing v1 routes
func registerAPIRoutes(
	group *gin.RouterGroup,
	cfg *config.Config,
	operationHandler *handlers.OperationHandler,
	triggerHandler *handlers.TriggerHandler,
	credentialHandler *handlers.CredentialHandler,
) {
	group.Use(middleware.BodySizeLimitMiddleware(cfg.Server.MaxBodyBytes))

	group.POST("/credentials/test", credentialHandler.Test)
	group.POST("/operations/:resource/:operation", operationHandler.Execute)

	group.POST("/triggers", triggerHandler.Activate)
	group.GET("/triggers", triggerHandler.List)
	group.DELETE("/triggers/:id", triggerHandler.Deactivate)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	err = logger.Initialize(logger.Config{
		Level:       cfg.Logging.Level,
		LogDir:      cfg.Logging.Dir,
		Environment: cfg.Server.AppEnv,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Airtable connector",
		zap.String("version", cfg.Observability.ServiceVersion),
		zap.String("environment", cfg.Server.AppEnv),
	)

	// Initialize distributed tracing
	tracerShutdown, err := tracing.InitTracer(cfg.Observability, cfg.Server.AppEnv)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tracerShutdown(ctx); shutdownErr != nil {
			logger.Error("Failed to shutdown tracer", zap.Error(shutdownErr))
		}
	}()

	// Continuous profiling is opt-in
	stopProfiling, err := profiling.Start(cfg.Profiling, cfg.Observability, cfg.Server.AppEnv)
	if err != nil {
		logger.Error("Failed to start profiler, continuing without it", zap.Error(err))
	} else {
		defer stopProfiling()
	}

	// Initialize metrics with service name from config
	metrics.Init(cfg.Observability.ServiceName)

	// Start infrastructure metrics collection
	metrics.RecordInfrastructureMetrics()

	// One executor for the whole process; clients bind credentials per call
	executor := airtable.NewExecutorFrom(cfg.Airtable)
	metaCache := cache.NewMetaCache(time.Duration(cfg.Cache.MetaTTLSeconds) * time.Second)
	repo := repository.NewAirtableRepository(executor, airtable.ClientConfigFrom(cfg.Airtable), metaCache)

	defaultCreds := airtable.DefaultCredentialsFrom(cfg.Airtable)
	if defaultCreds != nil {
		logger.Info("Default Airtable credentials configured",
			zap.String("auth_type", string(defaultCreds.AuthenticationType)))
	}

	// Initialize services
	operationService := services.NewOperationService(repo, repo)
	triggerService := services.NewTriggerService(repo, cfg)
	credentialService := services.NewCredentialService(repo)

	// Initialize handlers
	operationHandler := handlers.NewOperationHandler(operationService, defaultCreds)
	triggerHandler := handlers.NewTriggerHandler(triggerService, defaultCreds)
	credentialHandler := handlers.NewCredentialHandler(credentialService)
	healthHandler := handlers.NewHealthHandler(func() int { return len(triggerService.List()) })

	var tokenManager *jwt.TokenManager
	if cfg.Auth.HostJWTSecret != "" {
		tokenManager = jwt.NewTokenManager(cfg.Auth.HostJWTSecret, cfg.Auth.HostJWTIssuer,
			time.Duration(cfg.Auth.HostJWTTTLHours)*time.Hour)
	}

	// Set up Gin router
	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Observability.ServiceName)) // OpenTelemetry tracing
	router.Use(middleware.ObservabilityMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())

	allowedOrigins := cfg.Server.AllowedOrigins
	if cfg.IsDevelopment() {
		allowedOrigins = append(allowedOrigins, "http://127.0.0.1:5678")
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HostTokenHeader, middleware.RequestIDHeader, "traceparent", "tracestate"},
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	hostRateLimiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	defer hostRateLimiter.Stop()

	// Operational endpoints (not versioned)
	api := router.Group("/api")
	api.GET("/healthcheck", healthHandler.Healthcheck)
	api.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.Use(hostRateLimiter.Middleware(), middleware.HostAuthMiddleware(cfg.Auth.HostAPIToken, tokenManager))
	registerAPIRoutes(v1, cfg, operationHandler, triggerHandler, credentialHandler)

	// Operation calls may wait out several 429 backoffs, so the write
	// timeout leaves room beyond the Airtable call timeout.
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server started", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// No trigger emits after this returns
	triggerService.StopAll()

	logger.Info("Server exited")
}
