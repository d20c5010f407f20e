package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"energy-trading-api/internal/config"
	"energy-trading-api/internal/controller"
	"energy-trading-api/internal/database"
	"energy-trading-api/internal/engine"
	"energy-trading-api/internal/external"
	"energy-trading-api/internal/middleware"
	"energy-trading-api/internal/monitoring"
	"energy-trading-api/internal/ratelimit"
	"energy-trading-api/internal/routes"
	"energy-trading-api/internal/service"
	"energy-trading-api/pkg/logger"
)

// @title Energy Trading API
// @version 1.0
// @description Settlement engine for peer-to-peer energy trades between factories

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const (
	serviceName          = "energy-trading-api"
	healthCheckInterval  = 30 * time.Second
	systemMetricsTick    = 15 * time.Second
	memoryThresholdBytes = 512 << 20
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"port":       cfg.Server.Port,
		"storage":    cfg.Storage.Driver,
	}).Info("Starting Energy Trading API")

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(cfg.Server.Mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize application: %v", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrus.WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	cancel()
	app.cleanup(shutdownCtx)

	logrus.Info("Server exited")
}

// Application holds all application dependencies
type Application struct {
	config  *config.Config
	router  http.Handler
	cleanup func(ctx context.Context)
}

func initializeApp(ctx context.Context, cfg *config.Config) (*Application, error) {
	logrus.Info("Initializing application dependencies...")

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.Storage.ConnectTimeout)
	defer connectCancel()

	db, err := database.Initialize(connectCtx, cfg)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewPrometheusMetrics()
	audit := service.NewAuditService(logger.AuditLogger(cfg.Logging))

	queue := external.NewNoopMessageQueue()
	if cfg.RabbitMQ.Enabled {
		queue, err = external.NewMessageQueue(external.MessageQueueConfig{
			URL:            cfg.RabbitMQ.URL,
			Exchange:       cfg.RabbitMQ.Exchange,
			PublishTimeout: cfg.RabbitMQ.PublishTimeout,
		}, logrus.StandardLogger())
		if err != nil {
			_ = db.Close(ctx)
			return nil, err
		}
	}

	// Engines
	ledger := engine.NewBalanceLedger(db.Store, cfg.Storage.OpTimeout)
	settlement := engine.NewSettlementEngine(db.Store, cfg.Storage.OpTimeout)
	reconciliation := engine.NewReconciliationEngine(db.Store, cfg.Storage.OpTimeout)
	limiter := ratelimit.NewLimiter(db.Counters, ratelimit.AuthPolicies(cfg.RateLimit))

	// Services
	tokens := service.NewTokenService(cfg.Auth)
	factoryService := service.NewFactoryService(db.Store, ledger, queue, metrics, audit, cfg.Storage.OpTimeout)
	tradeService := service.NewTradeService(settlement, queue, metrics, audit)
	authService := service.NewAuthService(db.Store, tokens, queue, metrics, audit, cfg)
	maintenance := service.NewMaintenanceService(reconciliation, limiter, metrics, audit, cfg.Maintenance)

	if err := maintenance.Start(); err != nil {
		_ = queue.Close()
		_ = db.Close(ctx)
		return nil, err
	}

	health := monitoring.NewHealthChecker(version)
	health.RegisterCheck("store", monitoring.NewStoreChecker("store", db.Store))
	if db.RedisDB != nil {
		health.RegisterCheck("redis", monitoring.NewRedisChecker("redis", db.RedisDB))
	}
	health.RegisterCheck("memory", monitoring.NewMemoryChecker("memory", memoryThresholdBytes))
	health.StartPeriodicChecks(healthCheckInterval)

	monitoring.StartSystemMetricsRecording(metrics, systemMetricsTick, ctx.Done())

	router := routes.NewRouter(routes.Dependencies{
		FactoryController: controller.NewFactoryController(factoryService),
		TradeController:   controller.NewTradeController(tradeService),
		AuthController:    controller.NewAuthController(authService),
		HealthController: controller.NewHealthController(health, metrics, controller.BuildInfo{
			Version:   version,
			BuildTime: buildTime,
			GitCommit: gitCommit,
			Service:   serviceName,
		}),
		AuthMiddleware:      middleware.NewAuthMiddleware(tokens, cfg.Auth.Required),
		LogMiddleware:       middleware.NewLoggingMiddleware(logrus.StandardLogger(), metrics, nil),
		RateLimitMiddleware: middleware.NewRateLimitMiddleware(limiter, metrics, cfg.RateLimit),
		SecurityMiddleware:  middleware.NewSecurityMiddleware(0),
		Metrics:             metrics,
	})

	if err := router.SetupRoutes(&routes.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		MetricsPath:    cfg.Monitoring.MetricsPath,
		EnableMetrics:  cfg.Monitoring.EnableMetrics,
	}); err != nil {
		maintenance.Stop(ctx)
		health.StopPeriodicChecks()
		_ = queue.Close()
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed to set up routes: %w", err)
	}

	cleanup := func(ctx context.Context) {
		logrus.Info("Cleaning up application resources...")
		maintenance.Stop(ctx)
		health.StopPeriodicChecks()
		if err := queue.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close message queue")
		}
		if err := db.Close(ctx); err != nil {
			logrus.WithError(err).Warn("Failed to close database connections")
		}
	}

	logrus.Info("Application initialization completed")

	return &Application{
		config:  cfg,
		router:  router.GetEngine(),
		cleanup: cleanup,
	}, nil
}
