package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"energy-trading-api/internal/controller"
	"energy-trading-api/internal/middleware"
	"energy-trading-api/internal/monitoring"
	"energy-trading-api/internal/ratelimit"
)

type Router struct {
	engine              *gin.Engine
	factoryController   *controller.FactoryController
	tradeController     *controller.TradeController
	authController      *controller.AuthController
	healthController    *controller.HealthController
	authMiddleware      *middleware.AuthMiddleware
	logMiddleware       *middleware.LoggingMiddleware
	rateLimitMiddleware *middleware.RateLimitMiddleware
	securityMiddleware  *middleware.SecurityMiddleware
	metrics             monitoring.MetricsService
}

type RouterConfig struct {
	AllowedOrigins []string
	TrustedProxies []string
	MetricsPath    string
	EnableMetrics  bool
}

// Dependencies groups what the router wires into handlers
type Dependencies struct {
	FactoryController   *controller.FactoryController
	TradeController     *controller.TradeController
	AuthController      *controller.AuthController
	HealthController    *controller.HealthController
	AuthMiddleware      *middleware.AuthMiddleware
	LogMiddleware       *middleware.LoggingMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware
	SecurityMiddleware  *middleware.SecurityMiddleware
	Metrics             monitoring.MetricsService
}

func NewRouter(deps Dependencies) *Router {
	return &Router{
		engine:              gin.New(),
		factoryController:   deps.FactoryController,
		tradeController:     deps.TradeController,
		authController:      deps.AuthController,
		healthController:    deps.HealthController,
		authMiddleware:      deps.AuthMiddleware,
		logMiddleware:       deps.LogMiddleware,
		rateLimitMiddleware: deps.RateLimitMiddleware,
		securityMiddleware:  deps.SecurityMiddleware,
		metrics:             deps.Metrics,
	}
}

func (r *Router) SetupRoutes(config *RouterConfig) error {
	if err := controller.RegisterValidators(); err != nil {
		return err
	}
	if err := r.engine.SetTrustedProxies(config.TrustedProxies); err != nil {
		return err
	}

	r.setupGlobalMiddleware(config)
	r.setupHealthRoutes(config)

	api := r.engine.Group("/api")
	api.Use(r.rateLimitMiddleware.IPRateLimit())
	r.setupAuthRoutes(api)
	r.setupAPIRoutes(api)

	return nil
}

func (r *Router) setupGlobalMiddleware(config *RouterConfig) {
	r.engine.Use(r.logMiddleware.RequestID())
	r.engine.Use(r.logMiddleware.Recovery())
	r.engine.Use(r.logMiddleware.RequestLogger())
	r.engine.Use(r.logMiddleware.RequestContext())

	corsConfig := cors.Config{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 || (len(corsConfig.AllowOrigins) == 1 && corsConfig.AllowOrigins[0] == "*") {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	r.engine.Use(cors.New(corsConfig))

	r.engine.Use(r.securityMiddleware.SecurityHeaders())
	r.engine.Use(r.securityMiddleware.InputSanitization())
}

func (r *Router) setupHealthRoutes(config *RouterConfig) {
	r.engine.GET("/health", r.healthController.Health)
	r.engine.GET("/ready", r.healthController.Ready)
	r.engine.GET("/version", r.healthController.Version)

	if config.EnableMetrics {
		path := config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(r.metrics.Handler()))
		logrus.WithField("path", path).Info("Metrics endpoint enabled")
	}
}

func (r *Router) setupAuthRoutes(api *gin.RouterGroup) {
	auth := api.Group("/auth")
	{
		auth.POST("/signup", r.rateLimitMiddleware.AuthRateLimit(ratelimit.EndpointSignup), r.authController.Signup)
		auth.POST("/login", r.rateLimitMiddleware.AuthRateLimit(ratelimit.EndpointLogin), r.authController.Login)
	}
}

func (r *Router) setupAPIRoutes(api *gin.RouterGroup) {
	protected := api.Group("")
	protected.Use(r.authMiddleware.JWTAuth())

	factories := protected.Group("/factories")
	{
		factories.POST("", r.factoryController.RegisterFactory)
		factories.GET("", r.factoryController.ListFactories)
		factories.GET("/:id", r.factoryController.GetFactory)
		factories.GET("/:id/balance", r.factoryController.GetBalance)
		factories.GET("/:id/energy-status", r.factoryController.GetEnergyStatus)
		factories.GET("/:id/history", r.factoryController.GetHistory)
		factories.PUT("/:id/available-energy", r.authMiddleware.RequireSelf("id"), r.factoryController.UpdateAvailableEnergy)
		factories.PUT("/:id/daily-consumption", r.authMiddleware.RequireSelf("id"), r.factoryController.UpdateDailyConsumption)
	}

	energy := protected.Group("/energy")
	{
		energy.POST("/mint", r.factoryController.MintEnergy)
		energy.POST("/transfer", r.factoryController.TransferEnergy)
	}

	trades := protected.Group("/trades")
	{
		trades.POST("", r.tradeController.CreateTrade)
		trades.GET("", r.tradeController.ListTrades)
		trades.GET("/:id", r.tradeController.GetTrade)
		trades.POST("/:id/execute", r.tradeController.ExecuteTrade)
		trades.POST("/:id/cancel", r.tradeController.CancelTrade)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
