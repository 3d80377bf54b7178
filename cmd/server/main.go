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
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	catalogapp "github.com/keysync/backend/internal/application/catalog"
	fulfillmentapp "github.com/keysync/backend/internal/application/fulfillment"
	"github.com/keysync/backend/internal/domain/catalog"
	"github.com/keysync/backend/internal/domain/shared"
	"github.com/keysync/backend/internal/domain/storefront"
	"github.com/keysync/backend/internal/infrastructure/auth"
	"github.com/keysync/backend/internal/infrastructure/cache"
	"github.com/keysync/backend/internal/infrastructure/config"
	"github.com/keysync/backend/internal/infrastructure/logger"
	"github.com/keysync/backend/internal/infrastructure/notification"
	"github.com/keysync/backend/internal/infrastructure/persistence"
	"github.com/keysync/backend/internal/infrastructure/platform"
	"github.com/keysync/backend/internal/infrastructure/scheduler"
	supplierapi "github.com/keysync/backend/internal/infrastructure/supplier"
	"github.com/keysync/backend/internal/infrastructure/telemetry"
	"github.com/keysync/backend/internal/interfaces/http/handler"
	"github.com/keysync/backend/internal/interfaces/http/middleware"
	"github.com/keysync/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting KeySync Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Initialize repositories
	ledger := persistence.NewGormFulfillmentRecordRepository(db.DB)
	mappings := persistence.NewGormProductMappingRepository(db.DB)

	// Wholesale supplier gateway
	var supplierCfg *supplierapi.ClientConfig
	if cfg.Supplier.Sandbox {
		supplierCfg = supplierapi.NewSandboxClientConfig(cfg.Supplier.ClientID, cfg.Supplier.ClientSecret)
	} else {
		supplierCfg = supplierapi.NewClientConfig(cfg.Supplier.ClientID, cfg.Supplier.ClientSecret)
	}
	if cfg.Supplier.APIBaseURL != "" {
		supplierCfg.APIBaseURL = cfg.Supplier.APIBaseURL
	}
	if cfg.Supplier.TimeoutSeconds > 0 {
		supplierCfg.TimeoutSeconds = cfg.Supplier.TimeoutSeconds
	}
	supplierClient, err := supplierapi.NewClient(supplierCfg, log)
	if err != nil {
		log.Fatal("Failed to create supplier client", zap.Error(err))
	}

	// Webhook signature verifier
	verifier, err := supplierapi.NewHMACVerifier(cfg.Supplier.WebhookSecret)
	if err != nil {
		log.Fatal("Failed to create webhook verifier", zap.Error(err))
	}

	// Redis backs event deduplication and token revocation; without it both
	// fall back to in-process stores (single-instance deployments only).
	var eventStore shared.IdempotencyStore
	var tokenBlacklist auth.TokenBlacklist
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis unavailable, using in-memory event dedupe and token blacklist", zap.Error(err))
		_ = redisClient.Close()
		eventStore = cache.NewInMemoryIdempotencyStore()
		tokenBlacklist = auth.NewInMemoryTokenBlacklist()
	} else {
		eventStore = cache.NewRedisIdempotencyStoreWithClient(redisClient, "")
		tokenBlacklist = auth.NewRedisTokenBlacklist(redisClient)
		defer func() {
			_ = redisClient.Close()
		}()
		log.Info("Redis connected successfully")
	}
	cancelPing()

	// Commerce platform merchant API
	platformCfg := platform.NewClientConfig(cfg.Platform.APIBaseURL, cfg.Platform.APIKey)
	platformCfg.TimeoutSeconds = cfg.Platform.TimeoutSeconds
	platformClient, err := platform.NewClient(platformCfg, mappings, log)
	if err != nil {
		log.Fatal("Failed to create platform client", zap.Error(err))
	}

	// Operator alerts
	var notifier storefront.NotificationCollaborator
	if cfg.Notification.WebhookURL != "" {
		notifier, err = notification.NewWebhookNotifier(notification.WebhookNotifierConfig{
			WebhookURL:     cfg.Notification.WebhookURL,
			TimeoutSeconds: cfg.Notification.TimeoutSeconds,
		}, log)
		if err != nil {
			log.Fatal("Failed to create notifier", zap.Error(err))
		}
	} else {
		notifier = notification.NewNopNotifier(log)
	}

	// Catalog sync with the configured retail markup
	priceRule, err := catalog.NewPriceRule(
		catalog.MarkupMode(cfg.Pricing.MarkupMode),
		decimal.NewFromFloat(cfg.Pricing.MarkupValue),
	)
	if err != nil {
		log.Fatal("Invalid pricing configuration", zap.Error(err))
	}
	catalogService := catalogapp.NewCatalogService(mappings, supplierClient, priceRule, log)

	// Fulfillment core
	dispatcher := fulfillmentapp.NewDispatcher(ledger, platformClient, platformClient, log)
	engine, err := fulfillmentapp.NewEngine(ledger, supplierClient, platformClient, notifier, dispatcher,
		fulfillmentapp.EngineConfig{
			MaxAttempts: cfg.Fulfillment.MaxAttempts,
			BaseDelay:   cfg.Fulfillment.BaseDelay,
			MaxDelay:    cfg.Fulfillment.MaxDelay,
		}, log)
	if err != nil {
		log.Fatal("Failed to create fulfillment engine", zap.Error(err))
	}
	reconciler := fulfillmentapp.NewReconciler(verifier, eventStore, cfg.Supplier.EventTTL,
		ledger, supplierClient, catalogService, dispatcher, platformClient, log)

	// Metrics export (optional)
	var meterProvider *telemetry.MeterProvider
	if cfg.Telemetry.Enabled {
		meterProvider, err = telemetry.NewMeterProvider(context.Background(), telemetry.MetricsConfig{
			Enabled:           true,
			CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
			ServiceName:       cfg.Telemetry.ServiceName,
			Insecure:          cfg.Telemetry.Insecure,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize metrics", zap.Error(err))
		}
		defer func() {
			if err := meterProvider.Shutdown(context.Background()); err != nil {
				log.Error("Error shutting down meter provider", zap.Error(err))
			}
		}()

		metrics, err := telemetry.NewFulfillmentMetrics(telemetry.FulfillmentMetricsConfig{
			Meter:  meterProvider.Meter("keysync-fulfillment"),
			Logger: log,
		})
		if err != nil {
			log.Fatal("Failed to create fulfillment metrics", zap.Error(err))
		}
		engine.SetMetrics(metrics)
		dispatcher.SetMetrics(metrics)
		reconciler.SetMetrics(metrics)
		metrics.StartPeriodicCollection(context.Background(), supplierClient, cfg.Balance.CheckInterval)
		defer metrics.Stop()
	}

	// Wholesale balance monitoring (optional)
	if cfg.Balance.Enabled {
		monitor, err := catalogapp.NewBalanceMonitor(catalogapp.BalanceMonitorConfig{
			CheckInterval: cfg.Balance.CheckInterval,
			LowThreshold:  decimal.NewFromFloat(cfg.Balance.LowThreshold),
			Currency:      cfg.Balance.Currency,
		}, supplierClient, notifier, log)
		if err != nil {
			log.Fatal("Failed to create balance monitor", zap.Error(err))
		}
		monitor.Start(context.Background())
		defer monitor.Stop()
	}

	// Retry scheduler (optional)
	if cfg.Fulfillment.SchedulerEnabled {
		schedulerCfg := scheduler.DefaultRetrySchedulerConfig()
		schedulerCfg.PollInterval = cfg.Fulfillment.PollInterval
		schedulerCfg.BatchSize = cfg.Fulfillment.BatchSize
		schedulerCfg.WorkerCount = cfg.Fulfillment.WorkerCount
		schedulerCfg.BackstopInterval = cfg.Fulfillment.BackstopInterval
		schedulerCfg.BackstopLookback = cfg.Fulfillment.BackstopLookback
		retryScheduler, err := scheduler.NewRetryScheduler(schedulerCfg, ledger, platformClient, engine, log)
		if err != nil {
			log.Fatal("Failed to create retry scheduler", zap.Error(err))
		}
		if err := retryScheduler.Start(context.Background()); err != nil {
			log.Fatal("Failed to start retry scheduler", zap.Error(err))
		}
		defer func() {
			if err := retryScheduler.Stop(context.Background()); err != nil {
				log.Error("Error stopping retry scheduler", zap.Error(err))
			}
		}()
		log.Info("Retry scheduler started",
			zap.Duration("poll_interval", schedulerCfg.PollInterval),
			zap.Int("workers", schedulerCfg.WorkerCount),
		)
	}

	// JWT validation for the operator API; tokens are minted out-of-band
	jwtService := auth.NewJWTService(cfg.JWT)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	// Initialize router with custom middleware
	engineHTTP := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engineHTTP.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack: request ID, panic recovery, request logging,
	// security headers, CORS, body size limit
	engineHTTP.Use(middleware.RequestID())
	engineHTTP.Use(logger.Recovery(log))
	engineHTTP.Use(logger.GinMiddleware(log))
	engineHTTP.Use(middleware.Secure())

	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engineHTTP.Use(middleware.CORSWithConfig(corsConfig))
	engineHTTP.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if cfg.HTTP.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitPerMinute, time.Minute)
		engineHTTP.Use(middleware.RateLimit(limiter))
	}

	if meterProvider != nil {
		engineHTTP.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{
			MeterProvider: meterProvider,
			ServiceName:   cfg.Telemetry.ServiceName,
			Enabled:       true,
		}))
	}

	// Health endpoints (outside API versioning). Liveness never touches
	// the database; readiness does.
	engineHTTP.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	engineHTTP.GET("/ready", readyHandler(db))

	// Supplier push endpoint. Registered at the root, outside JWT: the HMAC
	// signature over the raw body is its authentication.
	webhookHandler := handler.NewSupplierWebhookHandler(reconciler, cfg.HTTP.MaxBodySize, log)
	webhookHandler.RegisterRoutes(engineHTTP)

	// Operator API routes under /api/v1, JWT protected
	r := router.NewRouter(engineHTTP, router.WithAPIVersion("v1"))

	jwtConfig := middleware.DefaultJWTConfig(jwtService)
	jwtConfig.TokenBlacklist = tokenBlacklist
	jwtConfig.SkipPaths = append(jwtConfig.SkipPaths,
		"/api/v1/system/ping",
		"/api/v1/system/info",
	)
	jwtConfig.Logger = log
	r.Use(middleware.JWTAuthMiddlewareWithConfig(jwtConfig))

	r.Register(handler.NewFulfillmentHandler(engine, ledger, supplierClient, log))
	r.Register(handler.NewCatalogHandler(catalogService, log))

	systemHandler := handler.NewSystemHandler()
	systemRoutes := router.NewDomainGroup("system", "/system")
	systemRoutes.GET("/info", systemHandler.GetSystemInfo)
	systemRoutes.GET("/ping", systemHandler.Ping)
	r.Register(systemRoutes)

	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engineHTTP,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// readyHandler reports readiness; it fails while the database is unreachable
func readyHandler(db *persistence.Database) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqLog := logger.GetGinLogger(c)
		if err := db.Ping(); err != nil {
			reqLog.Warn("Readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"time":     time.Now().Format(time.RFC3339),
				"database": "error",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"time":     time.Now().Format(time.RFC3339),
			"database": "ok",
		})
	}
}
