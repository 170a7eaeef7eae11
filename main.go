package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reconciler-svc/cache"
	"reconciler-svc/database"
	"reconciler-svc/handlers"
	"reconciler-svc/kafka"
	"reconciler-svc/medusa"
	"reconciler-svc/middleware"
	"reconciler-svc/reconcile"
	"reconciler-svc/stripe"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis
	rdb, err := cache.InitRedis(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer rdb.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("reconciler-service")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	// Payment provider and order store clients are constructed once and
	// injected; no package-level clients.
	providerClient, err := stripe.NewClient(stripe.ConfigFromEnv(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize payment provider client", zap.Error(err))
	}

	orderStore, err := medusa.NewClient(medusa.ConfigFromEnv(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize order store client", zap.Error(err))
	}

	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		logger.Fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	adminSecret := os.Getenv("ADMIN_JWT_SECRET")
	if adminSecret == "" {
		logger.Fatal("ADMIN_JWT_SECRET is required")
	}

	records := database.NewReconciliationStore(db, logger)
	eventRecords := cache.NewEventRecords(rdb)
	reconciler := reconcile.New(orderStore, records, producer, getEnv("KAFKA_TOPIC", "payment_events"), logger)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("reconciler-service"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck)

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	// Provider-facing webhook
	webhookHandler := handlers.NewWebhookHandler(reconciler, eventRecords, webhookSecret, logger)
	router.POST("/webhooks/stripe", webhookHandler.Handle)

	// Client-facing confirmation
	confirmHandler := handlers.NewConfirmHandler(providerClient, reconciler, logger)
	router.POST("/payments/confirm", confirmHandler.Confirm)

	// Operator endpoints
	pendingHandler := handlers.NewPendingPaymentsHandler(providerClient, reconciler, logger)
	reconciliationsHandler := handlers.NewReconciliationsHandler(records, logger)

	internal := router.Group("/internal", middleware.RequireAdmin([]byte(adminSecret)))
	internal.GET("/pending-payments", pendingHandler.ProcessRecent)
	internal.POST("/pending-payments", pendingHandler.ProcessOne)
	internal.GET("/reconciliations", reconciliationsHandler.ListRecent)

	// Start REST server
	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8086"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start REST server", zap.Error(err))
		}
	}()

	logger.Info("Reconciler Service started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
