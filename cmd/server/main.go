package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fridge-service/config"
	"fridge-service/internal/api"
	"fridge-service/internal/broker"
	"fridge-service/internal/redisclient"
	"fridge-service/internal/service"
	"fridge-service/internal/store"
	"fridge-service/internal/util"
	"fridge-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fridge service")

	tp, err := util.InitTracer("fridge-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(context.Background(), db.GetDB().DB, "up"); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrated")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAudit)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicAudit))

	audit := service.NewAuditSink(broker.NewEventPublisher(producer), cfg.Business.AuditPublishTimeout)

	stockLedger := service.NewStockLedger(db, audit)
	orderService := service.NewOrderService(db, stockLedger, audit, redisClient, cfg.Business.IdempotencyTTL)
	invoiceLedger := service.NewInvoiceLedger(db, audit)
	cancellationService := service.NewCancellationService(db, stockLedger, audit)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var invoiceWorker *worker.InvoiceWorker
	if cfg.Kafka.EnableCommandSub {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCommands, cfg.Kafka.ConsumerGroup)
		invoiceWorker = worker.NewInvoiceWorker(consumer, db, redisClient, invoiceLedger, cfg.Business.InvoiceLockTTL)
		go func() {
			if err := invoiceWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Invoice worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(stockLedger, orderService, cancellationService, invoiceLedger, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if invoiceWorker != nil {
		if err := invoiceWorker.Stop(); err != nil {
			logger.Warn("Error stopping invoice worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
