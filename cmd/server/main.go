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

	"marketplace-service/config"
	"marketplace-service/internal/api"
	"marketplace-service/internal/broker"
	"marketplace-service/internal/gateway"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"
	"marketplace-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting marketplace service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)
	gatewayClient := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret)

	ledger := service.NewInventoryLedger(db, redisClient)
	checkoutService := service.NewCheckoutService(db, ledger, gatewayClient, eventPublisher, redisClient, cfg.Gateway, cfg.Business)
	orderService := service.NewOrderService(db)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	releaseConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	releaseWorker := worker.NewStockReleaseWorker(releaseConsumer, db, ledger)
	go func() {
		if err := releaseWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Stock release worker error: %v", err)
		}
	}()

	sweeper := worker.NewPendingSweeper(db, eventPublisher, redisClient,
		time.Duration(cfg.Business.OrderTimeoutSeconds)*time.Second,
		time.Duration(cfg.Business.SweepIntervalSecs)*time.Second)
	go func() {
		if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Sweeper error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkoutService, orderService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	releaseWorker.Stop()

	log.Println("Server exited")
}
