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

	"demper-service/config"
	"demper-service/internal/api"
	"demper-service/internal/broker"
	"demper-service/internal/marketplace"
	"demper-service/internal/redisclient"
	"demper-service/internal/scheduler"
	"demper-service/internal/service"
	"demper-service/internal/store"
	"demper-service/internal/util"
	"demper-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting demper service")

	tp, err := util.InitTracer("demper-service", cfg.Observ.JaegerEndpoint)
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

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicPrices)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	marketplaceClient := marketplace.NewClient(
		cfg.Marketplace.BaseURL,
		cfg.Marketplace.Token,
		time.Duration(cfg.Marketplace.TimeoutSeconds)*time.Second)

	demperService := service.NewDemperService(
		marketplaceClient,
		marketplaceClient,
		db,
		redisClient,
		eventPublisher,
		time.Duration(cfg.Demper.ObserveTimeoutSeconds)*time.Second,
		time.Duration(cfg.Demper.ApplyTimeoutSeconds)*time.Second)

	sched := scheduler.New(db, demperService, redisClient, scheduler.Config{
		Workers:         cfg.Demper.Workers,
		RefreshInterval: time.Duration(cfg.Demper.RefreshSeconds) * time.Second,
		BackoffCap:      cfg.Demper.BackoffCap,
		LockTTL:         time.Duration(cfg.Demper.CycleLockTTLSeconds) * time.Second,
	})

	schedCtx, schedCancel := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(schedCtx); err != nil && err != context.Canceled {
			log.Printf("Scheduler error: %v", err)
		}
	}()

	notifier := service.NewWhatsAppNotifier(
		cfg.Notify.GatewayURL,
		cfg.Notify.Session,
		time.Duration(cfg.Notify.TimeoutSeconds)*time.Second)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	priceConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicPrices, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(priceConsumer, notifier)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil {
			log.Printf("Notification worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(db, demperService, cfg.Demper.DefaultIntervalSeconds)
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

	// Let in-flight pricing cycles finish before the process exits
	schedCancel()
	select {
	case <-schedDone:
	case <-time.After(30 * time.Second):
		log.Println("Timed out waiting for pricing cycles to drain")
	}

	workerCancel()
	notificationWorker.Stop()

	log.Println("Server exited")
}
