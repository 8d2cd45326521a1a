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

	"pos-terminal/config"
	"pos-terminal/internal/api"
	"pos-terminal/internal/broker"
	"pos-terminal/internal/catalog"
	"pos-terminal/internal/journal"
	"pos-terminal/internal/localstore"
	"pos-terminal/internal/service"
	"pos-terminal/internal/upstream"
	"pos-terminal/internal/util"
	"pos-terminal/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting POS terminal service")

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint)
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

	if err := os.MkdirAll(cfg.Terminal.UploadDir, 0o755); err != nil {
		log.Fatalf("Failed to create upload dir: %v", err)
	}

	store, err := localstore.Open(cfg.Terminal.DataDir)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer store.Close()
	log.Println("Local store opened")

	jnl, err := journal.New(cfg.Journal.URL)
	if err != nil {
		log.Fatalf("Failed to connect to journal database: %v", err)
	}
	defer jnl.Close()
	log.Println("Journal database connected")

	backoffice := upstream.NewClient(
		cfg.Upstream.BaseURL,
		time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second,
		store,
	)

	catalogClient, err := catalog.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, backoffice)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer catalogClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSales)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	checkoutService := service.NewCheckoutService(
		store, backoffice, catalogClient, jnl, eventPublisher, cfg.Terminal.StoreCode)
	productService := service.NewProductService(store, backoffice, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	watcher := worker.NewConnectivityWatcher(
		backoffice,
		time.Duration(cfg.Upstream.PollSeconds)*time.Second,
		func(ctx context.Context) {
			if _, err := productService.ReplayQueue(ctx); err != nil {
				logger.Error("Queue replay failed", zap.Error(err))
			}
		},
	)
	go func() {
		if err := watcher.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Connectivity watcher error: %v", err)
		}
	}()

	rollupConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicSales, cfg.Kafka.ConsumerGroup)
	rollupWorker := worker.NewRollupWorker(rollupConsumer, jnl)
	go func() {
		if err := rollupWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Rollup worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(checkoutService, productService, catalogClient, jnl, store,
		cfg.Terminal.StoreCode, cfg.Terminal.UploadDir)
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
	watcher.Stop()
	rollupWorker.Stop()

	log.Println("Server exited")
}
