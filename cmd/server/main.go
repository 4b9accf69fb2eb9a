package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pricefeed-aggregator/internal/combiner"
	"pricefeed-aggregator/internal/config"
	"pricefeed-aggregator/internal/feed"
	grpcServer "pricefeed-aggregator/internal/grpc"
	"pricefeed-aggregator/internal/hub"
	"pricefeed-aggregator/internal/ohlc"
	"pricefeed-aggregator/internal/pubsub"
	"pricefeed-aggregator/internal/symbols"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	startTime = time.Now()
)

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	logger.Info("Starting Price Feed Aggregator...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: ", err)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: ", err)
	}

	// Set log level
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	// Load symbol mapping table
	table := symbols.LoadTableWithFallback(cfg.Symbols.File)
	logger.Infof("Loaded %d feed mappings", table.Len())

	// Optional Redis mirror
	var publisher *pubsub.Publisher
	if cfg.Redis.Enabled {
		logger.Info("Connecting to Redis...")
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis: ", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connected successfully")
		publisher = pubsub.NewPublisher(redisClient, logger)
	}

	// Upstream sources
	hermesSource := feed.NewHermesSource(cfg.Hermes, logger)
	var streamSource feed.Source
	if cfg.StreamEnabled() {
		streamSource = feed.NewCryptoStreamSource(cfg.Stream, logger)
	} else {
		logger.Info("No stream API key configured, running with primary source only")
	}

	// Pipeline
	barAgg := ohlc.NewAggregator(cfg.Bars, logger)
	comb := combiner.New(cfg.Combiner, logger)
	h := hub.New(cfg, hermesSource, streamSource, barAgg, comb, table, publisher, logger)
	h.Start()

	barAgg.Start()
	hermesSource.Start()
	if streamSource != nil {
		streamSource.Start()
	}

	// gRPC health server
	grpcSrv, err := grpcServer.NewServer(cfg.Server.GRPCPort, logger)
	if err != nil {
		logger.Fatal("Failed to start gRPC server: ", err)
	}
	grpcSrv.Start()

	// Observability HTTP server
	go startHTTPServer(cfg, logger)

	// Client websocket server
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", h.ServeWS)
	wsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.WSPort),
		Handler: wsMux,
	}
	wsErrChan := make(chan error, 1)
	go func() {
		logger.Infof("WebSocket server listening on :%d", cfg.Server.WSPort)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			wsErrChan <- err
		}
	}()

	logger.Infof("Price Feed Aggregator v%s started successfully", version)

	// Wait for shutdown signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case err := <-wsErrChan:
		logger.WithError(err).Error("WebSocket server error")
	}

	logger.Info("Shutting down gracefully...")

	grpcSrv.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("WebSocket server shutdown failed")
	}

	if streamSource != nil {
		streamSource.Stop()
	}
	hermesSource.Stop()
	barAgg.Stop()
	grpcSrv.Stop(5 * time.Second)

	logger.Info("Shutdown complete")
}

func startHTTPServer(cfg *config.Config, logger *logrus.Logger) {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"healthy":true,"version":"%s","uptime_seconds":%d}`,
			version, int64(time.Since(startTime).Seconds()))
	})

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	logger.Infof("HTTP server starting on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("HTTP server failed: ", err)
	}
}
