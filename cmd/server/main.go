package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openboard/gateway"
	"github.com/openboard/gateway/internal/config"
	"github.com/openboard/gateway/internal/constants"
)

// initializeLogger builds a production zap logger at the configured level
func initializeLogger(level string) (*zap.SugaredLogger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// connectMongo connects a MongoDB client and verifies the connection
func connectMongo(cfg config.DatabaseConfig) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// No else needed: error handling with return (reports and stops)
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// NewHTTPServer creates an HTTP server with production-safe timeout defaults.
// The write timeout must comfortably exceed upgrade handshake latency;
// upgraded WebSocket connections are not subject to it.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// runWithSignalChannel is a testable version of run that accepts a signal channel
func runWithSignalChannel(sigChan chan os.Signal) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	logger, err := initializeLogger(cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Connect persistence
	client, err := connectMongo(cfg.Database)
	if err != nil {
		return err
	}

	// Build the engine and register the gateway
	if cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	if err := gateway.Register(engine, cfg, logger, client); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to register gateway: %w", err)
	}

	server := NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), engine)

	serverErr := make(chan error, 1)
	go func() {
		logger.Infow("Server starting", "port", cfg.Server.Port)
		// No else needed: error handling (closed-server errors are expected)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for a shutdown signal or a listener failure
	select {
	case sig := <-sigChan:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("server failed: %w", err)
	}

	return drain(server, client, logger)
}

// drain performs the ordered shutdown sequence:
//
//  1. Gateway drain — broadcast the shutdown notice, stop accepting upgrades,
//     close the WebSocket layer within the deadline
//  2. Close the HTTP listener
//  3. Release persistence
//
// Every step runs even when an earlier one fails; any failure makes the
// process exit non-zero so orchestrators notice an unclean stop.
func drain(server *http.Server, client *mongo.Client, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var failures []error

	// No else needed: error handling (failures are collected, not fatal mid-drain)
	if err := gateway.Shutdown(ctx); err != nil {
		logger.Errorw("Gateway drain failed", "error", err)
		failures = append(failures, fmt.Errorf("gateway drain: %w", err))
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorw("HTTP listener shutdown failed", "error", err)
		failures = append(failures, fmt.Errorf("listener shutdown: %w", err))
	}

	if err := client.Disconnect(ctx); err != nil {
		logger.Errorw("MongoDB disconnect failed", "error", err)
		failures = append(failures, fmt.Errorf("mongodb disconnect: %w", err))
	}

	// No else needed: early return pattern (guard clause)
	if len(failures) > 0 {
		return fmt.Errorf("shutdown incomplete: %v", failures)
	}

	logger.Infow("Shutdown complete")
	return nil
}

func main() {
	if err := runMain(); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// runMain is the testable main function
func runMain() error {
	sigChan := setupSignalHandler()
	return runWithSignalChannel(sigChan)
}
