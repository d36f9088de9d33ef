package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bikefleet-backend/internal/api/grpc"
	httpapi "bikefleet-backend/internal/api/http"
	"bikefleet-backend/internal/app"
	"bikefleet-backend/internal/config"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/security"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	hashKey := flag.String("hash-api-key", "", "Print the bcrypt hash of an admin API key and exit")
	issueToken := flag.String("issue-token", "", "Print a bearer token for a client id (or \"admin\") and exit")
	flag.Parse()

	if *hashKey != "" {
		hash, err := security.HashAPIKey(*hashKey)
		if err != nil {
			log.Fatalf("Failed to hash key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)

	if *issueToken != "" {
		printToken(cfg, *issueToken)
		return
	}

	logger.Info("Starting bikefleet backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "http", cfg.GetServerAddress(), "grpc", cfg.GetGRPCAddress())
	logger.Info("Backends", "database", cfg.Database.Driver, "gateway", cfg.Gateway.Type, "redis", cfg.Redis.Enabled, "rabbitmq", cfg.RabbitMQ.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		log.Fatalf("Failed to initialize services: %v", err)
	}

	webhookCIDRs, err := httpapi.ParseCIDRs(cfg.Webhook.AllowedCIDRs)
	if err != nil {
		log.Fatalf("Invalid webhook configuration: %v", err)
	}
	if len(webhookCIDRs) == 0 {
		logger.Warn("webhook.allowed_cidrs is empty; gateway notifications are accepted from any address")
	}

	api := httpapi.NewServer(httpapi.Services{
		Payments: application.Payments,
		Billing:  application.Billing,
		Rentals:  application.Rentals,
		Bookings: application.Bookings,
	}, httpapi.Options{
		Tokens:       application.Tokens,
		APIKey:       application.APIKey,
		WebhookCIDRs: webhookCIDRs,
		Health: func() error {
			readyCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return application.Ready(readyCtx)
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           api.Handler(),
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Gateway calls are bounded by gateway.timeout_seconds; leave room for them.
		WriteTimeout: time.Duration(cfg.Gateway.TimeoutSeconds+20) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Set up gRPC health server
	health := grpc.NewHealthServer(application.Ready)
	lis, err := net.Listen("tcp", cfg.GetGRPCAddress())
	if err != nil {
		logger.Error("Failed to listen", "error", err, "address", cfg.GetGRPCAddress())
		log.Fatalf("Failed to listen: %v", err)
	}
	go health.Watch(ctx, 10*time.Second)
	go func() {
		logger.Info("gRPC health server listening", "address", cfg.GetGRPCAddress())
		if err := health.Server().Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	go func() {
		logger.Info("HTTP server listening", "address", cfg.GetServerAddress())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	health.Shutdown()
	if err := application.Close(shutdownCtx); err != nil {
		logger.Error("Failed to close backends", "error", err)
	}
	logger.Info("Server stopped")
}

func printToken(cfg *config.Config, subject string) {
	tokens := security.NewTokenManager(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessTokenExpiry)*time.Minute)
	var (
		token string
		err   error
	)
	if subject == "admin" {
		token, err = tokens.GenerateAdminToken("cli")
	} else {
		token, err = tokens.GenerateClientToken(subject)
	}
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
