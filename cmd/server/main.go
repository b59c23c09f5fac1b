package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/leadwave/leadwave/internal/api"
	"github.com/leadwave/leadwave/internal/billing"
	"github.com/leadwave/leadwave/internal/config"
	"github.com/leadwave/leadwave/internal/credits"
	"github.com/leadwave/leadwave/internal/delivery"
	"github.com/leadwave/leadwave/internal/dispatch"
	"github.com/leadwave/leadwave/internal/pkg/distlock"
	"github.com/leadwave/leadwave/internal/pkg/logger"
	"github.com/leadwave/leadwave/internal/render"
	"github.com/leadwave/leadwave/internal/subscriber"
	"github.com/leadwave/leadwave/internal/unsubscribe"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Unsubscribe.SigningKey == "" {
		log.Fatal("unsubscribe signing key is required (UNSUBSCRIBE_SIGNING_KEY)")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("database connected")

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, dispatch locks fall back to pg advisory", "error", err.Error())
			redisClient = nil
		} else {
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
	}

	tokens := unsubscribe.NewTokenService(cfg.Unsubscribe.SigningKey, cfg.Unsubscribe.BaseURL, cfg.Unsubscribe.Validity())
	renderer := render.NewRenderer(tokens)
	store := subscriber.NewStore(db)
	ledger := credits.NewLedger(db)

	var deliverer delivery.Deliverer
	switch {
	case cfg.SparkPost.Enabled:
		deliverer = delivery.NewSparkPostSender(cfg.SparkPost.APIKey, cfg.SparkPost.BaseURL)
	case cfg.SES.Enabled:
		deliverer, err = delivery.NewSESSender(cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
		if err != nil {
			log.Fatalf("Failed to initialize SES: %v", err)
		}
	default:
		log.Fatal("no delivery provider configured (set SPARKPOST_API_KEY or AWS_SES_ACCESS_KEY)")
	}
	logger.Info("delivery provider ready", "provider", deliverer.Name())

	dispatcher := dispatch.NewDispatcher(ledger, renderer, deliverer, store, dispatch.NewSendLog(db), cfg.Dispatch.NumWorkers).
		WithLock(func(campaignID string) distlock.DistLock {
			return distlock.NewLock(redisClient, db, "campaign:"+campaignID, cfg.Dispatch.LockTTL())
		})

	gateway := billing.NewHTTPGateway(cfg.Billing.Gateway, cfg.Billing.BaseURL, cfg.Billing.Secret)
	purchases := billing.NewPurchaseService(db, ledger, gateway)

	handlers := api.NewHandlers(store, ledger, dispatcher, renderer, purchases, tokens)
	router := api.SetupRoutes(handlers, cfg.Server.AllowedOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err.Error())
	}
	logger.Info("server stopped")
}
