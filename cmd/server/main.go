package main

import (
	"context" // context package is needed for Redis operations
	"time"    // Cache lifetime

	"finance_system/internal/api"    // Custom package for API handlers
	"finance_system/internal/config" // Custom package for configuration
	"finance_system/internal/db"     // Custom package for database access
	"finance_system/internal/ledger" // Custom package for the portfolio store
	"finance_system/internal/quote"  // Custom package for stock quotes
	"finance_system/internal/utils"  // Sessions and cache

	"github.com/gin-gonic/gin"     // Gin web framework
	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logrus for structured logging
)

// historyTTL is how long a user's trade history stays cached
const historyTTL = 60 * time.Second

// Main function to set up and run the server
func main() {
	cfg := config.LoadConfig() // Load configuration

	// Setup logger
	if cfg.IsProd {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	// Refuse to start without the quote API key and session secret
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("invalid configuration: %v", err)
	}

	// Connect to the database
	database, err := db.Open(cfg)
	if err != nil {
		logrus.Fatalf("failed to connect to DB: %v", err) // Fatal error if DB connection fails
	}

	// Setup Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr, // Redis server address
		Password: cfg.RedisPass, // Redis password
		DB:       cfg.RedisDB,   // Redis database number
	})

	// Test Redis connection
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logrus.Fatalf("failed to connect to Redis: %v", err)
	}

	// Set Mode to Release if in production
	if cfg.IsProd {
		gin.SetMode(gin.ReleaseMode)
	}

	r := api.NewRouter(api.Deps{
		Ledger:        ledger.New(database),
		Quotes:        quote.NewClient(quote.Config{APIURL: cfg.QuoteAPIURL, APIKey: cfg.APIKey}),
		Sessions:      utils.NewSessions(redisClient, cfg.JWTSecret, cfg.SessionTTL),
		Cache:         utils.NewCache(redisClient, historyTTL),
		InitialCash:   cfg.InitialCash,
		MaxCashTopUp:  cfg.MaxCashTopUp,
		SecureCookies: cfg.IsProd,
	})

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		logrus.Fatalf("failed to set trusted proxies: %v", err)
	}

	logrus.WithField("port", cfg.AppPort).Info("Server running") // Log server start
	if err := r.Run(":" + cfg.AppPort); err != nil {
		logrus.Fatalf("server stopped: %v", err)
	}
}
