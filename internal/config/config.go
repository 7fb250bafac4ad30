package config

import (
	"fmt"     // DSN formatting
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"time"    // Session lifetime

	"github.com/joho/godotenv"      // For loading .env files
	"github.com/shopspring/decimal" // Money settings
)

// Config holds the application configuration
type Config struct {
	AppPort      string          // Application port
	DBDriver     string          // Database driver: mysql or postgres
	DBUser       string          // Database user
	DBPassword   string          // Database password
	DBHost       string          // Database host
	DBPort       string          // Database port
	DBName       string          // Database name
	JWTSecret    string          // Session token signing key
	RedisAddr    string          // Redis server address
	RedisPass    string          // Redis password
	RedisDB      int             // Redis database number
	IsProd       bool            // Is production environment
	APIKey       string          // Quote provider API key
	QuoteAPIURL  string          // Quote provider base URL
	InitialCash  decimal.Decimal // Cash granted to new users
	MaxCashTopUp decimal.Decimal // Largest single add-cash amount
	SessionTTL   time.Duration   // Session lifetime
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present
	redisDB, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	return &Config{
		AppPort:      getenv("APP_PORT", "8080"),                                // Application port
		DBDriver:     getenv("DB_DRIVER", "mysql"),                              // Database driver
		DBUser:       os.Getenv("DB_USER"),                                      // Database user
		DBPassword:   os.Getenv("DB_PASSWORD"),                                  // Database password
		DBHost:       getenv("DB_HOST", "127.0.0.1"),                            // Database host
		DBPort:       os.Getenv("DB_PORT"),                                      // Database port
		DBName:       getenv("DB_NAME", "finance"),                              // Database name
		JWTSecret:    os.Getenv("JWT_SECRET"),                                   // Session signing key
		RedisAddr:    getenv("REDIS_ADDR", "127.0.0.1:6379"),                    // Redis server address
		RedisPass:    os.Getenv("REDIS_PASS"),                                   // Redis password
		RedisDB:      redisDB,                                                   // Redis database number
		IsProd:       os.Getenv("IS_PROD") == "true",                            // Is production environment
		APIKey:       os.Getenv("API_KEY"),                                      // Quote provider API key
		QuoteAPIURL:  getenv("QUOTE_API_URL", "https://www.alphavantage.co"),    // Quote provider base URL
		InitialCash:  getDecimal("INITIAL_CASH", decimal.NewFromInt(10000)),     // Starting cash
		MaxCashTopUp: getDecimal("MAX_CASH_TOPUP", decimal.NewFromInt(1000000)), // Add-cash ceiling
		SessionTTL:   getDuration("SESSION_TTL", 24*time.Hour),                  // Session lifetime
	}
}

// DSN builds the data source name for the configured driver
func (c *Config) DSN() (string, error) {
	switch c.DBDriver {
	case "mysql":
		port := c.DBPort
		if port == "" {
			port = "3306"
		}
		return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + port + ")/" + c.DBName + "?parseTime=true", nil
	case "postgres":
		port := c.DBPort
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			c.DBHost, c.DBUser, c.DBPassword, c.DBName, port), nil
	default:
		return "", fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
}

// Validate reports settings the server cannot run without
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY not set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET not set")
	}
	return nil
}

// getenv returns the variable or fallback when it is empty
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getDecimal parses a decimal variable, falling back when unset or invalid
func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if d, err := decimal.NewFromString(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

// getDuration parses a duration variable such as "30m"
func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}
