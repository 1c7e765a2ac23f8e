package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the safety listener service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// SendGrid configuration
	SendGridAPIKey    string
	SendGridFromName  string
	SendGridFromEmail string

	// Delivery configuration
	MaxRetries     int
	RetryBaseDelay time.Duration
	SendTimeout    time.Duration

	// Watcher configuration
	PollInterval time.Duration
	RestartDelay time.Duration

	// RabbitMQ configuration (optional alert bus)
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "prosafe"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		// SendGrid configuration
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "ProSafe Alerts"),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", "alerts@prosafe.io"),

		// Delivery defaults
		MaxRetries:     getIntEnv("MAX_RETRIES", 3),
		RetryBaseDelay: getDurationEnv("RETRY_BASE_DELAY", 2*time.Second),
		SendTimeout:    getDurationEnv("SEND_TIMEOUT", 15*time.Second),

		// Watcher defaults
		PollInterval: getDurationEnv("POLL_INTERVAL", time.Second),
		RestartDelay: getDurationEnv("RESTART_DELAY", 5*time.Second),

		// Alert bus is disabled unless AMQP_URL is set
		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "safety.alerts"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "alert.new"),

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return config
}

// Validate checks the configuration the pipeline cannot run without.
// Everything else has a workable default.
func (c *Config) Validate() error {
	if c.DBHost == "" || c.DBName == "" || c.DBUser == "" {
		return errors.New("database configuration is incomplete (DB_HOST, DB_USER, DB_NAME)")
	}
	if c.SendGridAPIKey == "" {
		return errors.New("SENDGRID_API_KEY is required")
	}
	if c.MaxRetries < 1 {
		return errors.New("MAX_RETRIES must be at least 1")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
