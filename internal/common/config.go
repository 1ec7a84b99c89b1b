package common

import (
	"os"
	"strconv"
	"time"

	"invoice-scanner/internal/parser"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	Parser   ParserConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
	HealthTimeout   time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// OCRConfig holds OCR-provider configuration
type OCRConfig struct {
	Endpoint     string
	APIKey       string
	Language     string
	Engine       int
	Timeout      time.Duration
	EnhanceImage bool
}

// ParserConfig holds the parser's single behavioral knob: how the
// invoice total is derived from extracted items.
type ParserConfig struct {
	TotalPolicy parser.TotalPolicy
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	policy, _ := parser.ParsePolicy(getEnv("PARSER_TOTAL_POLICY", "sum"))
	return &Config{
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			HealthTimeout:   getEnvAsDuration("DB_HEALTH_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Addr:            ":" + getEnv("PORT", "8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		OCR: OCRConfig{
			Endpoint:     getEnv("OCR_ENDPOINT", "https://api.ocr.space/parse/image"),
			APIKey:       getEnv("OCR_API_KEY", "helloworld"),
			Language:     getEnv("OCR_LANGUAGE", "eng"),
			Engine:       getEnvAsInt("OCR_ENGINE", 2),
			Timeout:      getEnvAsDuration("OCR_TIMEOUT", 20*time.Second),
			EnhanceImage: getEnvAsBool("OCR_ENHANCE_IMAGE", true),
		},
		Parser: ParserConfig{
			TotalPolicy: policy,
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.OCR.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OCR_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.Addr == "" || c.Server.Addr == ":" {
		return NewAppError("CONFIG_ERROR", "PORT is required", ErrInvalidInput)
	}
	return nil
}
