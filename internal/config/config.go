package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	LogLevel    string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Billing     BillingConfig
	Validation  ValidationConfig
	Offline     OfflineConfig
	Anomaly     AnomalyConfig
	Invoice     InvoiceConfig
	Sample      SampleConfig
}

// HTTPConfig holds API server settings
type HTTPConfig struct {
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL         string
	ApplySchema bool
}

// RabbitMQConfig holds RabbitMQ connection and queue settings.
// An empty URL disables event publishing and reading ingestion.
type RabbitMQConfig struct {
	URL              string
	EventsExchange   string
	SubmitExchange   string
	SubmitQueue      string
	SubmitRoutingKey string
	DLQQueue         string
	PrefetchCount    int
}

// Enabled reports whether a broker is configured.
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// BillingConfig holds rate fallback settings
type BillingConfig struct {
	DefaultRate  float64
	RateFallback bool
}

// ValidationConfig holds input validation settings
type ValidationConfig struct {
	MaxImageBytes int
}

// OfflineConfig holds offline queue settings
type OfflineConfig struct {
	QueuePath     string
	MaxAttempts   int
	CheckInterval time.Duration
}

// AnomalyConfig holds usage spike detection settings
type AnomalyConfig struct {
	SpikeThreshold            float64
	MinDataPointsForDetection int
	HistoryWindow             int
}

// InvoiceConfig points at the optional invoice profile file
type InvoiceConfig struct {
	ProfilePath string
}

// SampleConfig holds generative sample-data API settings
type SampleConfig struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "water-billing"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			AllowedOrigins:  getEnvAsList("HTTP_ALLOWED_ORIGINS", []string{"*"}),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:         getEnv("DATABASE_URL", ""),
			ApplySchema: getEnvAsBool("DATABASE_APPLY_SCHEMA", true),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			EventsExchange:   getEnv("RABBITMQ_EVENTS_EXCHANGE", "water-billing.events"),
			SubmitExchange:   getEnv("RABBITMQ_SUBMIT_EXCHANGE", "water-billing.readings.exchange"),
			SubmitQueue:      getEnv("RABBITMQ_SUBMIT_QUEUE", "water-billing.readings.submit"),
			SubmitRoutingKey: getEnv("RABBITMQ_SUBMIT_ROUTING_KEY", "reading.submitted"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "water-billing.readings.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Billing: BillingConfig{
			DefaultRate:  getEnvAsFloat("BILLING_DEFAULT_RATE", 5),
			RateFallback: getEnvAsBool("BILLING_RATE_FALLBACK", true),
		},
		Validation: ValidationConfig{
			MaxImageBytes: getEnvAsInt("VALIDATION_MAX_IMAGE_BYTES", 2<<20),
		},
		Offline: OfflineConfig{
			QueuePath:     getEnv("OFFLINE_QUEUE_PATH", "data/offline.db"),
			MaxAttempts:   getEnvAsInt("OFFLINE_MAX_ATTEMPTS", 10),
			CheckInterval: getEnvAsDuration("OFFLINE_CHECK_INTERVAL", 15*time.Second),
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold:            getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinDataPointsForDetection: getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 3),
			HistoryWindow:             getEnvAsInt("ANOMALY_HISTORY_WINDOW", 6),
		},
		Invoice: InvoiceConfig{
			ProfilePath: getEnv("INVOICE_PROFILE_PATH", ""),
		},
		Sample: SampleConfig{
			APIURL:  getEnv("SAMPLE_API_URL", ""),
			APIKey:  getEnv("SAMPLE_API_KEY", ""),
			Model:   getEnv("SAMPLE_API_MODEL", "gemini-2.5-flash"),
			Timeout: getEnvAsDuration("SAMPLE_API_TIMEOUT", 30*time.Second),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.Billing.DefaultRate <= 0 {
		return nil, fmt.Errorf("BILLING_DEFAULT_RATE must be greater than 0, got %v", cfg.Billing.DefaultRate)
	}
	if cfg.Offline.MaxAttempts < 0 {
		return nil, fmt.Errorf("OFFLINE_MAX_ATTEMPTS must not be negative, got %d", cfg.Offline.MaxAttempts)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
